package dingtalk

import "encoding/json"

// InboundMessage is the JSON body DingTalk posts to the robot, by webhook or
// over a stream connection. Type-specific payloads live in Text (text
// messages) or Media (audio and picture messages).
type InboundMessage struct {
	MsgType          string       `json:"msgtype"`
	ConversationType string       `json:"conversationType,omitempty"`
	ConversationID   string       `json:"conversationId,omitempty"`
	SenderID         string       `json:"senderId,omitempty"`
	SenderNick       string       `json:"senderNick,omitempty"`
	Text             *TextBody    `json:"text,omitempty"`
	Media            *MediaBody   `json:"content,omitempty"`
	SessionWebhook   string       `json:"sessionWebhook,omitempty"`
}

type TextBody struct {
	Content string `json:"content"`
}

type MediaBody struct {
	DownloadCode        string `json:"downloadCode"`
	Duration            int    `json:"duration,omitempty"`
	PictureDownloadCode string `json:"pictureDownloadCode,omitempty"`
}

// ParseInbound decodes a raw webhook body.
func ParseInbound(data []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return InboundMessage{}, err
	}
	return msg, nil
}

// TextContent returns the text payload, empty for non-text messages.
func (m InboundMessage) TextContent() string {
	if m.Text == nil {
		return ""
	}
	return m.Text.Content
}

// DownloadCode returns the media download code, empty when absent.
func (m InboundMessage) DownloadCode() string {
	if m.Media == nil {
		return ""
	}
	return m.Media.DownloadCode
}

// TextReply is the reply payload for a plain text answer.
type TextReply struct {
	MsgType string   `json:"msgtype"`
	Text    TextBody `json:"text"`
}

// MarkdownReply is the reply payload for a markdown answer.
type MarkdownReply struct {
	MsgType  string       `json:"msgtype"`
	Markdown MarkdownBody `json:"markdown"`
}

type MarkdownBody struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// At controls group mentions on pushed messages.
type At struct {
	AtMobiles []string `json:"atMobiles"`
	IsAtAll   bool     `json:"isAtAll"`
}

func NewTextReply(content string) TextReply {
	return TextReply{MsgType: "text", Text: TextBody{Content: content}}
}

func NewMarkdownReply(title, text string) MarkdownReply {
	return MarkdownReply{MsgType: "markdown", Markdown: MarkdownBody{Title: title, Text: text}}
}
