// Package bot routes inbound DingTalk messages to the chat, report and
// voice pipelines and shapes every reply the platform sees.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/dingbot/internal/archive"
	"github.com/ent0n29/dingbot/internal/brain"
	"github.com/ent0n29/dingbot/internal/convo"
	"github.com/ent0n29/dingbot/internal/dingtalk"
	"github.com/ent0n29/dingbot/internal/observability"
	"github.com/ent0n29/dingbot/internal/policy"
)

const (
	replyVoiceFileMissing = "抱歉，无法获取语音文件。"
	replyVoiceError       = "抱歉，处理语音消息时出现错误。"

	replyVoiceUnconfigured = `收到您的语音消息！

由于语音消息处理需要配置钉钉应用密钥（DINGTALK_APP_KEY 和 DINGTALK_APP_SECRET），
当前环境未配置，暂时无法处理语音消息。

请您：
1. 使用文字消息与我交流
2. 或者配置应用密钥后使用语音功能

感谢您的理解！`
)

// Transcripts returned by the voice pipeline that begin with one of
// these prefixes are failure notices, not speech, and go back verbatim.
var voiceFailurePrefixes = []string{"抱歉", "语音识别失败"}

// Reporter runs the report pipeline and returns the chat reply.
type Reporter interface {
	Run(ctx context.Context, topic, requester string) (string, error)
}

// VoicePipeline turns a voice message download code into text.
type VoicePipeline interface {
	Process(ctx context.Context, downloadCode string) (string, error)
}

// Deps collects the router's collaborators. Store, Provider and
// Reporter are required; the rest degrade gracefully when nil.
type Deps struct {
	Store    *convo.Store
	Provider brain.Provider
	Reporter Reporter
	Voice    VoicePipeline
	Archive  archive.Store
	Metrics  *observability.Metrics
	Window   *observability.StageWindow
	Log      *zap.Logger
}

// Options tunes routing behaviour.
type Options struct {
	// TriggerKeywords route a text message to the report pipeline when
	// any of them is a substring of the message.
	TriggerKeywords []string

	// Per-branch deadlines for outbound work.
	ChatTimeout   time.Duration
	ReportTimeout time.Duration
	VoiceTimeout  time.Duration
}

// Router dispatches inbound messages and always produces a reply
// string; upstream failures collapse into fixed apology messages.
type Router struct {
	store    *convo.Store
	provider brain.Provider
	reporter Reporter
	voice    VoicePipeline
	archive  archive.Store
	metrics  *observability.Metrics
	window   *observability.StageWindow
	log      *zap.Logger
	opts     Options
}

func New(deps Deps, opts Options) (*Router, error) {
	if deps.Store == nil {
		return nil, errors.New("router requires a conversation store")
	}
	if deps.Provider == nil {
		return nil, errors.New("router requires a chat provider")
	}
	if deps.Reporter == nil {
		return nil, errors.New("router requires a report pipeline")
	}
	if opts.ChatTimeout <= 0 {
		opts.ChatTimeout = 60 * time.Second
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = 300 * time.Second
	}
	if opts.VoiceTimeout <= 0 {
		opts.VoiceTimeout = 120 * time.Second
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		store:    deps.Store,
		provider: deps.Provider,
		reporter: deps.Reporter,
		voice:    deps.Voice,
		archive:  deps.Archive,
		metrics:  deps.Metrics,
		window:   deps.Window,
		log:      log,
		opts:     opts,
	}, nil
}

// Handle produces the reply for one inbound message.
func (r *Router) Handle(ctx context.Context, msg dingtalk.InboundMessage) string {
	start := time.Now()
	defer func() {
		if r.window != nil {
			r.window.ObserveDuration(observability.StageWebhookTotal, time.Since(start))
		}
	}()

	switch msg.MsgType {
	case "text":
		reply, route := r.handleText(ctx, msg.SenderID, msg.ConversationID, msg.TextContent(), msg.SenderNick)
		r.countMessage(string(route))
		return reply
	case "audio":
		r.countMessage("voice")
		return r.handleAudio(ctx, msg)
	default:
		r.countMessage("unsupported")
		return fmt.Sprintf("抱歉，暂不支持%s类型的消息。请发送文字或语音消息。", msg.MsgType)
	}
}

func (r *Router) handleText(ctx context.Context, userID, conversationID, message, userName string) (string, convo.Route) {
	route := convo.Classify(message, r.opts.TriggerKeywords)
	if route == convo.RouteReport {
		return r.handleReport(ctx, userID, message, userName), route
	}
	return r.handleChat(ctx, userID, conversationID, message), route
}

func (r *Router) handleChat(ctx context.Context, userID, conversationID, message string) string {
	turns := r.store.Append(userID, convo.RoleUser, message)
	r.setActiveTranscripts()

	cctx, cancel := context.WithTimeout(ctx, r.opts.ChatTimeout)
	defer cancel()

	start := time.Now()
	reply, err := r.provider.Complete(cctx, brain.CompletionRequest{Messages: toBrainMessages(turns)})
	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.ObserveBrainLatency(elapsed)
	}
	if r.window != nil {
		r.window.ObserveDuration(observability.StageChatComplete, elapsed)
	}
	if err != nil {
		r.log.Error("chat completion failed",
			zap.String("user", userID),
			zap.String("provider", r.provider.Name()),
			zap.Error(err))
		if r.window != nil {
			r.window.ObserveIndicator("brain_error")
		}
		return fmt.Sprintf("抱歉，处理您的请求时出现错误：%s", err)
	}

	r.store.Append(userID, convo.RoleAssistant, reply)
	r.archiveExchange(ctx, userID, conversationID, message, reply)
	return reply
}

func (r *Router) handleReport(ctx context.Context, userID, topic, userName string) string {
	rctx, cancel := context.WithTimeout(ctx, r.opts.ReportTimeout)
	defer cancel()

	r.log.Info("report requested",
		zap.String("user", userID),
		zap.String("topic", topic))

	start := time.Now()
	reply, err := r.reporter.Run(rctx, topic, userName)
	if r.window != nil {
		r.window.ObserveDuration(observability.StageReportPipeline, time.Since(start))
	}
	if err != nil {
		r.log.Error("report generation failed",
			zap.String("user", userID),
			zap.String("topic", topic),
			zap.Error(err))
		r.countReport("error")
		return fmt.Sprintf("抱歉，生成报告时出现错误：%s", err)
	}
	r.countReport("ok")
	return reply
}

func (r *Router) handleAudio(ctx context.Context, msg dingtalk.InboundMessage) string {
	code := msg.DownloadCode()
	if code == "" {
		return replyVoiceFileMissing
	}
	if r.voice == nil {
		return replyVoiceUnconfigured
	}

	vctx, cancel := context.WithTimeout(ctx, r.opts.VoiceTimeout)
	start := time.Now()
	text, err := r.voice.Process(vctx, code)
	cancel()
	if r.window != nil {
		r.window.ObserveDuration(observability.StageVoiceTranscribe, time.Since(start))
	}
	if err != nil {
		r.log.Error("voice processing failed",
			zap.String("user", msg.SenderID),
			zap.Error(err))
		return replyVoiceError
	}
	if isVoiceFailureText(text) {
		return text
	}

	r.log.Info("voice transcribed",
		zap.String("user", msg.SenderID),
		zap.Int("chars", len([]rune(text))))

	reply, route := r.handleText(ctx, msg.SenderID, msg.ConversationID, text, msg.SenderNick)
	if route == convo.RouteChat {
		return fmt.Sprintf("🎤 您说：%s\n\n%s", text, reply)
	}
	return reply
}

// ClearHistory drops the user's live transcript.
func (r *Router) ClearHistory(userID string) {
	r.store.Clear(userID)
	r.setActiveTranscripts()
	r.log.Info("transcript cleared", zap.String("user", userID))
}

// History returns the user's archived turns, oldest first. Without an
// archive it returns nothing.
func (r *Router) History(ctx context.Context, userID string, limit int) ([]archive.TurnRecord, error) {
	if r.archive == nil {
		return nil, nil
	}
	return r.archive.Recent(ctx, userID, limit)
}

// archiveExchange persists the masked copy of one exchange. The live
// transcript and the reply keep the original text.
func (r *Router) archiveExchange(ctx context.Context, userID, conversationID, userMsg, assistantMsg string) {
	if r.archive == nil {
		return
	}
	userMasked, userChanged := policy.RedactPII(userMsg)
	assistantMasked, assistantChanged := policy.RedactPII(assistantMsg)
	records := []archive.TurnRecord{
		{UserID: userID, ConversationID: conversationID, Role: string(convo.RoleUser), Content: userMasked, Redacted: userChanged},
		{UserID: userID, ConversationID: conversationID, Role: string(convo.RoleAssistant), Content: assistantMasked, Redacted: assistantChanged},
	}
	for _, rec := range records {
		if err := r.archive.SaveTurn(ctx, rec); err != nil {
			r.log.Warn("archive save failed",
				zap.String("user", userID),
				zap.Error(err))
			if r.window != nil {
				r.window.ObserveIndicator("archive_error")
			}
			return
		}
	}
}

func (r *Router) setActiveTranscripts() {
	if r.metrics != nil {
		r.metrics.ActiveTranscripts.Set(float64(r.store.ActiveUsers()))
	}
}

func (r *Router) countMessage(kind string) {
	if r.metrics != nil {
		r.metrics.MessagesHandled.WithLabelValues(kind).Inc()
	}
}

func (r *Router) countReport(status string) {
	if r.metrics != nil {
		r.metrics.ReportGenerations.WithLabelValues(status).Inc()
	}
}

func isVoiceFailureText(text string) bool {
	if text == "" {
		return true
	}
	for _, prefix := range voiceFailurePrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

func toBrainMessages(turns []convo.Turn) []brain.Message {
	out := make([]brain.Message, len(turns))
	for i, t := range turns {
		out[i] = brain.Message{Role: string(t.Role), Content: t.Content}
	}
	return out
}
