package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/dingbot/internal/reliability"
)

// tokenRefreshMargin refreshes the cached access token this long before the
// platform-reported expiry, so in-flight calls never race the cutoff.
const tokenRefreshMargin = 60 * time.Second

// StatusError is a non-2xx response from the platform.
type StatusError struct {
	Op     string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Op, e.Code, e.Detail)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

type ClientConfig struct {
	AppKey     string
	AppSecret  string
	WebhookURL string
	APIBase    string
	Timeout    time.Duration
}

// Client talks to the DingTalk open platform: token issuance, media
// downloads for robot messages, and proactive pushes through a group
// robot webhook.
type Client struct {
	cfg    ClientConfig
	client *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(cfg ClientConfig) *Client {
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = "https://oapi.dingtalk.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Configured reports whether app credentials are present. Media download
// needs them; webhook pushes do not.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.AppKey) != "" && strings.TrimSpace(c.cfg.AppSecret) != ""
}

// PushConfigured reports whether a group robot webhook is set.
func (c *Client) PushConfigured() bool {
	return strings.TrimSpace(c.cfg.WebhookURL) != ""
}

type tokenResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// AccessToken returns a valid platform token, fetching a fresh one when the
// cached token is missing or about to expire.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	u := strings.TrimRight(c.cfg.APIBase, "/") + "/gettoken"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("appkey", c.cfg.AppKey)
	q.Set("appsecret", c.cfg.AppSecret)
	req.URL.RawQuery = q.Encode()

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &StatusError{Op: "gettoken", Code: res.StatusCode, Detail: string(body)}
	}

	var tok tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.ErrCode != 0 {
		return "", fmt.Errorf("gettoken errcode %d: %s", tok.ErrCode, tok.ErrMsg)
	}

	ttl := time.Duration(tok.ExpiresIn)*time.Second - tokenRefreshMargin
	if ttl < 0 {
		ttl = 0
	}
	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(ttl)
	return c.accessToken, nil
}

// DownloadMedia fetches the raw bytes of a robot message attachment by its
// download code.
func (c *Client) DownloadMedia(ctx context.Context, downloadCode string) ([]byte, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}

	u := strings.TrimRight(c.cfg.APIBase, "/") + "/robot/messageFiles/download"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("access_token", token)
	q.Set("file_key", downloadCode)
	req.URL.RawQuery = q.Encode()

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, &StatusError{Op: "download media", Code: res.StatusCode, Detail: string(body)}
	}
	return io.ReadAll(res.Body)
}

// SendText pushes a plain text message through the group robot webhook.
func (c *Client) SendText(ctx context.Context, content string, at At) error {
	payload := struct {
		MsgType string   `json:"msgtype"`
		Text    TextBody `json:"text"`
		At      At       `json:"at"`
	}{MsgType: "text", Text: TextBody{Content: content}, At: at}
	return c.push(ctx, payload)
}

// SendMarkdown pushes a markdown message through the group robot webhook.
func (c *Client) SendMarkdown(ctx context.Context, title, text string, at At) error {
	payload := struct {
		MsgType  string       `json:"msgtype"`
		Markdown MarkdownBody `json:"markdown"`
		At       At           `json:"at"`
	}{MsgType: "markdown", Markdown: MarkdownBody{Title: title, Text: text}, At: at}
	return c.push(ctx, payload)
}

func (c *Client) push(ctx context.Context, payload any) error {
	if !c.PushConfigured() {
		return fmt.Errorf("webhook url not configured")
	}
	if _, err := url.Parse(c.cfg.WebhookURL); err != nil {
		return fmt.Errorf("parse webhook url: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &StatusError{Op: "push", Code: res.StatusCode, Detail: string(raw)}
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode push response: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("push errcode %d: %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}
