package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/dingbot/internal/reliability"
)

const (
	defaultOpenAPIBase      = "https://api.dingtalk.com"
	defaultStreamUserAgent  = "dingbot/1.0.0"
	callbackTopicBotMessage = "/v1.0/im/bot/messages/get"
	systemTopicPing         = "ping"
	systemTopicDisconnect   = "disconnect"
)

type StreamConfig struct {
	ClientID     string
	ClientSecret string
	OpenAPIBase  string
	UserAgent    string
}

// StreamHandler produces the reply text for one inbound robot message.
type StreamHandler func(ctx context.Context, msg InboundMessage) string

// StreamListener keeps a persistent connection to the DingTalk stream
// gateway and feeds robot messages to a handler. It is an alternative to the
// HTTP webhook for deployments without a public ingress.
type StreamListener struct {
	cfg     StreamConfig
	handler StreamHandler
	log     *zap.Logger
	client  *http.Client
}

func NewStreamListener(cfg StreamConfig, handler StreamHandler, log *zap.Logger) *StreamListener {
	if strings.TrimSpace(cfg.OpenAPIBase) == "" {
		cfg.OpenAPIBase = defaultOpenAPIBase
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaultStreamUserAgent
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamListener{
		cfg:     cfg,
		handler: handler,
		log:     log,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// streamFrame is a downlink message from the gateway. Data carries a nested
// JSON document as a string.
type streamFrame struct {
	SpecVersion string        `json:"specVersion"`
	Type        string        `json:"type"`
	Headers     streamHeaders `json:"headers"`
	Data        string        `json:"data"`
}

type streamHeaders struct {
	AppID        string `json:"appId,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	ContentType  string `json:"contentType,omitempty"`
	MessageID    string `json:"messageId,omitempty"`
	Time         string `json:"time,omitempty"`
	Topic        string `json:"topic,omitempty"`
}

type streamAck struct {
	Code    int           `json:"code"`
	Headers streamHeaders `json:"headers"`
	Message string        `json:"message"`
	Data    string        `json:"data"`
}

func ackFor(frame streamFrame, data string) streamAck {
	return streamAck{
		Code: http.StatusOK,
		Headers: streamHeaders{
			ContentType: "application/json",
			MessageID:   frame.Headers.MessageID,
		},
		Message: "OK",
		Data:    data,
	}
}

// Run connects, listens, and reconnects with capped backoff until the
// context is cancelled.
func (l *StreamListener) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		endpoint, ticket, err := l.open(ctx)
		if err != nil {
			attempt++
			if !l.wait(ctx, attempt, "stream gateway open failed", err) {
				return ctx.Err()
			}
			continue
		}
		attempt = 0
		l.log.Info("stream connection established", zap.String("endpoint", endpoint))

		err = l.listen(ctx, endpoint, ticket)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt++
		if !l.wait(ctx, attempt, "stream connection lost", err) {
			return ctx.Err()
		}
	}
}

func (l *StreamListener) wait(ctx context.Context, attempt int, msg string, cause error) bool {
	delay := reliability.ExponentialBackoff(attempt, time.Second, 30*time.Second)
	l.log.Warn(msg, zap.Error(cause), zap.Duration("retry_in", delay))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

type gatewayTicket struct {
	Endpoint string `json:"endpoint"`
	Ticket   string `json:"ticket"`
}

// open registers this client with the gateway and returns the websocket
// endpoint plus a one-shot connection ticket.
func (l *StreamListener) open(ctx context.Context) (string, string, error) {
	payload, err := json.Marshal(map[string]any{
		"clientId":     l.cfg.ClientID,
		"clientSecret": l.cfg.ClientSecret,
		"subscriptions": []map[string]string{
			{"type": "CALLBACK", "topic": callbackTopicBotMessage},
		},
		"ua":      l.cfg.UserAgent,
		"localIp": localIP(),
	})
	if err != nil {
		return "", "", fmt.Errorf("marshal request: %w", err)
	}

	u := strings.TrimRight(l.cfg.OpenAPIBase, "/") + "/v1.0/gateway/connections/open"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := l.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", "", fmt.Errorf("gateway open status %d: %s", res.StatusCode, string(body))
	}

	var ticket gatewayTicket
	if err := json.NewDecoder(res.Body).Decode(&ticket); err != nil {
		return "", "", fmt.Errorf("decode gateway response: %w", err)
	}
	if ticket.Endpoint == "" || ticket.Ticket == "" {
		return "", "", fmt.Errorf("gateway response missing endpoint or ticket")
	}
	return ticket.Endpoint, ticket.Ticket, nil
}

func (l *StreamListener) listen(ctx context.Context, endpoint, ticket string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("ticket", ticket)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial stream gateway: %w", err)
	}
	s := &streamConn{conn: conn}
	defer s.close()

	// Unblock the read loop when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read stream frame: %w", err)
		}

		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			l.log.Warn("dropping undecodable stream frame", zap.Error(err))
			continue
		}

		switch frame.Type {
		case "SYSTEM":
			if frame.Headers.Topic == systemTopicDisconnect {
				_ = s.writeJSON(ackFor(frame, frame.Data))
				return fmt.Errorf("gateway requested disconnect")
			}
			// Ping acks echo the frame data back unchanged.
			_ = s.writeJSON(ackFor(frame, frame.Data))
		case "CALLBACK":
			if frame.Headers.Topic != callbackTopicBotMessage {
				_ = s.writeJSON(ackFor(frame, "{}"))
				continue
			}
			go l.handleCallback(ctx, s, frame)
		default:
			_ = s.writeJSON(ackFor(frame, "{}"))
		}
	}
}

func (l *StreamListener) handleCallback(ctx context.Context, s *streamConn, frame streamFrame) {
	msg, err := ParseInbound([]byte(frame.Data))
	if err != nil {
		l.log.Warn("undecodable robot message on stream", zap.Error(err), zap.String("message_id", frame.Headers.MessageID))
		_ = s.writeJSON(ackFor(frame, "{}"))
		return
	}

	reply := l.handler(ctx, msg)
	body, err := json.Marshal(NewTextReply(reply))
	if err != nil {
		_ = s.writeJSON(ackFor(frame, "{}"))
		return
	}
	if err := s.writeJSON(ackFor(frame, string(body))); err != nil {
		l.log.Warn("stream reply write failed", zap.Error(err), zap.String("message_id", frame.Headers.MessageID))
	}
}

// streamConn serializes writes: ping acks come from the read loop while
// callback replies come from worker goroutines.
type streamConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *streamConn) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *streamConn) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
