// Package httpapi exposes the webhook endpoint DingTalk delivers
// messages to, plus health, metrics and a small admin surface.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ent0n29/dingbot/internal/archive"
	"github.com/ent0n29/dingbot/internal/dingtalk"
	"github.com/ent0n29/dingbot/internal/observability"
)

const replyGenericFailure = "抱歉，处理您的消息时出现错误，请稍后再试。"

const maxWebhookBody = 1 << 20

// Bot is the message-routing surface the HTTP layer drives.
type Bot interface {
	Handle(ctx context.Context, msg dingtalk.InboundMessage) string
	ClearHistory(userID string)
	History(ctx context.Context, userID string, limit int) ([]archive.TurnRecord, error)
}

// Config carries what the HTTP layer needs to know.
type Config struct {
	// AppSecret verifies webhook signatures.
	AppSecret string

	// Version is reported on the index endpoint. Defaults to 1.0.0.
	Version string
}

type Server struct {
	cfg     Config
	bot     Bot
	metrics *observability.Metrics
	window  *observability.StageWindow
	log     *zap.Logger
}

func New(cfg Config, bot Bot, metrics *observability.Metrics, window *observability.StageWindow, log *zap.Logger) *Server {
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "1.0.0"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		bot:     bot,
		metrics: metrics,
		window:  window,
		log:     log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/webhook", s.handleWebhook)

	r.Get("/v1/stats", s.handleStats)
	r.Post("/v1/users/{userID}/clear", s.handleClearHistory)
	r.Get("/v1/users/{userID}/history", s.handleHistory)

	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "钉钉AI助手运行中",
		"version": s.cfg.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleWebhook receives one DingTalk message and answers with the
// reply payload in the response body. Only a signature failure may
// produce a non-200 status; processing failures turn into an apology
// reply so the platform does not re-deliver.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	timestamp := r.Header.Get("timestamp")
	sign := r.Header.Get("sign")
	if !dingtalk.Verify(timestamp, sign, s.cfg.AppSecret) {
		s.log.Warn("webhook signature rejected", zap.String("timestamp", timestamp))
		s.countWebhook("unauthorized")
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "签名验证失败"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.log.Warn("webhook body unreadable", zap.Error(err))
		s.countWebhook("malformed")
		respondJSON(w, http.StatusOK, dingtalk.NewTextReply(replyGenericFailure))
		return
	}
	msg, err := dingtalk.ParseInbound(body)
	if err != nil {
		s.log.Warn("webhook payload unparseable", zap.Error(err))
		s.countWebhook("malformed")
		respondJSON(w, http.StatusOK, dingtalk.NewTextReply(replyGenericFailure))
		return
	}

	s.countWebhook("accepted")
	reply := s.bot.Handle(r.Context(), msg)
	respondJSON(w, http.StatusOK, dingtalk.NewTextReply(reply))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.window == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.window.Snapshot())
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if strings.TrimSpace(userID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "missing user id")
		return
	}
	s.bot.ClearHistory(userID)
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"user_id": userID,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if strings.TrimSpace(userID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "missing user id")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	turns, err := s.bot.History(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	if turns == nil {
		turns = []archive.TurnRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"turns":   turns,
	})
}

func (s *Server) countWebhook(outcome string) {
	if s.metrics != nil {
		s.metrics.WebhookRequests.WithLabelValues(outcome).Inc()
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
