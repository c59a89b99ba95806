// Package scheduler drives the daily news digest push.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/dingbot/internal/dingtalk"
	"github.com/ent0n29/dingbot/internal/news"
	"github.com/ent0n29/dingbot/internal/observability"
	"github.com/ent0n29/dingbot/internal/reliability"
)

const newsPushTitle = "今日AI资讯速递"

const (
	defaultArticleLimit = 5
	defaultPushAttempts = 3
	pushBackoffBase     = 2 * time.Second
	pushBackoffCap      = 30 * time.Second
)

// Sender delivers the digest to the group chat.
type Sender interface {
	PushConfigured() bool
	SendMarkdown(ctx context.Context, title, text string, at dingtalk.At) error
}

// Source produces the articles for the digest.
type Source interface {
	Fetch(ctx context.Context, limit int) []news.Article
}

// Config tunes when and how the digest goes out.
type Config struct {
	// PushTime is the local wall-clock time "HH:MM". Defaults to 09:00.
	PushTime string

	// Location resolves PushTime. Defaults to the process local zone.
	Location *time.Location

	// ArticleLimit caps digest entries. Defaults to 5.
	ArticleLimit int

	// PushAttempts bounds delivery retries. Defaults to 3.
	PushAttempts int
}

// Scheduler wakes up once a day and pushes the news digest.
type Scheduler struct {
	sender      Sender
	source      Source
	metrics     *observability.Metrics
	window      *observability.StageWindow
	log         *zap.Logger
	hour        int
	minute      int
	loc         *time.Location
	limit       int
	attempts    int
	backoffBase time.Duration
	backoffCap  time.Duration
	now         func() time.Time
}

// New validates cfg and builds a scheduler. sender may be nil when no
// webhook is configured; runs then log a skip instead of pushing.
func New(sender Sender, source Source, cfg Config, metrics *observability.Metrics, window *observability.StageWindow, log *zap.Logger) (*Scheduler, error) {
	if source == nil {
		return nil, errors.New("scheduler requires a news source")
	}
	pushTime := strings.TrimSpace(cfg.PushTime)
	if pushTime == "" {
		pushTime = "09:00"
	}
	hour, minute, err := ParsePushTime(pushTime)
	if err != nil {
		return nil, err
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	limit := cfg.ArticleLimit
	if limit <= 0 {
		limit = defaultArticleLimit
	}
	attempts := cfg.PushAttempts
	if attempts <= 0 {
		attempts = defaultPushAttempts
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		sender:      sender,
		source:      source,
		metrics:     metrics,
		window:      window,
		log:         log,
		hour:        hour,
		minute:      minute,
		loc:         loc,
		limit:       limit,
		attempts:    attempts,
		backoffBase: pushBackoffBase,
		backoffCap:  pushBackoffCap,
		now:         time.Now,
	}, nil
}

// ParsePushTime parses a wall-clock "HH:MM" value.
func ParsePushTime(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("push time %q is not HH:MM", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("push time %q has invalid hour", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("push time %q has invalid minute", s)
	}
	return hour, minute, nil
}

// Run pushes the digest every day at the configured time until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := nextRunAfter(s.now(), s.hour, s.minute, s.loc)
		s.log.Info("next news push scheduled", zap.Time("at", next))

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := s.RunOnce(ctx); err != nil {
			s.log.Error("daily news push failed", zap.Error(err))
		}
	}
}

// RunOnce fetches, formats and pushes one digest immediately.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.sender == nil || !s.sender.PushConfigured() {
		s.log.Warn("dingtalk webhook not configured, skipping news push")
		s.countPush("skipped")
		return nil
	}

	start := time.Now()
	articles := s.source.Fetch(ctx, s.limit)
	text := news.FormatMarkdown(articles, s.now())

	err := reliability.Retry(ctx, s.attempts, s.backoffBase, s.backoffCap, func(ctx context.Context) error {
		return s.sender.SendMarkdown(ctx, newsPushTitle, text, dingtalk.At{})
	})
	if err != nil {
		s.countPush("error")
		return fmt.Errorf("push news digest: %w", err)
	}

	s.countPush("ok")
	if s.window != nil {
		s.window.ObserveDuration(observability.StageNewsPush, time.Since(start))
	}
	s.log.Info("daily news pushed", zap.Int("articles", len(articles)))
	return nil
}

func (s *Scheduler) countPush(status string) {
	if s.metrics != nil {
		s.metrics.NewsPushes.WithLabelValues(status).Inc()
	}
}

// nextRunAfter computes the first hour:minute wall-clock instant in loc
// strictly after now.
func nextRunAfter(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
