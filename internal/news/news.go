package news

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Article is one item in the daily digest.
type Article struct {
	Title       string
	Description string
	URL         string
	Source      string
	PublishedAt string
}

// Provider fetches AI-related articles from one upstream.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, limit int) ([]Article, error)
}

// Chain tries providers in order and returns the first non-empty result.
type Chain struct {
	providers []Provider
	log       *zap.Logger
}

func NewChain(log *zap.Logger, providers ...Provider) *Chain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Chain{providers: providers, log: log}
}

func (c *Chain) Fetch(ctx context.Context, limit int) []Article {
	for _, p := range c.providers {
		articles, err := p.Fetch(ctx, limit)
		if err != nil {
			c.log.Warn("news provider failed", zap.String("provider", p.Name()), zap.Error(err))
			continue
		}
		if len(articles) == 0 {
			c.log.Info("news provider returned nothing", zap.String("provider", p.Name()))
			continue
		}
		return articles
	}
	return nil
}

var weekdayNames = []string{"日", "一", "二", "三", "四", "五", "六"}

// FormatMarkdown renders the digest pushed to the group every morning.
func FormatMarkdown(articles []Article, now time.Time) string {
	if len(articles) == 0 {
		return "暂无最新AI资讯"
	}

	var b strings.Builder
	b.WriteString("# 🤖 今日AI资讯速递\n\n")
	fmt.Fprintf(&b, "📅 %s 星期%s\n\n", now.Format("2006年01月02日"), weekdayNames[now.Weekday()])
	b.WriteString("---\n\n")

	for i, a := range articles {
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, a.Title)
		if a.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", a.Description)
		}
		source := a.Source
		if source == "" {
			source = "未知"
		}
		fmt.Fprintf(&b, "**来源**: %s\n\n", source)
		if a.URL != "" {
			fmt.Fprintf(&b, "**链接**: [查看详情](%s)\n\n", a.URL)
		}
		b.WriteString("---\n\n")
	}

	b.WriteString("\n💡 *由AI助手自动推送，祝您工作愉快！*")
	return b.String()
}
