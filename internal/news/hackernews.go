package news

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const defaultHackerNewsBase = "https://news.ycombinator.com"

// aiAcronymPattern is case-sensitive on purpose: lowercase "ai" is almost
// always a different word.
var aiAcronymPattern = regexp.MustCompile(`\b(AI|LLM|GPT)\b`)

var aiTitleKeywords = []string{
	"artificial intelligence",
	"machine learning",
	"deep learning",
	"neural",
	"openai",
	"anthropic",
	"chatgpt",
	"claude",
	"llama",
	"gemini",
	"diffusion",
	"transformer",
}

func isAIRelated(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range aiTitleKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return aiAcronymPattern.MatchString(title)
}

// HackerNewsProvider scrapes the Hacker News front page and keeps the
// AI-related stories.
type HackerNewsProvider struct {
	baseURL string
	client  *http.Client
}

func NewHackerNewsProvider(baseURL string) *HackerNewsProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultHackerNewsBase
	}
	return &HackerNewsProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HackerNewsProvider) Name() string { return "hackernews" }

func (p *HackerNewsProvider) Fetch(ctx context.Context, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 5
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hacker news status %d", res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse front page: %w", err)
	}

	var articles []Article
	doc.Find("tr.athing").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if len(articles) >= limit {
			return false
		}
		link := s.Find(".titleline > a").First()
		if link.Length() == 0 {
			return true
		}
		title := strings.TrimSpace(link.Text())
		if title == "" || !isAIRelated(title) {
			return true
		}
		href, _ := link.Attr("href")
		// Ask/Show HN posts link relatively into the site itself.
		if href != "" && !strings.HasPrefix(href, "http") {
			href = p.baseURL + "/" + href
		}
		articles = append(articles, Article{
			Title:  title,
			URL:    href,
			Source: "Hacker News",
		})
		return true
	})

	return articles, nil
}
