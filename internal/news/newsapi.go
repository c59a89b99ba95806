package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultNewsAPIBase = "https://newsapi.org"
	newsAPIQuery       = "artificial intelligence OR machine learning OR deep learning OR AI"
)

// NewsAPIProvider queries the NewsAPI /v2/everything endpoint for fresh
// AI coverage.
type NewsAPIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func NewNewsAPIProvider(apiKey, baseURL string) *NewsAPIProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultNewsAPIBase
	}
	return &NewsAPIProvider{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}
}

func (p *NewsAPIProvider) Name() string { return "newsapi" }

type newsAPIResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

func (p *NewsAPIProvider) Fetch(ctx context.Context, limit int) ([]Article, error) {
	if p.apiKey == "" {
		return nil, errors.New("newsapi key not configured")
	}
	if limit <= 0 {
		limit = 5
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v2/everything", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("apiKey", p.apiKey)
	q.Set("q", newsAPIQuery)
	q.Set("language", "en")
	q.Set("sortBy", "publishedAt")
	q.Set("from", p.now().AddDate(0, 0, -1).Format("2006-01-02"))
	q.Set("pageSize", fmt.Sprintf("%d", limit))
	req.URL.RawQuery = q.Encode()

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("newsapi status %d: %s", res.StatusCode, string(body))
	}

	var parsed newsAPIResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode newsapi response: %w", err)
	}
	if parsed.Status != "ok" {
		return nil, fmt.Errorf("newsapi status %q: %s", parsed.Status, parsed.Message)
	}

	articles := make([]Article, 0, len(parsed.Articles))
	for _, a := range parsed.Articles {
		articles = append(articles, Article{
			Title:       a.Title,
			Description: a.Description,
			URL:         a.URL,
			Source:      a.Source.Name,
			PublishedAt: a.PublishedAt,
		})
	}
	return articles, nil
}
