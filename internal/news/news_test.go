package news

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestFormatMarkdownLayout(t *testing.T) {
	// 2024-01-01 was a Monday.
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	articles := []Article{
		{Title: "标题一", Description: "描述一", URL: "https://example.com/1", Source: "TechCrunch"},
		{Title: "标题二"},
	}

	got := FormatMarkdown(articles, now)

	if !strings.HasPrefix(got, "# 🤖 今日AI资讯速递\n\n") {
		t.Fatalf("digest does not open with the banner:\n%s", got)
	}
	if !strings.Contains(got, "📅 2024年01月01日 星期一\n\n") {
		t.Fatalf("digest date line wrong:\n%s", got)
	}
	if !strings.Contains(got, "## 1. 标题一\n\n描述一\n\n**来源**: TechCrunch\n\n**链接**: [查看详情](https://example.com/1)\n\n") {
		t.Fatalf("first entry malformed:\n%s", got)
	}
	// No description and no URL drop those lines; missing source renders 未知.
	if !strings.Contains(got, "## 2. 标题二\n\n**来源**: 未知\n\n---\n\n") {
		t.Fatalf("second entry malformed:\n%s", got)
	}
	if !strings.HasSuffix(got, "\n💡 *由AI助手自动推送，祝您工作愉快！*") {
		t.Fatalf("digest footer missing:\n%s", got)
	}
}

func TestFormatMarkdownEmpty(t *testing.T) {
	if got, want := FormatMarkdown(nil, time.Now()), "暂无最新AI资讯"; got != want {
		t.Fatalf("FormatMarkdown(nil) = %q, want %q", got, want)
	}
}

func TestFormatMarkdownSundayWeekday(t *testing.T) {
	// 2024-01-07 was a Sunday.
	now := time.Date(2024, 1, 7, 9, 0, 0, 0, time.UTC)
	got := FormatMarkdown([]Article{{Title: "t"}}, now)
	if !strings.Contains(got, "星期日") {
		t.Fatalf("sunday rendered wrong:\n%s", got)
	}
}

type stubProvider struct {
	name     string
	articles []Article
	err      error
	calls    int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Fetch(ctx context.Context, limit int) ([]Article, error) {
	s.calls++
	return s.articles, s.err
}

func TestChainFallsThroughToFirstNonEmpty(t *testing.T) {
	failing := &stubProvider{name: "a", err: errors.New("boom")}
	empty := &stubProvider{name: "b"}
	good := &stubProvider{name: "c", articles: []Article{{Title: "hit"}}}
	unreached := &stubProvider{name: "d", articles: []Article{{Title: "never"}}}

	chain := NewChain(zap.NewNop(), failing, empty, good, unreached)
	got := chain.Fetch(context.Background(), 5)

	if len(got) != 1 || got[0].Title != "hit" {
		t.Fatalf("chain returned %+v, want the third provider's article", got)
	}
	if failing.calls != 1 || empty.calls != 1 || good.calls != 1 {
		t.Fatalf("call counts = %d/%d/%d, want 1/1/1", failing.calls, empty.calls, good.calls)
	}
	if unreached.calls != 0 {
		t.Fatal("chain kept calling providers after a non-empty result")
	}
}

func TestChainAllProvidersFail(t *testing.T) {
	chain := NewChain(zap.NewNop(), &stubProvider{name: "a", err: errors.New("x")}, &stubProvider{name: "b"})
	if got := chain.Fetch(context.Background(), 5); got != nil {
		t.Fatalf("chain returned %+v, want nil", got)
	}
}

func TestNewsAPIFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.URL.Path, "/v2/everything"; got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
		q := r.URL.Query()
		if got, want := q.Get("apiKey"), "k-1"; got != want {
			t.Errorf("apiKey = %q, want %q", got, want)
		}
		if got := q.Get("q"); !strings.Contains(got, "artificial intelligence") {
			t.Errorf("query = %q", got)
		}
		if got, want := q.Get("language"), "en"; got != want {
			t.Errorf("language = %q, want %q", got, want)
		}
		if got, want := q.Get("sortBy"), "publishedAt"; got != want {
			t.Errorf("sortBy = %q, want %q", got, want)
		}
		if got, want := q.Get("pageSize"), "3"; got != want {
			t.Errorf("pageSize = %q, want %q", got, want)
		}
		if got, want := q.Get("from"), "2024-02-29"; got != want {
			t.Errorf("from = %q, want yesterday %q", got, want)
		}
		fmt.Fprint(w, `{"status":"ok","articles":[
			{"title":"AI breakthrough","description":"desc","url":"https://example.com/a","publishedAt":"2024-03-01T08:00:00Z","source":{"name":"Wired"}}
		]}`)
	}))
	defer srv.Close()

	p := NewNewsAPIProvider("k-1", srv.URL)
	p.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	got, err := p.Fetch(context.Background(), 3)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d articles, want 1", len(got))
	}
	a := got[0]
	if a.Title != "AI breakthrough" || a.Source != "Wired" || a.URL != "https://example.com/a" {
		t.Fatalf("article mapped wrong: %+v", a)
	}
}

func TestNewsAPIFetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","message":"apiKey invalid"}`)
	}))
	defer srv.Close()

	p := NewNewsAPIProvider("bad", srv.URL)
	if _, err := p.Fetch(context.Background(), 5); err == nil {
		t.Fatal("Fetch accepted an error status")
	}
}

func TestNewsAPIFetchWithoutKey(t *testing.T) {
	p := NewNewsAPIProvider("", "")
	if _, err := p.Fetch(context.Background(), 5); err == nil {
		t.Fatal("Fetch without an api key did not fail")
	}
}

const hackerNewsPage = `<html><body><table>
<tr class="athing" id="1"><td><span class="titleline"><a href="https://example.com/gpt">New GPT architecture halves inference cost</a></span></td></tr>
<tr class="athing" id="2"><td><span class="titleline"><a href="https://example.com/rust">Rust 1.80 released</a></span></td></tr>
<tr class="athing" id="3"><td><span class="titleline"><a href="item?id=3">Ask HN: Best way to fine-tune an LLM?</a></span></td></tr>
<tr class="athing" id="4"><td><span class="titleline"><a href="https://example.com/air">Improving air quality sensors</a></span></td></tr>
</table></body></html>`

func TestHackerNewsFetchFiltersAITitles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, hackerNewsPage)
	}))
	defer srv.Close()

	p := NewHackerNewsProvider(srv.URL)
	got, err := p.Fetch(context.Background(), 5)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d articles, want 2 AI stories: %+v", len(got), got)
	}
	if got[0].Title != "New GPT architecture halves inference cost" {
		t.Fatalf("first article = %+v", got[0])
	}
	if got[0].Source != "Hacker News" {
		t.Fatalf("source = %q", got[0].Source)
	}
	if want := srv.URL + "/item?id=3"; got[1].URL != want {
		t.Fatalf("relative link not absolutized: %q, want %q", got[1].URL, want)
	}
}

func TestHackerNewsFetchHonorsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, hackerNewsPage)
	}))
	defer srv.Close()

	got, err := NewHackerNewsProvider(srv.URL).Fetch(context.Background(), 1)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d articles, want 1", len(got))
	}
}

func TestIsAIRelated(t *testing.T) {
	cases := []struct {
		title string
		want  bool
	}{
		{"AI beats radiologists at lung screening", true},
		{"OpenAI announces new developer tier", true},
		{"Fine-tuning an LLM on a laptop", true},
		{"Deep learning for protein folding", true},
		{"Improving air quality sensors", false},
		{"Paint your house in Taipei", false},
		{"Rust 1.80 released", false},
		{"aisle seat economics", false},
	}
	for _, tc := range cases {
		if got := isAIRelated(tc.title); got != tc.want {
			t.Fatalf("isAIRelated(%q) = %v, want %v", tc.title, got, tc.want)
		}
	}
}

func TestStaticProviderContent(t *testing.T) {
	p := NewStaticProvider()
	p.now = func() time.Time { return time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC) }

	all, err := p.Fetch(context.Background(), 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d articles, want 5", len(all))
	}
	if !strings.Contains(all[0].Title, "GPT-5") {
		t.Fatalf("first article = %q", all[0].Title)
	}
	if all[0].PublishedAt != "2024-05-05" {
		t.Fatalf("publishedAt = %q", all[0].PublishedAt)
	}

	three, err := p.Fetch(context.Background(), 3)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(three) != 3 {
		t.Fatalf("got %d articles, want 3", len(three))
	}
}
