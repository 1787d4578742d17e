package collect

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"horse.fit/newstoss/internal/db"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Sample</title>
  <item>
    <title>Fed holds   rates</title>
    <link>https://news.example.com/fed</link>
    <description><![CDATA[<p>The Fed <b>held</b> rates.</p><p>Markets rallied.</p>]]></description>
    <pubDate>Mon, 02 Mar 2026 10:00:00 +0900</pubDate>
  </item>
  <item>
    <title>Fed holds rates</title>
    <link>https://news.example.com/fed</link>
  </item>
  <item>
    <title></title>
    <link>https://news.example.com/untitled</link>
  </item>
  <item>
    <title>Tokyo quake</title>
    <link>https://news.example.com/quake</link>
    <description>Plain text summary</description>
  </item>
</channel>
</rss>`

type memStore struct {
	mu       sync.Mutex
	sources  []db.NewsSource
	seeded   []db.SourceInput
	articles map[string]db.ArticleInput
}

func (s *memStore) UpsertSources(_ context.Context, sources []db.SourceInput, _ time.Time) (int64, error) {
	s.seeded = append(s.seeded, sources...)
	return int64(len(sources)), nil
}

func (s *memStore) ListActiveSources(_ context.Context, country string) ([]db.NewsSource, error) {
	var out []db.NewsSource
	for _, source := range s.sources {
		if country == "" || source.CountryCode == country {
			out = append(out, source)
		}
	}
	return out, nil
}

func (s *memStore) UpsertArticle(_ context.Context, in db.ArticleInput) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.articles == nil {
		s.articles = make(map[string]db.ArticleInput)
	}
	_, exists := s.articles[in.URL]
	s.articles[in.URL] = in
	return !exists, nil
}

func TestRunCollectsAndCountsFailures(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	store := &memStore{sources: []db.NewsSource{
		{ID: 1, Name: "Example", CountryCode: "KR", Language: "ko", RSSURL: server.URL + "/rss"},
		{ID: 2, Name: "Broken", CountryCode: "JP", Language: "ja", RSSURL: server.URL + "/broken"},
	}}
	collector := New(store, zerolog.Nop(), HTTPConfig{})

	result, err := collector.Run(context.Background(), Options{Workers: 2, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Sources != 2 || result.FailedFeeds != 1 {
		t.Fatalf("unexpected feed counts: %+v", result)
	}
	if result.Items != 4 || result.Inserted != 2 || result.Skipped != 2 {
		t.Fatalf("unexpected item counts: %+v", result)
	}

	fed := store.articles["https://news.example.com/fed"]
	if fed.Title != "Fed holds rates" {
		t.Fatalf("unexpected title: %q", fed.Title)
	}
	if fed.Summary != "The Fed held rates. Markets rallied." {
		t.Fatalf("unexpected summary: %q", fed.Summary)
	}
	if fed.CountryCode != "KR" || fed.SourceName != "Example" || fed.SourceID == nil || *fed.SourceID != 1 {
		t.Fatalf("unexpected source fields: %+v", fed)
	}
	if fed.PublishedAt == nil || !fed.PublishedAt.Equal(time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected published_at: %v", fed.PublishedAt)
	}
}

type stubFetcher struct {
	feed *gofeed.Feed
}

func (f stubFetcher) Fetch(context.Context, string) (*gofeed.Feed, error) {
	return f.feed, nil
}

func TestRunFetchesFullTextForShortSummaries(t *testing.T) {
	t.Parallel()

	store := &memStore{sources: []db.NewsSource{{ID: 1, Name: "Example", CountryCode: "US", RSSURL: "stub"}}}
	collector := New(store, zerolog.Nop(), HTTPConfig{})
	collector.fetcher = stubFetcher{feed: &gofeed.Feed{Items: []*gofeed.Item{
		{Title: "Short", Link: "https://a.example/1", Description: "tiny"},
		{Title: "Failing", Link: "https://a.example/2", Description: "tiny"},
	}}}
	collector.fullText = func(_ context.Context, url, _ string) (string, error) {
		if strings.HasSuffix(url, "/2") {
			return "", errors.New("blocked")
		}
		return "full article text", nil
	}

	if _, err := collector.Run(context.Background(), Options{FetchFullText: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.articles["https://a.example/1"].Summary; got != "full article text" {
		t.Fatalf("unexpected summary: %q", got)
	}
	if got := store.articles["https://a.example/2"].Summary; got != "tiny" {
		t.Fatalf("failed full text must keep the feed summary, got %q", got)
	}
}

func TestCleanSummary(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "<p>Hello <b>world</b></p><p>Again</p>", want: "Hello world Again"},
		{in: "Tom &amp; Jerry", want: "Tom & Jerry"},
		{in: "<script>var x = 1;</script><div>Text</div>", want: "Text"},
		{in: "  plain   text ", want: "plain text"},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		if got := CleanSummary(tc.in); got != tc.want {
			t.Fatalf("CleanSummary(%q): got %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestLoadFeeds(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feeds.yaml")
	content := `sources:
  - name: Yonhap
    country: kr
    language: KO
    rss_url: https://example.com/kr.xml
  - name: NHK
    country: JP
    language: ja
    rss_url: https://example.com/jp.xml
    active: false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write feeds: %v", err)
	}

	sources, err := LoadFeeds(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("unexpected source count: got %d want 2", len(sources))
	}
	if sources[0].CountryCode != "KR" || sources[0].Language != "ko" || !sources[0].IsActive {
		t.Fatalf("unexpected first source: %+v", sources[0])
	}
	if sources[1].IsActive {
		t.Fatalf("second source should be inactive")
	}
}

func TestFeedFileRejectsBadEntries(t *testing.T) {
	t.Parallel()

	cases := []FeedFile{
		{Sources: []FeedEntry{{Name: "A", Country: "KR"}}},
		{Sources: []FeedEntry{{Name: "A", Country: "KOR", RSSURL: "https://a"}}},
		{Sources: []FeedEntry{{Country: "KR", RSSURL: "https://a"}}},
		{Sources: []FeedEntry{
			{Name: "A", Country: "KR", RSSURL: "https://a"},
			{Name: "B", Country: "KR", RSSURL: "https://a"},
		}},
	}
	for i, file := range cases {
		if _, err := file.Inputs(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
