package collect

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/newstoss/internal/db"
	"horse.fit/newstoss/internal/globaltime"
	"horse.fit/newstoss/internal/metrics"
	"horse.fit/newstoss/internal/reader"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultWorkers = 6

	// shortSummaryRunes is the summary length below which the full text is
	// fetched when enabled.
	shortSummaryRunes = 200
	fullTextRunes     = 1200
)

// Store is the slice of the database collection writes to.
type Store interface {
	UpsertSources(ctx context.Context, sources []db.SourceInput, now time.Time) (int64, error)
	ListActiveSources(ctx context.Context, country string) ([]db.NewsSource, error)
	UpsertArticle(ctx context.Context, in db.ArticleInput) (bool, error)
}

// Fetcher downloads and parses one feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*gofeed.Feed, error)
}

// FullTextFunc returns readable article text for url.
type FullTextFunc func(ctx context.Context, url, title string) (string, error)

type Options struct {
	Country       string
	Workers       int
	Timeout       time.Duration
	FetchFullText bool
}

type Result struct {
	Sources     int
	Items       int
	Inserted    int
	Updated     int
	Skipped     int
	FailedFeeds int
	FailedItems int
}

type Collector struct {
	store    Store
	fetcher  Fetcher
	fullText FullTextFunc
	logger   zerolog.Logger
}

// HTTPConfig is shared by feed downloads and full text fetches.
type HTTPConfig struct {
	Timeout   time.Duration
	UserAgent string
}

func New(store Store, logger zerolog.Logger, httpCfg HTTPConfig) *Collector {
	if httpCfg.Timeout <= 0 {
		httpCfg.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(httpCfg.UserAgent) == "" {
		httpCfg.UserAgent = reader.DefaultUserAgent
	}
	return &Collector{
		store:    store,
		fetcher:  NewFeedFetcher(&http.Client{Timeout: httpCfg.Timeout}, httpCfg.UserAgent),
		fullText: reader.New(httpCfg.Timeout, httpCfg.UserAgent, fullTextRunes).Text,
		logger:   logger,
	}
}

// SeedSources loads the feed list into news_sources.
func (c *Collector) SeedSources(ctx context.Context, path string) (int, error) {
	if c == nil || c.store == nil {
		return 0, fmt.Errorf("collector is not initialized")
	}
	sources, err := LoadFeeds(path)
	if err != nil {
		return 0, err
	}
	if _, err := c.store.UpsertSources(ctx, sources, globaltime.UTC()); err != nil {
		return 0, err
	}
	return len(sources), nil
}

// Run fetches every active feed, at most opts.Workers at a time, and upserts
// the items. A failing feed is counted and does not stop the others.
func (c *Collector) Run(ctx context.Context, opts Options) (Result, error) {
	if c == nil || c.store == nil || c.fetcher == nil {
		return Result{}, fmt.Errorf("collector is not initialized")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	started := time.Now()
	sources, err := c.store.ListActiveSources(ctx, opts.Country)
	if err != nil {
		return Result{}, err
	}

	var (
		mu     sync.Mutex
		result = Result{Sources: len(sources)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, source := range sources {
		source := source
		g.Go(func() error {
			sourceResult, err := c.collectSource(gctx, source, timeout, opts.FetchFullText)

			mu.Lock()
			defer mu.Unlock()
			result.Items += sourceResult.Items
			result.Inserted += sourceResult.Inserted
			result.Updated += sourceResult.Updated
			result.Skipped += sourceResult.Skipped
			result.FailedItems += sourceResult.FailedItems
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				result.FailedFeeds++
				c.logger.Warn().
					Err(err).
					Int64("source_id", source.ID).
					Str("source", source.Name).
					Str("country", source.CountryCode).
					Str("rss_url", source.RSSURL).
					Msg("feed collection failed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	metrics.RecordStage("collect", started, result.Inserted+result.Updated, result.FailedFeeds+result.FailedItems)
	return result, nil
}

func (c *Collector) collectSource(ctx context.Context, source db.NewsSource, timeout time.Duration, fullText bool) (Result, error) {
	var result Result

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	started := time.Now()
	feed, err := c.fetcher.Fetch(fetchCtx, source.RSSURL)
	cancel()
	metrics.RecordExternal("rss", source.CountryCode, started, err)
	if err != nil {
		return result, fmt.Errorf("fetch feed: %w", err)
	}

	sourceID := source.ID
	seen := make(map[string]struct{}, len(feed.Items))
	for _, item := range feed.Items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Items++

		in, ok := toArticle(item, source, &sourceID)
		if !ok {
			result.Skipped++
			continue
		}
		if _, dup := seen[in.URL]; dup {
			result.Skipped++
			continue
		}
		seen[in.URL] = struct{}{}

		if fullText && len([]rune(in.Summary)) < shortSummaryRunes && c.fullText != nil {
			fullCtx, cancel := context.WithTimeout(ctx, timeout)
			text, err := c.fullText(fullCtx, in.URL, in.Title)
			cancel()
			if err != nil {
				c.logger.Debug().Err(err).Str("url", in.URL).Msg("full text fetch failed, keeping feed summary")
			} else if text != "" {
				in.Summary = text
			}
		}

		inserted, err := c.store.UpsertArticle(ctx, in)
		if err != nil {
			result.FailedItems++
			c.logger.Warn().Err(err).Str("url", in.URL).Int64("source_id", source.ID).Msg("article upsert failed")
			continue
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

// toArticle maps a feed item to a store row. Items without a link or a title
// are skipped.
func toArticle(item *gofeed.Item, source db.NewsSource, sourceID *int64) (db.ArticleInput, bool) {
	if item == nil {
		return db.ArticleInput{}, false
	}
	link := strings.TrimSpace(item.Link)
	title := strings.Join(strings.Fields(item.Title), " ")
	if link == "" || title == "" {
		return db.ArticleInput{}, false
	}

	summary := CleanSummary(item.Description)
	if summary == "" {
		summary = CleanSummary(item.Content)
	}

	var published *time.Time
	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		published = &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		published = &t
	}

	return db.ArticleInput{
		URL:         link,
		CountryCode: source.CountryCode,
		SourceID:    sourceID,
		SourceName:  source.Name,
		Language:    source.Language,
		Title:       title,
		Summary:     summary,
		PublishedAt: published,
		CollectedAt: globaltime.UTC(),
	}, true
}

// FeedFetcher fetches feeds with gofeed.
type FeedFetcher struct {
	client    *http.Client
	userAgent string
}

func NewFeedFetcher(client *http.Client, userAgent string) *FeedFetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &FeedFetcher{client: client, userAgent: userAgent}
}

func (f *FeedFetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	parser := gofeed.NewParser()
	parser.Client = f.client
	parser.UserAgent = f.userAgent
	return parser.ParseURLWithContext(url, ctx)
}
