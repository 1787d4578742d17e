package translation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newstoss/internal/db"
	"horse.fit/newstoss/internal/globaltime"
	"horse.fit/newstoss/internal/langdetect"
	"horse.fit/newstoss/internal/metrics"
)

const DefaultBatchLimit = 200

// Store is the slice of the database the translation stage needs.
type Store interface {
	ListUntranslated(ctx context.Context, limit int) ([]db.PendingText, error)
	SetTranslation(ctx context.Context, articleID int64, language, titleEN, summaryEN string, now time.Time) error
}

// RunOptions controls translation execution.
type RunOptions struct {
	TargetLang string
	Provider   string
	Limit      int
	DryRun     bool
}

// RunStats reports translation execution counters.
type RunStats struct {
	Total      int `json:"total"`
	Translated int `json:"translated"`
	Copied     int `json:"copied"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Manager fills English titles for collected articles.
type Manager struct {
	store    Store
	registry *Registry
	detect   func(string) string
	logger   zerolog.Logger
}

func NewManager(store Store, registry *Registry, logger zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		detect:   langdetect.DetectISO6391,
		logger:   logger,
	}
}

// Run translates one batch of untranslated articles. Articles already in the
// target language get their original text copied. A failed article is
// counted and left for the next run.
func (m *Manager) Run(ctx context.Context, opts RunOptions) (RunStats, error) {
	if m == nil || m.store == nil {
		return RunStats{}, fmt.Errorf("translation manager is not initialized")
	}
	targetLang := normalizeLangCode(opts.TargetLang)
	if targetLang == "" {
		return RunStats{}, fmt.Errorf("target language is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	provider, err := m.resolveProvider(opts.Provider)
	if err != nil {
		return RunStats{}, err
	}

	started := time.Now()
	pending, err := m.store.ListUntranslated(ctx, limit)
	if err != nil {
		return RunStats{}, err
	}

	stats := RunStats{}
	for _, article := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Total++

		sourceLang := m.sourceLanguage(article)
		if opts.DryRun {
			stats.Skipped++
			continue
		}

		if shouldSkipTranslation(sourceLang, targetLang) {
			if err := m.store.SetTranslation(ctx, article.ID, sourceLang, article.Title, article.Summary, globaltime.UTC()); err != nil {
				return stats, err
			}
			stats.Copied++
			continue
		}

		resp, err := provider.Translate(ctx, TranslateRequest{
			Title:      article.Title,
			Summary:    article.Summary,
			SourceLang: sourceLang,
			TargetLang: targetLang,
		})
		if err != nil {
			stats.Failed++
			m.logger.Warn().
				Err(err).
				Int64("article_id", article.ID).
				Str("provider", provider.Name()).
				Str("source_lang", sourceLang).
				Msg("article translation failed")
			continue
		}

		resolvedSourceLang := normalizeLangCode(resp.SourceLang)
		if resolvedSourceLang == "" {
			resolvedSourceLang = sourceLang
		}
		if err := m.store.SetTranslation(ctx, article.ID, resolvedSourceLang, strings.TrimSpace(resp.Title), strings.TrimSpace(resp.Summary), globaltime.UTC()); err != nil {
			return stats, err
		}
		stats.Translated++
	}

	metrics.RecordStage("translate", started, stats.Translated+stats.Copied, stats.Failed)
	return stats, nil
}

// sourceLanguage prefers the detected language of the text over the feed's
// declared language.
func (m *Manager) sourceLanguage(article db.PendingText) string {
	if m.detect != nil {
		if code := normalizeLangCode(m.detect(strings.TrimSpace(article.Title + " " + article.Summary))); code != "" {
			return code
		}
	}
	return normalizeLangCode(article.Language)
}

func (m *Manager) resolveProvider(requested string) (Provider, error) {
	if m == nil || m.registry == nil {
		return nil, fmt.Errorf("translation provider registry is not initialized")
	}
	return m.registry.Provider(requested)
}
