package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"horse.fit/newstoss/internal/db"
	"horse.fit/newstoss/internal/globaltime"
	"horse.fit/newstoss/internal/metrics"
	"horse.fit/newstoss/internal/sweep"
)

// BatchIDLayout formats generated publish batch ids in UTC.
const BatchIDLayout = "20060102_150405"

func BatchID(t time.Time) string {
	return t.UTC().Format(BatchIDLayout)
}

// sweepStore adapts the pipeline Store to the sweep package.
type sweepStore struct {
	store Store
}

func (a sweepStore) RecentTopics(ctx context.Context, kind string, limit int) ([]sweep.Topic, error) {
	rows, err := a.store.ListRecentTopics(ctx, kind, limit)
	if err != nil {
		return nil, err
	}
	out := make([]sweep.Topic, len(rows))
	for i, row := range rows {
		out[i] = sweep.Topic{ID: row.ID, Country: row.CountryCode, Title: row.Title, ArticleCount: row.ArticleCount}
	}
	return out, nil
}

func (a sweepStore) MergeTopics(ctx context.Context, kind string, winnerID int64, loserIDs []int64) (sweep.MergeStats, error) {
	counts, err := a.store.MergeTopics(ctx, kind, winnerID, loserIDs, globaltime.UTC())
	if err != nil {
		return sweep.MergeStats{}, err
	}
	return sweep.MergeStats{
		ArticlesMoved:  counts.ArticlesMoved,
		StatsDeleted:   counts.StatsDeleted,
		HistoryDeleted: counts.HistoryDeleted,
		TopicsDeleted:  counts.TopicsDeleted,
	}, nil
}

type DedupResult struct {
	Kind string
	sweep.Result
	StatsRefreshed int
}

// Deduplicate merges duplicate recent topics of kind and refreshes the stats
// of every topic the merges touched.
func (s *Service) Deduplicate(ctx context.Context, kind string, dryRun bool) (DedupResult, error) {
	if err := s.ready(); err != nil {
		return DedupResult{}, err
	}
	if kind != db.KindNational && kind != db.KindGlobal {
		return DedupResult{}, fmt.Errorf("unknown topic kind %q (want %s or %s)", kind, db.KindNational, db.KindGlobal)
	}

	started := time.Now()
	since := globaltime.UTC()
	swept, err := sweep.New(sweepStore{store: s.store}, s.logger).Run(ctx, kind, sweep.Options{
		Threshold: s.settings.SweepThreshold,
		Limit:     s.settings.SweepLimit,
		DryRun:    dryRun,
	})
	result := DedupResult{Kind: kind, Result: swept}
	if err != nil {
		return result, err
	}

	if !dryRun && swept.TopicsMerged > 0 {
		refreshed, err := s.RefreshStats(ctx, since, kind)
		if err != nil {
			return result, fmt.Errorf("refresh merged %s stats: %w", kind, err)
		}
		result.StatsRefreshed = refreshed.Topics + refreshed.Megatopics
	}

	metrics.RecordStage("dedup_"+kind, started, int(swept.TopicsMerged), swept.Failed)
	s.logger.Info().
		Str("kind", kind).
		Bool("dry_run", dryRun).
		Int("scanned", swept.Scanned).
		Int("groups", swept.Groups).
		Int64("topics_merged", swept.TopicsMerged).
		Int64("articles_moved", swept.ArticlesMoved).
		Int("failed", swept.Failed).
		Msg("deduplication finished")
	return result, nil
}

// PublishBatch makes batchID the visible batch. An empty id publishes
// everything pending under a fresh id derived from the current time.
func (s *Service) PublishBatch(ctx context.Context, batchID string) (db.PublishResult, error) {
	if err := s.ready(); err != nil {
		return db.PublishResult{}, err
	}
	started := time.Now()
	now := globaltime.UTC()

	batchID = strings.TrimSpace(batchID)
	assignPending := false
	if batchID == "" {
		batchID = BatchID(now)
		assignPending = true
	}

	result, err := s.store.PublishBatch(ctx, batchID, assignPending, now)
	if err != nil {
		metrics.RecordStage("publish", started, 0, 1)
		return result, fmt.Errorf("publish batch %s: %w", batchID, err)
	}
	metrics.RecordStage("publish", started, int(result.PublishedTopics+result.PublishedMegatopics), 0)
	s.logger.Info().
		Str("batch_id", result.BatchID).
		Int64("published_topics", result.PublishedTopics).
		Int64("published_megatopics", result.PublishedMegatopics).
		Int64("unpublished_topics", result.UnpublishedTopics).
		Int64("unpublished_megatopics", result.UnpublishedMegatopics).
		Msg("batch published")
	return result, nil
}
