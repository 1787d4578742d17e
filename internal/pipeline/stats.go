package pipeline

import (
	"context"
	"fmt"
	"time"

	"horse.fit/newstoss/internal/db"
	"horse.fit/newstoss/internal/globaltime"
	"horse.fit/newstoss/internal/metrics"
	"horse.fit/newstoss/internal/stats"
)

type StatsResult struct {
	Topics     int
	Megatopics int
	Failed     int
}

// RefreshStats recomputes per-country stats for every topic of the given
// kinds touched since the cutoff. A failing topic is counted and skipped.
func (s *Service) RefreshStats(ctx context.Context, since time.Time, kinds ...string) (StatsResult, error) {
	if err := s.ready(); err != nil {
		return StatsResult{}, err
	}
	if len(kinds) == 0 {
		kinds = []string{db.KindNational, db.KindGlobal}
	}

	started := time.Now()
	now := globaltime.UTC()
	var result StatsResult
	for _, kind := range kinds {
		targets, err := s.store.ListStatsTargets(ctx, kind, since)
		if err != nil {
			return result, fmt.Errorf("list %s stats targets: %w", kind, err)
		}
		for _, target := range targets {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if err := s.refreshTopicStats(ctx, kind, target.ID, target.ArticleIDs, now); err != nil {
				result.Failed++
				s.logger.Warn().Err(err).Str("kind", kind).Int64("topic_id", target.ID).Msg("stats refresh failed")
				continue
			}
			if kind == db.KindGlobal {
				result.Megatopics++
			} else {
				result.Topics++
			}
		}
	}

	metrics.RecordStage("stats", started, result.Topics+result.Megatopics, result.Failed)
	return result, nil
}

func (s *Service) refreshTopicStats(ctx context.Context, kind string, topicID int64, articleIDs []int64, now time.Time) error {
	rows, err := s.store.ListArticleStances(ctx, articleIDs)
	if err != nil {
		return err
	}

	input := make([]stats.ArticleStance, len(rows))
	for i, row := range rows {
		stance := ""
		if row.Stance != nil {
			stance = *row.Stance
		}
		input[i] = stats.ArticleStance{
			ID:          row.ID,
			CountryCode: row.CountryCode,
			SourceName:  row.SourceName,
			Stance:      stance,
			Score:       row.Score,
		}
	}

	aggregated := stats.Aggregate(input)
	out := make([]db.TopicCountryStat, len(aggregated.Countries))
	for i, c := range aggregated.Countries {
		out[i] = db.TopicCountryStat{
			TopicKind:       kind,
			TopicID:         topicID,
			CountryCode:     c.CountryCode,
			ArticleCount:    c.ArticleCount,
			SupportiveCount: c.SupportiveCount,
			FactualCount:    c.FactualCount,
			CriticalCount:   c.CriticalCount,
			SourceCount:     c.SourceCount,
			AvgStanceScore:  c.AvgStanceScore,
			UpdatedAt:       now,
		}
	}
	return s.store.ReplaceTopicStats(ctx, kind, topicID, out, now)
}
