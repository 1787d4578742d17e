package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"horse.fit/newstoss/internal/cluster"
	"horse.fit/newstoss/internal/db"
	"horse.fit/newstoss/internal/globaltime"
	"horse.fit/newstoss/internal/history"
	"horse.fit/newstoss/internal/matcher"
	"horse.fit/newstoss/internal/metrics"
)

type MergeResult struct {
	Topics               int
	Skipped              int
	Megatopics           int
	Dropped              int
	DroppedAfterOutliers int
	Fallbacks            int
	Created              int
	Matched              int
	Failed               int
}

// MergeGlobal clusters recent national topics across countries into
// megatopics, then folds each into a recent megatopic or creates a new one.
func (s *Service) MergeGlobal(ctx context.Context) (MergeResult, error) {
	if err := s.ready(); err != nil {
		return MergeResult{}, err
	}
	started := time.Now()
	now := globaltime.UTC()
	var result MergeResult

	rows, err := s.store.ListNationalTopicsSince(ctx, now.Add(-s.settings.ClusterLookback))
	if err != nil {
		return result, fmt.Errorf("list national topics: %w", err)
	}
	result.Topics = len(rows)

	topics := make([]cluster.NationalTopic, 0, len(rows))
	articleIDs := make(map[int64][]int64, len(rows))
	for _, row := range rows {
		centroid, err := db.ParseVector(row.Centroid)
		if err != nil {
			result.Skipped++
			s.logger.Warn().Err(err).Int64("topic_id", row.ID).Msg("national topic has an unusable centroid")
			continue
		}
		topics = append(topics, cluster.NationalTopic{
			ID:           row.ID,
			CountryCode:  row.CountryCode,
			Name:         row.Name,
			Centroid:     centroid,
			ArticleCount: row.ArticleCount,
		})
		articleIDs[row.ID] = row.ArticleIDs
	}

	merged, err := cluster.NewMerger(s.settings.GlobalThreshold, s.megaLabeler, s.settings.Workers, s.logger).Merge(ctx, topics)
	if err != nil {
		return result, err
	}
	for _, skipped := range merged.Skipped {
		result.Skipped++
		s.logger.Warn().Int64("topic_id", skipped.ID).Str("reason", skipped.Reason).Msg("national topic left out of global merge")
	}
	result.Dropped = merged.Dropped
	result.DroppedAfterOutliers = merged.DroppedAfterOutliers
	result.Fallbacks = merged.Fallbacks
	for i := 0; i < merged.Fallbacks; i++ {
		metrics.RecordFallback("label_megatopic")
	}

	win, err := s.loadWindow(ctx, db.KindGlobal, "", now)
	if err != nil {
		return result, fmt.Errorf("load megatopic history: %w", err)
	}
	m := matcher.New(s.settings.TitleThreshold, s.settings.SemanticThreshold)

	for _, mega := range merged.Megatopics {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Megatopics++

		var ids []int64
		for _, mbr := range mega.Members {
			ids, _ = matcher.UnionIDs(ids, articleIDs[mbr.ID])
		}

		id, matched, err := s.persistMegatopic(ctx, m, win, mega, ids, now)
		if err != nil {
			result.Failed++
			s.logger.Error().Err(err).Str("megatopic_name", mega.Label.Name).Msg("persist megatopic failed")
			continue
		}
		if matched {
			result.Matched++
		} else {
			result.Created++
		}
		s.logger.Debug().
			Int64("megatopic_id", id).
			Bool("matched", matched).
			Strs("countries", mega.Countries).
			Str("megatopic_name", mega.Label.Name).
			Msg("megatopic written")
	}

	metrics.RecordStage("merge_global", started, result.Created+result.Matched, result.Failed)
	s.logger.Info().
		Int("topics", result.Topics).
		Int("megatopics", result.Megatopics).
		Int("created", result.Created).
		Int("matched", result.Matched).
		Int("dropped", result.Dropped+result.DroppedAfterOutliers).
		Int("fallbacks", result.Fallbacks).
		Int("failed", result.Failed).
		Dur("elapsed", time.Since(started)).
		Msg("global merge finished")
	return result, nil
}

func (s *Service) persistMegatopic(ctx context.Context, m *matcher.Matcher, win *window, mega cluster.Megatopic, ids []int64, now time.Time) (int64, bool, error) {
	candidate := matcher.Candidate{Title: mega.Label.Name, Centroid: mega.Centroid, MemberIDs: ids}
	decision := s.decide(m, win, candidate)

	if decision.Matched {
		record := decision.Record
		update, err := matcher.Absorb(record, candidate)
		if err != nil {
			return 0, false, err
		}
		literal, err := db.VectorLiteral(update.Centroid)
		if err != nil {
			return 0, false, err
		}
		row := win.rows[record.ID]
		snapshot, err := priorSnapshot(now, record, len(row.Countries))
		if err != nil {
			return 0, false, err
		}
		topicIDs, _ := matcher.UnionIDs(row.TopicIDs, mega.TopicIDs())
		countries := unionCountries(row.Countries, mega.Countries)

		w := db.TopicWrite{
			Centroid:   literal,
			ArticleIDs: update.ArticleIDs,
			AddedIDs:   update.AddedIDs,
			Countries:  countries,
			TopicIDs:   topicIDs,
			Day:        history.Day(now),
			Now:        now,
			Snapshot:   snapshot,
		}
		if err := s.store.ApplyMatch(ctx, db.KindGlobal, record.ID, w); err != nil {
			return 0, false, err
		}

		row.ArticleIDs = update.ArticleIDs
		row.ArticleCount = len(update.ArticleIDs)
		row.TopicIDs = topicIDs
		row.Countries = countries
		win.put(matcher.Record{
			ID:           record.ID,
			Title:        record.Title,
			Centroid:     update.Centroid,
			ArticleIDs:   update.ArticleIDs,
			ArticleCount: len(update.ArticleIDs),
			CreatedAt:    record.CreatedAt,
		}, row)
		s.refreshAfterWrite(ctx, db.KindGlobal, record.ID, update.ArticleIDs, now)
		return record.ID, true, nil
	}

	literal, err := db.VectorLiteral(mega.Centroid)
	if err != nil {
		return 0, false, err
	}
	topicIDs := mega.TopicIDs()
	w := db.TopicWrite{
		Name:       mega.Label.Name,
		Keywords:   mega.Label.Keywords,
		Category:   mega.Label.Category,
		Centroid:   literal,
		ArticleIDs: ids,
		AddedIDs:   ids,
		Countries:  mega.Countries,
		TopicIDs:   topicIDs,
		Day:        history.Day(now),
		Now:        now,
		Snapshot:   snapshotFunc(now, len(ids), len(mega.Countries), mega.Centroid, literal),
	}
	id, err := s.store.CreateTopic(ctx, db.KindGlobal, w)
	if err != nil {
		return 0, false, err
	}
	win.put(matcher.Record{
		ID:           id,
		Title:        mega.Label.Name,
		Centroid:     mega.Centroid,
		ArticleIDs:   ids,
		ArticleCount: len(ids),
		CreatedAt:    now,
	}, db.TopicRecord{
		ID:           id,
		Title:        mega.Label.Name,
		ArticleIDs:   ids,
		ArticleCount: len(ids),
		Countries:    mega.Countries,
		TopicIDs:     topicIDs,
		CreatedAt:    now,
	})
	s.refreshAfterWrite(ctx, db.KindGlobal, id, ids, now)
	return id, false, nil
}

func unionCountries(existing, next []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(next))
	out := make([]string, 0, len(existing)+len(next))
	for _, list := range [][]string{existing, next} {
		for _, code := range list {
			if _, dup := seen[code]; dup || code == "" {
				continue
			}
			seen[code] = struct{}{}
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}
