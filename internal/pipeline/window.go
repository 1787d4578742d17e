package pipeline

import (
	"context"
	"fmt"
	"time"

	"horse.fit/newstoss/internal/db"
	"horse.fit/newstoss/internal/history"
	"horse.fit/newstoss/internal/matcher"
)

// window is the match history of one kind (and, for national topics, one
// country). Writes made during a run are folded back so later candidates in
// the same run can match them.
type window struct {
	kind    string
	records []matcher.Record
	rows    map[int64]db.TopicRecord
}

func (s *Service) loadWindow(ctx context.Context, kind, country string, now time.Time) (*window, error) {
	rows, err := s.store.ListTopicWindow(ctx, kind, country, now.Add(-s.settings.MatchWindow))
	if err != nil {
		return nil, err
	}

	win := &window{
		kind:    kind,
		records: make([]matcher.Record, 0, len(rows)),
		rows:    make(map[int64]db.TopicRecord, len(rows)),
	}
	for _, row := range rows {
		// An unparsable centroid is left nil; the matcher reports it as corrupt.
		centroid, _ := db.ParseVector(row.Centroid)
		win.records = append(win.records, matcher.Record{
			ID:           row.ID,
			Title:        row.Title,
			Centroid:     centroid,
			ArticleIDs:   row.ArticleIDs,
			ArticleCount: row.ArticleCount,
			CreatedAt:    row.CreatedAt,
		})
		win.rows[row.ID] = row
	}
	return win, nil
}

func (w *window) put(record matcher.Record, row db.TopicRecord) {
	w.rows[record.ID] = row
	for i := range w.records {
		if w.records[i].ID == record.ID {
			w.records[i] = record
			return
		}
	}
	w.records = append(w.records, record)
}

func (s *Service) decide(m *matcher.Matcher, win *window, candidate matcher.Candidate) matcher.Decision {
	decision := m.Decide(candidate, win.records)
	if len(decision.Corrupt) > 0 {
		s.logger.Warn().
			Str("kind", win.kind).
			Ints64("topic_ids", decision.Corrupt).
			Msg("skipped history records with unusable centroids")
	}
	return decision
}

// priorSnapshot records a matched topic as it stood before the match.
func priorSnapshot(now time.Time, record matcher.Record, countryCount int) (db.SnapshotFunc, error) {
	literal, err := db.VectorLiteral(record.Centroid)
	if err != nil {
		return nil, fmt.Errorf("snapshot topic %d: %w", record.ID, err)
	}
	count := record.ArticleCount
	if count <= 0 {
		count = len(record.ArticleIDs)
	}
	return snapshotFunc(now, count, countryCount, record.Centroid, literal), nil
}

// snapshotFunc builds today's history row; drift is measured against the
// latest earlier snapshot the store hands in.
func snapshotFunc(now time.Time, articleCount, countryCount int, centroid []float64, literal string) db.SnapshotFunc {
	return func(prev *db.TopicHistory) db.TopicHistory {
		var prevSnap *history.Snapshot
		if prev != nil {
			snap := history.Snapshot{
				TopicID:       prev.TopicID,
				Date:          prev.SnapshotDate,
				ArticleCount:  prev.ArticleCount,
				CountryCount:  prev.CountryCount,
				DriftScore:    prev.DriftScore,
				Status:        prev.Status,
				StormCategory: prev.StormCategory,
			}
			if vec, err := db.ParseVector(prev.Centroid); err == nil {
				snap.Centroid = vec
			}
			prevSnap = &snap
		}

		next := history.Next(prevSnap, 0, now, articleCount, countryCount, centroid)
		stored := literal
		return db.TopicHistory{
			SnapshotDate:  next.Date,
			ArticleCount:  next.ArticleCount,
			CountryCount:  next.CountryCount,
			Centroid:      &stored,
			DriftScore:    next.DriftScore,
			Status:        next.Status,
			StormCategory: next.StormCategory,
		}
	}
}
