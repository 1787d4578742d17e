package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TopicRecord is a persisted topic as seen by the matcher.
type TopicRecord struct {
	ID           int64
	Title        string
	Centroid     *string
	ArticleIDs   Int64List
	ArticleCount int
	Countries    StringList
	TopicIDs     Int64List
	CreatedAt    time.Time
}

// ListTopicWindow returns topics of kind created since the cutoff. National
// topics are scoped to country.
func (p *Pool) ListTopicWindow(ctx context.Context, kind, country string, since time.Time) ([]TopicRecord, error) {
	var q string
	args := []any{since.UTC()}
	switch kind {
	case KindNational:
		q = `
SELECT id, topic_name, centroid::text, article_ids, article_count, jsonb_build_array(country_code), '[]'::jsonb, created_at
FROM newstoss.topics
WHERE created_at >= $1
  AND country_code = $2
ORDER BY id
`
		args = append(args, strings.ToUpper(strings.TrimSpace(country)))
	case KindGlobal:
		q = `
SELECT id, megatopic_name, centroid::text, article_ids, total_articles, countries, topic_ids, created_at
FROM newstoss.megatopics
WHERE created_at >= $1
ORDER BY id
`
	default:
		return nil, errUnknownKind(kind)
	}

	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s topic window: %w", kind, err)
	}
	defer rows.Close()

	items := make([]TopicRecord, 0, 64)
	for rows.Next() {
		var row TopicRecord
		if err := rows.Scan(
			&row.ID,
			&row.Title,
			&row.Centroid,
			&row.ArticleIDs,
			&row.ArticleCount,
			&row.Countries,
			&row.TopicIDs,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan %s topic row: %w", kind, err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s topic rows: %w", kind, err)
	}
	return items, nil
}

// NationalTopicRow feeds the global merge.
type NationalTopicRow struct {
	ID           int64
	CountryCode  string
	Name         string
	Centroid     *string
	ArticleCount int
	ArticleIDs   Int64List
}

// ListNationalTopicsSince returns national topics touched since the cutoff.
func (p *Pool) ListNationalTopicsSince(ctx context.Context, since time.Time) ([]NationalTopicRow, error) {
	const q = `
SELECT id, country_code, topic_name, centroid::text, article_count, article_ids
FROM newstoss.topics
WHERE updated_at >= $1
ORDER BY id
`
	rows, err := p.Query(ctx, q, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query national topics: %w", err)
	}
	defer rows.Close()

	items := make([]NationalTopicRow, 0, 256)
	for rows.Next() {
		var row NationalTopicRow
		if err := rows.Scan(&row.ID, &row.CountryCode, &row.Name, &row.Centroid, &row.ArticleCount, &row.ArticleIDs); err != nil {
			return nil, fmt.Errorf("scan national topic row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate national topic rows: %w", err)
	}
	return items, nil
}

// ArticleStance is the stance assigned to one member article.
type ArticleStance struct {
	ID     int64   `json:"id"`
	Stance string  `json:"stance"`
	Score  float64 `json:"score"`
}

// SnapshotFunc builds today's history row from the latest earlier one.
type SnapshotFunc func(prev *TopicHistory) TopicHistory

// TopicWrite carries a new topic, or the merged state of a matched one.
type TopicWrite struct {
	Name       string
	Keywords   []string
	Category   string
	Centroid   string
	ArticleIDs []int64
	// AddedIDs are the articles to point at the topic.
	AddedIDs []int64

	// National only.
	CountryCode string
	Stances     []ArticleStance

	// Global only.
	Countries []string
	TopicIDs  []int64

	Day      time.Time
	Now      time.Time
	Snapshot SnapshotFunc
}

func (w TopicWrite) stanceLists() (factual, critical, supportive Int64List) {
	factual, critical, supportive = Int64List{}, Int64List{}, Int64List{}
	for _, s := range w.Stances {
		switch s.Stance {
		case "critical":
			critical = append(critical, s.ID)
		case "supportive":
			supportive = append(supportive, s.ID)
		default:
			factual = append(factual, s.ID)
		}
	}
	return factual, critical, supportive
}

// CreateTopic inserts a topic, points its articles at it and records the
// first history snapshot in one transaction.
func (p *Pool) CreateTopic(ctx context.Context, kind string, w TopicWrite) (int64, error) {
	var id int64
	err := p.WithTx(ctx, func(tx Tx) error {
		var err error
		switch kind {
		case KindNational:
			id, err = insertNationalTopic(ctx, tx, w)
		case KindGlobal:
			id, err = insertMegatopic(ctx, tx, w)
		default:
			err = errUnknownKind(kind)
		}
		if err != nil {
			return err
		}
		return finishTopicWrite(ctx, tx, kind, id, w)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ApplyMatch folds a candidate into an existing topic in one transaction:
// centroid and member lists are replaced by the merged values, new articles
// are pointed at the topic, counts are recomputed and w.Snapshot (the state
// before the match) is recorded unless the topic already has one for today.
func (p *Pool) ApplyMatch(ctx context.Context, kind string, topicID int64, w TopicWrite) error {
	return p.WithTx(ctx, func(tx Tx) error {
		var err error
		switch kind {
		case KindNational:
			err = updateNationalTopic(ctx, tx, topicID, w)
		case KindGlobal:
			err = updateMegatopic(ctx, tx, topicID, w)
		default:
			err = errUnknownKind(kind)
		}
		if err != nil {
			return err
		}
		return finishTopicWrite(ctx, tx, kind, topicID, w)
	})
}

func insertNationalTopic(ctx context.Context, tx Tx, w TopicWrite) (int64, error) {
	factual, critical, supportive := w.stanceLists()
	const q = `
INSERT INTO newstoss.topics (
	country_code,
	topic_name,
	keywords,
	category,
	article_count,
	article_ids,
	stance_factual,
	stance_critical,
	stance_supportive,
	centroid,
	created_at,
	updated_at
)
VALUES ($1, $2, $3::jsonb, $4, $5, $6::jsonb, $7::jsonb, $8::jsonb, $9::jsonb, $10::vector, $11, $11)
RETURNING id
`
	var id int64
	if err := tx.QueryRow(ctx, q,
		strings.ToUpper(strings.TrimSpace(w.CountryCode)),
		w.Name,
		StringList(w.Keywords),
		w.Category,
		len(w.ArticleIDs),
		Int64List(w.ArticleIDs),
		factual,
		critical,
		supportive,
		w.Centroid,
		w.Now.UTC(),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert national topic: %w", err)
	}
	return id, nil
}

func updateNationalTopic(ctx context.Context, tx Tx, topicID int64, w TopicWrite) error {
	factual, critical, supportive := w.stanceLists()
	const q = `
UPDATE newstoss.topics
SET
	centroid = $2::vector,
	article_ids = $3::jsonb,
	article_count = jsonb_array_length($3::jsonb),
	stance_factual = stance_factual || $4::jsonb,
	stance_critical = stance_critical || $5::jsonb,
	stance_supportive = stance_supportive || $6::jsonb,
	updated_at = $7
WHERE id = $1
`
	tag, err := tx.Exec(ctx, q, topicID, w.Centroid, Int64List(w.ArticleIDs), factual, critical, supportive, w.Now.UTC())
	if err != nil {
		return fmt.Errorf("update national topic id=%d: %w", topicID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update national topic id=%d: %w", topicID, ErrNoRows)
	}
	return nil
}

func insertMegatopic(ctx context.Context, tx Tx, w TopicWrite) (int64, error) {
	const q = `
INSERT INTO newstoss.megatopics (
	megatopic_name,
	keywords,
	category,
	countries,
	country_count,
	topic_ids,
	article_ids,
	total_articles,
	centroid,
	created_at,
	updated_at
)
VALUES ($1, $2::jsonb, $3, $4::jsonb, $5, $6::jsonb, $7::jsonb, $8, $9::vector, $10, $10)
RETURNING id
`
	var id int64
	if err := tx.QueryRow(ctx, q,
		w.Name,
		StringList(w.Keywords),
		w.Category,
		StringList(w.Countries),
		len(w.Countries),
		Int64List(w.TopicIDs),
		Int64List(w.ArticleIDs),
		len(w.ArticleIDs),
		w.Centroid,
		w.Now.UTC(),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert megatopic: %w", err)
	}
	return id, nil
}

func updateMegatopic(ctx context.Context, tx Tx, topicID int64, w TopicWrite) error {
	const q = `
UPDATE newstoss.megatopics
SET
	centroid = $2::vector,
	article_ids = $3::jsonb,
	total_articles = jsonb_array_length($3::jsonb),
	topic_ids = $4::jsonb,
	countries = $5::jsonb,
	country_count = jsonb_array_length($5::jsonb),
	updated_at = $6
WHERE id = $1
`
	tag, err := tx.Exec(ctx, q, topicID, w.Centroid, Int64List(w.ArticleIDs), Int64List(w.TopicIDs), StringList(w.Countries), w.Now.UTC())
	if err != nil {
		return fmt.Errorf("update megatopic id=%d: %w", topicID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update megatopic id=%d: %w", topicID, ErrNoRows)
	}
	return nil
}

func finishTopicWrite(ctx context.Context, tx Tx, kind string, topicID int64, w TopicWrite) error {
	column, err := articleTopicColumn(kind)
	if err != nil {
		return err
	}

	if len(w.AddedIDs) > 0 {
		q := `
UPDATE newstoss.articles
SET
	` + column + ` = $1,
	updated_at = $3
WHERE id IN (` + inIDs("$2") + `)
`
		if _, err := tx.Exec(ctx, q, topicID, Int64List(w.AddedIDs), w.Now.UTC()); err != nil {
			return fmt.Errorf("assign articles to %s topic id=%d: %w", kind, topicID, err)
		}
	}

	if kind == KindNational {
		if len(w.Stances) > 0 {
			payload, err := json.Marshal(w.Stances)
			if err != nil {
				return fmt.Errorf("marshal article stances: %w", err)
			}
			const stanceQuery = `
UPDATE newstoss.articles a
SET
	stance = s.stance,
	stance_score = s.score
FROM jsonb_to_recordset($1::jsonb) AS s(id BIGINT, stance TEXT, score DOUBLE PRECISION)
WHERE a.id = s.id
`
			if _, err := tx.Exec(ctx, stanceQuery, string(payload)); err != nil {
				return fmt.Errorf("set article stances topic id=%d: %w", topicID, err)
			}
		}

		const sourceCountQuery = `
UPDATE newstoss.topics t
SET source_count = (
	SELECT COUNT(DISTINCT NULLIF(a.source_name, ''))
	FROM newstoss.articles a
	WHERE a.topic_id = t.id
)
WHERE t.id = $1
`
		if _, err := tx.Exec(ctx, sourceCountQuery, topicID); err != nil {
			return fmt.Errorf("refresh source count topic id=%d: %w", topicID, err)
		}
	}

	if w.Snapshot == nil {
		return nil
	}
	return recordSnapshot(ctx, tx, kind, topicID, w.Day, w.Snapshot)
}

func recordSnapshot(ctx context.Context, tx Tx, kind string, topicID int64, day time.Time, build SnapshotFunc) error {
	const prevQuery = `
SELECT id, topic_kind, topic_id, snapshot_date, article_count, country_count, centroid::text, drift_score, status, storm_category, created_at
FROM newstoss.topic_history
WHERE topic_kind = $1
  AND topic_id = $2
  AND snapshot_date < $3::date
ORDER BY snapshot_date DESC
LIMIT 1
`
	var prev TopicHistory
	err := tx.QueryRow(ctx, prevQuery, kind, topicID, day.UTC().Format("2006-01-02")).Scan(
		&prev.ID,
		&prev.TopicKind,
		&prev.TopicID,
		&prev.SnapshotDate,
		&prev.ArticleCount,
		&prev.CountryCount,
		&prev.Centroid,
		&prev.DriftScore,
		&prev.Status,
		&prev.StormCategory,
		&prev.CreatedAt,
	)
	var prevPtr *TopicHistory
	switch {
	case err == nil:
		prevPtr = &prev
	case IsNoRows(err):
	default:
		return fmt.Errorf("load previous snapshot %s topic id=%d: %w", kind, topicID, err)
	}

	snap := build(prevPtr)
	const insert = `
INSERT INTO newstoss.topic_history (
	topic_kind,
	topic_id,
	snapshot_date,
	article_count,
	country_count,
	centroid,
	drift_score,
	status,
	storm_category,
	created_at
)
VALUES ($1, $2, $3::date, $4, $5, $6::vector, $7, $8, $9, now())
ON CONFLICT (topic_kind, topic_id, snapshot_date) DO NOTHING
`
	if _, err := tx.Exec(ctx, insert,
		kind,
		topicID,
		day.UTC().Format("2006-01-02"),
		snap.ArticleCount,
		snap.CountryCount,
		snap.Centroid,
		snap.DriftScore,
		snap.Status,
		snap.StormCategory,
	); err != nil {
		return fmt.Errorf("insert snapshot %s topic id=%d: %w", kind, topicID, err)
	}
	return nil
}

// ListHistory returns the snapshots of one topic, oldest first.
func (p *Pool) ListHistory(ctx context.Context, kind string, topicID int64, limit int) ([]TopicHistory, error) {
	if limit <= 0 {
		limit = 30
	}
	const q = `
SELECT id, topic_kind, topic_id, snapshot_date, article_count, country_count, centroid::text, drift_score, status, storm_category, created_at
FROM (
	SELECT *
	FROM newstoss.topic_history
	WHERE topic_kind = $1
	  AND topic_id = $2
	ORDER BY snapshot_date DESC
	LIMIT $3
) h
ORDER BY snapshot_date
`
	rows, err := p.Query(ctx, q, kind, topicID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history %s topic id=%d: %w", kind, topicID, err)
	}
	defer rows.Close()

	items := make([]TopicHistory, 0, limit)
	for rows.Next() {
		var row TopicHistory
		if err := rows.Scan(
			&row.ID,
			&row.TopicKind,
			&row.TopicID,
			&row.SnapshotDate,
			&row.ArticleCount,
			&row.CountryCount,
			&row.Centroid,
			&row.DriftScore,
			&row.Status,
			&row.StormCategory,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return items, nil
}
