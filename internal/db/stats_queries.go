package db

import (
	"context"
	"fmt"
	"time"
)

// StatsTarget is a topic whose per-country stats need recomputing.
type StatsTarget struct {
	ID         int64
	ArticleIDs Int64List
}

// ListStatsTargets returns topics of kind updated since the cutoff.
func (p *Pool) ListStatsTargets(ctx context.Context, kind string, since time.Time) ([]StatsTarget, error) {
	table, err := topicTable(kind)
	if err != nil {
		return nil, err
	}
	q := `SELECT id, article_ids FROM ` + table + ` WHERE updated_at >= $1 ORDER BY id`

	rows, err := p.Query(ctx, q, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query %s stats targets: %w", kind, err)
	}
	defer rows.Close()

	items := make([]StatsTarget, 0, 128)
	for rows.Next() {
		var row StatsTarget
		if err := rows.Scan(&row.ID, &row.ArticleIDs); err != nil {
			return nil, fmt.Errorf("scan stats target row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats target rows: %w", err)
	}
	return items, nil
}

// ReplaceTopicStats swaps the per-country stats of one topic in one
// transaction.
func (p *Pool) ReplaceTopicStats(ctx context.Context, kind string, topicID int64, stats []TopicCountryStat, now time.Time) error {
	if _, err := topicTable(kind); err != nil {
		return err
	}
	return p.WithTx(ctx, func(tx Tx) error {
		const deleteQuery = `DELETE FROM newstoss.topic_country_stats WHERE topic_kind = $1 AND topic_id = $2`
		if _, err := tx.Exec(ctx, deleteQuery, kind, topicID); err != nil {
			return fmt.Errorf("delete stats %s topic id=%d: %w", kind, topicID, err)
		}

		const insertQuery = `
INSERT INTO newstoss.topic_country_stats (
	topic_kind,
	topic_id,
	country_code,
	article_count,
	supportive_count,
	factual_count,
	critical_count,
	source_count,
	avg_stance_score,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
		for _, row := range stats {
			if _, err := tx.Exec(ctx, insertQuery,
				kind,
				topicID,
				row.CountryCode,
				row.ArticleCount,
				row.SupportiveCount,
				row.FactualCount,
				row.CriticalCount,
				row.SourceCount,
				row.AvgStanceScore,
				now.UTC(),
			); err != nil {
				return fmt.Errorf("insert stats %s topic id=%d country=%s: %w", kind, topicID, row.CountryCode, err)
			}
		}
		return nil
	})
}

// ListTopicStats returns the per-country stats of one topic.
func (p *Pool) ListTopicStats(ctx context.Context, kind string, topicID int64) ([]TopicCountryStat, error) {
	const q = `
SELECT id, topic_kind, topic_id, country_code, article_count, supportive_count, factual_count, critical_count, source_count, avg_stance_score, updated_at
FROM newstoss.topic_country_stats
WHERE topic_kind = $1
  AND topic_id = $2
ORDER BY article_count DESC, country_code
`
	rows, err := p.Query(ctx, q, kind, topicID)
	if err != nil {
		return nil, fmt.Errorf("query stats %s topic id=%d: %w", kind, topicID, err)
	}
	defer rows.Close()

	items := make([]TopicCountryStat, 0, 16)
	for rows.Next() {
		var row TopicCountryStat
		if err := rows.Scan(
			&row.ID,
			&row.TopicKind,
			&row.TopicID,
			&row.CountryCode,
			&row.ArticleCount,
			&row.SupportiveCount,
			&row.FactualCount,
			&row.CriticalCount,
			&row.SourceCount,
			&row.AvgStanceScore,
			&row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats rows: %w", err)
	}
	return items, nil
}

// StatsTotals stores totals across the pipeline tables.
type StatsTotals struct {
	Sources             int64 `json:"sources"`
	Articles            int64 `json:"articles"`
	Topics              int64 `json:"topics"`
	Megatopics          int64 `json:"megatopics"`
	PublishedTopics     int64 `json:"published_topics"`
	PublishedMegatopics int64 `json:"published_megatopics"`
}

// PipelineThroughput stores daily throughput and pending counters.
type PipelineThroughput struct {
	ArticlesCollectedToday int64 `json:"articles_collected_today"`
	TopicsCreatedToday     int64 `json:"topics_created_today"`
	PendingNotTranslated   int64 `json:"pending_not_translated"`
	PendingNotEmbedded     int64 `json:"pending_not_embedded"`
	PendingNotClustered    int64 `json:"pending_not_clustered"`
}

// CountryCount is the article and topic count of one country.
type CountryCount struct {
	CountryCode string `json:"country_code"`
	Articles    int64  `json:"articles"`
	Topics      int64  `json:"topics"`
}

// PipelineStats is the read model behind the stats endpoint.
type PipelineStats struct {
	Day        string             `json:"day"`
	Countries  []CountryCount     `json:"countries"`
	Totals     StatsTotals        `json:"totals"`
	Throughput PipelineThroughput `json:"throughput"`
	LastBatch  *string            `json:"last_batch,omitempty"`
}

// QueryPipelineStats returns per-country counts, totals and daily throughput.
func (p *Pool) QueryPipelineStats(ctx context.Context, dayStart, dayEnd time.Time) (*PipelineStats, error) {
	startUTC := dayStart.UTC()
	endUTC := dayEnd.UTC()
	if !startUTC.Before(endUTC) {
		return nil, fmt.Errorf("dayStart must be before dayEnd")
	}

	stats := &PipelineStats{
		Day:       startUTC.Format("2006-01-02"),
		Countries: make([]CountryCount, 0, 32),
	}

	const countsQuery = `
WITH article_counts AS (
	SELECT a.country_code, COUNT(*)::BIGINT AS articles
	FROM newstoss.articles a
	GROUP BY a.country_code
),
topic_counts AS (
	SELECT t.country_code, COUNT(*)::BIGINT AS topics
	FROM newstoss.topics t
	GROUP BY t.country_code
)
SELECT
	COALESCE(a.country_code, t.country_code) AS country_code,
	COALESCE(a.articles, 0) AS articles,
	COALESCE(t.topics, 0) AS topics
FROM article_counts a
FULL OUTER JOIN topic_counts t
	ON t.country_code = a.country_code
ORDER BY 1
`
	rows, err := p.Query(ctx, countsQuery)
	if err != nil {
		return nil, fmt.Errorf("query stats country counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row CountryCount
		if err := rows.Scan(&row.CountryCode, &row.Articles, &row.Topics); err != nil {
			return nil, fmt.Errorf("scan stats country row: %w", err)
		}
		stats.Countries = append(stats.Countries, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats country rows: %w", err)
	}

	const totalsQuery = `
SELECT
	(SELECT COUNT(*) FROM newstoss.news_sources WHERE is_active),
	(SELECT COUNT(*) FROM newstoss.articles),
	(SELECT COUNT(*) FROM newstoss.topics),
	(SELECT COUNT(*) FROM newstoss.megatopics),
	(SELECT COUNT(*) FROM newstoss.topics WHERE is_published),
	(SELECT COUNT(*) FROM newstoss.megatopics WHERE is_published),
	(SELECT COUNT(*) FROM newstoss.articles WHERE collected_at >= $1 AND collected_at < $2),
	(SELECT COUNT(*) FROM newstoss.topics WHERE created_at >= $1 AND created_at < $2),
	(SELECT COUNT(*) FROM newstoss.articles WHERE title_en IS NULL),
	(SELECT COUNT(*) FROM newstoss.articles WHERE embedding IS NULL),
	(SELECT COUNT(*) FROM newstoss.articles WHERE embedding IS NOT NULL AND topic_id IS NULL),
	(SELECT MAX(batch_id) FROM newstoss.megatopics WHERE is_published)
`
	if err := p.QueryRow(ctx, totalsQuery, startUTC, endUTC).Scan(
		&stats.Totals.Sources,
		&stats.Totals.Articles,
		&stats.Totals.Topics,
		&stats.Totals.Megatopics,
		&stats.Totals.PublishedTopics,
		&stats.Totals.PublishedMegatopics,
		&stats.Throughput.ArticlesCollectedToday,
		&stats.Throughput.TopicsCreatedToday,
		&stats.Throughput.PendingNotTranslated,
		&stats.Throughput.PendingNotEmbedded,
		&stats.Throughput.PendingNotClustered,
		&stats.LastBatch,
	); err != nil {
		return nil, fmt.Errorf("query stats totals: %w", err)
	}

	return stats, nil
}
