package db

import (
	"context"
	"fmt"
	"time"
)

// SweepTopic is the slice of a topic the duplicate sweep looks at.
// CountryCode is empty for megatopics.
type SweepTopic struct {
	ID           int64
	CountryCode  string
	Title        string
	ArticleCount int
}

// MergeCounts reports what one duplicate merge changed.
type MergeCounts struct {
	ArticlesMoved  int64
	StatsDeleted   int64
	HistoryDeleted int64
	TopicsDeleted  int64
}

// ListRecentTopics returns the newest topics of kind, newest first.
func (p *Pool) ListRecentTopics(ctx context.Context, kind string, limit int) ([]SweepTopic, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	var q string
	switch kind {
	case KindNational:
		q = `SELECT id, country_code, topic_name, article_count FROM newstoss.topics ORDER BY id DESC LIMIT $1`
	case KindGlobal:
		q = `SELECT id, '', megatopic_name, total_articles FROM newstoss.megatopics ORDER BY id DESC LIMIT $1`
	default:
		return nil, errUnknownKind(kind)
	}

	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent %s topics: %w", kind, err)
	}
	defer rows.Close()

	items := make([]SweepTopic, 0, limit)
	for rows.Next() {
		var row SweepTopic
		if err := rows.Scan(&row.ID, &row.CountryCode, &row.Title, &row.ArticleCount); err != nil {
			return nil, fmt.Errorf("scan recent topic row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent topic rows: %w", err)
	}
	return items, nil
}

type mergeRow struct {
	id         int64
	articleIDs Int64List
	factual    Int64List
	critical   Int64List
	supportive Int64List
	topicIDs   Int64List
	countries  StringList
}

// MergeTopics folds losers into winner in one transaction. The winner's id
// lists become the union of all members with the winner's own ids first and
// its centroid becomes the mean embedding of the merged articles. Loser
// articles are re-pointed, then loser stats, loser history and the loser
// rows are deleted.
func (p *Pool) MergeTopics(ctx context.Context, kind string, winnerID int64, loserIDs []int64, now time.Time) (MergeCounts, error) {
	if len(loserIDs) == 0 {
		return MergeCounts{}, nil
	}
	table, err := topicTable(kind)
	if err != nil {
		return MergeCounts{}, err
	}
	column, err := articleTopicColumn(kind)
	if err != nil {
		return MergeCounts{}, err
	}

	var counts MergeCounts
	err = p.WithTx(ctx, func(tx Tx) error {
		members := append([]int64{winnerID}, loserIDs...)
		loaded, err := loadMergeRows(ctx, tx, kind, members)
		if err != nil {
			return err
		}
		winner, ok := loaded[winnerID]
		if !ok {
			return fmt.Errorf("merge winner %s topic id=%d: %w", kind, winnerID, ErrNoRows)
		}

		merged := winner
		for _, loserID := range loserIDs {
			loser, ok := loaded[loserID]
			if !ok {
				continue
			}
			merged.articleIDs = unionInt64(merged.articleIDs, loser.articleIDs)
			merged.factual = unionInt64(merged.factual, loser.factual)
			merged.critical = unionInt64(merged.critical, loser.critical)
			merged.supportive = unionInt64(merged.supportive, loser.supportive)
			merged.topicIDs = unionInt64(merged.topicIDs, loser.topicIDs)
			merged.countries = unionString(merged.countries, loser.countries)
		}

		if err := writeMergedWinner(ctx, tx, kind, merged, now); err != nil {
			return err
		}

		moveQuery := `
UPDATE newstoss.articles
SET
	` + column + ` = $1,
	updated_at = $3
WHERE ` + column + ` IN (` + inIDs("$2") + `)
`
		tag, err := tx.Exec(ctx, moveQuery, winnerID, Int64List(loserIDs), now.UTC())
		if err != nil {
			return fmt.Errorf("re-point %s articles to id=%d: %w", kind, winnerID, err)
		}
		counts.ArticlesMoved = tag.RowsAffected()

		if kind == KindNational {
			const sourceCountQuery = `
UPDATE newstoss.topics t
SET source_count = (
	SELECT COUNT(DISTINCT NULLIF(a.source_name, ''))
	FROM newstoss.articles a
	WHERE a.topic_id = t.id
)
WHERE t.id = $1
`
			if _, err := tx.Exec(ctx, sourceCountQuery, winnerID); err != nil {
				return fmt.Errorf("refresh source count topic id=%d: %w", winnerID, err)
			}
		}

		statsQuery := `DELETE FROM newstoss.topic_country_stats WHERE topic_kind = $1 AND topic_id IN (` + inIDs("$2") + `)`
		tag, err = tx.Exec(ctx, statsQuery, kind, Int64List(loserIDs))
		if err != nil {
			return fmt.Errorf("delete loser stats: %w", err)
		}
		counts.StatsDeleted = tag.RowsAffected()

		historyQuery := `DELETE FROM newstoss.topic_history WHERE topic_kind = $1 AND topic_id IN (` + inIDs("$2") + `)`
		tag, err = tx.Exec(ctx, historyQuery, kind, Int64List(loserIDs))
		if err != nil {
			return fmt.Errorf("delete loser history: %w", err)
		}
		counts.HistoryDeleted = tag.RowsAffected()

		topicsQuery := `DELETE FROM ` + table + ` WHERE id IN (` + inIDs("$1") + `)`
		tag, err = tx.Exec(ctx, topicsQuery, Int64List(loserIDs))
		if err != nil {
			return fmt.Errorf("delete loser topics: %w", err)
		}
		counts.TopicsDeleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return MergeCounts{}, err
	}
	return counts, nil
}

func loadMergeRows(ctx context.Context, tx Tx, kind string, ids []int64) (map[int64]mergeRow, error) {
	var q string
	switch kind {
	case KindNational:
		q = `
SELECT id, article_ids, stance_factual, stance_critical, stance_supportive, '[]'::jsonb, jsonb_build_array(country_code)
FROM newstoss.topics
WHERE id IN (` + inIDs("$1") + `)
FOR UPDATE
`
	case KindGlobal:
		q = `
SELECT id, article_ids, '[]'::jsonb, '[]'::jsonb, '[]'::jsonb, topic_ids, countries
FROM newstoss.megatopics
WHERE id IN (` + inIDs("$1") + `)
FOR UPDATE
`
	default:
		return nil, errUnknownKind(kind)
	}

	rows, err := tx.Query(ctx, q, Int64List(ids))
	if err != nil {
		return nil, fmt.Errorf("lock %s topics for merge: %w", kind, err)
	}
	defer rows.Close()

	out := make(map[int64]mergeRow, len(ids))
	for rows.Next() {
		var row mergeRow
		if err := rows.Scan(&row.id, &row.articleIDs, &row.factual, &row.critical, &row.supportive, &row.topicIDs, &row.countries); err != nil {
			return nil, fmt.Errorf("scan merge row: %w", err)
		}
		out[row.id] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merge rows: %w", err)
	}
	return out, nil
}

// mergedCentroid is the mean embedding of the article ids bound to $2. The
// old centroid is kept when none of them has an embedding.
var mergedCentroid = `COALESCE((
		SELECT avg(a.embedding)
		FROM newstoss.articles a
		WHERE a.embedding IS NOT NULL AND a.id IN (` + inIDs("$2") + `)
	), centroid)`

func writeMergedWinner(ctx context.Context, tx Tx, kind string, merged mergeRow, now time.Time) error {
	switch kind {
	case KindNational:
		q := `
UPDATE newstoss.topics
SET
	centroid = ` + mergedCentroid + `,
	article_ids = $2::jsonb,
	article_count = jsonb_array_length($2::jsonb),
	stance_factual = $3::jsonb,
	stance_critical = $4::jsonb,
	stance_supportive = $5::jsonb,
	updated_at = $6
WHERE id = $1
`
		if _, err := tx.Exec(ctx, q, merged.id, merged.articleIDs, merged.factual, merged.critical, merged.supportive, now.UTC()); err != nil {
			return fmt.Errorf("update merge winner topic id=%d: %w", merged.id, err)
		}
	case KindGlobal:
		q := `
UPDATE newstoss.megatopics
SET
	centroid = ` + mergedCentroid + `,
	article_ids = $2::jsonb,
	total_articles = jsonb_array_length($2::jsonb),
	topic_ids = $3::jsonb,
	countries = $4::jsonb,
	country_count = jsonb_array_length($4::jsonb),
	updated_at = $5
WHERE id = $1
`
		if _, err := tx.Exec(ctx, q, merged.id, merged.articleIDs, merged.topicIDs, merged.countries, now.UTC()); err != nil {
			return fmt.Errorf("update merge winner megatopic id=%d: %w", merged.id, err)
		}
	default:
		return errUnknownKind(kind)
	}
	return nil
}

func unionInt64(existing, next []int64) Int64List {
	seen := make(map[int64]struct{}, len(existing)+len(next))
	out := make(Int64List, 0, len(existing)+len(next))
	for _, list := range [][]int64{existing, next} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func unionString(existing, next []string) StringList {
	seen := make(map[string]struct{}, len(existing)+len(next))
	out := make(StringList, 0, len(existing)+len(next))
	for _, list := range [][]string{existing, next} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
