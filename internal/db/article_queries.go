package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// idsParam is the SQL fragment matching ids against a jsonb id list.
const idsParam = `SELECT value::BIGINT FROM jsonb_array_elements_text(%s::jsonb)`

func inIDs(placeholder string) string {
	return fmt.Sprintf(idsParam, placeholder)
}

// SourceInput is one feed from the feed list.
type SourceInput struct {
	Name        string
	CountryCode string
	Language    string
	RSSURL      string
	IsActive    bool
}

// UpsertSources inserts or refreshes feeds keyed by rss_url.
func (p *Pool) UpsertSources(ctx context.Context, sources []SourceInput, now time.Time) (int64, error) {
	const q = `
INSERT INTO newstoss.news_sources (name, country_code, language, rss_url, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (rss_url) DO UPDATE
SET
	name = EXCLUDED.name,
	country_code = EXCLUDED.country_code,
	language = EXCLUDED.language,
	is_active = EXCLUDED.is_active,
	updated_at = EXCLUDED.updated_at
`

	var affected int64
	err := p.WithTx(ctx, func(tx Tx) error {
		for _, source := range sources {
			url := strings.TrimSpace(source.RSSURL)
			if url == "" {
				continue
			}
			language := strings.TrimSpace(source.Language)
			if language == "" {
				language = "und"
			}
			tag, err := tx.Exec(ctx, q,
				strings.TrimSpace(source.Name),
				strings.ToUpper(strings.TrimSpace(source.CountryCode)),
				language,
				url,
				source.IsActive,
				now.UTC(),
			)
			if err != nil {
				return fmt.Errorf("upsert news source rss_url=%q: %w", url, err)
			}
			affected += tag.RowsAffected()
		}
		return nil
	})
	return affected, err
}

// ListActiveSources returns active feeds ordered by country then id.
func (p *Pool) ListActiveSources(ctx context.Context, country string) ([]NewsSource, error) {
	const q = `
SELECT id, name, country_code, language, rss_url, is_active, created_at, updated_at
FROM newstoss.news_sources
WHERE is_active
  AND ($1 = '' OR country_code = $1)
ORDER BY country_code, id
`

	rows, err := p.Query(ctx, q, strings.ToUpper(strings.TrimSpace(country)))
	if err != nil {
		return nil, fmt.Errorf("query news sources: %w", err)
	}
	defer rows.Close()

	sources := make([]NewsSource, 0, 64)
	for rows.Next() {
		var row NewsSource
		if err := rows.Scan(
			&row.ID,
			&row.Name,
			&row.CountryCode,
			&row.Language,
			&row.RSSURL,
			&row.IsActive,
			&row.CreatedAt,
			&row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan news source row: %w", err)
		}
		sources = append(sources, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate news source rows: %w", err)
	}
	return sources, nil
}

// ArticleInput is one collected feed item.
type ArticleInput struct {
	URL         string
	CountryCode string
	SourceID    *int64
	SourceName  string
	Language    string
	Title       string
	Summary     string
	PublishedAt *time.Time
	CollectedAt time.Time
}

// UpsertArticle stores an article keyed by url. A repeated url refreshes the
// original text but keeps translations, embedding and assignments. The
// returned bool is true when a new row was inserted.
func (p *Pool) UpsertArticle(ctx context.Context, in ArticleInput) (bool, error) {
	url := strings.TrimSpace(in.URL)
	if url == "" {
		return false, fmt.Errorf("article url is required")
	}
	language := strings.TrimSpace(in.Language)
	if language == "" {
		language = "und"
	}

	const q = `
INSERT INTO newstoss.articles (
	url,
	country_code,
	source_id,
	source_name,
	language,
	title_original,
	summary_original,
	published_at,
	collected_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
ON CONFLICT (url) DO UPDATE
SET
	title_original = EXCLUDED.title_original,
	summary_original = EXCLUDED.summary_original,
	published_at = COALESCE(newstoss.articles.published_at, EXCLUDED.published_at),
	updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted
`

	var inserted bool
	if err := p.QueryRow(ctx, q,
		url,
		strings.ToUpper(strings.TrimSpace(in.CountryCode)),
		in.SourceID,
		strings.TrimSpace(in.SourceName),
		language,
		strings.TrimSpace(in.Title),
		strings.TrimSpace(in.Summary),
		in.PublishedAt,
		in.CollectedAt.UTC(),
	).Scan(&inserted); err != nil {
		return false, fmt.Errorf("upsert article url=%q: %w", url, err)
	}
	return inserted, nil
}

// PendingText is an article waiting for translation or embedding.
type PendingText struct {
	ID       int64
	Title    string
	Summary  string
	Language string
}

// ListUntranslated returns articles without an English title, oldest first.
func (p *Pool) ListUntranslated(ctx context.Context, limit int) ([]PendingText, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT id, title_original, summary_original, language
FROM newstoss.articles
WHERE title_en IS NULL
ORDER BY id
LIMIT $1
`
	return p.listPendingText(ctx, q, limit)
}

// ListPendingEmbeddings returns articles without an embedding after afterID,
// oldest first. The English text is preferred when present.
func (p *Pool) ListPendingEmbeddings(ctx context.Context, afterID int64, limit int) ([]PendingText, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT
	id,
	COALESCE(NULLIF(title_en, ''), title_original),
	COALESCE(NULLIF(summary_en, ''), summary_original),
	language
FROM newstoss.articles
WHERE embedding IS NULL
  AND id > $2
ORDER BY id
LIMIT $1
`
	return p.listPendingText(ctx, q, limit, afterID)
}

func (p *Pool) listPendingText(ctx context.Context, q string, limit int, args ...any) ([]PendingText, error) {
	rows, err := p.Query(ctx, q, append([]any{limit}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query pending articles: %w", err)
	}
	defer rows.Close()

	items := make([]PendingText, 0, limit)
	for rows.Next() {
		var row PendingText
		if err := rows.Scan(&row.ID, &row.Title, &row.Summary, &row.Language); err != nil {
			return nil, fmt.Errorf("scan pending article row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending article rows: %w", err)
	}
	return items, nil
}

// SetTranslation stores English text and the detected source language.
func (p *Pool) SetTranslation(ctx context.Context, articleID int64, language, titleEN, summaryEN string, now time.Time) error {
	const q = `
UPDATE newstoss.articles
SET
	language = CASE WHEN $2 = '' THEN language ELSE $2 END,
	title_en = $3,
	summary_en = $4,
	updated_at = $5
WHERE id = $1
`
	if _, err := p.Exec(ctx, q, articleID, strings.TrimSpace(language), titleEN, summaryEN, now.UTC()); err != nil {
		return fmt.Errorf("set translation article_id=%d: %w", articleID, err)
	}
	return nil
}

// SetEmbedding stores a vector literal for one article.
func (p *Pool) SetEmbedding(ctx context.Context, articleID int64, literal string, now time.Time) (bool, error) {
	const q = `
UPDATE newstoss.articles
SET
	embedding = $2::vector,
	updated_at = $3
WHERE id = $1
  AND embedding IS NULL
`
	tag, err := p.Exec(ctx, q, articleID, literal, now.UTC())
	if err != nil {
		return false, fmt.Errorf("set embedding article_id=%d: %w", articleID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClusterArticle is an embedded article that has no national topic yet.
type ClusterArticle struct {
	ID          int64
	CountryCode string
	SourceName  string
	Title       string
	PublishedAt *time.Time
	Embedding   *string
}

// ListUnclusteredCountries returns countries with embedded, unassigned
// articles published since the cutoff.
func (p *Pool) ListUnclusteredCountries(ctx context.Context, since time.Time) ([]string, error) {
	const q = `
SELECT DISTINCT country_code
FROM newstoss.articles
WHERE topic_id IS NULL
  AND embedding IS NOT NULL
  AND COALESCE(published_at, collected_at) >= $1
ORDER BY country_code
`
	rows, err := p.Query(ctx, q, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query unclustered countries: %w", err)
	}
	defer rows.Close()

	countries := make([]string, 0, 32)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan country row: %w", err)
		}
		countries = append(countries, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate country rows: %w", err)
	}
	return countries, nil
}

// ListUnclustered returns the clustering input for one country.
func (p *Pool) ListUnclustered(ctx context.Context, country string, since time.Time) ([]ClusterArticle, error) {
	const q = `
SELECT
	id,
	country_code,
	source_name,
	COALESCE(NULLIF(title_en, ''), title_original),
	published_at,
	embedding::text
FROM newstoss.articles
WHERE country_code = $1
  AND topic_id IS NULL
  AND embedding IS NOT NULL
  AND COALESCE(published_at, collected_at) >= $2
ORDER BY id
`
	rows, err := p.Query(ctx, q, strings.ToUpper(strings.TrimSpace(country)), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query unclustered articles country=%s: %w", country, err)
	}
	defer rows.Close()

	items := make([]ClusterArticle, 0, 256)
	for rows.Next() {
		var row ClusterArticle
		if err := rows.Scan(
			&row.ID,
			&row.CountryCode,
			&row.SourceName,
			&row.Title,
			&row.PublishedAt,
			&row.Embedding,
		); err != nil {
			return nil, fmt.Errorf("scan unclustered article row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unclustered article rows: %w", err)
	}
	return items, nil
}

// StanceRow feeds the per-country stats aggregation.
type StanceRow struct {
	ID          int64
	CountryCode string
	SourceName  string
	Stance      *string
	Score       *float64
}

// ListArticleStances loads stance data for the given article ids.
func (p *Pool) ListArticleStances(ctx context.Context, ids []int64) ([]StanceRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	q := `
SELECT id, country_code, source_name, stance, stance_score
FROM newstoss.articles
WHERE id IN (` + inIDs("$1") + `)
ORDER BY id
`
	rows, err := p.Query(ctx, q, Int64List(ids))
	if err != nil {
		return nil, fmt.Errorf("query article stances: %w", err)
	}
	defer rows.Close()

	items := make([]StanceRow, 0, len(ids))
	for rows.Next() {
		var row StanceRow
		if err := rows.Scan(&row.ID, &row.CountryCode, &row.SourceName, &row.Stance, &row.Score); err != nil {
			return nil, fmt.Errorf("scan article stance row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article stance rows: %w", err)
	}
	return items, nil
}
