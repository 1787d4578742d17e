package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MegatopicSummary is the read model for global topics.
type MegatopicSummary struct {
	ID            int64      `json:"id"`
	Name          string     `json:"megatopic_name"`
	Keywords      StringList `json:"keywords"`
	Category      string     `json:"category"`
	Countries     StringList `json:"countries"`
	CountryCount  int        `json:"country_count"`
	TotalArticles int        `json:"total_articles"`
	TopicIDs      Int64List  `json:"topic_ids"`
	AISummary     *string    `json:"ai_summary,omitempty"`
	EditorComment *string    `json:"editor_comment,omitempty"`
	BatchID       *string    `json:"batch_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TopicSummary is the read model for national topics.
type TopicSummary struct {
	ID              int64      `json:"id"`
	CountryCode     string     `json:"country_code"`
	Name            string     `json:"topic_name"`
	Keywords        StringList `json:"keywords"`
	Category        string     `json:"category"`
	ArticleCount    int        `json:"article_count"`
	SourceCount     int        `json:"source_count"`
	FactualCount    int        `json:"factual_count"`
	CriticalCount   int        `json:"critical_count"`
	SupportiveCount int        `json:"supportive_count"`
	BatchID         *string    `json:"batch_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ArticleSummary is an article row within a topic.
type ArticleSummary struct {
	ID          int64      `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	TitleEN     *string    `json:"title_en,omitempty"`
	SourceName  string     `json:"source_name"`
	CountryCode string     `json:"country_code"`
	Stance      *string    `json:"stance,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

const megatopicColumns = `
	id,
	megatopic_name,
	keywords,
	category,
	countries,
	country_count,
	total_articles,
	topic_ids,
	ai_summary,
	editor_comment,
	batch_id,
	created_at,
	updated_at
`

const topicColumns = `
	id,
	country_code,
	topic_name,
	keywords,
	category,
	article_count,
	source_count,
	jsonb_array_length(stance_factual),
	jsonb_array_length(stance_critical),
	jsonb_array_length(stance_supportive),
	batch_id,
	created_at,
	updated_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanMegatopic(row scanner) (MegatopicSummary, error) {
	var m MegatopicSummary
	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.Keywords,
		&m.Category,
		&m.Countries,
		&m.CountryCount,
		&m.TotalArticles,
		&m.TopicIDs,
		&m.AISummary,
		&m.EditorComment,
		&m.BatchID,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

func scanTopic(row scanner) (TopicSummary, error) {
	var t TopicSummary
	err := row.Scan(
		&t.ID,
		&t.CountryCode,
		&t.Name,
		&t.Keywords,
		&t.Category,
		&t.ArticleCount,
		&t.SourceCount,
		&t.FactualCount,
		&t.CriticalCount,
		&t.SupportiveCount,
		&t.BatchID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	return t, err
}

// ListPublishedMegatopics pages through the published batch, largest first.
func (p *Pool) ListPublishedMegatopics(ctx context.Context, limit, offset int) ([]MegatopicSummary, int64, error) {
	if limit <= 0 {
		return nil, 0, fmt.Errorf("limit must be > 0")
	}

	var total int64
	if err := p.QueryRow(ctx, `SELECT COUNT(*) FROM newstoss.megatopics WHERE is_published`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count published megatopics: %w", err)
	}

	q := `SELECT` + megatopicColumns + `
FROM newstoss.megatopics
WHERE is_published
ORDER BY total_articles DESC, id DESC
LIMIT $1 OFFSET $2
`
	rows, err := p.Query(ctx, q, limit, max(offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("query published megatopics: %w", err)
	}
	defer rows.Close()

	items := make([]MegatopicSummary, 0, limit)
	for rows.Next() {
		row, err := scanMegatopic(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan megatopic row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate megatopic rows: %w", err)
	}
	return items, total, nil
}

// GetMegatopic loads one megatopic. A missing id yields ErrNoRows.
func (p *Pool) GetMegatopic(ctx context.Context, id int64) (*MegatopicSummary, error) {
	q := `SELECT` + megatopicColumns + `FROM newstoss.megatopics WHERE id = $1`
	row, err := scanMegatopic(p.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query megatopic id=%d: %w", id, err)
	}
	return &row, nil
}

// ListPublishedTopics pages through published national topics, optionally
// scoped to one country.
func (p *Pool) ListPublishedTopics(ctx context.Context, country string, limit, offset int) ([]TopicSummary, int64, error) {
	if limit <= 0 {
		return nil, 0, fmt.Errorf("limit must be > 0")
	}
	country = strings.ToUpper(strings.TrimSpace(country))

	var total int64
	if err := p.QueryRow(ctx, `SELECT COUNT(*) FROM newstoss.topics WHERE is_published AND ($1 = '' OR country_code = $1)`, country).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count published topics: %w", err)
	}

	q := `SELECT` + topicColumns + `
FROM newstoss.topics
WHERE is_published
  AND ($1 = '' OR country_code = $1)
ORDER BY article_count DESC, id DESC
LIMIT $2 OFFSET $3
`
	rows, err := p.Query(ctx, q, country, limit, max(offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("query published topics: %w", err)
	}
	defer rows.Close()

	items := make([]TopicSummary, 0, limit)
	for rows.Next() {
		row, err := scanTopic(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan topic row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate topic rows: %w", err)
	}
	return items, total, nil
}

// GetTopic loads one national topic. A missing id yields ErrNoRows.
func (p *Pool) GetTopic(ctx context.Context, id int64) (*TopicSummary, error) {
	q := `SELECT` + topicColumns + `FROM newstoss.topics WHERE id = $1`
	row, err := scanTopic(p.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("query topic id=%d: %w", id, err)
	}
	return &row, nil
}

// ListTopicArticles returns the newest member articles of a topic.
func (p *Pool) ListTopicArticles(ctx context.Context, kind string, topicID int64, limit int) ([]ArticleSummary, error) {
	column, err := articleTopicColumn(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	q := `
SELECT id, url, title_original, title_en, source_name, country_code, stance, published_at
FROM newstoss.articles
WHERE ` + column + ` = $1
ORDER BY published_at DESC NULLS LAST, id DESC
LIMIT $2
`
	rows, err := p.Query(ctx, q, topicID, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s topic articles id=%d: %w", kind, topicID, err)
	}
	defer rows.Close()

	items := make([]ArticleSummary, 0, limit)
	for rows.Next() {
		var row ArticleSummary
		if err := rows.Scan(
			&row.ID,
			&row.URL,
			&row.Title,
			&row.TitleEN,
			&row.SourceName,
			&row.CountryCode,
			&row.Stance,
			&row.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan topic article row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic article rows: %w", err)
	}
	return items, nil
}
