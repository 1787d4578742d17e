package db

import (
	"time"
)

const (
	KindNational = "national"
	KindGlobal   = "global"
)

// NewsSource maps newstoss.news_sources.
type NewsSource struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name        string    `gorm:"column:name;type:text;not null"`
	CountryCode string    `gorm:"column:country_code;type:text;not null"`
	Language    string    `gorm:"column:language;type:text;not null;default:und"`
	RSSURL      string    `gorm:"column:rss_url;type:text;not null;unique"`
	IsActive    bool      `gorm:"column:is_active;type:boolean;not null;default:true"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (NewsSource) TableName() string { return "newstoss.news_sources" }

// Article maps newstoss.articles. Embedding holds a pgvector literal.
type Article struct {
	ID              int64      `gorm:"column:id;primaryKey;autoIncrement"`
	URL             string     `gorm:"column:url;type:text;not null;unique"`
	CountryCode     string     `gorm:"column:country_code;type:text;not null"`
	SourceID        *int64     `gorm:"column:source_id;type:bigint"`
	SourceName      string     `gorm:"column:source_name;type:text;not null;default:''"`
	Language        string     `gorm:"column:language;type:text;not null;default:und"`
	TitleOriginal   string     `gorm:"column:title_original;type:text;not null"`
	SummaryOriginal string     `gorm:"column:summary_original;type:text;not null;default:''"`
	TitleEN         *string    `gorm:"column:title_en;type:text"`
	SummaryEN       *string    `gorm:"column:summary_en;type:text"`
	TitleKO         *string    `gorm:"column:title_ko;type:text"`
	SummaryKO       *string    `gorm:"column:summary_ko;type:text"`
	PublishedAt     *time.Time `gorm:"column:published_at;type:timestamptz"`
	CollectedAt     time.Time  `gorm:"column:collected_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
	Embedding       *string    `gorm:"column:embedding;type:vector"`
	Stance          *string    `gorm:"column:stance;type:text"`
	StanceScore     *float64   `gorm:"column:stance_score;type:double precision"`
	TopicID         *int64     `gorm:"column:topic_id;type:bigint"`
	GlobalTopicID   *int64     `gorm:"column:global_topic_id;type:bigint"`
}

func (Article) TableName() string { return "newstoss.articles" }

// Topic maps newstoss.topics, the national clusters.
type Topic struct {
	ID               int64      `gorm:"column:id;primaryKey;autoIncrement"`
	CountryCode      string     `gorm:"column:country_code;type:text;not null"`
	TopicName        string     `gorm:"column:topic_name;type:text;not null"`
	Keywords         StringList `gorm:"column:keywords;type:jsonb;not null;default:'[]'"`
	Category         string     `gorm:"column:category;type:text;not null;default:Unclassified"`
	ArticleCount     int        `gorm:"column:article_count;type:integer;not null;default:0"`
	SourceCount      int        `gorm:"column:source_count;type:integer;not null;default:0"`
	ArticleIDs       Int64List  `gorm:"column:article_ids;type:jsonb;not null;default:'[]'"`
	StanceFactual    Int64List  `gorm:"column:stance_factual;type:jsonb;not null;default:'[]'"`
	StanceCritical   Int64List  `gorm:"column:stance_critical;type:jsonb;not null;default:'[]'"`
	StanceSupportive Int64List  `gorm:"column:stance_supportive;type:jsonb;not null;default:'[]'"`
	Centroid         *string    `gorm:"column:centroid;type:vector"`
	IsPublished      bool       `gorm:"column:is_published;type:boolean;not null;default:false"`
	BatchID          *string    `gorm:"column:batch_id;type:text"`
	CreatedAt        time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Topic) TableName() string { return "newstoss.topics" }

// Megatopic maps newstoss.megatopics, the cross-country clusters.
type Megatopic struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	MegatopicName string     `gorm:"column:megatopic_name;type:text;not null"`
	Keywords      StringList `gorm:"column:keywords;type:jsonb;not null;default:'[]'"`
	Category      string     `gorm:"column:category;type:text;not null;default:Unclassified"`
	Countries     StringList `gorm:"column:countries;type:jsonb;not null;default:'[]'"`
	CountryCount  int        `gorm:"column:country_count;type:integer;not null;default:0"`
	TopicIDs      Int64List  `gorm:"column:topic_ids;type:jsonb;not null;default:'[]'"`
	ArticleIDs    Int64List  `gorm:"column:article_ids;type:jsonb;not null;default:'[]'"`
	TotalArticles int        `gorm:"column:total_articles;type:integer;not null;default:0"`
	AISummary     *string    `gorm:"column:ai_summary;type:text"`
	EditorComment *string    `gorm:"column:editor_comment;type:text"`
	Centroid      *string    `gorm:"column:centroid;type:vector"`
	IsPublished   bool       `gorm:"column:is_published;type:boolean;not null;default:false"`
	BatchID       *string    `gorm:"column:batch_id;type:text"`
	CreatedAt     time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Megatopic) TableName() string { return "newstoss.megatopics" }

// TopicCountryStat maps newstoss.topic_country_stats.
type TopicCountryStat struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TopicKind       string    `gorm:"column:topic_kind;type:text;not null"`
	TopicID         int64     `gorm:"column:topic_id;type:bigint;not null"`
	CountryCode     string    `gorm:"column:country_code;type:text;not null"`
	ArticleCount    int       `gorm:"column:article_count;type:integer;not null;default:0"`
	SupportiveCount int       `gorm:"column:supportive_count;type:integer;not null;default:0"`
	FactualCount    int       `gorm:"column:factual_count;type:integer;not null;default:0"`
	CriticalCount   int       `gorm:"column:critical_count;type:integer;not null;default:0"`
	SourceCount     int       `gorm:"column:source_count;type:integer;not null;default:0"`
	AvgStanceScore  float64   `gorm:"column:avg_stance_score;type:double precision;not null;default:50"`
	UpdatedAt       time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (TopicCountryStat) TableName() string { return "newstoss.topic_country_stats" }

// TopicHistory maps newstoss.topic_history, one row per topic per UTC day.
type TopicHistory struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TopicKind     string    `gorm:"column:topic_kind;type:text;not null"`
	TopicID       int64     `gorm:"column:topic_id;type:bigint;not null"`
	SnapshotDate  time.Time `gorm:"column:snapshot_date;type:date;not null"`
	ArticleCount  int       `gorm:"column:article_count;type:integer;not null;default:0"`
	CountryCount  int       `gorm:"column:country_count;type:integer;not null;default:0"`
	Centroid      *string   `gorm:"column:centroid;type:vector"`
	DriftScore    *float64  `gorm:"column:drift_score;type:double precision"`
	Status        string    `gorm:"column:status;type:text;not null"`
	StormCategory int       `gorm:"column:storm_category;type:integer;not null;default:1"`
	CreatedAt     time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (TopicHistory) TableName() string { return "newstoss.topic_history" }

func autoMigrateModels() []any {
	return []any{
		&NewsSource{},
		&Article{},
		&Topic{},
		&Megatopic{},
		&TopicCountryStat{},
		&TopicHistory{},
	}
}

// topicTable maps a topic kind to its table.
func topicTable(kind string) (string, error) {
	switch kind {
	case KindNational:
		return "newstoss.topics", nil
	case KindGlobal:
		return "newstoss.megatopics", nil
	default:
		return "", errUnknownKind(kind)
	}
}

// articleTopicColumn is the articles column pointing at a topic of kind.
func articleTopicColumn(kind string) (string, error) {
	switch kind {
	case KindNational:
		return "topic_id", nil
	case KindGlobal:
		return "global_topic_id", nil
	default:
		return "", errUnknownKind(kind)
	}
}
