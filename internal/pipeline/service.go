package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newstoss/internal/cluster"
	"horse.fit/newstoss/internal/config"
	"horse.fit/newstoss/internal/db"
	"horse.fit/newstoss/internal/matcher"
	"horse.fit/newstoss/internal/sweep"
	payloadschema "horse.fit/newstoss/schema"
)

// Store is every query the pipeline stages run. *db.Pool implements it.
type Store interface {
	ListPendingEmbeddings(ctx context.Context, afterID int64, limit int) ([]db.PendingText, error)
	SetEmbedding(ctx context.Context, articleID int64, literal string, now time.Time) (bool, error)

	ListUnclusteredCountries(ctx context.Context, since time.Time) ([]string, error)
	ListUnclustered(ctx context.Context, country string, since time.Time) ([]db.ClusterArticle, error)
	ListTopicWindow(ctx context.Context, kind, country string, since time.Time) ([]db.TopicRecord, error)
	ListNationalTopicsSince(ctx context.Context, since time.Time) ([]db.NationalTopicRow, error)
	CreateTopic(ctx context.Context, kind string, w db.TopicWrite) (int64, error)
	ApplyMatch(ctx context.Context, kind string, topicID int64, w db.TopicWrite) error

	ListStatsTargets(ctx context.Context, kind string, since time.Time) ([]db.StatsTarget, error)
	ListArticleStances(ctx context.Context, ids []int64) ([]db.StanceRow, error)
	ReplaceTopicStats(ctx context.Context, kind string, topicID int64, stats []db.TopicCountryStat, now time.Time) error

	ListRecentTopics(ctx context.Context, kind string, limit int) ([]db.SweepTopic, error)
	MergeTopics(ctx context.Context, kind string, winnerID int64, loserIDs []int64, now time.Time) (db.MergeCounts, error)

	PublishBatch(ctx context.Context, batchID string, assignPending bool, now time.Time) (db.PublishResult, error)
}

// Embedder turns article text into vectors and guards their dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Check(vec []float32) error
	Name() string
}

// TopicLabeler names a national cluster and classifies member stances.
type TopicLabeler interface {
	LabelTopic(ctx context.Context, titles []string) (payloadschema.TopicLabel, error)
}

// Settings are the tunables of every stage.
type Settings struct {
	NationalThreshold float64
	GlobalThreshold   float64
	TitleThreshold    float64
	SemanticThreshold float64
	SweepThreshold    float64
	MatchWindow       time.Duration
	ClusterLookback   time.Duration
	SweepLimit        int
	Workers           int
	EmbedBatchSize    int
	Order             cluster.Order
}

func DefaultSettings() Settings {
	return Settings{
		NationalThreshold: cluster.DefaultNationalThreshold,
		GlobalThreshold:   cluster.DefaultGlobalThreshold,
		TitleThreshold:    matcher.DefaultTitleThreshold,
		SemanticThreshold: matcher.DefaultSemanticThreshold,
		SweepThreshold:    sweep.DefaultThreshold,
		MatchWindow:       matcher.DefaultWindow,
		ClusterLookback:   24 * time.Hour,
		SweepLimit:        sweep.DefaultLimit,
		Workers:           6,
		EmbedBatchSize:    32,
		Order:             cluster.OrderByID,
	}
}

func SettingsFromConfig(cfg *config.Config) Settings {
	settings := DefaultSettings()
	if cfg == nil {
		return settings
	}
	settings.NationalThreshold = cfg.ThresholdNational
	settings.GlobalThreshold = cfg.ThresholdGlobal
	settings.TitleThreshold = cfg.ThresholdTitle
	settings.SemanticThreshold = cfg.ThresholdSemantic
	settings.SweepThreshold = cfg.ThresholdSweep
	settings.MatchWindow = cfg.MatchWindow
	settings.ClusterLookback = cfg.ClusterLookback
	settings.SweepLimit = cfg.SweepLimit
	settings.Workers = cfg.Workers
	settings.EmbedBatchSize = cfg.EmbedBatchSize
	return settings
}

type Service struct {
	store       Store
	embedder    Embedder
	labeler     TopicLabeler
	megaLabeler cluster.Labeler
	settings    Settings
	logger      zerolog.Logger
}

// Option wires an optional collaborator into the Service.
type Option func(*Service)

func WithEmbedder(embedder Embedder) Option {
	return func(s *Service) { s.embedder = embedder }
}

// WithLabelers sets the national and global LLM labelers. Without them every
// cluster gets its fallback label.
func WithLabelers(topics TopicLabeler, megatopics cluster.Labeler) Option {
	return func(s *Service) {
		s.labeler = topics
		s.megaLabeler = megatopics
	}
}

func NewService(store Store, settings Settings, logger zerolog.Logger, opts ...Option) *Service {
	if settings.Workers <= 0 {
		settings.Workers = 1
	}
	if settings.EmbedBatchSize <= 0 {
		settings.EmbedBatchSize = 32
	}
	s := &Service{
		store:    store,
		settings: settings,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ready() error {
	if s == nil || s.store == nil {
		return fmt.Errorf("pipeline service is not initialized")
	}
	return nil
}
