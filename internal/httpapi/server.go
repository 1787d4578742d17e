package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/newstoss/internal/db"
	"horse.fit/newstoss/internal/globaltime"
	"horse.fit/newstoss/internal/metrics"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200

	topicArticleLimit = 200
	historyLimit      = 30
)

// Reader is the read side of the database the API serves from.
type Reader interface {
	Ping(ctx context.Context) error
	QueryPipelineStats(ctx context.Context, dayStart, dayEnd time.Time) (*db.PipelineStats, error)
	ListPublishedMegatopics(ctx context.Context, limit, offset int) ([]db.MegatopicSummary, int64, error)
	GetMegatopic(ctx context.Context, id int64) (*db.MegatopicSummary, error)
	ListPublishedTopics(ctx context.Context, country string, limit, offset int) ([]db.TopicSummary, int64, error)
	GetTopic(ctx context.Context, id int64) (*db.TopicSummary, error)
	ListTopicArticles(ctx context.Context, kind string, topicID int64, limit int) ([]db.ArticleSummary, error)
	ListTopicStats(ctx context.Context, kind string, topicID int64) ([]db.TopicCountryStat, error)
	ListHistory(ctx context.Context, kind string, topicID int64, limit int) ([]db.TopicHistory, error)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	reader Reader
	logger zerolog.Logger
	opts   Options
}

type countryStat struct {
	CountryCode     string  `json:"country_code"`
	ArticleCount    int     `json:"article_count"`
	SupportiveCount int     `json:"supportive_count"`
	FactualCount    int     `json:"factual_count"`
	CriticalCount   int     `json:"critical_count"`
	SourceCount     int     `json:"source_count"`
	AvgStanceScore  float64 `json:"avg_stance_score"`
}

type historyPoint struct {
	Date          string   `json:"date"`
	ArticleCount  int      `json:"article_count"`
	CountryCount  int      `json:"country_count"`
	DriftScore    *float64 `json:"drift_score,omitempty"`
	Status        string   `json:"status"`
	StormCategory int      `json:"storm_category"`
}

type megatopicDetail struct {
	Megatopic db.MegatopicSummary `json:"megatopic"`
	Stats     []countryStat       `json:"stats"`
	History   []historyPoint      `json:"history"`
}

type topicDetail struct {
	Topic    db.TopicSummary     `json:"topic"`
	Articles []db.ArticleSummary `json:"articles"`
	Stats    []countryStat       `json:"stats"`
	History  []historyPoint      `json:"history"`
}

func NewServer(reader Reader, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		reader: reader,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

// Handler builds the echo router with every route registered.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	metricsHandler := echo.WrapHandler(metrics.Handler())
	e.GET("/metrics", metricsHandler)

	api := e.Group("/api/v1")
	api.GET("/metrics", metricsHandler)
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/megatopics", s.handleMegatopics)
	api.GET("/megatopics/:id", s.handleMegatopicDetail)
	api.GET("/topics", s.handleTopics)
	api.GET("/topics/:id", s.handleTopicDetail)
	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.reader == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("newstoss api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("newstoss api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = c.JSON(status, envelope{Status: "fail", Message: message})
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.reader.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("database ping failed")
		return internalError(c, "Database unavailable")
	}
	return success(c, map[string]any{
		"service": "newstoss",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	dayStart, dayEnd := globaltime.Today()
	stats, err := s.reader.QueryPipelineStats(c.Request().Context(), dayStart, dayEnd)
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleMegatopics(c echo.Context) error {
	page, pageSize, ok, err := parsePaging(c)
	if !ok {
		return err
	}

	items, total, err := s.reader.ListPublishedMegatopics(c.Request().Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("query megatopics failed")
		return internalError(c, "Failed to load megatopics")
	}
	return successPage(c, items, newPageInfo(page, pageSize, total), nil)
}

func (s *Server) handleMegatopicDetail(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return failValidation(c, map[string]string{"id": err.Error()})
	}

	ctx := c.Request().Context()
	mega, err := s.reader.GetMegatopic(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Megatopic not found")
		}
		s.logger.Error().Err(err).Int64("megatopic_id", id).Msg("query megatopic failed")
		return internalError(c, "Failed to load megatopic")
	}

	stats, history, err := s.topicExtras(ctx, db.KindGlobal, id)
	if err != nil {
		s.logger.Error().Err(err).Int64("megatopic_id", id).Msg("query megatopic extras failed")
		return internalError(c, "Failed to load megatopic")
	}
	return success(c, megatopicDetail{Megatopic: *mega, Stats: stats, History: history})
}

func (s *Server) handleTopics(c echo.Context) error {
	page, pageSize, ok, err := parsePaging(c)
	if !ok {
		return err
	}

	country := strings.ToUpper(strings.TrimSpace(c.QueryParam("country")))
	if country != "" && len(country) != 2 {
		return failValidation(c, map[string]string{"country": "must be a two-letter country code"})
	}

	items, total, err := s.reader.ListPublishedTopics(c.Request().Context(), country, pageSize, (page-1)*pageSize)
	if err != nil {
		s.logger.Error().Err(err).Str("country", country).Msg("query topics failed")
		return internalError(c, "Failed to load topics")
	}
	return successPage(c, items, newPageInfo(page, pageSize, total), map[string]any{"country": country})
}

func (s *Server) handleTopicDetail(c echo.Context) error {
	id, err := parseID(c.Param("id"))
	if err != nil {
		return failValidation(c, map[string]string{"id": err.Error()})
	}

	ctx := c.Request().Context()
	topic, err := s.reader.GetTopic(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Topic not found")
		}
		s.logger.Error().Err(err).Int64("topic_id", id).Msg("query topic failed")
		return internalError(c, "Failed to load topic")
	}

	articles, err := s.reader.ListTopicArticles(ctx, db.KindNational, id, topicArticleLimit)
	if err != nil {
		s.logger.Error().Err(err).Int64("topic_id", id).Msg("query topic articles failed")
		return internalError(c, "Failed to load topic")
	}
	stats, history, err := s.topicExtras(ctx, db.KindNational, id)
	if err != nil {
		s.logger.Error().Err(err).Int64("topic_id", id).Msg("query topic extras failed")
		return internalError(c, "Failed to load topic")
	}
	if articles == nil {
		articles = []db.ArticleSummary{}
	}
	return success(c, topicDetail{Topic: *topic, Articles: articles, Stats: stats, History: history})
}

func (s *Server) topicExtras(ctx context.Context, kind string, id int64) ([]countryStat, []historyPoint, error) {
	rows, err := s.reader.ListTopicStats(ctx, kind, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list stats: %w", err)
	}
	stats := make([]countryStat, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, countryStat{
			CountryCode:     row.CountryCode,
			ArticleCount:    row.ArticleCount,
			SupportiveCount: row.SupportiveCount,
			FactualCount:    row.FactualCount,
			CriticalCount:   row.CriticalCount,
			SourceCount:     row.SourceCount,
			AvgStanceScore:  row.AvgStanceScore,
		})
	}

	snapshots, err := s.reader.ListHistory(ctx, kind, id, historyLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("list history: %w", err)
	}
	history := make([]historyPoint, 0, len(snapshots))
	for _, snap := range snapshots {
		history = append(history, historyPoint{
			Date:          snap.SnapshotDate.UTC().Format("2006-01-02"),
			ArticleCount:  snap.ArticleCount,
			CountryCount:  snap.CountryCount,
			DriftScore:    snap.DriftScore,
			Status:        snap.Status,
			StormCategory: snap.StormCategory,
		})
	}
	return stats, history, nil
}

// parsePaging reads page and page_size. When ok is false the validation
// response has already been written and err is its result.
func parsePaging(c echo.Context) (page, pageSize int, ok bool, err error) {
	page, perr := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if perr != nil {
		return 0, 0, false, failValidation(c, map[string]string{"page": perr.Error()})
	}
	pageSize, perr = parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if perr != nil {
		return 0, 0, false, failValidation(c, map[string]string{"page_size": perr.Error()})
	}
	return page, pageSize, true, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return id, nil
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
