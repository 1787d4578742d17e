package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/newstoss/internal/cluster"
	"horse.fit/newstoss/internal/db"
	"horse.fit/newstoss/internal/globaltime"
	"horse.fit/newstoss/internal/history"
	"horse.fit/newstoss/internal/matcher"
	"horse.fit/newstoss/internal/metrics"
	"horse.fit/newstoss/internal/similarity"
	"horse.fit/newstoss/internal/stats"
)

const (
	// A source holding more than this share of a cluster keeps only its
	// newest dominantSourceKeep articles.
	dominantSourceShare = 0.5
	dominantSourceKeep  = 2
)

var stanceScores = map[string]float64{
	stats.StanceSupportive: 100,
	stats.StanceFactual:    stats.DefaultStanceScore,
	stats.StanceCritical:   0,
}

type ClusterResult struct {
	Country   string
	Articles  int
	Skipped   int
	Clusters  int
	Noise     int
	Created   int
	Matched   int
	Outliers  int
	Dominated int
	Fallbacks int
	Failed    int
}

func (r *ClusterResult) add(o ClusterResult) {
	r.Articles += o.Articles
	r.Skipped += o.Skipped
	r.Clusters += o.Clusters
	r.Noise += o.Noise
	r.Created += o.Created
	r.Matched += o.Matched
	r.Outliers += o.Outliers
	r.Dominated += o.Dominated
	r.Fallbacks += o.Fallbacks
	r.Failed += o.Failed
}

type ClusterAllResult struct {
	Countries       int
	FailedCountries int
	Totals          ClusterResult
}

type member struct {
	ID          int64
	SourceName  string
	Title       string
	PublishedAt time.Time
	Embedding   []float64
}

type nationalLabel struct {
	Name     string
	Keywords []string
	Category string
	Stances  map[int64]string
	Outliers map[int64]struct{}
	Fallback bool
}

func (l nationalLabel) articleStances(ids []int64) []db.ArticleStance {
	out := make([]db.ArticleStance, 0, len(ids))
	for _, id := range ids {
		stance, ok := l.Stances[id]
		if !ok {
			stance = stats.StanceFactual
		}
		out = append(out, db.ArticleStance{ID: id, Stance: stance, Score: stanceScores[stance]})
	}
	return out
}

// ClusterAll clusters every country with unassigned embedded articles. Up to
// Workers countries run at once; a failing country is logged and counted and
// the rest finish before ClusterAll returns.
func (s *Service) ClusterAll(ctx context.Context) (ClusterAllResult, error) {
	if err := s.ready(); err != nil {
		return ClusterAllResult{}, err
	}

	since := globaltime.UTC().Add(-s.settings.ClusterLookback)
	countries, err := s.store.ListUnclusteredCountries(ctx, since)
	if err != nil {
		return ClusterAllResult{}, fmt.Errorf("list countries to cluster: %w", err)
	}

	result := ClusterAllResult{Countries: len(countries)}
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.settings.Workers)
	for _, country := range countries {
		country := country
		g.Go(func() error {
			countryResult, err := s.ClusterCountry(ctx, country)
			mu.Lock()
			defer mu.Unlock()
			result.Totals.add(countryResult)
			if err != nil {
				result.FailedCountries++
				s.logger.Error().Err(err).Str("country", country).Msg("country clustering failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return result, err
	}
	s.logger.Info().
		Int("countries", result.Countries).
		Int("failed_countries", result.FailedCountries).
		Int("created", result.Totals.Created).
		Int("matched", result.Totals.Matched).
		Msg("national clustering finished")
	return result, nil
}

// ClusterCountry groups one country's unassigned articles into topics and
// either folds each group into a recent topic or creates a new one.
func (s *Service) ClusterCountry(ctx context.Context, country string) (ClusterResult, error) {
	if err := s.ready(); err != nil {
		return ClusterResult{}, err
	}
	country = stats.NormalizeCountry(country)
	result := ClusterResult{Country: country}
	started := time.Now()
	now := globaltime.UTC()
	logger := s.logger.With().Str("country", country).Logger()

	rows, err := s.store.ListUnclustered(ctx, country, now.Add(-s.settings.ClusterLookback))
	if err != nil {
		return result, fmt.Errorf("list unclustered articles: %w", err)
	}
	result.Articles = len(rows)
	if len(rows) == 0 {
		return result, nil
	}

	items := make([]cluster.Item, 0, len(rows))
	members := make(map[int64]member, len(rows))
	for _, row := range rows {
		vec, err := db.ParseVector(row.Embedding)
		if err != nil {
			result.Skipped++
			logger.Warn().Err(err).Int64("article_id", row.ID).Msg("unusable article embedding")
			continue
		}
		var published time.Time
		if row.PublishedAt != nil {
			published = row.PublishedAt.UTC()
		}
		items = append(items, cluster.Item{
			ID:          row.ID,
			CountryCode: row.CountryCode,
			PublishedAt: published,
			Embedding:   vec,
		})
		members[row.ID] = member{
			ID:          row.ID,
			SourceName:  row.SourceName,
			Title:       row.Title,
			PublishedAt: published,
			Embedding:   vec,
		}
	}

	clustered, err := cluster.National(items, s.settings.NationalThreshold, s.settings.Order)
	if err != nil {
		return result, err
	}
	for _, skipped := range clustered.Skipped {
		result.Skipped++
		logger.Warn().Int64("article_id", skipped.ID).Str("reason", skipped.Reason).Msg("article left out of clustering")
	}

	win, err := s.loadWindow(ctx, db.KindNational, country, now)
	if err != nil {
		return result, fmt.Errorf("load topic history: %w", err)
	}
	m := matcher.New(s.settings.TitleThreshold, s.settings.SemanticThreshold)

	for _, c := range clustered.Clusters {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Clusters++
		if c.Noise() {
			result.Noise++
		}

		group := make([]member, len(c.MemberIDs))
		for i, id := range c.MemberIDs {
			group[i] = members[id]
		}
		group, dominated := limitDominantSource(group)
		if len(dominated) > 0 {
			result.Dominated += len(dominated)
			logger.Debug().
				Int64("seed_article_id", c.SeedID).
				Int("dropped", len(dominated)).
				Msg("limited dominant source in cluster")
		}

		label := s.labelNational(ctx, logger, group)
		if label.Fallback {
			result.Fallbacks++
		}

		kept := make([]member, 0, len(group))
		for _, mbr := range group {
			if _, outlier := label.Outliers[mbr.ID]; outlier {
				result.Outliers++
				continue
			}
			kept = append(kept, mbr)
		}

		topicID, matched, err := s.persistNational(ctx, m, win, country, label, kept, now)
		if err != nil {
			result.Failed++
			logger.Error().Err(err).Int64("seed_article_id", c.SeedID).Msg("persist national topic failed")
			continue
		}
		if matched {
			result.Matched++
		} else {
			result.Created++
		}
		logger.Debug().
			Int64("topic_id", topicID).
			Bool("matched", matched).
			Int("members", len(kept)).
			Str("topic_name", label.Name).
			Msg("national topic written")
	}

	metrics.RecordStage("cluster", started, result.Created+result.Matched, result.Failed)
	logger.Info().
		Int("articles", result.Articles).
		Int("clusters", result.Clusters).
		Int("noise", result.Noise).
		Int("created", result.Created).
		Int("matched", result.Matched).
		Int("outliers", result.Outliers).
		Int("failed", result.Failed).
		Dur("elapsed", time.Since(started)).
		Msg("country clustered")
	return result, nil
}

func (s *Service) persistNational(ctx context.Context, m *matcher.Matcher, win *window, country string, label nationalLabel, group []member, now time.Time) (int64, bool, error) {
	vectors := make([][]float64, len(group))
	ids := make([]int64, len(group))
	for i, mbr := range group {
		vectors[i] = mbr.Embedding
		ids[i] = mbr.ID
	}
	centroid, err := similarity.Mean(vectors)
	if err != nil {
		return 0, false, fmt.Errorf("cluster centroid: %w", err)
	}

	candidate := matcher.Candidate{Title: label.Name, Centroid: centroid, MemberIDs: ids}
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
		snapshot, err := priorSnapshot(now, record, 1)
		if err != nil {
			return 0, false, err
		}
		w := db.TopicWrite{
			Centroid:    literal,
			ArticleIDs:  update.ArticleIDs,
			AddedIDs:    update.AddedIDs,
			CountryCode: country,
			Stances:     label.articleStances(update.AddedIDs),
			Day:         history.Day(now),
			Now:         now,
			Snapshot:    snapshot,
		}
		if err := s.store.ApplyMatch(ctx, db.KindNational, record.ID, w); err != nil {
			return 0, false, err
		}

		row := win.rows[record.ID]
		row.ArticleIDs = update.ArticleIDs
		row.ArticleCount = len(update.ArticleIDs)
		win.put(matcher.Record{
			ID:           record.ID,
			Title:        record.Title,
			Centroid:     update.Centroid,
			ArticleIDs:   update.ArticleIDs,
			ArticleCount: len(update.ArticleIDs),
			CreatedAt:    record.CreatedAt,
		}, row)
		s.refreshAfterWrite(ctx, db.KindNational, record.ID, update.ArticleIDs, now)
		return record.ID, true, nil
	}

	literal, err := db.VectorLiteral(centroid)
	if err != nil {
		return 0, false, err
	}
	w := db.TopicWrite{
		Name:        label.Name,
		Keywords:    label.Keywords,
		Category:    label.Category,
		Centroid:    literal,
		ArticleIDs:  ids,
		AddedIDs:    ids,
		CountryCode: country,
		Stances:     label.articleStances(ids),
		Day:         history.Day(now),
		Now:         now,
		Snapshot:    snapshotFunc(now, len(ids), 1, centroid, literal),
	}
	id, err := s.store.CreateTopic(ctx, db.KindNational, w)
	if err != nil {
		return 0, false, err
	}
	win.put(matcher.Record{
		ID:           id,
		Title:        label.Name,
		Centroid:     centroid,
		ArticleIDs:   ids,
		ArticleCount: len(ids),
		CreatedAt:    now,
	}, db.TopicRecord{ID: id, Title: label.Name, ArticleIDs: ids, ArticleCount: len(ids), CreatedAt: now})
	s.refreshAfterWrite(ctx, db.KindNational, id, ids, now)
	return id, false, nil
}

func (s *Service) refreshAfterWrite(ctx context.Context, kind string, topicID int64, articleIDs []int64, now time.Time) {
	if err := s.refreshTopicStats(ctx, kind, topicID, articleIDs, now); err != nil {
		s.logger.Warn().Err(err).Str("kind", kind).Int64("topic_id", topicID).Msg("stats refresh failed")
	}
}

// labelNational asks the LLM for a name, stances and outliers. Groups below
// the topic size, a missing labeler or a failed call get the fallback label.
func (s *Service) labelNational(ctx context.Context, logger zerolog.Logger, group []member) nationalLabel {
	label := fallbackNationalLabel(group)
	if s.labeler == nil || len(group) < cluster.MinTopicSize {
		return label
	}

	titles := make([]string, len(group))
	for i, mbr := range group {
		titles[i] = mbr.Title
	}
	out, err := s.labeler.LabelTopic(ctx, titles)
	if err != nil {
		metrics.RecordFallback("label_topic")
		logger.Warn().
			Err(err).
			Int64("seed_article_id", group[0].ID).
			Int("members", len(group)).
			Msg("topic labeling failed, using fallback")
		label.Fallback = true
		return label
	}

	if name := strings.TrimSpace(out.TopicName); name != "" {
		label.Name = name
	}
	if category := strings.TrimSpace(out.Category); category != "" {
		label.Category = category
	}
	if out.Keywords != nil {
		label.Keywords = out.Keywords
	}

	assign := func(indices []int, stance string) {
		for _, idx := range indices {
			if idx < 0 || idx >= len(group) {
				continue
			}
			id := group[idx].ID
			if label.Stances[id] == stats.StanceFactual {
				label.Stances[id] = stance
			}
		}
	}
	assign(out.Stances.Critical, stats.StanceCritical)
	assign(out.Stances.Supportive, stats.StanceSupportive)

	outliers := make(map[int64]struct{}, len(out.Outliers))
	for _, idx := range out.Outliers {
		if idx >= 0 && idx < len(group) {
			outliers[group[idx].ID] = struct{}{}
		}
	}
	if len(outliers) >= len(group) {
		logger.Warn().Int64("seed_article_id", group[0].ID).Msg("labeler flagged every member as an outlier, ignoring outliers")
		outliers = map[int64]struct{}{}
	}
	for id := range outliers {
		delete(label.Stances, id)
	}
	label.Outliers = outliers
	return label
}

// fallbackNationalLabel names a group after the title closest to its
// centroid; every member is factual.
func fallbackNationalLabel(group []member) nationalLabel {
	label := nationalLabel{
		Keywords: []string{},
		Category: cluster.CategoryUnclassified,
		Stances:  make(map[int64]string, len(group)),
		Outliers: map[int64]struct{}{},
	}
	for _, mbr := range group {
		label.Stances[mbr.ID] = stats.StanceFactual
	}
	if len(group) == 0 {
		return label
	}

	vectors := make([][]float64, len(group))
	for i, mbr := range group {
		vectors[i] = mbr.Embedding
	}
	best := 0
	if centroid, err := similarity.Mean(vectors); err == nil {
		bestScore := similarity.Cosine(group[0].Embedding, centroid)
		for i := 1; i < len(group); i++ {
			if score := similarity.Cosine(group[i].Embedding, centroid); score > bestScore {
				best, bestScore = i, score
			}
		}
	}
	label.Name = strings.TrimSpace(group[best].Title)
	return label
}

// limitDominantSource keeps at most the newest dominantSourceKeep articles of
// a source that holds more than half of a group larger than that.
func limitDominantSource(group []member) (kept, dropped []member) {
	if len(group) <= dominantSourceKeep {
		return group, nil
	}

	counts := make(map[string]int)
	for _, mbr := range group {
		if name := strings.TrimSpace(mbr.SourceName); name != "" {
			counts[name]++
		}
	}
	dominant := ""
	for name, n := range counts {
		if float64(n) > dominantSourceShare*float64(len(group)) {
			dominant = name
		}
	}
	if dominant == "" {
		return group, nil
	}

	var fromDominant []member
	for _, mbr := range group {
		if strings.TrimSpace(mbr.SourceName) == dominant {
			fromDominant = append(fromDominant, mbr)
		}
	}
	sort.SliceStable(fromDominant, func(i, j int) bool {
		if !fromDominant[i].PublishedAt.Equal(fromDominant[j].PublishedAt) {
			return fromDominant[i].PublishedAt.After(fromDominant[j].PublishedAt)
		}
		return fromDominant[i].ID > fromDominant[j].ID
	})
	keep := make(map[int64]struct{}, dominantSourceKeep)
	for i := 0; i < len(fromDominant) && i < dominantSourceKeep; i++ {
		keep[fromDominant[i].ID] = struct{}{}
	}

	kept = make([]member, 0, len(group))
	for _, mbr := range group {
		if strings.TrimSpace(mbr.SourceName) == dominant {
			if _, ok := keep[mbr.ID]; !ok {
				dropped = append(dropped, mbr)
				continue
			}
		}
		kept = append(kept, mbr)
	}
	return kept, dropped
}
