package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"horse.fit/newstoss/internal/db"
	payloadschema "horse.fit/newstoss/schema"
)

type fakeArticle struct {
	db.ClusterArticle
	Summary    string
	Language   string
	NationalID int64
	GlobalID   int64
	Stance     *string
	Score      *float64
}

type fakeTopic struct {
	Kind      string
	Record    db.TopicRecord
	Country   string
	Centroid  string
	UpdatedAt time.Time
	BatchID   string
	Published bool
	History   []db.TopicHistory
}

type fakeStore struct {
	mu          sync.Mutex
	articles    map[int64]*fakeArticle
	topics      map[string]map[int64]*fakeTopic
	stats       map[string][]db.TopicCountryStat
	nextID      int64
	failCountry string
	batches     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		articles: make(map[int64]*fakeArticle),
		topics: map[string]map[int64]*fakeTopic{
			db.KindNational: {},
			db.KindGlobal:   {},
		},
		stats: make(map[string][]db.TopicCountryStat),
	}
}

func vecLit(values ...float64) *string {
	s, err := db.VectorLiteral(values)
	if err != nil {
		panic(err)
	}
	return &s
}

func (s *fakeStore) addArticle(id int64, country, source, title string, embedding *string) {
	published := time.Now().UTC().Add(-time.Duration(100-id) * time.Minute)
	s.articles[id] = &fakeArticle{
		ClusterArticle: db.ClusterArticle{
			ID:          id,
			CountryCode: country,
			SourceName:  source,
			Title:       title,
			PublishedAt: &published,
			Embedding:   embedding,
		},
	}
}

func (s *fakeStore) addTopic(kind string, id int64, country, name string, centroid *string, articleIDs ...int64) {
	t := &fakeTopic{
		Kind:    kind,
		Country: country,
		Record: db.TopicRecord{
			ID:           id,
			Title:        name,
			ArticleIDs:   append(db.Int64List(nil), articleIDs...),
			ArticleCount: len(articleIDs),
			CreatedAt:    time.Now().UTC().Add(-time.Hour),
		},
		UpdatedAt: time.Now().UTC().Add(-time.Hour),
	}
	if centroid != nil {
		t.Centroid = *centroid
	}
	s.topics[kind][id] = t
	if id > s.nextID {
		s.nextID = id
	}
	for _, articleID := range articleIDs {
		if a, ok := s.articles[articleID]; ok {
			if kind == db.KindNational {
				a.NationalID = id
			} else {
				a.GlobalID = id
			}
		}
	}
}

func (s *fakeStore) sortedArticleIDs() []int64 {
	ids := make([]int64, 0, len(s.articles))
	for id := range s.articles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *fakeStore) sortedTopics(kind string) []*fakeTopic {
	out := make([]*fakeTopic, 0, len(s.topics[kind]))
	for _, t := range s.topics[kind] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Record.ID < out[j].Record.ID })
	return out
}

func (s *fakeStore) ListPendingEmbeddings(_ context.Context, afterID int64, limit int) ([]db.PendingText, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.PendingText
	for _, id := range s.sortedArticleIDs() {
		a := s.articles[id]
		if id <= afterID || a.Embedding != nil {
			continue
		}
		out = append(out, db.PendingText{ID: id, Title: a.Title, Summary: a.Summary, Language: a.Language})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) SetEmbedding(_ context.Context, articleID int64, literal string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.articles[articleID]
	if !ok || a.Embedding != nil {
		return false, nil
	}
	a.Embedding = &literal
	return true, nil
}

func (s *fakeStore) ListUnclusteredCountries(context.Context, time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, a := range s.articles {
		if a.Embedding == nil || a.NationalID != 0 {
			continue
		}
		if _, ok := seen[a.CountryCode]; ok {
			continue
		}
		seen[a.CountryCode] = struct{}{}
		out = append(out, a.CountryCode)
	}
	sort.Strings(out)
	return out, nil
}

func (s *fakeStore) ListUnclustered(_ context.Context, country string, _ time.Time) ([]db.ClusterArticle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if country == s.failCountry {
		return nil, errors.New("connection reset by peer")
	}
	var out []db.ClusterArticle
	for _, id := range s.sortedArticleIDs() {
		a := s.articles[id]
		if a.CountryCode != country || a.Embedding == nil || a.NationalID != 0 {
			continue
		}
		out = append(out, a.ClusterArticle)
	}
	return out, nil
}

func (s *fakeStore) ListTopicWindow(_ context.Context, kind, country string, _ time.Time) ([]db.TopicRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.TopicRecord
	for _, t := range s.sortedTopics(kind) {
		if kind == db.KindNational && t.Country != country {
			continue
		}
		rec := t.Record
		centroid := t.Centroid
		rec.Centroid = &centroid
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeStore) ListNationalTopicsSince(context.Context, time.Time) ([]db.NationalTopicRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.NationalTopicRow
	for _, t := range s.sortedTopics(db.KindNational) {
		centroid := t.Centroid
		out = append(out, db.NationalTopicRow{
			ID:           t.Record.ID,
			CountryCode:  t.Country,
			Name:         t.Record.Title,
			Centroid:     &centroid,
			ArticleCount: t.Record.ArticleCount,
			ArticleIDs:   t.Record.ArticleIDs,
		})
	}
	return out, nil
}

func (s *fakeStore) CreateTopic(_ context.Context, kind string, w db.TopicWrite) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := &fakeTopic{
		Kind:     kind,
		Country:  w.CountryCode,
		Centroid: w.Centroid,
		Record: db.TopicRecord{
			ID:           s.nextID,
			Title:        w.Name,
			ArticleIDs:   append(db.Int64List(nil), w.ArticleIDs...),
			ArticleCount: len(w.ArticleIDs),
			Countries:    append(db.StringList(nil), w.Countries...),
			TopicIDs:     append(db.Int64List(nil), w.TopicIDs...),
			CreatedAt:    w.Now,
		},
		UpdatedAt: w.Now,
	}
	s.topics[kind][t.Record.ID] = t
	s.finish(t, w)
	return t.Record.ID, nil
}

func (s *fakeStore) ApplyMatch(_ context.Context, kind string, topicID int64, w db.TopicWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[kind][topicID]
	if !ok {
		return fmt.Errorf("update %s topic id=%d: %w", kind, topicID, db.ErrNoRows)
	}
	t.Centroid = w.Centroid
	t.Record.ArticleIDs = append(db.Int64List(nil), w.ArticleIDs...)
	t.Record.ArticleCount = len(w.ArticleIDs)
	if kind == db.KindGlobal {
		t.Record.Countries = append(db.StringList(nil), w.Countries...)
		t.Record.TopicIDs = append(db.Int64List(nil), w.TopicIDs...)
	}
	t.UpdatedAt = w.Now
	s.finish(t, w)
	return nil
}

func (s *fakeStore) finish(t *fakeTopic, w db.TopicWrite) {
	for _, id := range w.AddedIDs {
		a, ok := s.articles[id]
		if !ok {
			continue
		}
		if t.Kind == db.KindNational {
			a.NationalID = t.Record.ID
		} else {
			a.GlobalID = t.Record.ID
		}
	}
	for _, st := range w.Stances {
		if a, ok := s.articles[st.ID]; ok {
			stance, score := st.Stance, st.Score
			a.Stance, a.Score = &stance, &score
		}
	}
	if w.Snapshot == nil {
		return
	}

	var prev *db.TopicHistory
	for i := range t.History {
		if t.History[i].SnapshotDate.Equal(w.Day) {
			return
		}
		if t.History[i].SnapshotDate.Before(w.Day) {
			prev = &t.History[i]
		}
	}
	snap := w.Snapshot(prev)
	snap.TopicKind = t.Kind
	snap.TopicID = t.Record.ID
	snap.SnapshotDate = w.Day
	t.History = append(t.History, snap)
}

func (s *fakeStore) ListStatsTargets(_ context.Context, kind string, since time.Time) ([]db.StatsTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.StatsTarget
	for _, t := range s.sortedTopics(kind) {
		if !t.UpdatedAt.Before(since) {
			out = append(out, db.StatsTarget{ID: t.Record.ID, ArticleIDs: t.Record.ArticleIDs})
		}
	}
	return out, nil
}

func (s *fakeStore) ListArticleStances(_ context.Context, ids []int64) ([]db.StanceRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.StanceRow
	for _, id := range ids {
		a, ok := s.articles[id]
		if !ok {
			continue
		}
		out = append(out, db.StanceRow{
			ID:          id,
			CountryCode: a.CountryCode,
			SourceName:  a.SourceName,
			Stance:      a.Stance,
			Score:       a.Score,
		})
	}
	return out, nil
}

func (s *fakeStore) ReplaceTopicStats(_ context.Context, kind string, topicID int64, stats []db.TopicCountryStat, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[statsKey(kind, topicID)] = stats
	return nil
}

func statsKey(kind string, topicID int64) string {
	return fmt.Sprintf("%s/%d", kind, topicID)
}

func (s *fakeStore) ListRecentTopics(_ context.Context, kind string, limit int) ([]db.SweepTopic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := s.sortedTopics(kind)
	var out []db.SweepTopic
	for i := len(topics) - 1; i >= 0 && len(out) < limit; i-- {
		t := topics[i]
		out = append(out, db.SweepTopic{ID: t.Record.ID, CountryCode: t.Country, Title: t.Record.Title, ArticleCount: t.Record.ArticleCount})
	}
	return out, nil
}

func (s *fakeStore) MergeTopics(_ context.Context, kind string, winnerID int64, loserIDs []int64, now time.Time) (db.MergeCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	winner, ok := s.topics[kind][winnerID]
	if !ok {
		return db.MergeCounts{}, db.ErrNoRows
	}
	var counts db.MergeCounts
	for _, loserID := range loserIDs {
		loser, ok := s.topics[kind][loserID]
		if !ok {
			continue
		}
		for _, articleID := range loser.Record.ArticleIDs {
			if !containsID(winner.Record.ArticleIDs, articleID) {
				winner.Record.ArticleIDs = append(winner.Record.ArticleIDs, articleID)
			}
			if a, ok := s.articles[articleID]; ok {
				if kind == db.KindNational {
					a.NationalID = winnerID
				} else {
					a.GlobalID = winnerID
				}
				counts.ArticlesMoved++
			}
		}
		if _, ok := s.stats[statsKey(kind, loserID)]; ok {
			counts.StatsDeleted++
			delete(s.stats, statsKey(kind, loserID))
		}
		counts.HistoryDeleted += int64(len(loser.History))
		delete(s.topics[kind], loserID)
		counts.TopicsDeleted++
	}
	winner.Record.ArticleCount = len(winner.Record.ArticleIDs)
	if centroid := s.meanEmbedding(winner.Record.ArticleIDs); centroid != "" {
		winner.Centroid = centroid
	}
	winner.UpdatedAt = now
	return counts, nil
}

func containsID(ids []int64, id int64) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

// meanEmbedding mirrors avg(embedding) over the given articles.
func (s *fakeStore) meanEmbedding(ids []int64) string {
	var sum []float64
	n := 0
	for _, id := range ids {
		a, ok := s.articles[id]
		if !ok || a.Embedding == nil {
			continue
		}
		vec, err := db.ParseVector(a.Embedding)
		if err != nil || len(vec) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(vec))
		}
		for i, v := range vec {
			sum[i] += v
		}
		n++
	}
	if n == 0 {
		return ""
	}
	for i := range sum {
		sum[i] /= float64(n)
	}
	literal, err := db.VectorLiteral(sum)
	if err != nil {
		return ""
	}
	return literal
}

func (s *fakeStore) PublishBatch(_ context.Context, batchID string, assignPending bool, _ time.Time) (db.PublishResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batchID)
	result := db.PublishResult{BatchID: batchID}
	for _, kind := range []string{db.KindNational, db.KindGlobal} {
		for _, t := range s.topics[kind] {
			if assignPending && t.BatchID == "" && !t.Published {
				t.BatchID = batchID
				if kind == db.KindNational {
					result.AssignedTopics++
				} else {
					result.AssignedMegatopics++
				}
			}
			switch {
			case t.BatchID == batchID:
				t.Published = true
				if kind == db.KindNational {
					result.PublishedTopics++
				} else {
					result.PublishedMegatopics++
				}
			case t.Published:
				t.Published = false
				if kind == db.KindNational {
					result.UnpublishedTopics++
				} else {
					result.UnpublishedMegatopics++
				}
			}
		}
	}
	return result, nil
}

type fakeLabeler struct {
	mu    sync.Mutex
	calls int
	label func(titles []string) (payloadschema.TopicLabel, error)
}

func (l *fakeLabeler) LabelTopic(_ context.Context, titles []string) (payloadschema.TopicLabel, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.label(titles)
}

func (l *fakeLabeler) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}
