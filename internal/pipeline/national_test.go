package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newstoss/internal/cluster"
	"horse.fit/newstoss/internal/db"
	"horse.fit/newstoss/internal/history"
	payloadschema "horse.fit/newstoss/schema"
)

func testSettings() Settings {
	settings := DefaultSettings()
	settings.Workers = 2
	settings.EmbedBatchSize = 2
	return settings
}

func seedKoreanArticles(store *fakeStore) {
	store.addArticle(1, "KR", "Yonhap", "Central bank raises rates", vecLit(1, 0, 0))
	store.addArticle(2, "KR", "Chosun", "Rates climb again", vecLit(0.9, 0.1, 0))
	store.addArticle(3, "KR", "Hankyoreh", "Bank decision surprises", vecLit(0.9, 0, 0.1))
	store.addArticle(4, "KR", "Yonhap", "Storm hits coast", vecLit(0, 1, 0))
	store.addArticle(5, "KR", "KBS", "Typhoon warning issued", vecLit(0, 0.8, 0.4))
}

func ratesLabel(titles []string) (payloadschema.TopicLabel, error) {
	return payloadschema.TopicLabel{
		TopicName: "Rates hike",
		Keywords:  []string{"rates", "bank"},
		Category:  "Economy",
		Stances: payloadschema.StanceGroups{
			Critical:   []int{1},
			Supportive: []int{2},
		},
	}, nil
}

func TestClusterCountryCreatesTopics(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedKoreanArticles(store)
	labeler := &fakeLabeler{label: ratesLabel}
	svc := NewService(store, testSettings(), zerolog.Nop(), WithLabelers(labeler, nil))

	result, err := svc.ClusterCountry(context.Background(), "kr")
	if err != nil {
		t.Fatalf("ClusterCountry returned error: %v", err)
	}
	if result.Country != "KR" || result.Clusters != 2 || result.Noise != 1 || result.Created != 2 || result.Matched != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if labeler.Calls() != 1 {
		t.Fatalf("noise clusters must not reach the labeler, got %d calls", labeler.Calls())
	}

	topic := store.topics[db.KindNational][1]
	if topic.Record.Title != "Rates hike" {
		t.Fatalf("unexpected topic name: got %q want %q", topic.Record.Title, "Rates hike")
	}
	if !reflect.DeepEqual([]int64(topic.Record.ArticleIDs), []int64{1, 2, 3}) {
		t.Fatalf("unexpected article ids: %v", topic.Record.ArticleIDs)
	}

	wantStances := map[int64]string{1: "factual", 2: "critical", 3: "supportive"}
	for id, want := range wantStances {
		a := store.articles[id]
		if a.NationalID != 1 {
			t.Fatalf("article %d assigned to %d, want 1", id, a.NationalID)
		}
		if a.Stance == nil || *a.Stance != want {
			t.Fatalf("article %d stance: got %v want %s", id, a.Stance, want)
		}
	}
	if got := *store.articles[3].Score; got != 100 {
		t.Fatalf("supportive score: got %v want 100", got)
	}

	noise := store.topics[db.KindNational][2]
	if noise.Record.Title != "Storm hits coast" {
		t.Fatalf("noise topic should take the title closest to its centroid, got %q", noise.Record.Title)
	}

	stats := store.stats[statsKey(db.KindNational, 1)]
	if len(stats) != 1 || stats[0].CountryCode != "KR" || stats[0].ArticleCount != 3 || stats[0].CriticalCount != 1 {
		t.Fatalf("unexpected topic stats: %+v", stats)
	}

	if len(topic.History) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(topic.History))
	}
	snap := topic.History[0]
	if snap.Status != history.StatusForming || snap.ArticleCount != 3 || snap.CountryCount != 1 || snap.DriftScore != nil {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestClusterCountryMatchesExistingTopic(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedKoreanArticles(store)
	labeler := &fakeLabeler{label: ratesLabel}
	svc := NewService(store, testSettings(), zerolog.Nop(), WithLabelers(labeler, nil))

	if _, err := svc.ClusterCountry(context.Background(), "KR"); err != nil {
		t.Fatalf("first run: %v", err)
	}

	store.addArticle(6, "KR", "JoongAng", "Rates rise once more", vecLit(1, 0, 0))
	store.addArticle(7, "KR", "Donga", "Borrowing costs up", vecLit(0.9, 0.1, 0))
	store.addArticle(8, "KR", "MBC", "Loans get pricier", vecLit(0.9, 0, 0.1))

	result, err := svc.ClusterCountry(context.Background(), "KR")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.Matched != 1 || result.Created != 0 {
		t.Fatalf("expected the new cluster to match topic 1, got %+v", result)
	}
	if len(store.topics[db.KindNational]) != 2 {
		t.Fatalf("no topic should be created, got %d", len(store.topics[db.KindNational]))
	}

	topic := store.topics[db.KindNational][1]
	if !reflect.DeepEqual([]int64(topic.Record.ArticleIDs), []int64{1, 2, 3, 6, 7, 8}) {
		t.Fatalf("unexpected article ids after match: %v", topic.Record.ArticleIDs)
	}
	for _, id := range []int64{6, 7, 8} {
		if store.articles[id].NationalID != 1 {
			t.Fatalf("article %d not pointed at topic 1", id)
		}
	}
	if len(topic.History) != 1 || topic.History[0].ArticleCount != 3 {
		t.Fatalf("same-day snapshot should be kept as first written, got %+v", topic.History)
	}
	if stats := store.stats[statsKey(db.KindNational, 1)]; len(stats) != 1 || stats[0].ArticleCount != 6 {
		t.Fatalf("stats not refreshed after match: %+v", stats)
	}
}

func TestClusterCountryMatchSnapshotsPriorState(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addArticle(1, "KR", "Yonhap", "Central bank raises rates", vecLit(1, 0, 0))
	store.addArticle(2, "KR", "Chosun", "Rates climb again", vecLit(1, 0, 0))
	store.addTopic(db.KindNational, 1, "KR", "Rates hike", vecLit(1, 0, 0), 1, 2)
	yesterday := history.Day(time.Now().UTC()).AddDate(0, 0, -1)
	store.topics[db.KindNational][1].History = []db.TopicHistory{{
		TopicKind:    db.KindNational,
		TopicID:      1,
		SnapshotDate: yesterday,
		ArticleCount: 2,
		CountryCount: 1,
		Centroid:     vecLit(1, 0, 0),
		Status:       history.StatusForming,
	}}

	store.addArticle(6, "KR", "JoongAng", "Rates rise once more", vecLit(0, 1, 0))
	store.addArticle(7, "KR", "Donga", "Borrowing costs up", vecLit(0.1, 0.9, 0))
	store.addArticle(8, "KR", "MBC", "Loans get pricier", vecLit(0, 0.9, 0.1))
	store.topics[db.KindNational][1].Centroid = *vecLit(0.4, 0.9, 0)

	labeler := &fakeLabeler{label: ratesLabel}
	svc := NewService(store, testSettings(), zerolog.Nop(), WithLabelers(labeler, nil))
	result, err := svc.ClusterCountry(context.Background(), "KR")
	if err != nil {
		t.Fatalf("ClusterCountry returned error: %v", err)
	}
	if result.Matched != 1 {
		t.Fatalf("expected a match, got %+v", result)
	}

	topic := store.topics[db.KindNational][1]
	if len(topic.History) != 2 {
		t.Fatalf("expected a snapshot for today, got %+v", topic.History)
	}
	today := topic.History[1]
	if today.ArticleCount != 2 {
		t.Fatalf("snapshot should hold the pre-match article count: got %d want 2", today.ArticleCount)
	}
	if today.DriftScore == nil || *today.DriftScore <= 0.15 || today.Status != history.StatusStrengthening {
		t.Fatalf("unexpected drift against yesterday: %+v", today)
	}
	if topic.Record.ArticleCount != 5 {
		t.Fatalf("topic should hold the merged members: got %d want 5", topic.Record.ArticleCount)
	}
}

func TestClusterCountryLabelFailureUsesFallback(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedKoreanArticles(store)
	labeler := &fakeLabeler{label: func([]string) (payloadschema.TopicLabel, error) {
		return payloadschema.TopicLabel{}, errors.New("quota exceeded")
	}}
	svc := NewService(store, testSettings(), zerolog.Nop(), WithLabelers(labeler, nil))

	result, err := svc.ClusterCountry(context.Background(), "KR")
	if err != nil {
		t.Fatalf("ClusterCountry returned error: %v", err)
	}
	if result.Fallbacks != 1 || result.Created != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	topic := store.topics[db.KindNational][1]
	if topic.Record.Title != "Central bank raises rates" {
		t.Fatalf("unexpected fallback name: %q", topic.Record.Title)
	}
	for _, id := range []int64{1, 2, 3} {
		if a := store.articles[id]; a.Stance == nil || *a.Stance != "factual" {
			t.Fatalf("fallback stance for article %d: got %v want factual", id, a.Stance)
		}
	}
}

func TestClusterCountryOutliers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		outliers []int
		wantIDs  []int64
		wantOut  int
	}{
		{name: "one outlier", outliers: []int{2}, wantIDs: []int64{1, 2}, wantOut: 1},
		{name: "every member flagged", outliers: []int{0, 1, 2}, wantIDs: []int64{1, 2, 3}, wantOut: 0},
		{name: "out of range", outliers: []int{7, -1}, wantIDs: []int64{1, 2, 3}, wantOut: 0},
	}

	for _, tc := range cases {
		store := newFakeStore()
		seedKoreanArticles(store)
		outliers := tc.outliers
		labeler := &fakeLabeler{label: func([]string) (payloadschema.TopicLabel, error) {
			return payloadschema.TopicLabel{TopicName: "Rates hike", Outliers: outliers}, nil
		}}
		svc := NewService(store, testSettings(), zerolog.Nop(), WithLabelers(labeler, nil))

		result, err := svc.ClusterCountry(context.Background(), "KR")
		if err != nil {
			t.Fatalf("%s: ClusterCountry returned error: %v", tc.name, err)
		}
		if result.Outliers != tc.wantOut {
			t.Fatalf("%s: outliers got %d want %d", tc.name, result.Outliers, tc.wantOut)
		}
		topic := store.topics[db.KindNational][1]
		if !reflect.DeepEqual([]int64(topic.Record.ArticleIDs), tc.wantIDs) {
			t.Fatalf("%s: article ids got %v want %v", tc.name, topic.Record.ArticleIDs, tc.wantIDs)
		}
		if topic.Record.Title != "Rates hike" {
			t.Fatalf("%s: unexpected name %q", tc.name, topic.Record.Title)
		}
		if tc.wantOut > 0 && store.articles[3].NationalID != 0 {
			t.Fatalf("%s: outlier article must stay unassigned", tc.name)
		}
	}
}

func TestClusterAllCountsFailedCountries(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seedKoreanArticles(store)
	store.addArticle(11, "US", "AP", "Senate passes budget", vecLit(1, 0, 0))
	store.addArticle(12, "US", "Reuters", "Budget bill clears Senate", vecLit(0.95, 0.05, 0))
	store.addArticle(13, "US", "NYT", "Lawmakers approve spending", vecLit(0.95, 0, 0.05))
	store.addArticle(21, "XX", "Unknown", "Broken row", vecLit(1, 0, 0))
	store.failCountry = "XX"

	svc := NewService(store, testSettings(), zerolog.Nop())
	result, err := svc.ClusterAll(context.Background())
	if err != nil {
		t.Fatalf("ClusterAll returned error: %v", err)
	}
	if result.Countries != 3 || result.FailedCountries != 1 {
		t.Fatalf("unexpected country counts: %+v", result)
	}
	if result.Totals.Created != 3 {
		t.Fatalf("expected three topics across KR and US, got %+v", result.Totals)
	}
	for _, topic := range store.topics[db.KindNational] {
		if topic.Record.Title == "" {
			t.Fatalf("topic %d has no name", topic.Record.ID)
		}
	}
}

func TestLimitDominantSource(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	group := []member{
		{ID: 1, SourceName: "Wire", PublishedAt: base},
		{ID: 2, SourceName: "Wire", PublishedAt: base.Add(3 * time.Hour)},
		{ID: 3, SourceName: "Daily", PublishedAt: base.Add(time.Hour)},
		{ID: 4, SourceName: "Wire", PublishedAt: base.Add(2 * time.Hour)},
		{ID: 5, SourceName: "Wire", PublishedAt: base.Add(time.Minute)},
	}

	kept, dropped := limitDominantSource(group)
	if got := memberIDs(kept); !reflect.DeepEqual(got, []int64{2, 3, 4}) {
		t.Fatalf("unexpected kept ids: got %v want [2 3 4]", got)
	}
	if got := memberIDs(dropped); !reflect.DeepEqual(got, []int64{1, 5}) {
		t.Fatalf("unexpected dropped ids: got %v want [1 5]", got)
	}

	balanced := []member{
		{ID: 1, SourceName: "Wire"},
		{ID: 2, SourceName: "Wire"},
		{ID: 3, SourceName: "Daily"},
		{ID: 4, SourceName: "Post"},
	}
	if kept, dropped := limitDominantSource(balanced); len(kept) != 4 || len(dropped) != 0 {
		t.Fatalf("half share is not dominant, got kept=%d dropped=%d", len(kept), len(dropped))
	}
}

func TestFallbackLabelDefaults(t *testing.T) {
	t.Parallel()

	label := fallbackNationalLabel([]member{
		{ID: 9, Title: " Lone story ", Embedding: []float64{1, 0}},
	})
	if label.Name != "Lone story" || label.Category != cluster.CategoryUnclassified || len(label.Keywords) != 0 {
		t.Fatalf("unexpected fallback label: %+v", label)
	}
	stances := label.articleStances([]int64{9})
	if len(stances) != 1 || stances[0].Stance != "factual" || stances[0].Score != 50 {
		t.Fatalf("unexpected fallback stances: %+v", stances)
	}
}

func memberIDs(group []member) []int64 {
	ids := make([]int64, len(group))
	for i, mbr := range group {
		ids[i] = mbr.ID
	}
	return ids
}
