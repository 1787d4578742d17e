package cluster

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type fakeLabeler struct {
	mu    sync.Mutex
	calls int
	label Label
	err   error
}

func (f *fakeLabeler) LabelMegatopic(_ context.Context, names []string) (Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Label{}, f.err
	}
	return f.label, nil
}

func (f *fakeLabeler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestMergeQualification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		topics []NationalTopic
		want   int
	}{
		{
			name: "two countries four articles dropped",
			topics: []NationalTopic{
				{ID: 1, CountryCode: "KR", Name: "a", Centroid: unit(0), ArticleCount: 2},
				{ID: 2, CountryCode: "JP", Name: "b", Centroid: unit(5), ArticleCount: 2},
			},
			want: 0,
		},
		{
			name: "one country five articles kept",
			topics: []NationalTopic{
				{ID: 1, CountryCode: "KR", Name: "a", Centroid: unit(0), ArticleCount: 5},
			},
			want: 1,
		},
		{
			name: "three countries one article each kept",
			topics: []NationalTopic{
				{ID: 1, CountryCode: "KR", Name: "a", Centroid: unit(0), ArticleCount: 1},
				{ID: 2, CountryCode: "JP", Name: "b", Centroid: unit(5), ArticleCount: 1},
				{ID: 3, CountryCode: "US", Name: "c", Centroid: unit(10), ArticleCount: 1},
			},
			want: 1,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			labeler := &fakeLabeler{label: Label{Name: "Summit", Category: "World"}}
			merger := NewMerger(DefaultGlobalThreshold, labeler, 2, zerolog.Nop())
			result, err := merger.Merge(context.Background(), tc.topics)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(result.Megatopics) != tc.want {
				t.Fatalf("unexpected megatopics: got %d want %d (%+v)", len(result.Megatopics), tc.want, result)
			}
		})
	}
}

func TestMergeKeepsDistantTopicsApart(t *testing.T) {
	t.Parallel()

	topics := []NationalTopic{
		{ID: 1, CountryCode: "KR", Name: "quake", Centroid: unit(0), ArticleCount: 1},
		{ID: 2, CountryCode: "JP", Name: "quake", Centroid: unit(3), ArticleCount: 1},
		{ID: 3, CountryCode: "US", Name: "election", Centroid: unit(90), ArticleCount: 1},
	}
	labeler := &fakeLabeler{label: Label{Name: "x"}}
	result, err := NewMerger(DefaultGlobalThreshold, labeler, 1, zerolog.Nop()).Merge(context.Background(), topics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Megatopics) != 0 || result.Dropped != 2 {
		t.Fatalf("expected both groups dropped, got %+v", result)
	}
	if labeler.Calls() != 0 {
		t.Fatalf("labeler should not run for unqualified groups, got %d calls", labeler.Calls())
	}
}

func TestMergeOutlierRemovalCanDisqualify(t *testing.T) {
	t.Parallel()

	topics := []NationalTopic{
		{ID: 1, CountryCode: "KR", Name: "a", Centroid: unit(0), ArticleCount: 1},
		{ID: 2, CountryCode: "JP", Name: "b", Centroid: unit(5), ArticleCount: 1},
		{ID: 3, CountryCode: "US", Name: "c", Centroid: unit(10), ArticleCount: 1},
	}
	labeler := &fakeLabeler{label: Label{Name: "Summit", Outliers: []int{2, 2, 9}}}
	result, err := NewMerger(DefaultGlobalThreshold, labeler, 1, zerolog.Nop()).Merge(context.Background(), topics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Megatopics) != 0 || result.DroppedAfterOutliers != 1 {
		t.Fatalf("expected cluster dropped after outliers, got %+v", result)
	}
}

func TestMergeIgnoresOutliersCoveringEveryMember(t *testing.T) {
	t.Parallel()

	topics := []NationalTopic{
		{ID: 1, CountryCode: "KR", Name: "a", Centroid: unit(0), ArticleCount: 1},
		{ID: 2, CountryCode: "JP", Name: "b", Centroid: unit(0), ArticleCount: 1},
		{ID: 3, CountryCode: "US", Name: "c", Centroid: unit(0), ArticleCount: 1},
	}
	labeler := &fakeLabeler{label: Label{Name: "Summit", Outliers: []int{0, 1, 2}}}
	result, err := NewMerger(DefaultGlobalThreshold, labeler, 1, zerolog.Nop()).Merge(context.Background(), topics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Megatopics) != 1 || result.DroppedAfterOutliers != 0 {
		t.Fatalf("expected the whole cluster kept, got %+v", result)
	}
	if got := result.Megatopics[0].TopicIDs(); !reflect.DeepEqual(got, []int64{1, 2, 3}) {
		t.Fatalf("unexpected members: %v", got)
	}
	if len(result.Megatopics[0].Outliers) != 0 {
		t.Fatalf("no member should be reported as an outlier, got %+v", result.Megatopics[0].Outliers)
	}
}

func TestMergeOutlierRemovalKeepsQualifiedCore(t *testing.T) {
	t.Parallel()

	topics := []NationalTopic{
		{ID: 1, CountryCode: "KR", Name: "a", Centroid: unit(0), ArticleCount: 2},
		{ID: 2, CountryCode: "JP", Name: "b", Centroid: unit(5), ArticleCount: 2},
		{ID: 3, CountryCode: "US", Name: "c", Centroid: unit(10), ArticleCount: 2},
		{ID: 4, CountryCode: "DE", Name: "d", Centroid: unit(12), ArticleCount: 6},
	}
	labeler := &fakeLabeler{label: Label{Name: "Summit", Keywords: []string{"g7"}, Category: "World", Outliers: []int{3}}}
	result, err := NewMerger(DefaultGlobalThreshold, labeler, 1, zerolog.Nop()).Merge(context.Background(), topics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Megatopics) != 1 {
		t.Fatalf("expected one megatopic, got %+v", result)
	}
	mega := result.Megatopics[0]
	if !reflect.DeepEqual(mega.TopicIDs(), []int64{1, 2, 3}) {
		t.Fatalf("unexpected members: %v", mega.TopicIDs())
	}
	if len(mega.Outliers) != 1 || mega.Outliers[0].ID != 4 {
		t.Fatalf("unexpected outliers: %+v", mega.Outliers)
	}
	if !reflect.DeepEqual(mega.Countries, []string{"JP", "KR", "US"}) {
		t.Fatalf("unexpected countries: %v", mega.Countries)
	}
	if mega.TotalArticles != 6 {
		t.Fatalf("unexpected total articles: got %d want 6", mega.TotalArticles)
	}
	if mega.Fallback {
		t.Fatalf("labeled megatopic should not be flagged as fallback")
	}
}

func TestMergeFallsBackWhenLabelerFails(t *testing.T) {
	t.Parallel()

	topics := []NationalTopic{
		{ID: 1, CountryCode: "KR", Name: "small", Centroid: unit(0), ArticleCount: 1},
		{ID: 2, CountryCode: "JP", Name: "largest", Centroid: unit(5), ArticleCount: 4},
		{ID: 3, CountryCode: "US", Name: "tied", Centroid: unit(10), ArticleCount: 4},
	}
	labeler := &fakeLabeler{err: errors.New("quota exceeded")}
	result, err := NewMerger(DefaultGlobalThreshold, labeler, 1, zerolog.Nop()).Merge(context.Background(), topics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Megatopics) != 1 || result.Fallbacks != 1 {
		t.Fatalf("expected one fallback megatopic, got %+v", result)
	}
	label := result.Megatopics[0].Label
	if label.Name != "largest" {
		t.Fatalf("unexpected fallback name: got %q want %q", label.Name, "largest")
	}
	if label.Category != CategoryUnclassified || len(label.Keywords) != 0 || len(label.Outliers) != 0 {
		t.Fatalf("unexpected fallback label: %+v", label)
	}
	if len(result.Megatopics[0].Members) != 3 {
		t.Fatalf("fallback must not remove members")
	}
}

func TestMergeSkipsUnusableCentroids(t *testing.T) {
	t.Parallel()

	topics := []NationalTopic{
		{ID: 1, CountryCode: "KR", Name: "a", Centroid: nil, ArticleCount: 9},
		{ID: 2, CountryCode: "JP", Name: "b", Centroid: unit(0), ArticleCount: 0},
		{ID: 3, CountryCode: "US", Name: "c", Centroid: unit(0), ArticleCount: 5},
	}
	result, err := NewMerger(DefaultGlobalThreshold, nil, 1, zerolog.Nop()).Merge(context.Background(), topics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Skipped) != 2 {
		t.Fatalf("unexpected skipped: %+v", result.Skipped)
	}
	if len(result.Megatopics) != 1 || !result.Megatopics[0].Fallback {
		t.Fatalf("expected one fallback megatopic without a labeler, got %+v", result)
	}
}
