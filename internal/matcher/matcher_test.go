package matcher

import (
	"math"
	"reflect"
	"strings"
	"testing"
)

func vecWithCosine(c float64) []float64 {
	return []float64{c, math.Sqrt(1 - c*c)}
}

func TestRatio(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want float64
	}{
		{a: "abcd", b: "bcde", want: 0.75},
		{a: "abxcd", b: "abcd", want: 8.0 / 9.0},
		{a: "Earthquake hits Tokyo", b: "Earthquake hits Tokyo again", want: 0.875},
		{a: "Earthquake hits Tokyo", b: "Election results announced", want: 0.2978723404255319},
		{a: "서울 집값 급등", b: "서울 집값 급락", want: 0.875},
		{a: "", b: "", want: 1},
		{a: "a", b: "", want: 0},
		{
			a:    strings.Repeat("the quick brown fox jumps over the lazy dog ", 6),
			b:    strings.Repeat("the quick brown cat jumps over the lazy dog ", 6),
			want: 0.06060606060606061,
		},
	}

	for _, tc := range cases {
		if got := Ratio(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("Ratio(%q, %q): got %v want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestMatchesIsAndGate(t *testing.T) {
	t.Parallel()

	m := New(DefaultTitleThreshold, DefaultSemanticThreshold)
	if m.Matches(0.90, 0.70) {
		t.Fatalf("title 0.90 with semantic 0.70 must not match")
	}
	if !m.Matches(0.76, 0.86) {
		t.Fatalf("title 0.76 with semantic 0.86 must match")
	}
	if m.Matches(0.70, 0.99) {
		t.Fatalf("title 0.70 with semantic 0.99 must not match")
	}
	if m.Matches(0.75, 0.86) {
		t.Fatalf("title at exactly the threshold must not match")
	}
}

func TestDecideRequiresBothSignals(t *testing.T) {
	t.Parallel()

	m := New(DefaultTitleThreshold, DefaultSemanticThreshold)
	candidate := Candidate{Title: "Earthquake hits Tokyo", Centroid: []float64{1, 0}, MemberIDs: []int64{10}}

	history := []Record{
		{ID: 1, Title: "Earthquake hits Tokyo again", Centroid: vecWithCosine(0.70), ArticleCount: 4},
		{ID: 2, Title: "Election results announced", Centroid: vecWithCosine(0.99), ArticleCount: 4},
	}
	if decision := m.Decide(candidate, history); decision.Matched {
		t.Fatalf("expected no match, got record %d", decision.Record.ID)
	}

	history = append(history, Record{ID: 3, Title: "Earthquake hits Tokyo again", Centroid: vecWithCosine(0.90), ArticleCount: 2})
	decision := m.Decide(candidate, history)
	if !decision.Matched || decision.Record.ID != 3 {
		t.Fatalf("expected match on record 3, got %+v", decision)
	}
	if math.Abs(decision.TitleScore-0.875) > 1e-9 {
		t.Fatalf("unexpected title score: %v", decision.TitleScore)
	}
}

func TestDecideTieBreak(t *testing.T) {
	t.Parallel()

	m := New(DefaultTitleThreshold, DefaultSemanticThreshold)
	candidate := Candidate{Title: "Earthquake hits Tokyo", Centroid: []float64{1, 0}}

	history := []Record{
		{ID: 1, Title: "Earthquake hits Tokyo again", Centroid: vecWithCosine(0.99)},
		{ID: 2, Title: "Earthquake hits Tokyo", Centroid: vecWithCosine(0.90)},
		{ID: 3, Title: "Earthquake hits Tokyo", Centroid: vecWithCosine(0.90)},
		{ID: 4, Title: "Earthquake hits Tokyo", Centroid: vecWithCosine(0.88)},
	}
	decision := m.Decide(candidate, history)
	if !decision.Matched || decision.Record.ID != 3 {
		t.Fatalf("expected record 3 (best title, best cosine, higher id), got %+v", decision)
	}
	if decision.Passed != 4 {
		t.Fatalf("expected all four records to pass, got %d", decision.Passed)
	}
}

func TestDecideSkipsCorruptCentroids(t *testing.T) {
	t.Parallel()

	m := New(DefaultTitleThreshold, DefaultSemanticThreshold)
	candidate := Candidate{Title: "Earthquake hits Tokyo", Centroid: []float64{1, 0}}
	history := []Record{
		{ID: 1, Title: "Earthquake hits Tokyo", Centroid: nil},
		{ID: 2, Title: "Earthquake hits Tokyo", Centroid: []float64{math.Inf(1), 0}},
		{ID: 3, Title: "Earthquake hits Tokyo", Centroid: []float64{1, 0, 0}},
		{ID: 4, Title: "Earthquake hits Tokyo", Centroid: []float64{1, 0}},
	}
	decision := m.Decide(candidate, history)
	if !reflect.DeepEqual(decision.Corrupt, []int64{1, 2, 3}) {
		t.Fatalf("unexpected corrupt ids: %v", decision.Corrupt)
	}
	if !decision.Matched || decision.Record.ID != 4 {
		t.Fatalf("expected match on record 4, got %+v", decision)
	}
}

func TestAbsorbBlendsAndUnions(t *testing.T) {
	t.Parallel()

	record := Record{ID: 9, Centroid: []float64{1, 0}, ArticleIDs: []int64{1, 2, 3}, ArticleCount: 3}
	candidate := Candidate{Centroid: []float64{0, 1}, MemberIDs: []int64{4}}

	update, err := Absorb(record, candidate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{0.75, 0.25}
	for i := range want {
		if math.Abs(update.Centroid[i]-want[i]) > 1e-12 {
			t.Fatalf("centroid[%d]: got %v want %v", i, update.Centroid[i], want[i])
		}
	}
	if !reflect.DeepEqual(update.ArticleIDs, []int64{1, 2, 3, 4}) {
		t.Fatalf("unexpected article ids: %v", update.ArticleIDs)
	}
	if !reflect.DeepEqual(update.AddedIDs, []int64{4}) {
		t.Fatalf("unexpected added ids: %v", update.AddedIDs)
	}
}

func TestAbsorbWeighsOnlyNewMembers(t *testing.T) {
	t.Parallel()

	record := Record{ID: 9, Centroid: []float64{1, 0}, ArticleIDs: []int64{1, 2}, ArticleCount: 2}
	candidate := Candidate{Centroid: []float64{0, 1}, MemberIDs: []int64{1, 2, 3, 4}}

	update, err := Absorb(record, candidate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{0.5, 0.5}
	for i := range want {
		if math.Abs(update.Centroid[i]-want[i]) > 1e-12 {
			t.Fatalf("centroid[%d]: got %v want %v", i, update.Centroid[i], want[i])
		}
	}

	same, err := Absorb(record, Candidate{Centroid: []float64{0, 1}, MemberIDs: []int64{2, 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(same.Centroid, []float64{1, 0}) || len(same.AddedIDs) != 0 {
		t.Fatalf("candidate without new members should not move the centroid, got %+v", same)
	}
}

func TestDecideFoldsCase(t *testing.T) {
	t.Parallel()

	m := New(DefaultTitleThreshold, DefaultSemanticThreshold)
	candidate := Candidate{Title: "FED HOLDS RATES STEADY AMID INFLATION", Centroid: []float64{1, 0}}
	history := []Record{{ID: 1, Title: "Fed holds rates steady amid inflation", Centroid: vecWithCosine(0.95)}}

	decision := m.Decide(candidate, history)
	if !decision.Matched || decision.TitleScore != 1 {
		t.Fatalf("case-only variants should match with ratio 1, got %+v", decision)
	}
}

func TestUnionIDsNeverDropsExisting(t *testing.T) {
	t.Parallel()

	union, added := UnionIDs([]int64{5, 3, 5}, []int64{3, 7, 7, 1})
	if !reflect.DeepEqual(union, []int64{5, 3, 7, 1}) {
		t.Fatalf("unexpected union: %v", union)
	}
	if !reflect.DeepEqual(added, []int64{7, 1}) {
		t.Fatalf("unexpected added: %v", added)
	}
}
