package history

import (
	"math"
	"testing"
	"time"
)

func ptr(v float64) *float64 {
	return &v
}

func TestStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		hasPrevious bool
		drift       *float64
		want        string
	}{
		{name: "new topic", hasPrevious: false, drift: nil, want: StatusForming},
		{name: "unknown drift", hasPrevious: true, drift: nil, want: StatusMature},
		{name: "large drift", hasPrevious: true, drift: ptr(0.2), want: StatusStrengthening},
		{name: "at strengthening boundary", hasPrevious: true, drift: ptr(0.15), want: StatusMature},
		{name: "moderate drift", hasPrevious: true, drift: ptr(0.06), want: StatusMature},
		{name: "at mature boundary", hasPrevious: true, drift: ptr(0.05), want: StatusWeakening},
		{name: "still", hasPrevious: true, drift: ptr(0), want: StatusWeakening},
	}

	for _, tc := range cases {
		if got := Status(tc.hasPrevious, tc.drift); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestStormCategory(t *testing.T) {
	t.Parallel()

	cases := []struct {
		articles  int
		countries int
		want      int
	}{
		{articles: 19, countries: 1, want: 1},
		{articles: 10, countries: 2, want: 2},
		{articles: 49, countries: 1, want: 2},
		{articles: 25, countries: 2, want: 3},
		{articles: 33, countries: 3, want: 3},
		{articles: 34, countries: 3, want: 4},
		{articles: 50, countries: 3, want: 5},
		{articles: 0, countries: 0, want: 1},
	}

	for _, tc := range cases {
		if got := StormCategory(tc.articles, tc.countries); got != tc.want {
			t.Fatalf("StormCategory(%d, %d): got %d want %d", tc.articles, tc.countries, got, tc.want)
		}
	}
}

func TestDrift(t *testing.T) {
	t.Parallel()

	if d := Drift([]float64{1, 0}, []float64{0, 1}); d == nil || math.Abs(*d-1) > 1e-12 {
		t.Fatalf("unexpected orthogonal drift: %v", d)
	}
	if d := Drift([]float64{1, 1}, []float64{2, 2}); d == nil || math.Abs(*d) > 1e-12 {
		t.Fatalf("unexpected parallel drift: %v", d)
	}
	if d := Drift(nil, []float64{1}); d != nil {
		t.Fatalf("expected nil drift without previous centroid, got %v", *d)
	}
	if d := Drift([]float64{1, 0}, []float64{1, 0, 0}); d != nil {
		t.Fatalf("expected nil drift on dimension mismatch, got %v", *d)
	}
}

func TestNext(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 4, 2, 23, 30, 0, 0, time.FixedZone("KST", 9*3600))
	first := Next(nil, 7, now, 12, 2, []float64{1, 0})
	if first.Status != StatusForming || first.DriftScore != nil {
		t.Fatalf("unexpected first snapshot: %+v", first)
	}
	if got := first.Date.Format(SnapshotDateLayout); got != "2026-04-02" {
		t.Fatalf("unexpected snapshot day: got %s", got)
	}
	if first.StormCategory != 2 {
		t.Fatalf("unexpected storm category: got %d want 2", first.StormCategory)
	}

	second := Next(&first, 7, now.Add(24*time.Hour), 30, 4, []float64{0.8, 0.6})
	if second.DriftScore == nil || math.Abs(*second.DriftScore-0.2) > 1e-9 {
		t.Fatalf("unexpected drift: %v", second.DriftScore)
	}
	if second.Status != StatusStrengthening {
		t.Fatalf("unexpected status: got %q", second.Status)
	}
}
