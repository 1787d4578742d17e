package globaltime

import (
	"testing"
	"time"
)

func TestDayStart(t *testing.T) {
	t.Parallel()

	kst := time.FixedZone("KST", 9*3600)
	got := DayStart(time.Date(2026, 3, 2, 1, 4, 5, 0, kst))
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestToday(t *testing.T) {
	t.Parallel()

	start, end := Today()
	if end.Sub(start) != 24*time.Hour {
		t.Fatalf("unexpected day length: got %v want 24h", end.Sub(start))
	}
	if now := UTC(); now.Before(start) || !now.Before(end.Add(time.Minute)) {
		t.Fatalf("now %v outside [%v, %v)", now, start, end)
	}
}
