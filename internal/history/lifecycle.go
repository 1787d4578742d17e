package history

import (
	"time"

	"horse.fit/newstoss/internal/globaltime"
	"horse.fit/newstoss/internal/similarity"
)

const (
	StatusForming       = "forming"
	StatusStrengthening = "strengthening"
	StatusMature        = "mature"
	StatusWeakening     = "weakening"

	strengtheningDrift = 0.15
	matureDrift        = 0.05

	// SnapshotDateLayout keys snapshots by UTC calendar day.
	SnapshotDateLayout = "2006-01-02"
)

// Snapshot is one day of a topic's stats.
type Snapshot struct {
	TopicID       int64
	Date          time.Time
	ArticleCount  int
	CountryCount  int
	Centroid      []float64
	DriftScore    *float64
	Status        string
	StormCategory int
}

// Drift is the cosine distance between consecutive centroids. It is nil when
// either centroid cannot be compared.
func Drift(prev, cur []float64) *float64 {
	if !similarity.Usable(prev, 0) || !similarity.Usable(cur, len(prev)) {
		return nil
	}
	d := 1 - similarity.Cosine(prev, cur)
	return &d
}

// Status classifies a topic from its drift against the previous snapshot.
func Status(hasPrevious bool, drift *float64) string {
	switch {
	case !hasPrevious:
		return StatusForming
	case drift == nil:
		return StatusMature
	case *drift > strengtheningDrift:
		return StatusStrengthening
	case *drift > matureDrift:
		return StatusMature
	default:
		return StatusWeakening
	}
}

// StormCategory buckets intensity (articles x countries) into 1..5.
func StormCategory(articleCount, countryCount int) int {
	intensity := articleCount * countryCount
	switch {
	case intensity < 20:
		return 1
	case intensity < 50:
		return 2
	case intensity < 100:
		return 3
	case intensity < 150:
		return 4
	default:
		return 5
	}
}

// Next builds today's snapshot from the previous one, if any.
func Next(prev *Snapshot, topicID int64, now time.Time, articleCount, countryCount int, centroid []float64) Snapshot {
	snap := Snapshot{
		TopicID:       topicID,
		Date:          Day(now),
		ArticleCount:  articleCount,
		CountryCount:  countryCount,
		Centroid:      centroid,
		StormCategory: StormCategory(articleCount, countryCount),
	}
	if prev != nil {
		snap.DriftScore = Drift(prev.Centroid, centroid)
	}
	snap.Status = Status(prev != nil, snap.DriftScore)
	return snap
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	return globaltime.DayStart(t)
}
