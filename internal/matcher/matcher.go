package matcher

import (
	"fmt"
	"strings"
	"time"

	"horse.fit/newstoss/internal/similarity"
)

const (
	DefaultTitleThreshold    = 0.75
	DefaultSemanticThreshold = 0.85
	DefaultWindow            = 72 * time.Hour
)

// Candidate is a freshly computed cluster looking for a persisted home.
type Candidate struct {
	Title     string
	Centroid  []float64
	MemberIDs []int64
}

// Record is a persisted topic or megatopic inside the match window.
type Record struct {
	ID           int64
	Title        string
	Centroid     []float64
	ArticleIDs   []int64
	ArticleCount int
	CreatedAt    time.Time
}

type Decision struct {
	Matched       bool
	Record        Record
	TitleScore    float64
	SemanticScore float64
	// Passed counts records that cleared both gates.
	Passed int
	// Corrupt lists records skipped because their centroid was unusable.
	Corrupt []int64
}

type Matcher struct {
	titleThreshold    float64
	semanticThreshold float64
}

func New(titleThreshold, semanticThreshold float64) *Matcher {
	if titleThreshold <= 0 {
		titleThreshold = DefaultTitleThreshold
	}
	if semanticThreshold <= 0 {
		semanticThreshold = DefaultSemanticThreshold
	}
	return &Matcher{
		titleThreshold:    titleThreshold,
		semanticThreshold: semanticThreshold,
	}
}

// Decide returns the best history record for c. A record matches only when
// the case-folded title ratio exceeds the title threshold AND the centroid
// cosine exceeds the semantic threshold. Among matches the highest title ratio wins, then the
// higher cosine, then the higher id.
func (m *Matcher) Decide(c Candidate, history []Record) Decision {
	var decision Decision
	title := foldTitle(c.Title)
	dim := len(c.Centroid)
	if !similarity.Usable(c.Centroid, 0) {
		return decision
	}

	for _, record := range history {
		if !similarity.Usable(record.Centroid, dim) {
			decision.Corrupt = append(decision.Corrupt, record.ID)
			continue
		}

		titleScore := Ratio(title, foldTitle(record.Title))
		if titleScore <= m.titleThreshold {
			continue
		}
		semanticScore := similarity.Cosine(c.Centroid, record.Centroid)
		if !m.Matches(titleScore, semanticScore) {
			continue
		}

		decision.Passed++
		if !decision.Matched || better(titleScore, semanticScore, record.ID, decision) {
			decision.Matched = true
			decision.Record = record
			decision.TitleScore = titleScore
			decision.SemanticScore = semanticScore
		}
	}
	return decision
}

// Matches is the AND-gate: both scores must exceed their thresholds.
func (m *Matcher) Matches(titleScore, semanticScore float64) bool {
	return titleScore > m.titleThreshold && semanticScore > m.semanticThreshold
}

func better(titleScore, semanticScore float64, id int64, current Decision) bool {
	if titleScore != current.TitleScore {
		return titleScore > current.TitleScore
	}
	if semanticScore != current.SemanticScore {
		return semanticScore > current.SemanticScore
	}
	return id > current.Record.ID
}

// Update is the new state of a matched record.
type Update struct {
	ID         int64
	Centroid   []float64
	ArticleIDs []int64
	AddedIDs   []int64
}

// Absorb blends c into record. The centroid is the count-weighted mean of the
// old centroid (weight: record article count) and the candidate centroid
// (weight: members not already on the record). Existing article ids are kept
// first; a candidate that adds nothing leaves the centroid unchanged.
func Absorb(record Record, c Candidate) (Update, error) {
	nOld := record.ArticleCount
	if nOld <= 0 {
		nOld = len(record.ArticleIDs)
	}
	merged, added := UnionIDs(record.ArticleIDs, c.MemberIDs)
	nNew := len(added)
	if nOld == 0 && nNew == 0 {
		return Update{}, fmt.Errorf("record %d and candidate are both empty", record.ID)
	}

	centroid := append([]float64(nil), record.Centroid...)
	if nNew > 0 {
		var err error
		centroid, err = similarity.Blend(record.Centroid, nOld, c.Centroid, nNew)
		if err != nil {
			return Update{}, fmt.Errorf("blend record %d: %w", record.ID, err)
		}
	}

	return Update{
		ID:         record.ID,
		Centroid:   centroid,
		ArticleIDs: merged,
		AddedIDs:   added,
	}, nil
}

func foldTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// UnionIDs appends ids from next that are not already in existing. It returns
// the union and the newly added ids.
func UnionIDs(existing, next []int64) ([]int64, []int64) {
	seen := make(map[int64]struct{}, len(existing)+len(next))
	union := make([]int64, 0, len(existing)+len(next))
	for _, id := range existing {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		union = append(union, id)
	}
	var added []int64
	for _, id := range next {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		union = append(union, id)
		added = append(added, id)
	}
	return union, added
}
