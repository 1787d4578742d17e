package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/newstoss/internal/similarity"
	"horse.fit/newstoss/internal/stats"
)

const (
	DefaultGlobalThreshold = 0.85
	CategoryUnclassified   = "Unclassified"
	defaultLabelWorkers    = 4
)

// NationalTopic is one persisted national cluster fed into the global merge.
type NationalTopic struct {
	ID           int64
	CountryCode  string
	Name         string
	Centroid     []float64
	ArticleCount int
}

// Label is the naming result for one global cluster. Outliers are member
// indices in the order the names were sent.
type Label struct {
	Name     string
	Keywords []string
	Category string
	Outliers []int
}

type Labeler interface {
	LabelMegatopic(ctx context.Context, names []string) (Label, error)
}

type Megatopic struct {
	Label         Label
	Members       []NationalTopic
	Outliers      []NationalTopic
	Centroid      []float64
	Countries     []string
	TotalArticles int
	Fallback      bool
}

func (m Megatopic) TopicIDs() []int64 {
	ids := make([]int64, len(m.Members))
	for i, member := range m.Members {
		ids[i] = member.ID
	}
	return ids
}

type MergeResult struct {
	Megatopics []Megatopic
	// Dropped counts raw clusters that failed qualification before labeling.
	Dropped int
	// DroppedAfterOutliers counts clusters that lost qualification once
	// outliers were removed.
	DroppedAfterOutliers int
	Fallbacks            int
	Skipped              []Skipped
}

type Merger struct {
	threshold float64
	labeler   Labeler
	workers   int
	logger    zerolog.Logger
}

func NewMerger(threshold float64, labeler Labeler, workers int, logger zerolog.Logger) *Merger {
	if threshold <= 0 {
		threshold = DefaultGlobalThreshold
	}
	if workers <= 0 {
		workers = defaultLabelWorkers
	}
	return &Merger{
		threshold: threshold,
		labeler:   labeler,
		workers:   workers,
		logger:    logger,
	}
}

// Merge groups national topics whose centroids are within the global
// threshold of a seed topic, labels each group, removes outliers and keeps
// only groups passing the qualification rule. Topics are visited in ID order.
func (m *Merger) Merge(ctx context.Context, topics []NationalTopic) (MergeResult, error) {
	if m == nil {
		return MergeResult{}, fmt.Errorf("merger is not initialized")
	}

	ordered := append([]NationalTopic(nil), topics...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var result MergeResult
	usable := make([]NationalTopic, 0, len(ordered))
	dim := 0
	for _, topic := range ordered {
		switch {
		case topic.ArticleCount <= 0:
			result.Skipped = append(result.Skipped, Skipped{ID: topic.ID, Reason: "topic has no articles"})
			continue
		case !similarity.Usable(topic.Centroid, dim):
			result.Skipped = append(result.Skipped, Skipped{ID: topic.ID, Reason: "unusable centroid"})
			continue
		}
		if dim == 0 {
			dim = len(topic.Centroid)
		}
		usable = append(usable, topic)
	}
	if len(usable) == 0 {
		return result, nil
	}

	vectors := make([][]float64, len(usable))
	for i := range usable {
		vectors[i] = usable[i].Centroid
	}
	sims, err := similarity.NewMatrix(vectors)
	if err != nil {
		return MergeResult{}, fmt.Errorf("build centroid matrix: %w", err)
	}

	var candidates [][]NationalTopic
	for _, group := range leader(sims, m.threshold) {
		members := make([]NationalTopic, len(group))
		for k, idx := range group {
			members[k] = usable[idx]
		}
		if !qualifies(members) {
			result.Dropped++
			continue
		}
		candidates = append(candidates, members)
	}

	labels := make([]Label, len(candidates))
	fallback := make([]bool, len(candidates))
	g := new(errgroup.Group)
	g.SetLimit(m.workers)
	for i := range candidates {
		i := i
		g.Go(func() error {
			labels[i], fallback[i] = m.label(ctx, candidates[i])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return MergeResult{}, err
	}

	for i, members := range candidates {
		if fallback[i] {
			result.Fallbacks++
		}
		mega, ok, err := buildMegatopic(members, labels[i])
		if err != nil {
			return MergeResult{}, err
		}
		if !ok {
			result.DroppedAfterOutliers++
			m.logger.Debug().
				Str("name", labels[i].Name).
				Int("outliers", len(labels[i].Outliers)).
				Msg("megatopic dropped after outlier removal")
			continue
		}
		mega.Fallback = fallback[i]
		result.Megatopics = append(result.Megatopics, mega)
	}
	return result, nil
}

func (m *Merger) label(ctx context.Context, members []NationalTopic) (Label, bool) {
	names := make([]string, len(members))
	for i, member := range members {
		names[i] = member.Name
	}

	if m.labeler == nil {
		return FallbackLabel(members), true
	}

	label, err := m.labeler.LabelMegatopic(ctx, names)
	if err != nil {
		m.logger.Warn().
			Err(err).
			Int64("seed_topic_id", members[0].ID).
			Int("members", len(members)).
			Msg("megatopic labeling failed, using fallback")
		return FallbackLabel(members), true
	}

	label.Name = strings.TrimSpace(label.Name)
	if label.Name == "" {
		label.Name = FallbackLabel(members).Name
	}
	if strings.TrimSpace(label.Category) == "" {
		label.Category = CategoryUnclassified
	}
	label.Outliers = cleanIndices(label.Outliers, len(members))
	if len(label.Outliers) == len(members) {
		label.Outliers = nil
	}
	return label, false
}

// FallbackLabel names a cluster after its largest member. Ties go to the
// earlier member.
func FallbackLabel(members []NationalTopic) Label {
	best := 0
	for i := 1; i < len(members); i++ {
		if members[i].ArticleCount > members[best].ArticleCount {
			best = i
		}
	}
	name := ""
	if len(members) > 0 {
		name = members[best].Name
	}
	return Label{
		Name:     name,
		Keywords: []string{},
		Category: CategoryUnclassified,
		Outliers: nil,
	}
}

func buildMegatopic(members []NationalTopic, label Label) (Megatopic, bool, error) {
	outlierSet := make(map[int]struct{}, len(label.Outliers))
	for _, idx := range label.Outliers {
		outlierSet[idx] = struct{}{}
	}

	mega := Megatopic{Label: label}
	for i, member := range members {
		if _, out := outlierSet[i]; out {
			mega.Outliers = append(mega.Outliers, member)
			continue
		}
		mega.Members = append(mega.Members, member)
	}
	if len(mega.Members) == 0 || !qualifies(mega.Members) {
		return Megatopic{}, false, nil
	}

	vectors := make([][]float64, len(mega.Members))
	weights := make([]int, len(mega.Members))
	countries := make(map[string]struct{})
	for i, member := range mega.Members {
		vectors[i] = member.Centroid
		weights[i] = member.ArticleCount
		countries[stats.NormalizeCountry(member.CountryCode)] = struct{}{}
		mega.TotalArticles += member.ArticleCount
	}
	centroid, err := similarity.WeightedMean(vectors, weights)
	if err != nil {
		return Megatopic{}, false, fmt.Errorf("megatopic centroid: %w", err)
	}
	mega.Centroid = centroid
	for code := range countries {
		mega.Countries = append(mega.Countries, code)
	}
	sort.Strings(mega.Countries)
	return mega, true, nil
}

func qualifies(members []NationalTopic) bool {
	countries := make(map[string]struct{})
	total := 0
	for _, member := range members {
		countries[stats.NormalizeCountry(member.CountryCode)] = struct{}{}
		total += member.ArticleCount
	}
	return stats.Qualifies(len(countries), total)
}

// cleanIndices drops out-of-range and repeated indices, keeping first-seen order.
func cleanIndices(indices []int, n int) []int {
	out := make([]int, 0, len(indices))
	seen := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out
}
