package cluster

import (
	"fmt"
	"sort"
	"time"

	"horse.fit/newstoss/internal/similarity"
)

const (
	DefaultNationalThreshold = 0.60

	// MinTopicSize is the smallest cluster not flagged as noise. Noise
	// clusters are still returned and persisted.
	MinTopicSize = 3
)

// Order selects the iteration order of the greedy pass. The pass is
// order-sensitive, so callers pick one explicitly.
type Order int

const (
	OrderByID Order = iota
	OrderByPublished
	OrderAsGiven
)

func ParseOrder(raw string) (Order, error) {
	switch raw {
	case "", "id":
		return OrderByID, nil
	case "published":
		return OrderByPublished, nil
	case "given":
		return OrderAsGiven, nil
	default:
		return OrderByID, fmt.Errorf("unknown cluster order %q (want id, published or given)", raw)
	}
}

type Item struct {
	ID          int64
	CountryCode string
	PublishedAt time.Time
	Embedding   []float64
}

type Skipped struct {
	ID     int64
	Reason string
}

type Cluster struct {
	SeedID    int64
	MemberIDs []int64
	Centroid  []float64
	// Cohesion is the mean similarity of members to the seed.
	Cohesion float64
}

func (c Cluster) Noise() bool {
	return len(c.MemberIDs) < MinTopicSize
}

type NationalResult struct {
	Clusters []Cluster
	Skipped  []Skipped
}

// National runs greedy leader clustering: each unassigned item in iteration
// order seeds a cluster and claims every later unassigned item whose cosine
// to the seed is at least threshold. A later item is bound to the first seed
// that claims it even if another seed is closer.
func National(items []Item, threshold float64, order Order) (NationalResult, error) {
	ordered := append([]Item(nil), items...)
	sortItems(ordered, order)
	usable, skipped := filterItems(ordered)

	result := NationalResult{Skipped: skipped}
	if len(usable) == 0 {
		return result, nil
	}

	vectors := make([][]float64, len(usable))
	for i := range usable {
		vectors[i] = usable[i].Embedding
	}
	sims, err := similarity.NewMatrix(vectors)
	if err != nil {
		return NationalResult{}, fmt.Errorf("build similarity matrix: %w", err)
	}

	for _, group := range leader(sims, threshold) {
		members := make([][]float64, len(group))
		ids := make([]int64, len(group))
		cohesion := 0.0
		for k, idx := range group {
			members[k] = vectors[idx]
			ids[k] = usable[idx].ID
			cohesion += sims.At(group[0], idx)
		}
		centroid, err := similarity.Mean(members)
		if err != nil {
			return NationalResult{}, fmt.Errorf("centroid for seed %d: %w", ids[0], err)
		}
		result.Clusters = append(result.Clusters, Cluster{
			SeedID:    ids[0],
			MemberIDs: ids,
			Centroid:  centroid,
			Cohesion:  cohesion / float64(len(group)),
		})
	}
	return result, nil
}

// leader returns index groups in seed order; members keep iteration order.
func leader(sims *similarity.Matrix, threshold float64) [][]int {
	n := sims.Len()
	assigned := make([]bool, n)
	groups := make([][]int, 0)
	for i := 0; i < n; i++ {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		group := []int{i}
		for j := i + 1; j < n; j++ {
			if assigned[j] {
				continue
			}
			if sims.At(i, j) >= threshold {
				assigned[j] = true
				group = append(group, j)
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// filterItems drops items whose embedding cannot join the similarity math.
// The first usable embedding fixes the dimension for the pass.
func filterItems(items []Item) ([]Item, []Skipped) {
	usable := make([]Item, 0, len(items))
	var skipped []Skipped
	dim := 0
	for _, item := range items {
		switch {
		case len(item.Embedding) == 0:
			skipped = append(skipped, Skipped{ID: item.ID, Reason: "missing embedding"})
			continue
		case !similarity.Usable(item.Embedding, 0):
			skipped = append(skipped, Skipped{ID: item.ID, Reason: "non-finite embedding"})
			continue
		case dim != 0 && len(item.Embedding) != dim:
			skipped = append(skipped, Skipped{
				ID:     item.ID,
				Reason: fmt.Sprintf("embedding has %d dims, want %d", len(item.Embedding), dim),
			})
			continue
		}
		if dim == 0 {
			dim = len(item.Embedding)
		}
		usable = append(usable, item)
	}
	return usable, skipped
}

func sortItems(items []Item, order Order) {
	switch order {
	case OrderAsGiven:
		return
	case OrderByPublished:
		sort.SliceStable(items, func(i, j int) bool {
			if !items[i].PublishedAt.Equal(items[j].PublishedAt) {
				return items[i].PublishedAt.Before(items[j].PublishedAt)
			}
			return items[i].ID < items[j].ID
		})
	default:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].ID < items[j].ID
		})
	}
}
