package sweep

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/newstoss/internal/matcher"
)

const (
	DefaultThreshold = 0.65
	DefaultLimit     = 2000

	ReasonExact = "exact"
	ReasonFuzzy = "fuzzy"

	maxPasses = 10
)

// Topic is one sweep candidate. National topics carry their country and are
// only ever grouped with topics of the same country; megatopics leave it empty.
type Topic struct {
	ID           int64
	Country      string
	Title        string
	ArticleCount int
}

// Group is a set of duplicate topics and the one that survives.
type Group struct {
	Winner Topic
	Losers []Topic
	Reason string
}

func (g Group) LoserIDs() []int64 {
	ids := make([]int64, len(g.Losers))
	for i, loser := range g.Losers {
		ids[i] = loser.ID
	}
	return ids
}

type MergeStats struct {
	ArticlesMoved  int64
	StatsDeleted   int64
	HistoryDeleted int64
	TopicsDeleted  int64
}

// Store loads recent topics and merges a group atomically: the winner absorbs
// the loser article ids, loser articles are re-pointed, then loser stats,
// loser history and finally the loser rows are deleted.
type Store interface {
	RecentTopics(ctx context.Context, kind string, limit int) ([]Topic, error)
	MergeTopics(ctx context.Context, kind string, winnerID int64, loserIDs []int64) (MergeStats, error)
}

type Options struct {
	Threshold float64
	Limit     int
	DryRun    bool
}

type Result struct {
	Scanned       int
	Groups        int
	ExactGroups   int
	FuzzyGroups   int
	TopicsMerged  int64
	ArticlesMoved int64
	Failed        int
	Passes        int
	Planned       []Group
}

type Sweep struct {
	store  Store
	logger zerolog.Logger
}

func New(store Store, logger zerolog.Logger) *Sweep {
	return &Sweep{store: store, logger: logger}
}

// Run merges duplicate topics among the most recent ones until a pass finds
// nothing left to merge, so an immediate second run is a no-op.
func (s *Sweep) Run(ctx context.Context, kind string, opts Options) (Result, error) {
	if s == nil || s.store == nil {
		return Result{}, fmt.Errorf("sweep is not initialized")
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var result Result
	failedWinners := make(map[int64]struct{})

	for pass := 0; pass < maxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		topics, err := s.store.RecentTopics(ctx, kind, limit)
		if err != nil {
			return result, fmt.Errorf("load recent %s topics: %w", kind, err)
		}
		if pass == 0 {
			result.Scanned = len(topics)
		}

		groups := Plan(topics, threshold)
		pending := groups[:0]
		for _, group := range groups {
			if _, failed := failedWinners[group.Winner.ID]; failed {
				continue
			}
			pending = append(pending, group)
		}
		if len(pending) == 0 {
			break
		}
		result.Passes++

		if opts.DryRun {
			result.Planned = append(result.Planned, pending...)
			countGroups(&result, pending)
			break
		}

		for _, group := range pending {
			merged, err := s.store.MergeTopics(ctx, kind, group.Winner.ID, group.LoserIDs())
			if err != nil {
				result.Failed++
				failedWinners[group.Winner.ID] = struct{}{}
				s.logger.Error().
					Err(err).
					Str("kind", kind).
					Int64("winner_id", group.Winner.ID).
					Ints64("loser_ids", group.LoserIDs()).
					Msg("duplicate merge failed")
				continue
			}
			countGroups(&result, []Group{group})
			result.TopicsMerged += merged.TopicsDeleted
			result.ArticlesMoved += merged.ArticlesMoved
			s.logger.Info().
				Str("kind", kind).
				Str("reason", group.Reason).
				Int64("winner_id", group.Winner.ID).
				Str("winner_title", group.Winner.Title).
				Ints64("loser_ids", group.LoserIDs()).
				Int64("articles_moved", merged.ArticlesMoved).
				Msg("merged duplicate topics")
		}
	}
	return result, nil
}

func countGroups(result *Result, groups []Group) {
	for _, group := range groups {
		result.Groups++
		if group.Reason == ReasonExact {
			result.ExactGroups++
		} else {
			result.FuzzyGroups++
		}
	}
}

// Plan groups topics by exact title first, then greedily joins exact groups
// whose titles reach threshold against the group seed. Topics are partitioned
// by country before grouping and visited newest first. Only groups with at
// least two topics are returned.
func Plan(topics []Topic, threshold float64) []Group {
	ordered := append([]Topic(nil), topics...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID > ordered[j].ID })

	var countries []string
	byCountry := make(map[string][]Topic)
	for _, topic := range ordered {
		country := strings.ToUpper(strings.TrimSpace(topic.Country))
		if _, ok := byCountry[country]; !ok {
			countries = append(countries, country)
		}
		byCountry[country] = append(byCountry[country], topic)
	}

	var groups []Group
	for _, country := range countries {
		groups = append(groups, planPartition(byCountry[country], threshold)...)
	}
	return groups
}

func planPartition(ordered []Topic, threshold float64) []Group {
	type exactGroup struct {
		title   string
		members []Topic
	}
	var exact []*exactGroup
	byTitle := make(map[string]*exactGroup)
	for _, topic := range ordered {
		key := normalizeTitle(topic.Title)
		if key == "" {
			continue
		}
		group, ok := byTitle[key]
		if !ok {
			group = &exactGroup{title: key}
			byTitle[key] = group
			exact = append(exact, group)
		}
		group.members = append(group.members, topic)
	}

	assigned := make([]bool, len(exact))
	var groups []Group
	for i := range exact {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		members := append([]Topic(nil), exact[i].members...)
		reason := ReasonExact
		for j := i + 1; j < len(exact); j++ {
			if assigned[j] {
				continue
			}
			if matcher.Ratio(exact[i].title, exact[j].title) >= threshold {
				assigned[j] = true
				members = append(members, exact[j].members...)
				reason = ReasonFuzzy
			}
		}
		if len(members) < 2 {
			continue
		}
		groups = append(groups, newGroup(members, reason))
	}
	return groups
}

func newGroup(members []Topic, reason string) Group {
	winner := 0
	for i := 1; i < len(members); i++ {
		if Outranks(members[i], members[winner]) {
			winner = i
		}
	}
	group := Group{Winner: members[winner], Reason: reason}
	for i, member := range members {
		if i != winner {
			group.Losers = append(group.Losers, member)
		}
	}
	sort.Slice(group.Losers, func(i, j int) bool { return group.Losers[i].ID < group.Losers[j].ID })
	return group
}

// Outranks orders duplicates: more articles first, then the higher id.
func Outranks(a, b Topic) bool {
	if a.ArticleCount != b.ArticleCount {
		return a.ArticleCount > b.ArticleCount
	}
	return a.ID > b.ID
}

// normalizeTitle folds case and whitespace.
func normalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
