package pipeline

import (
	"context"
	"fmt"

	"horse.fit/newstoss/internal/db"
)

type RunOnceResult struct {
	Cluster ClusterAllResult
	Merge   MergeResult
	Dedup   []DedupResult
	Publish db.PublishResult
}

// RunOnce runs one full cycle: every country, then the global merge once all
// countries are done, then deduplication of both kinds and a fresh publish
// batch.
func (s *Service) RunOnce(ctx context.Context) (RunOnceResult, error) {
	var result RunOnceResult

	clustered, err := s.ClusterAll(ctx)
	result.Cluster = clustered
	if err != nil {
		return result, fmt.Errorf("cluster countries: %w", err)
	}

	merged, err := s.MergeGlobal(ctx)
	result.Merge = merged
	if err != nil {
		return result, fmt.Errorf("merge global: %w", err)
	}

	for _, kind := range []string{db.KindNational, db.KindGlobal} {
		deduped, err := s.Deduplicate(ctx, kind, false)
		result.Dedup = append(result.Dedup, deduped)
		if err != nil {
			return result, fmt.Errorf("deduplicate %s: %w", kind, err)
		}
	}

	published, err := s.PublishBatch(ctx, "")
	result.Publish = published
	if err != nil {
		return result, err
	}
	return result, nil
}
