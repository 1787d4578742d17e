package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PublishResult counts the rows touched by one batch swap.
type PublishResult struct {
	BatchID               string `json:"batch_id"`
	AssignedTopics        int64  `json:"assigned_topics"`
	AssignedMegatopics    int64  `json:"assigned_megatopics"`
	UnpublishedTopics     int64  `json:"unpublished_topics"`
	UnpublishedMegatopics int64  `json:"unpublished_megatopics"`
	PublishedTopics       int64  `json:"published_topics"`
	PublishedMegatopics   int64  `json:"published_megatopics"`
}

// PublishBatch makes batchID the only visible batch. With assignPending set,
// unpublished rows without a batch are first stamped with batchID. All of it
// runs in one transaction so readers never see two batches or none.
func (p *Pool) PublishBatch(ctx context.Context, batchID string, assignPending bool, now time.Time) (PublishResult, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return PublishResult{}, fmt.Errorf("batch id is required")
	}

	result := PublishResult{BatchID: batchID}
	err := p.WithTx(ctx, func(tx Tx) error {
		for _, target := range []struct {
			table       string
			assigned    *int64
			unpublished *int64
			published   *int64
		}{
			{"newstoss.topics", &result.AssignedTopics, &result.UnpublishedTopics, &result.PublishedTopics},
			{"newstoss.megatopics", &result.AssignedMegatopics, &result.UnpublishedMegatopics, &result.PublishedMegatopics},
		} {
			if assignPending {
				q := `UPDATE ` + target.table + ` SET batch_id = $1, updated_at = $2 WHERE batch_id IS NULL AND NOT is_published`
				tag, err := tx.Exec(ctx, q, batchID, now.UTC())
				if err != nil {
					return fmt.Errorf("assign batch %s on %s: %w", batchID, target.table, err)
				}
				*target.assigned = tag.RowsAffected()
			}

			unpublish := `UPDATE ` + target.table + ` SET is_published = FALSE, updated_at = $2 WHERE is_published AND batch_id IS DISTINCT FROM $1`
			tag, err := tx.Exec(ctx, unpublish, batchID, now.UTC())
			if err != nil {
				return fmt.Errorf("unpublish old batches on %s: %w", target.table, err)
			}
			*target.unpublished = tag.RowsAffected()

			publish := `UPDATE ` + target.table + ` SET is_published = TRUE, updated_at = $2 WHERE batch_id = $1 AND NOT is_published`
			tag, err = tx.Exec(ctx, publish, batchID, now.UTC())
			if err != nil {
				return fmt.Errorf("publish batch %s on %s: %w", batchID, target.table, err)
			}
			*target.published = tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return PublishResult{}, err
	}
	return result, nil
}
