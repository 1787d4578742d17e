package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"horse.fit/newstoss/internal/db"
	"horse.fit/newstoss/internal/embed"
	"horse.fit/newstoss/internal/globaltime"
	"horse.fit/newstoss/internal/metrics"
)

type EmbedResult struct {
	Processed int
	Embedded  int
	Skipped   int
	Failed    int
}

// EmbedPending embeds up to limit articles in batches. Vectors with the wrong
// dimension are rejected and their articles stay pending. A provider failure
// ends the run; its batch is counted as failed.
func (s *Service) EmbedPending(ctx context.Context, limit int) (EmbedResult, error) {
	if err := s.ready(); err != nil {
		return EmbedResult{}, err
	}
	if s.embedder == nil {
		return EmbedResult{}, fmt.Errorf("embedding provider is not configured")
	}
	if limit <= 0 {
		return EmbedResult{}, nil
	}

	started := time.Now()
	var (
		result  EmbedResult
		afterID int64
	)
	for result.Processed < limit {
		batchSize := min(s.settings.EmbedBatchSize, limit-result.Processed)
		pending, err := s.store.ListPendingEmbeddings(ctx, afterID, batchSize)
		if err != nil {
			return result, err
		}
		if len(pending) == 0 {
			break
		}
		afterID = pending[len(pending)-1].ID

		texts := make([]string, len(pending))
		for i, article := range pending {
			texts[i] = embed.Input(article.Title, article.Summary)
		}

		vectors, err := s.embedder.Embed(ctx, texts)
		if err == nil && len(vectors) != len(pending) {
			err = fmt.Errorf("embedding response count mismatch: requested=%d returned=%d", len(pending), len(vectors))
		}
		if err != nil {
			result.Processed += len(pending)
			result.Failed += len(pending)
			s.logger.Error().
				Err(err).
				Str("provider", s.embedder.Name()).
				Int64("first_article_id", pending[0].ID).
				Int("batch", len(pending)).
				Msg("embedding batch failed")
			break
		}

		for i, article := range pending {
			result.Processed++
			if err := s.embedder.Check(vectors[i]); err != nil {
				result.Failed++
				event := s.logger.Warn()
				if errors.Is(err, embed.ErrDimensionMismatch) {
					event = s.logger.Error()
				}
				event.Err(err).Int64("article_id", article.ID).Msg("embedding rejected")
				continue
			}

			literal, err := db.Vector32Literal(vectors[i])
			if err != nil {
				result.Failed++
				s.logger.Warn().Err(err).Int64("article_id", article.ID).Msg("embedding literal rejected")
				continue
			}
			stored, err := s.store.SetEmbedding(ctx, article.ID, literal, globaltime.UTC())
			if err != nil {
				return result, err
			}
			if stored {
				result.Embedded++
			} else {
				result.Skipped++
			}
		}
	}

	metrics.RecordStage("embed", started, result.Embedded, result.Failed)
	return result, nil
}
