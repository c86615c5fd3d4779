package storage

import (
	"context"
	"fmt"
)

// DefaultResetBatchSize bounds each reset transaction to keep commits short.
const DefaultResetBatchSize = 2000

// ResetEmbeddings invalidates every embedding produced by modelName, moving the
// affected chunks back to pending so the ingestion pipeline re-embeds them
// under the new model. Work proceeds in bounded batches, each committed in its
// own transaction, so a crash or cancellation mid-run leaves a resumable
// frontier: re-running converges to the same end state because the predicate
// "has an embedding for this model" only shrinks. onBatch, when non-nil, is
// called after each commit with the chunk IDs just reset (used to evict them
// from the in-memory index). Returns the total number of chunks reset.
func (s *SQLiteStorage) ResetEmbeddings(ctx context.Context, modelName string, batchSize int, onBatch func(chunkIDs []string)) (int, error) {
	if modelName == "" {
		return 0, fmt.Errorf("model name cannot be empty")
	}
	if batchSize <= 0 {
		batchSize = DefaultResetBatchSize
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		ids, err := s.resetBatch(ctx, modelName, batchSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		total += len(ids)
		if onBatch != nil {
			onBatch(ids)
		}
	}
}

// resetBatch resets up to batchSize chunks in a single self-contained
// transaction: delete their embeddings and move completed chunks to pending.
func (s *SQLiteStorage) resetBatch(ctx context.Context, modelName string, batchSize int) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT chunk_id FROM embeddings WHERE model_name = ? ORDER BY chunk_id LIMIT ?`,
		modelName, batchSize)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, nil
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE chunk_id = ?`, id); err != nil {
			return nil, err
		}
		// Only completed chunks take the sanctioned backward move; chunks
		// already pending/processing/failed keep their state.
		if _, err := tx.ExecContext(ctx,
			`UPDATE chunks SET processing_status = 'pending' WHERE id = ? AND processing_status = 'completed'`,
			id); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}
