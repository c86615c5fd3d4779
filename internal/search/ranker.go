package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/doclens/kbase/internal/models"
	"github.com/doclens/kbase/internal/storage"
	"github.com/doclens/kbase/internal/vector"
)

// MinSimilarity is the default similarity floor: a chunk qualifies only when
// its cosine similarity to the query is at least 0.5.
const MinSimilarity = 0.5

// defaultQueryTimeout bounds a single search so a large index cannot block a
// caller indefinitely.
const defaultQueryTimeout = 10 * time.Second

// Config tunes the ranker. Zero values fall back to the package defaults.
type Config struct {
	MinSimilarity float64
	DefaultTopK   int
	MaxTopK       int
}

// Ranker combines the embedding index and the metadata filter into top-K
// retrieval. It is read-only and safe under arbitrary concurrent callers.
type Ranker struct {
	index         vector.EmbeddingIndex
	storage       storage.Storage
	minSimilarity float64
	defaultTopK   int
	maxTopK       int
	logger        *zap.Logger
}

// NewRanker creates a ranker over the given index and storage.
func NewRanker(index vector.EmbeddingIndex, store storage.Storage, cfg Config, logger *zap.Logger) *Ranker {
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = MinSimilarity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{
		index:         index,
		storage:       store,
		minSimilarity: cfg.MinSimilarity,
		defaultTopK:   cfg.DefaultTopK,
		maxTopK:       cfg.MaxTopK,
		logger:        logger,
	}
}

// Search returns the top-K chunks by cosine similarity to the query vector,
// restricted to embeddings whose metadata satisfies the filter and to
// similarities at or above the floor. Chunks not in completed status are
// dropped at hydration; a hit whose chunk row has vanished is skipped, never
// fatal. Zero matches returns an empty slice and no error.
func (r *Ranker) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := query.Validate(); err != nil {
		return nil, err
	}
	query.NormalizeLimit(r.defaultTopK, r.maxTopK)
	filter, err := NewFilter(query.Filter)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	hits, err := r.index.Search(ctx, query.Vector, query.TopK, r.minSimilarity, filter.Matches)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]*models.RankedChunk, 0, len(hits))
	for _, hit := range hits {
		chunk, err := r.storage.GetChunk(ctx, hit.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				r.logger.Warn("indexed chunk missing from storage", zap.String("chunk_id", hit.ID))
				continue
			}
			return nil, fmt.Errorf("hydrate chunk %s: %w", hit.ID, err)
		}
		if chunk.Status != models.StatusCompleted {
			// Reset raced the query; the chunk is no longer searchable.
			r.logger.Debug("skipping non-completed chunk", zap.String("chunk_id", hit.ID), zap.String("status", string(chunk.Status)))
			continue
		}
		results = append(results, &models.RankedChunk{Chunk: chunk, Similarity: hit.Similarity})
	}

	return &models.SearchResponse{
		Results:   results,
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}

// IndexSize returns the number of embeddings currently searchable.
func (r *Ranker) IndexSize() int {
	return r.index.Size()
}
