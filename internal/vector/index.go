// Package vector provides the embedding index and similarity search primitives.
package vector

import "context"

// Metadata is the structured attributes attached to an embedding entry,
// used by metadata filters to restrict similarity candidate sets.
type Metadata map[string]string

// EmbeddingIndex defines embedding storage and filtered similarity search.
// Implementations must allow arbitrary concurrent readers and take a
// point-in-time snapshot per search, never blocking writers after scoring
// begins.
type EmbeddingIndex interface {
	Add(ctx context.Context, id string, vec []float32, meta Metadata) error
	Search(ctx context.Context, query []float32, k int, minSimilarity float64, match func(Metadata) bool) ([]*Result, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}

// Result is a single similarity hit (ID is the chunk ID).
type Result struct {
	ID         string
	Similarity float64 // cosine similarity, at least the search's minimum
}
