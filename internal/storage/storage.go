// Package storage defines the persistence interface for the knowledge base.
package storage

import (
	"context"
	"errors"

	"github.com/doclens/kbase/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a chunk status update violates the
// pending -> processing -> {completed | failed} lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// Storage defines persistence operations for chunks, embeddings, facts, and
// curated reference data. All mutations are confined to this single store;
// batch jobs commit per batch so cancellation never leaves partial state.
type Storage interface {
	// Chunk operations (owned by the ingestion pipeline)
	CreateChunk(ctx context.Context, chunk *models.Chunk) error
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	GetChunksCoveringPage(ctx context.Context, docID string, page int) ([]*models.Chunk, error)
	UpdateChunkStatus(ctx context.Context, id string, next models.ProcessingStatus) error

	// Embedding operations
	UpsertEmbedding(ctx context.Context, emb *models.Embedding) error
	GetEmbedding(ctx context.Context, chunkID string) (*models.Embedding, error)
	ListEmbeddingsByModel(ctx context.Context, modelName string) ([]*models.Embedding, error)
	ResetEmbeddings(ctx context.Context, modelName string, batchSize int, onBatch func(chunkIDs []string)) (int, error)

	// Document-product associations
	UpsertDocumentProduct(ctx context.Context, link *models.DocumentProduct) error
	GetProductsForDocument(ctx context.Context, docID string) ([]*models.DocumentProduct, error)

	// Error codes and evidence
	CreateErrorCode(ctx context.Context, ec *models.ErrorCode) error
	GetErrorCode(ctx context.Context, id string) (*models.ErrorCode, error)
	ListErrorCodes(ctx context.Context, manufacturer, code string) ([]*models.ErrorCode, error)
	ListAllErrorCodes(ctx context.Context) ([]*models.ErrorCode, error)
	UpsertEvidence(ctx context.Context, ev *models.Evidence) error
	GetEvidence(ctx context.Context, occurrenceID string) (*models.Evidence, error)

	// Images
	CreateImage(ctx context.Context, img *models.Image) error
	ListImagesForPage(ctx context.Context, docID string, page int, kinds []models.ImageKind) ([]*models.Image, error)

	// Curated OEM reference data
	ReplaceOEMRelationships(ctx context.Context, rels []*models.OEMRelationship) error
	ListOEMRelationships(ctx context.Context) ([]*models.OEMRelationship, error)

	// Stats
	CountChunks(ctx context.Context) (int64, error)
	CountEmbeddings(ctx context.Context) (int64, error)

	Close() error
}
