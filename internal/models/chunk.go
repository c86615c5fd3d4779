// Package models defines core data structures for chunks, embeddings, and extracted facts.
package models

import (
	"fmt"
	"time"
)

// ProcessingStatus is the lifecycle state of a chunk (and of extraction-dependent facts).
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Valid reports whether s is one of the defined statuses.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a sanctioned transition.
// The lifecycle is pending -> processing -> {completed | failed}; failed may be
// retried via pending, and completed -> pending is the only backward move (used to
// invalidate embeddings when the embedding model changes).
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted:
		return next == StatusPending
	case StatusFailed:
		return next == StatusPending
	}
	return false
}

// Chunk is a contiguous text span of a document with page bounds and labels.
// Text is immutable once the chunk reaches completed status; only the owning
// ingestion pipeline mutates a chunk, and only through status transitions.
// Manufacturer and Model carry the document's product attribution so searches
// can be narrowed to a partition; either may be empty for unattributed docs.
type Chunk struct {
	ID             string           `json:"id"`
	DocumentID     string           `json:"document_id"`
	Manufacturer   string           `json:"manufacturer,omitempty"`
	Model          string           `json:"model,omitempty"`
	Text           string           `json:"text"`
	PageStart      int              `json:"page_start"` // 0-based page index
	PageEnd        int              `json:"page_end"`
	PageLabelStart string           `json:"page_label_start,omitempty"` // human-facing label, e.g. "iii", "12"
	PageLabelEnd   string           `json:"page_label_end,omitempty"`
	Status         ProcessingStatus `json:"processing_status"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Validate checks structural invariants of the chunk.
func (c *Chunk) Validate() error {
	if c.DocumentID == "" {
		return fmt.Errorf("chunk document_id cannot be empty")
	}
	if c.PageStart < 0 || c.PageEnd < c.PageStart {
		return fmt.Errorf("invalid page range %d..%d", c.PageStart, c.PageEnd)
	}
	if c.Status != "" && !c.Status.Valid() {
		return fmt.Errorf("invalid processing status %q", c.Status)
	}
	return nil
}

// ContainsPage reports whether page falls within the chunk's page range.
func (c *Chunk) ContainsPage(page int) bool {
	return page >= c.PageStart && page <= c.PageEnd
}

// PageSpan returns the width of the chunk's page range (0 for a single page).
func (c *Chunk) PageSpan() int {
	return c.PageEnd - c.PageStart
}

// Embedding is the fixed-length vector representation of a completed chunk's text.
// Exactly one embedding exists per embedded chunk; a completed chunk with no
// embedding is a retrievable-but-unsearchable state and is simply excluded from
// similarity candidate sets.
type Embedding struct {
	ChunkID   string    `json:"chunk_id"`
	Vector    []float32 `json:"-"`
	ModelName string    `json:"model_name"`
	CreatedAt time.Time `json:"created_at"`
}

// ImageKind classifies an extracted document image.
type ImageKind string

const (
	ImageScreenshot ImageKind = "screenshot"
	ImageDiagram    ImageKind = "diagram"
	ImagePhoto      ImageKind = "photo"
	ImageOther      ImageKind = "other"
)

// Image is an extracted page image; screenshots and diagrams can serve as
// visual evidence for error-code occurrences.
type Image struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	PageNumber int       `json:"page_number"`
	Kind       ImageKind `json:"kind"`
}
