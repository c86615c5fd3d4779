package models

import (
	"fmt"
	"sort"
)

// ExtractionMethod identifies which extraction pass produced a fact or link.
type ExtractionMethod string

const (
	MethodPattern ExtractionMethod = "pattern"
	MethodLLM     ExtractionMethod = "llm"
	MethodVision  ExtractionMethod = "vision"
	MethodManual  ExtractionMethod = "manual"
)

// Valid reports whether m is a defined extraction method.
func (m ExtractionMethod) Valid() bool {
	switch m {
	case MethodPattern, MethodLLM, MethodVision, MethodManual:
		return true
	}
	return false
}

// methodReliability ranks extraction methods for tie-breaking: manual sources
// outrank model output, which outranks pattern matching.
var methodReliability = map[ExtractionMethod]int{
	MethodManual:  3,
	MethodLLM:     2,
	MethodVision:  1,
	MethodPattern: 0,
}

// Reliability returns the tie-break rank of the method (higher wins).
func (m ExtractionMethod) Reliability() int {
	return methodReliability[m]
}

// DocumentProduct is the many-to-many association between a document and a
// product it describes. At most one row exists per (document_id, product_id)
// pair. Zero or more rows per document may be marked primary; disambiguation of
// multiple primaries is a query-layer policy, not a storage constraint.
type DocumentProduct struct {
	DocumentID       string           `json:"document_id"`
	ProductID        string           `json:"product_id"`
	IsPrimary        bool             `json:"is_primary"`
	Confidence       Confidence       `json:"confidence"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
	PageNumbers      []int            `json:"page_numbers,omitempty"` // pages where the product was referenced
}

// Validate checks structural invariants of the association.
func (dp *DocumentProduct) Validate() error {
	if dp.DocumentID == "" {
		return fmt.Errorf("document_id cannot be empty")
	}
	if dp.ProductID == "" {
		return fmt.Errorf("product_id cannot be empty")
	}
	if !dp.ExtractionMethod.Valid() {
		return fmt.Errorf("invalid extraction_method %q", dp.ExtractionMethod)
	}
	for _, p := range dp.PageNumbers {
		if p < 0 {
			return fmt.Errorf("negative page number %d", p)
		}
	}
	return dp.Confidence.Validate()
}

// MergePages returns the sorted set union of two page-number sets. Independent
// extraction passes may observe a product on different pages, so re-linking
// merges rather than replaces.
func MergePages(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	for _, p := range a {
		seen[p] = true
	}
	for _, p := range b {
		seen[p] = true
	}
	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// ErrorCode is an extracted structured fact: an error code occurrence found in
// a document, scoped to the manufacturer partition it was extracted from.
type ErrorCode struct {
	ID           string     `json:"id"`
	DocumentID   string     `json:"document_id"`
	Manufacturer string     `json:"manufacturer"`
	Code         string     `json:"code"`
	Description  string     `json:"description,omitempty"`
	PageNumber   int        `json:"page_number"`
	Confidence   Confidence `json:"confidence"`
}

// Validate checks structural invariants of the occurrence.
func (e *ErrorCode) Validate() error {
	if e.DocumentID == "" {
		return fmt.Errorf("document_id cannot be empty")
	}
	if e.Manufacturer == "" {
		return fmt.Errorf("manufacturer cannot be empty")
	}
	if e.Code == "" {
		return fmt.Errorf("code cannot be empty")
	}
	if e.PageNumber < 0 {
		return fmt.Errorf("negative page number %d", e.PageNumber)
	}
	return e.Confidence.Validate()
}

// Evidence is the pair of optional back-references from an error-code
// occurrence to its best supporting chunk and/or image. It is created strictly
// after the occurrence exists (extract the fact, then link evidence) and
// carries the extraction method that produced the link; its confidence is
// inherited from the source fact.
type Evidence struct {
	OccurrenceID     string           `json:"occurrence_id"`
	ChunkID          string           `json:"chunk_id,omitempty"`
	ImageID          string           `json:"image_id,omitempty"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
}

// HasChunk reports whether a supporting chunk was found.
func (e *Evidence) HasChunk() bool { return e.ChunkID != "" }

// HasImage reports whether a supporting image was found.
func (e *Evidence) HasImage() bool { return e.ImageID != "" }
