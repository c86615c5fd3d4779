package models

import "fmt"

// DefaultTopK is the result limit applied when a query does not set one.
const DefaultTopK = 5

// MaxTopK caps the result limit to keep brute-force ranking bounded.
const MaxTopK = 100

// SearchQuery is a similarity search request: a query vector, a result limit,
// and an optional metadata filter evaluated as subset containment.
type SearchQuery struct {
	Vector []float32         `json:"vector"`
	TopK   int               `json:"top_k,omitempty"`
	Filter map[string]string `json:"filter,omitempty"`
}

// Validate checks the query shape. Zero means "use the configured default";
// an explicitly negative limit is rejected. The limit itself is normalized by
// NormalizeLimit so callers can apply configured bounds.
func (q *SearchQuery) Validate() error {
	if len(q.Vector) == 0 {
		return fmt.Errorf("query vector cannot be empty")
	}
	if q.TopK < 0 {
		return fmt.Errorf("top_k cannot be negative, got %d", q.TopK)
	}
	return nil
}

// NormalizeLimit resolves a zero TopK to defaultK and clamps the result to
// maxK. Non-positive bounds fall back to DefaultTopK and MaxTopK.
func (q *SearchQuery) NormalizeLimit(defaultK, maxK int) {
	if defaultK <= 0 {
		defaultK = DefaultTopK
	}
	if maxK <= 0 {
		maxK = MaxTopK
	}
	if q.TopK == 0 {
		q.TopK = defaultK
	}
	if q.TopK > maxK {
		q.TopK = maxK
	}
}

// RankedChunk is a single similarity hit: the chunk plus its cosine similarity
// to the query vector.
type RankedChunk struct {
	Chunk      *Chunk  `json:"chunk"`
	Similarity float64 `json:"similarity"`
}

// SearchResponse is the response for a similarity search request.
type SearchResponse struct {
	Results   []*RankedChunk `json:"results"`
	QueryTime int64          `json:"query_time_ms"`
}

// OEMCandidate is one resolved OEM manufacturer for a (brand, model) query,
// tagged with the relationship that produced it so downstream lookups can
// discount OEM-sourced facts by confidence.
type OEMCandidate struct {
	OEMManufacturer  string           `json:"oem_manufacturer"`
	Confidence       Confidence       `json:"confidence"`
	RelationshipType RelationshipType `json:"relationship_type"`
}

// ErrorCodeHit is one error-code lookup result. Source is the manufacturer
// partition the hit came from; for OEM-sourced hits SourceConfidence carries
// the originating relationship's confidence (1.0 for direct hits).
type ErrorCodeHit struct {
	ErrorCode        *ErrorCode       `json:"error_code"`
	Source           string           `json:"source"`
	SourceConfidence Confidence       `json:"source_confidence"`
	RelationshipType RelationshipType `json:"relationship_type,omitempty"`
}
