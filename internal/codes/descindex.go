// Package codes provides error-code lookup across manufacturer partitions,
// widened through resolved OEM relationships, plus full-text search over
// code descriptions.
package codes

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"github.com/doclens/kbase/internal/models"
)

// descDoc is the shape indexed per occurrence. Code and description share one
// text field so a query can match either; manufacturer is stored untokenized.
type descDoc struct {
	Manufacturer string `json:"manufacturer"`
	Text         string `json:"text"`
}

// DescIndex is a Bleve index over error-code descriptions.
type DescIndex struct {
	index bleve.Index
}

// NewDescIndex creates or opens a description index at path. An existing index
// is reused; remove the directory to force a full rebuild after a mapping
// change.
func NewDescIndex(path string) (*DescIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming): error codes like
	// "C-2557" and terms like "fuser" must match literally, and English
	// stemming would mangle model designations.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("manufacturer", keywordFieldMapping)
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open description index: %w", openErr)
		}
		return &DescIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create description index: %w", err)
	}
	return &DescIndex{index: index}, nil
}

// NewMemDescIndex creates an in-memory description index, used in tests and
// when no index path is configured.
func NewMemDescIndex() (*DescIndex, error) {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create description index: %w", err)
	}
	return &DescIndex{index: index}, nil
}

// Index adds or updates one occurrence.
func (d *DescIndex) Index(ctx context.Context, ec *models.ErrorCode) error {
	return d.index.Index(ec.ID, descDoc{
		Manufacturer: ec.Manufacturer,
		Text:         ec.Code + " " + ec.Description,
	})
}

// IndexBatch indexes many occurrences in one Bleve batch. Used at startup to
// rebuild the index from storage.
func (d *DescIndex) IndexBatch(ctx context.Context, ecs []*models.ErrorCode) error {
	batch := d.index.NewBatch()
	for _, ec := range ecs {
		if err := batch.Index(ec.ID, descDoc{
			Manufacturer: ec.Manufacturer,
			Text:         ec.Code + " " + ec.Description,
		}); err != nil {
			return fmt.Errorf("batch index %s: %w", ec.ID, err)
		}
	}
	return d.index.Batch(batch)
}

// DescResult is one description-search hit.
type DescResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Search runs a match query over indexed code+description text and returns up
// to limit hits in score order.
func (d *DescIndex) Search(ctx context.Context, query string, limit int) ([]*DescResult, error) {
	q := bleve.NewMatchQuery(query)
	search := bleve.NewSearchRequest(q)
	search.Size = limit
	results, err := d.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("description search failed: %w", err)
	}
	out := make([]*DescResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &DescResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// Delete removes an occurrence from the index.
func (d *DescIndex) Delete(ctx context.Context, id string) error {
	return d.index.Delete(id)
}

// DocCount returns the number of indexed occurrences.
func (d *DescIndex) DocCount() (uint64, error) {
	return d.index.DocCount()
}

// Close closes the underlying index.
func (d *DescIndex) Close() error {
	return d.index.Close()
}
