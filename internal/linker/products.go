package linker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/doclens/kbase/internal/models"
	"github.com/doclens/kbase/internal/storage"
)

// ProductLinker maintains the many-to-many association between documents and
// the products they describe. Upserts are idempotent and invoked only by
// extraction jobs; reads serve the query layer.
type ProductLinker struct {
	storage storage.Storage
	logger  *zap.Logger
}

// NewProductLinker creates a linker over the given storage.
func NewProductLinker(store storage.Storage, logger *zap.Logger) *ProductLinker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductLinker{storage: store, logger: logger}
}

// Link upserts a document-product association. Re-linking the same pair
// overwrites is_primary, confidence, and extraction_method, and merges
// page_numbers as a set union. Concurrent linkers on the same pair converge
// to one row.
func (l *ProductLinker) Link(ctx context.Context, link *models.DocumentProduct) error {
	if err := link.Validate(); err != nil {
		return fmt.Errorf("invalid document-product link: %w", err)
	}
	if err := l.storage.UpsertDocumentProduct(ctx, link); err != nil {
		return fmt.Errorf("failed to link product %s to document %s: %w", link.ProductID, link.DocumentID, err)
	}
	l.logger.Debug("linked product",
		zap.String("document_id", link.DocumentID),
		zap.String("product_id", link.ProductID),
		zap.Bool("is_primary", link.IsPrimary),
		zap.Float64("confidence", float64(link.Confidence)))
	return nil
}

// ProductsForDocument returns all linked products, best guess first:
// is_primary descending, then confidence descending.
func (l *ProductLinker) ProductsForDocument(ctx context.Context, docID string) ([]*models.DocumentProduct, error) {
	if docID == "" {
		return nil, fmt.Errorf("document id cannot be empty")
	}
	return l.storage.GetProductsForDocument(ctx, docID)
}

// PrimaryProduct applies the query-layer policy for the ambiguous case of
// multiple is_primary rows: among primaries (or all rows when none is marked
// primary), the highest confidence wins, then the more reliable extraction
// method (manual > llm > vision > pattern), then product id. Returns nil when
// the document has no product associations; that is a data condition, not an
// error. The storage layer deliberately enforces no single-primary constraint.
func (l *ProductLinker) PrimaryProduct(ctx context.Context, docID string) (*models.DocumentProduct, error) {
	links, err := l.ProductsForDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, nil
	}

	candidates := make([]*models.DocumentProduct, 0, len(links))
	for _, dp := range links {
		if dp.IsPrimary {
			candidates = append(candidates, dp)
		}
	}
	if len(candidates) == 0 {
		candidates = links
	}
	if len(candidates) > 1 {
		l.logger.Debug("ambiguous primary products",
			zap.String("document_id", docID), zap.Int("primaries", len(candidates)))
	}

	best := candidates[0]
	for _, dp := range candidates[1:] {
		if betterPrimary(dp, best) {
			best = dp
		}
	}
	return best, nil
}

func betterPrimary(a, b *models.DocumentProduct) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if ra, rb := a.ExtractionMethod.Reliability(), b.ExtractionMethod.Reliability(); ra != rb {
		return ra > rb
	}
	return a.ProductID < b.ProductID
}
