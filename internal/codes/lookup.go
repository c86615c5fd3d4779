package codes

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/doclens/kbase/internal/models"
	"github.com/doclens/kbase/internal/oem"
	"github.com/doclens/kbase/internal/storage"
)

// Service answers error-code queries over the partitioned fact store. A lookup
// for (brand, model, code) first reads the brand's own partition, then widens
// to each OEM partition the resolver maps the model to, so a code documented
// only in the engine maker's manuals is still found under the selling brand.
type Service struct {
	storage  storage.Storage
	resolver *oem.Resolver
	desc     *DescIndex
	logger   *zap.Logger
}

// NewService creates a lookup service. desc may be nil when description search
// is not configured.
func NewService(store storage.Storage, resolver *oem.Resolver, desc *DescIndex, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{storage: store, resolver: resolver, desc: desc, logger: logger}
}

// Lookup returns occurrences of code visible to (brand, model). Direct
// partition hits carry source confidence 1.0; OEM-widened hits are tagged with
// the relationship's confidence and type. Results are ordered by source
// confidence, then occurrence confidence, both descending.
func (s *Service) Lookup(ctx context.Context, brand, model, code string) ([]*models.ErrorCodeHit, error) {
	if brand == "" {
		return nil, fmt.Errorf("brand cannot be empty")
	}
	if code == "" {
		return nil, fmt.Errorf("code cannot be empty")
	}

	var hits []*models.ErrorCodeHit

	direct, err := s.storage.ListErrorCodes(ctx, brand, code)
	if err != nil {
		return nil, fmt.Errorf("lookup %s partition: %w", brand, err)
	}
	for _, ec := range direct {
		hits = append(hits, &models.ErrorCodeHit{
			ErrorCode:        ec,
			Source:           ec.Manufacturer,
			SourceConfidence: 1.0,
		})
	}

	// Widening needs a model to resolve against; a brand-only lookup stays
	// within the direct partition.
	if model != "" {
		candidates, err := s.resolver.Resolve(brand, model, models.FactErrorCodes)
		if err != nil {
			return nil, fmt.Errorf("resolve oem partitions: %w", err)
		}
		for _, cand := range candidates {
			widened, err := s.storage.ListErrorCodes(ctx, cand.OEMManufacturer, code)
			if err != nil {
				return nil, fmt.Errorf("lookup %s partition: %w", cand.OEMManufacturer, err)
			}
			for _, ec := range widened {
				hits = append(hits, &models.ErrorCodeHit{
					ErrorCode:        ec,
					Source:           ec.Manufacturer,
					SourceConfidence: cand.Confidence,
					RelationshipType: cand.RelationshipType,
				})
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].SourceConfidence != hits[j].SourceConfidence {
			return hits[i].SourceConfidence > hits[j].SourceConfidence
		}
		return hits[i].ErrorCode.Confidence > hits[j].ErrorCode.Confidence
	})

	s.logger.Debug("error code lookup",
		zap.String("brand", brand),
		zap.String("model", model),
		zap.String("code", code),
		zap.Int("hits", len(hits)))
	return hits, nil
}

// Record persists a new occurrence and indexes its description.
func (s *Service) Record(ctx context.Context, ec *models.ErrorCode) error {
	if err := s.storage.CreateErrorCode(ctx, ec); err != nil {
		return err
	}
	if s.desc == nil {
		return nil
	}
	if err := s.desc.Index(ctx, ec); err != nil {
		// The row is committed; a stale index is recoverable by rebuild.
		s.logger.Warn("failed to index description",
			zap.String("occurrence_id", ec.ID),
			zap.Error(err))
	}
	return nil
}

// SearchDescriptions runs a full-text query over code+description text and
// hydrates the matching occurrences from storage.
func (s *Service) SearchDescriptions(ctx context.Context, query string, limit int) ([]*models.ErrorCode, error) {
	if s.desc == nil {
		return nil, fmt.Errorf("description search is not configured")
	}
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if limit <= 0 {
		limit = models.DefaultTopK
	}

	results, err := s.desc.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*models.ErrorCode, 0, len(results))
	for _, r := range results {
		ec, err := s.storage.GetErrorCode(ctx, r.ID)
		if err != nil {
			// Index can briefly outlive a deleted row.
			s.logger.Warn("indexed occurrence missing from storage",
				zap.String("occurrence_id", r.ID), zap.Error(err))
			continue
		}
		out = append(out, ec)
	}
	return out, nil
}

// RebuildDescIndex re-indexes every stored occurrence. Called at startup so
// the search index never drifts from the store across restarts.
func (s *Service) RebuildDescIndex(ctx context.Context) (int, error) {
	if s.desc == nil {
		return 0, nil
	}
	all, err := s.storage.ListAllErrorCodes(ctx)
	if err != nil {
		return 0, fmt.Errorf("list occurrences: %w", err)
	}
	if len(all) == 0 {
		return 0, nil
	}
	if err := s.desc.IndexBatch(ctx, all); err != nil {
		return 0, err
	}
	return len(all), nil
}
