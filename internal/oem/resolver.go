// Package oem resolves cross-manufacturer OEM/rebrand relationships so a
// query scoped to one brand can be widened to the originating manufacturer.
package oem

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/doclens/kbase/internal/models"
)

// compiledRelationship pairs a curated row with its compiled series pattern.
type compiledRelationship struct {
	rel     *models.OEMRelationship
	pattern *regexp.Regexp
}

// Resolver maps a (brand, model) pair to the OEM manufacturers behind it.
// Resolution is strictly single-hop: the relationship set is not required to
// be acyclic, so a resolved oem_manufacturer is never resolved again.
//
// Resolver is safe for concurrent use; Reload swaps the whole table.
type Resolver struct {
	mu        sync.RWMutex
	entries   []compiledRelationship
	anomalies int // rows skipped for malformed patterns since last reload
	logger    *zap.Logger
}

// NewResolver creates an empty resolver. Populate it with Reload.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// Reload replaces the relationship table. Each pattern is compiled once here;
// a row with a malformed pattern is a data anomaly: it is skipped and logged,
// never a global failure, and resolution for the remaining rows proceeds.
// Returns the number of rows loaded.
func (r *Resolver) Reload(rels []*models.OEMRelationship) int {
	entries := make([]compiledRelationship, 0, len(rels))
	anomalies := 0
	for _, rel := range rels {
		if err := rel.Validate(); err != nil {
			r.logger.Warn("skipping invalid OEM relationship",
				zap.String("brand", rel.BrandManufacturer),
				zap.String("pattern", rel.BrandSeriesPattern),
				zap.Error(err))
			anomalies++
			continue
		}
		re, err := regexp.Compile(rel.BrandSeriesPattern)
		if err != nil {
			r.logger.Warn("skipping OEM relationship with malformed series pattern",
				zap.String("brand", rel.BrandManufacturer),
				zap.String("pattern", rel.BrandSeriesPattern),
				zap.Error(err))
			anomalies++
			continue
		}
		entries = append(entries, compiledRelationship{rel: rel, pattern: re})
	}

	r.mu.Lock()
	r.entries = entries
	r.anomalies = anomalies
	r.mu.Unlock()

	r.logger.Info("OEM relationship table loaded",
		zap.Int("rows", len(entries)), zap.Int("skipped", anomalies))
	return len(entries)
}

// Resolve returns the OEM candidates for a brand and model identifier,
// restricted to relationships covering the requested fact kind. Brand
// matching is case-insensitive exact; the series pattern is a regular
// expression evaluated against the model string. When several relationships
// point at the same OEM, the highest-confidence one wins. Candidates are
// ordered by confidence descending, ties by OEM name ascending.
func (r *Resolver) Resolve(brand, model string, kind models.FactKind) ([]*models.OEMCandidate, error) {
	if strings.TrimSpace(brand) == "" {
		return nil, fmt.Errorf("brand cannot be empty")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid fact kind %q", kind)
	}

	r.mu.RLock()
	entries := r.entries
	r.mu.RUnlock()

	best := make(map[string]*models.OEMCandidate)
	for _, e := range entries {
		if !strings.EqualFold(e.rel.BrandManufacturer, brand) {
			continue
		}
		if !e.pattern.MatchString(model) {
			continue
		}
		if !e.rel.AppliesToKind(kind) {
			continue
		}
		cand := &models.OEMCandidate{
			OEMManufacturer:  e.rel.OEMManufacturer,
			Confidence:       e.rel.Confidence,
			RelationshipType: e.rel.RelationshipType,
		}
		if prev, ok := best[cand.OEMManufacturer]; !ok || cand.Confidence > prev.Confidence {
			best[cand.OEMManufacturer] = cand
		}
	}

	out := make([]*models.OEMCandidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].OEMManufacturer < out[j].OEMManufacturer
	})
	return out, nil
}

// Size returns the number of loaded relationship rows.
func (r *Resolver) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Anomalies returns the number of rows skipped at the last reload.
func (r *Resolver) Anomalies() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.anomalies
}
