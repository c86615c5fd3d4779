package linker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/doclens/kbase/internal/models"
	"github.com/doclens/kbase/internal/storage"
)

// evidenceImageKinds are the image classifications that can serve as visual
// evidence; screenshots are preferred over diagrams.
var evidenceImageKinds = []models.ImageKind{models.ImageScreenshot, models.ImageDiagram}

// EvidenceLinker attaches each extracted error-code occurrence to its best
// supporting chunk and/or image. The contract is "best available evidence,
// not exhaustive evidence": at most one chunk and one image per occurrence.
// Linking is idempotent; re-running recomputes and replaces the stored link,
// and recomputation is deterministic given identical inputs, so concurrent
// relinkers resolve by last writer wins.
type EvidenceLinker struct {
	storage storage.Storage
	logger  *zap.Logger
}

// NewEvidenceLinker creates a linker over the given storage.
func NewEvidenceLinker(store storage.Storage, logger *zap.Logger) *EvidenceLinker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvidenceLinker{storage: store, logger: logger}
}

// Link computes and upserts the evidence for an occurrence. The best chunk is
// the one whose page range contains the occurrence page, preferring tighter
// ranges, then closer text matches to the error-code string, then lower chunk
// id. The best image is a screenshot or diagram on the same document page.
// An occurrence with no qualifying chunk or image remains valid and
// evidence-less; only a missing occurrence is an error.
func (l *EvidenceLinker) Link(ctx context.Context, occurrenceID string, method models.ExtractionMethod) (*models.Evidence, error) {
	if occurrenceID == "" {
		return nil, fmt.Errorf("occurrence id cannot be empty")
	}
	if !method.Valid() {
		return nil, fmt.Errorf("invalid extraction method %q", method)
	}
	occ, err := l.storage.GetErrorCode(ctx, occurrenceID)
	if err != nil {
		return nil, fmt.Errorf("load occurrence: %w", err)
	}

	ev := &models.Evidence{OccurrenceID: occ.ID, ExtractionMethod: method}

	chunk, err := l.bestChunk(ctx, occ)
	if err != nil {
		return nil, err
	}
	if chunk != nil {
		ev.ChunkID = chunk.ID
	}

	image, err := l.bestImage(ctx, occ)
	if err != nil {
		return nil, err
	}
	if image != nil {
		ev.ImageID = image.ID
	}

	if err := l.storage.UpsertEvidence(ctx, ev); err != nil {
		return nil, fmt.Errorf("store evidence: %w", err)
	}

	if !ev.HasChunk() && !ev.HasImage() {
		l.logger.Debug("occurrence has no evidence candidates",
			zap.String("occurrence_id", occ.ID),
			zap.String("code", occ.Code),
			zap.Int("page", occ.PageNumber))
	}
	return ev, nil
}

// Evidence returns the stored evidence for an occurrence. An occurrence that
// has never been linked, or was linked with no candidates, yields an
// evidence-less result rather than an error.
func (l *EvidenceLinker) Evidence(ctx context.Context, occurrenceID string) (*models.Evidence, error) {
	if occurrenceID == "" {
		return nil, fmt.Errorf("occurrence id cannot be empty")
	}
	// Ensure the occurrence itself exists before reporting "no evidence".
	if _, err := l.storage.GetErrorCode(ctx, occurrenceID); err != nil {
		return nil, fmt.Errorf("load occurrence: %w", err)
	}
	ev, err := l.storage.GetEvidence(ctx, occurrenceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &models.Evidence{OccurrenceID: occurrenceID}, nil
		}
		return nil, err
	}
	return ev, nil
}

// bestChunk finds the highest-proximity supporting chunk: page containment,
// then tighter page span, then closer text match, then chunk id.
func (l *EvidenceLinker) bestChunk(ctx context.Context, occ *models.ErrorCode) (*models.Chunk, error) {
	candidates, err := l.storage.GetChunksCoveringPage(ctx, occ.DocumentID, occ.PageNumber)
	if err != nil {
		return nil, fmt.Errorf("load candidate chunks: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var best *models.Chunk
	bestSpan, bestDist := 0, 0
	for _, c := range candidates {
		span := c.PageSpan()
		dist := textMatchDistance(c.Text, occ.Code)
		if best == nil || betterChunk(span, dist, c.ID, bestSpan, bestDist, best.ID) {
			best, bestSpan, bestDist = c, span, dist
		}
	}
	return best, nil
}

func betterChunk(span, dist int, id string, bestSpan, bestDist int, bestID string) bool {
	if span != bestSpan {
		return span < bestSpan
	}
	if dist != bestDist {
		return dist < bestDist
	}
	return id < bestID
}

// bestImage finds a screenshot or diagram on the occurrence page, preferring
// screenshots, then lower id.
func (l *EvidenceLinker) bestImage(ctx context.Context, occ *models.ErrorCode) (*models.Image, error) {
	images, err := l.storage.ListImagesForPage(ctx, occ.DocumentID, occ.PageNumber, evidenceImageKinds)
	if err != nil {
		return nil, fmt.Errorf("load candidate images: %w", err)
	}
	if len(images) == 0 {
		return nil, nil
	}
	var best *models.Image
	for _, img := range images {
		if best == nil || betterImage(img, best) {
			best = img
		}
	}
	return best, nil
}

func betterImage(a, b *models.Image) bool {
	ra, rb := imageKindRank(a.Kind), imageKindRank(b.Kind)
	if ra != rb {
		return ra > rb
	}
	return a.ID < b.ID
}

func imageKindRank(k models.ImageKind) int {
	switch k {
	case models.ImageScreenshot:
		return 2
	case models.ImageDiagram:
		return 1
	}
	return 0
}
