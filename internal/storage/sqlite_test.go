package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/doclens/kbase/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	dir := t.TempDir()
	store, err := NewSQLiteStorage(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStorage_ChunkLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunk := &models.Chunk{
		DocumentID:     "doc1",
		Manufacturer:   "Konica Minolta",
		Model:          "5000i",
		Text:           "Error C-2557 indicates a toner motor fault.",
		PageStart:      10,
		PageEnd:        12,
		PageLabelStart: "10",
		PageLabelEnd:   "12",
	}
	if err := store.CreateChunk(ctx, chunk); err != nil {
		t.Fatal(err)
	}
	if chunk.ID == "" {
		t.Fatal("chunk ID should be assigned")
	}

	got, err := store.GetChunk(ctx, chunk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("new chunk status = %s, want pending", got.Status)
	}
	if got.Manufacturer != "Konica Minolta" || got.Model != "5000i" {
		t.Errorf("attribution = %q/%q, want Konica Minolta/5000i", got.Manufacturer, got.Model)
	}

	// pending -> processing -> completed
	if err := store.UpdateChunkStatus(ctx, chunk.ID, models.StatusProcessing); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateChunkStatus(ctx, chunk.ID, models.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	// completed -> failed is not sanctioned
	err = store.UpdateChunkStatus(ctx, chunk.ID, models.StatusFailed)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	if _, err := store.GetChunk(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_CompletedToPendingClearsEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunk := &models.Chunk{DocumentID: "doc1", Text: "t", PageStart: 0, PageEnd: 0}
	if err := store.CreateChunk(ctx, chunk); err != nil {
		t.Fatal(err)
	}
	_ = store.UpdateChunkStatus(ctx, chunk.ID, models.StatusProcessing)
	_ = store.UpdateChunkStatus(ctx, chunk.ID, models.StatusCompleted)

	emb := &models.Embedding{ChunkID: chunk.ID, Vector: []float32{1, 0, 0}, ModelName: "m1"}
	if err := store.UpsertEmbedding(ctx, emb); err != nil {
		t.Fatal(err)
	}

	// The only backward move must clear the embedding so a stale vector is
	// never served under a new model.
	if err := store.UpdateChunkStatus(ctx, chunk.ID, models.StatusPending); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetEmbedding(ctx, chunk.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("embedding should be cleared, got %v", err)
	}
}

func TestSQLiteStorage_EmbeddingRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunk := &models.Chunk{DocumentID: "doc1", Text: "t", PageStart: 0, PageEnd: 0}
	_ = store.CreateChunk(ctx, chunk)

	emb := &models.Embedding{ChunkID: chunk.ID, Vector: []float32{0.25, -1.5, 3}, ModelName: "m1"}
	if err := store.UpsertEmbedding(ctx, emb); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetEmbedding(ctx, chunk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Vector) != 3 || got.Vector[1] != -1.5 {
		t.Errorf("vector round trip failed: %v", got.Vector)
	}
	if got.ModelName != "m1" {
		t.Errorf("model name = %s", got.ModelName)
	}

	// Exactly one embedding per chunk: upsert replaces.
	emb2 := &models.Embedding{ChunkID: chunk.ID, Vector: []float32{1, 1, 1}, ModelName: "m2"}
	if err := store.UpsertEmbedding(ctx, emb2); err != nil {
		t.Fatal(err)
	}
	list, err := store.ListEmbeddingsByModel(ctx, "m2")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 embedding for m2, got %d", len(list))
	}
	if old, _ := store.ListEmbeddingsByModel(ctx, "m1"); len(old) != 0 {
		t.Errorf("old model embedding should be gone, got %d", len(old))
	}
}

func TestSQLiteStorage_ChunksCoveringPage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	wide := &models.Chunk{ID: "wide", DocumentID: "doc1", Text: "w", PageStart: 0, PageEnd: 9}
	tight := &models.Chunk{ID: "tight", DocumentID: "doc1", Text: "t", PageStart: 4, PageEnd: 5}
	other := &models.Chunk{ID: "other", DocumentID: "doc1", Text: "o", PageStart: 20, PageEnd: 22}
	for _, c := range []*models.Chunk{wide, tight, other} {
		if err := store.CreateChunk(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.GetChunksCoveringPage(ctx, "doc1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 covering chunks, got %d", len(got))
	}
	// Tighter span orders first.
	if got[0].ID != "tight" || got[1].ID != "wide" {
		t.Errorf("order = %s, %s", got[0].ID, got[1].ID)
	}

	none, err := store.GetChunksCoveringPage(ctx, "doc1", 15)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("expected no covering chunks, got %d", len(none))
	}
}

func TestSQLiteStorage_DocumentProductUpsertMergesPages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &models.DocumentProduct{
		DocumentID:       "doc1",
		ProductID:        "prodA",
		IsPrimary:        true,
		Confidence:       0.9,
		ExtractionMethod: models.MethodPattern,
		PageNumbers:      []int{1, 3},
	}
	if err := store.UpsertDocumentProduct(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := &models.DocumentProduct{
		DocumentID:       "doc1",
		ProductID:        "prodA",
		IsPrimary:        false,
		Confidence:       0.95,
		ExtractionMethod: models.MethodLLM,
		PageNumbers:      []int{5},
	}
	if err := store.UpsertDocumentProduct(ctx, second); err != nil {
		t.Fatal(err)
	}

	links, err := store.GetProductsForDocument(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 {
		t.Fatalf("pair uniqueness violated: %d rows", len(links))
	}
	got := links[0]
	if got.IsPrimary {
		t.Error("is_primary should be overwritten to false")
	}
	if got.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", got.Confidence)
	}
	if got.ExtractionMethod != models.MethodLLM {
		t.Errorf("extraction_method = %s, want llm", got.ExtractionMethod)
	}
	wantPages := []int{1, 3, 5}
	if len(got.PageNumbers) != len(wantPages) {
		t.Fatalf("pages = %v, want %v", got.PageNumbers, wantPages)
	}
	for i, p := range wantPages {
		if got.PageNumbers[i] != p {
			t.Fatalf("pages = %v, want %v", got.PageNumbers, wantPages)
		}
	}
}

func TestSQLiteStorage_ProductOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	links := []*models.DocumentProduct{
		{DocumentID: "d", ProductID: "low", Confidence: 0.3, ExtractionMethod: models.MethodPattern},
		{DocumentID: "d", ProductID: "primary", IsPrimary: true, Confidence: 0.5, ExtractionMethod: models.MethodLLM},
		{DocumentID: "d", ProductID: "high", Confidence: 0.8, ExtractionMethod: models.MethodVision},
	}
	for _, l := range links {
		if err := store.UpsertDocumentProduct(ctx, l); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.GetProductsForDocument(ctx, "d")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"primary", "high", "low"}
	for i, w := range want {
		if got[i].ProductID != w {
			t.Fatalf("ordering: got %s at %d, want %s", got[i].ProductID, i, w)
		}
	}
}

func TestSQLiteStorage_ConcurrentUpsertsConverge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			link := &models.DocumentProduct{
				DocumentID:       "doc1",
				ProductID:        "prodA",
				Confidence:       models.Confidence(float64(n) / 10),
				ExtractionMethod: models.MethodPattern,
				PageNumbers:      []int{n},
			}
			if err := store.UpsertDocumentProduct(ctx, link); err != nil {
				t.Errorf("upsert: %v", err)
			}
		}(i)
	}
	wg.Wait()

	links, err := store.GetProductsForDocument(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 {
		t.Fatalf("concurrent upserts must converge to one row, got %d", len(links))
	}
	if len(links[0].PageNumbers) != 10 {
		t.Errorf("all observed pages should be merged, got %v", links[0].PageNumbers)
	}
}

func TestSQLiteStorage_EvidenceUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ec := &models.ErrorCode{DocumentID: "doc1", Manufacturer: "Brother", Code: "E52", PageNumber: 3, Confidence: 0.8}
	if err := store.CreateErrorCode(ctx, ec); err != nil {
		t.Fatal(err)
	}

	ev := &models.Evidence{OccurrenceID: ec.ID, ChunkID: "c1", ExtractionMethod: models.MethodPattern}
	if err := store.UpsertEvidence(ctx, ev); err != nil {
		t.Fatal(err)
	}
	// Relink replaces rather than accumulating.
	ev2 := &models.Evidence{OccurrenceID: ec.ID, ChunkID: "c2", ImageID: "i1", ExtractionMethod: models.MethodVision}
	if err := store.UpsertEvidence(ctx, ev2); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetEvidence(ctx, ec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ChunkID != "c2" || got.ImageID != "i1" {
		t.Errorf("evidence = %+v", got)
	}

	if _, err := store.GetEvidence(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_ListErrorCodesPartition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	codes := []*models.ErrorCode{
		{DocumentID: "d1", Manufacturer: "Brother", Code: "E52", Confidence: 0.7},
		{DocumentID: "d2", Manufacturer: "Brother", Code: "E52", Confidence: 0.9},
		{DocumentID: "d3", Manufacturer: "Konica Minolta", Code: "C-2557", Confidence: 0.8},
	}
	for _, ec := range codes {
		if err := store.CreateErrorCode(ctx, ec); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListErrorCodes(ctx, "brother", "E52")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hits in partition, got %d", len(got))
	}
	if got[0].Confidence < got[1].Confidence {
		t.Error("hits should be ordered confidence desc")
	}

	all, _ := store.ListErrorCodes(ctx, "Brother", "")
	if len(all) != 2 {
		t.Errorf("expected 2 codes without code filter, got %d", len(all))
	}
}

func TestSQLiteStorage_ImagesForPage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	imgs := []*models.Image{
		{ID: "i1", DocumentID: "d1", PageNumber: 3, Kind: models.ImageScreenshot},
		{ID: "i2", DocumentID: "d1", PageNumber: 3, Kind: models.ImagePhoto},
		{ID: "i3", DocumentID: "d1", PageNumber: 4, Kind: models.ImageDiagram},
	}
	for _, img := range imgs {
		if err := store.CreateImage(ctx, img); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListImagesForPage(ctx, "d1", 3, []models.ImageKind{models.ImageScreenshot, models.ImageDiagram})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "i1" {
		t.Fatalf("expected only the screenshot, got %v", got)
	}
}

func TestSQLiteStorage_OEMRelationshipsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rels := []*models.OEMRelationship{
		{
			BrandManufacturer:  "Konica Minolta",
			BrandSeriesPattern: "[45]000i",
			OEMManufacturer:    "Brother",
			RelationshipType:   models.RelationshipEngine,
			AppliesTo:          []models.FactKind{models.FactErrorCodes, models.FactParts},
			Confidence:         0.9,
			Verified:           true,
		},
	}
	if err := store.ReplaceOEMRelationships(ctx, rels); err != nil {
		t.Fatal(err)
	}
	got, err := store.ListOEMRelationships(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(got))
	}
	r := got[0]
	if r.OEMManufacturer != "Brother" || !r.Verified || len(r.AppliesTo) != 2 {
		t.Errorf("round trip lost fields: %+v", r)
	}

	// Replace is total: loading a new set discards the old one.
	if err := store.ReplaceOEMRelationships(ctx, nil); err != nil {
		t.Fatal(err)
	}
	got, _ = store.ListOEMRelationships(ctx)
	if len(got) != 0 {
		t.Errorf("expected empty set after replace, got %d", len(got))
	}
}
