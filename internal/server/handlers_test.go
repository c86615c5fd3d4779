package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/doclens/kbase/internal/codes"
	"github.com/doclens/kbase/internal/config"
	"github.com/doclens/kbase/internal/linker"
	"github.com/doclens/kbase/internal/models"
	"github.com/doclens/kbase/internal/oem"
	"github.com/doclens/kbase/internal/search"
	"github.com/doclens/kbase/internal/storage"
	"github.com/doclens/kbase/internal/vector"
)

type testEnv struct {
	server *Server
	store  *storage.SQLiteStorage
	index  *vector.MemoryIndex
	router http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	idx, err := vector.NewMemoryIndex(2)
	if err != nil {
		t.Fatal(err)
	}

	resolver := oem.NewResolver(nil)
	resolver.Reload([]*models.OEMRelationship{
		{
			BrandManufacturer:  "Konica Minolta",
			BrandSeriesPattern: "[45]000i",
			OEMManufacturer:    "Brother",
			RelationshipType:   models.RelationshipEngine,
			AppliesTo:          []models.FactKind{models.FactErrorCodes},
			Confidence:         0.85,
		},
	})

	desc, err := codes.NewMemDescIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { desc.Close() })

	srv := NewServer(
		search.NewRanker(idx, store, search.Config{}, nil),
		resolver,
		linker.NewProductLinker(store, nil),
		linker.NewEvidenceLinker(store, nil),
		codes.NewService(store, resolver, desc, nil),
		store,
		&config.ServerConfig{Host: "localhost", Port: 0},
		nil,
	)
	return &testEnv{server: srv, store: store, index: idx, router: srv.Router()}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHandleSearch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	chunk := &models.Chunk{ID: "c1", DocumentID: "d1", Text: "hello", PageStart: 0, PageEnd: 1}
	if err := env.store.CreateChunk(ctx, chunk); err != nil {
		t.Fatal(err)
	}
	if err := env.store.UpdateChunkStatus(ctx, "c1", models.StatusProcessing); err != nil {
		t.Fatal(err)
	}
	if err := env.store.UpdateChunkStatus(ctx, "c1", models.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	if err := env.index.Add(ctx, "c1", []float32{1, 0}, nil); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Vector: []float32{1, 0}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	decode(t, w, &resp)
	if len(resp.Results) != 1 || resp.Results[0].Chunk.ID != "c1" {
		t.Errorf("unexpected results: %+v", resp.Results)
	}
}

func TestHandleSearch_emptyVector(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleOEMResolve(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/oem/resolve?brand=Konica+Minolta&model=5000i", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Candidates []*models.OEMCandidate `json:"candidates"`
	}
	decode(t, w, &resp)
	if len(resp.Candidates) != 1 || resp.Candidates[0].OEMManufacturer != "Brother" {
		t.Errorf("unexpected candidates: %+v", resp.Candidates)
	}

	// No match still returns an empty list, not an error.
	w = env.do(t, http.MethodGet, "/api/v1/oem/resolve?brand=Konica+Minolta&model=3000i", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	decode(t, w, &resp)
	if len(resp.Candidates) != 0 {
		t.Errorf("expected no candidates, got %+v", resp.Candidates)
	}
}

func TestHandleOEMResolve_missingBrand(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/oem/resolve?model=5000i", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleLinkProductAndList(t *testing.T) {
	env := newTestEnv(t)

	link := models.DocumentProduct{
		DocumentID:       "d1",
		ProductID:        "p1",
		IsPrimary:        true,
		Confidence:       0.9,
		ExtractionMethod: models.MethodLLM,
		PageNumbers:      []int{3},
	}
	w := env.do(t, http.MethodPost, "/api/v1/links/products", link)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	// Re-link with new pages; the page sets merge.
	link.PageNumbers = []int{7}
	if w = env.do(t, http.MethodPost, "/api/v1/links/products", link); w.Code != http.StatusCreated {
		t.Fatalf("relink status = %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/documents/d1/products", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Products []*models.DocumentProduct `json:"products"`
	}
	decode(t, w, &resp)
	if len(resp.Products) != 1 {
		t.Fatalf("got %d products, want 1", len(resp.Products))
	}
	if got := resp.Products[0].PageNumbers; len(got) != 2 || got[0] != 3 || got[1] != 7 {
		t.Errorf("pages = %v, want [3 7]", got)
	}

	w = env.do(t, http.MethodGet, "/api/v1/documents/d1/products?primary=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("primary status = %d", w.Code)
	}
	var primary models.DocumentProduct
	decode(t, w, &primary)
	if primary.ProductID != "p1" {
		t.Errorf("primary = %s, want p1", primary.ProductID)
	}
}

func TestHandleDocumentProducts_unlinked(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/documents/ghost/products", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Products []*models.DocumentProduct `json:"products"`
	}
	decode(t, w, &resp)
	if len(resp.Products) != 0 {
		t.Errorf("expected empty list, got %+v", resp.Products)
	}

	if w = env.do(t, http.MethodGet, "/api/v1/documents/ghost/products?primary=true", nil); w.Code != http.StatusNotFound {
		t.Errorf("primary on unlinked doc: status = %d, want 404", w.Code)
	}
}

func TestHandleCodeLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ec := &models.ErrorCode{
		DocumentID:   "d1",
		Manufacturer: "Brother",
		Code:         "C-2557",
		Description:  "Develop motor fault",
		PageNumber:   12,
		Confidence:   0.8,
	}
	if err := env.store.CreateErrorCode(ctx, ec); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodPost, "/api/v1/error-codes/lookup", lookupRequest{
		Brand: "Konica Minolta", Model: "5000i", Code: "C-2557",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Hits []*models.ErrorCodeHit `json:"hits"`
	}
	decode(t, w, &resp)
	if len(resp.Hits) != 1 || resp.Hits[0].Source != "Brother" {
		t.Errorf("unexpected hits: %+v", resp.Hits)
	}
}

func TestHandleEvidence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	chunk := &models.Chunk{ID: "c1", DocumentID: "d1", Text: "Error E52: fuser failure.", PageStart: 3, PageEnd: 3}
	if err := env.store.CreateChunk(ctx, chunk); err != nil {
		t.Fatal(err)
	}
	ec := &models.ErrorCode{DocumentID: "d1", Manufacturer: "Brother", Code: "E52", PageNumber: 3, Confidence: 0.9}
	if err := env.store.CreateErrorCode(ctx, ec); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodPost, "/api/v1/error-codes/"+ec.ID+"/evidence/relink", relinkRequest{Method: models.MethodPattern})
	if w.Code != http.StatusOK {
		t.Fatalf("relink status = %d, body %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/error-codes/"+ec.ID+"/evidence", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var ev models.Evidence
	decode(t, w, &ev)
	if ev.ChunkID != "c1" {
		t.Errorf("chunk_id = %s, want c1", ev.ChunkID)
	}

	if w = env.do(t, http.MethodGet, "/api/v1/error-codes/missing/evidence", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing occurrence: status = %d, want 404", w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]interface{}
	decode(t, w, &resp)
	if _, ok := resp["oem_relationships"]; !ok {
		t.Errorf("missing oem_relationships in %v", resp)
	}
}
