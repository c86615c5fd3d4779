package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/doclens/kbase/internal/models"
	"github.com/doclens/kbase/internal/storage"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.Int("dimensions", len(query.Vector)), zap.Int("top_k", query.TopK))
	response, err := s.ranker.Search(r.Context(), &query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleOEMResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	brand := q.Get("brand")
	model := q.Get("model")
	kind := models.FactKind(q.Get("kind"))
	if kind == "" {
		kind = models.FactErrorCodes
	}
	candidates, err := s.resolver.Resolve(brand, model, kind)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if candidates == nil {
		candidates = []*models.OEMCandidate{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"brand":      brand,
		"model":      model,
		"kind":       kind,
		"candidates": candidates,
	})
}

func (s *Server) handleDocumentProducts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if r.URL.Query().Get("primary") == "true" {
		primary, err := s.products.PrimaryProduct(r.Context(), id)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if primary == nil {
			s.respondError(w, http.StatusNotFound, "document has no product links")
			return
		}
		s.respondJSON(w, http.StatusOK, primary)
		return
	}

	links, err := s.products.ProductsForDocument(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if links == nil {
		links = []*models.DocumentProduct{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"document_id": id, "products": links})
}

func (s *Server) handleLinkProduct(w http.ResponseWriter, r *http.Request) {
	var link models.DocumentProduct
	if err := json.NewDecoder(r.Body).Decode(&link); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.products.Link(r.Context(), &link); err != nil {
		s.logger.Error("product link failed", zap.Error(err))
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{
		"document_id": link.DocumentID,
		"product_id":  link.ProductID,
		"status":      "linked",
	})
}

type lookupRequest struct {
	Brand string `json:"brand"`
	Model string `json:"model"`
	Code  string `json:"code"`
}

func (s *Server) handleCodeLookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	hits, err := s.codes.Lookup(r.Context(), req.Brand, req.Model, req.Code)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if hits == nil {
		hits = []*models.ErrorCodeHit{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"code": req.Code, "hits": hits})
}

func (s *Server) handleCodeSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	results, err := s.codes.SearchDescriptions(r.Context(), q, limit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if results == nil {
		results = []*models.ErrorCode{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": q, "results": results})
}

func (s *Server) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ev, err := s.evidence.Evidence(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "occurrence not found")
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, ev)
}

type relinkRequest struct {
	Method models.ExtractionMethod `json:"method"`
}

func (s *Server) handleRelinkEvidence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req relinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ev, err := s.evidence.Link(r.Context(), id, req.Method)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "occurrence not found")
			return
		}
		s.logger.Error("evidence relink failed", zap.Error(err))
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, ev)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chunkCount, err := s.storage.CountChunks(ctx)
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	embeddingCount, err := s.storage.CountEmbeddings(ctx)
	if err != nil {
		s.logger.Error("status: count embeddings failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"chunks":            chunkCount,
		"embeddings":        embeddingCount,
		"vector_index_size": s.ranker.IndexSize(),
		"oem_relationships": s.resolver.Size(),
		"oem_anomalies":     s.resolver.Anomalies(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
