// Package api exposes index mutations and queries as JSON over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/indexops"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/resource"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/resultcache"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/logger"
)

const maxBodyBytes = 32 << 20

// Limits bounds page sizes accepted from clients.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
}

type Handler struct {
	registry *resource.Registry
	ops      *indexops.Ops
	engine   *search.Engine
	cache    *resultcache.Cache
	limits   Limits
	logger   *slog.Logger
}

// New returns a Handler. cache may be nil when result caching is disabled.
func New(registry *resource.Registry, ops *indexops.Ops, engine *search.Engine, cache *resultcache.Cache, limits Limits) *Handler {
	if limits.DefaultPageSize <= 0 {
		limits.DefaultPageSize = 10
	}
	if limits.MaxPageSize < limits.DefaultPageSize {
		limits.MaxPageSize = limits.DefaultPageSize
	}
	return &Handler{
		registry: registry,
		ops:      ops,
		engine:   engine,
		cache:    cache,
		limits:   limits,
		logger:   slog.Default().With("component", "api-handler"),
	}
}

type mutationRequest struct {
	Location  string              `json:"location"`
	Documents []document.Document `json:"documents"`
	KeyFields []document.Field    `json:"key_fields"`
}

type mutationResponse struct {
	Status     string `json:"status"`
	Location   string `json:"location"`
	Documents  int    `json:"documents"`
	Generation uint64 `json:"generation"`
}

func (h *Handler) AddDocuments(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ops.AddDocuments(r.Context(), req.Location, req.Documents); err != nil {
		h.fail(w, r, err)
		return
	}
	h.committed(w, r, req.Location, len(req.Documents))
}

func (h *Handler) UpdateDocuments(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ops.UpdateDocuments(r.Context(), req.Location, req.Documents); err != nil {
		h.fail(w, r, err)
		return
	}
	h.committed(w, r, req.Location, len(req.Documents))
}

func (h *Handler) DeleteDocuments(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ops.DeleteDocuments(r.Context(), req.Location, req.KeyFields); err != nil {
		h.fail(w, r, err)
		return
	}
	h.committed(w, r, req.Location, len(req.KeyFields))
}

func (h *Handler) committed(w http.ResponseWriter, r *http.Request, location string, n int) {
	loc, _ := h.registry.Resolve(location)
	gen := uint64(0)
	if wr, err := h.registry.Mutator(location); err == nil {
		gen = wr.Generation()
	}
	logger.FromContext(r.Context()).Info("mutation committed", "location", loc, "documents", n, "generation", gen)
	h.writeJSON(w, http.StatusOK, mutationResponse{
		Status:     "committed",
		Location:   loc,
		Documents:  n,
		Generation: gen,
	})
}

type searchRequest struct {
	Location   string           `json:"location"`
	Query      string           `json:"query"`
	Fields     []string         `json:"fields"`
	Projection []document.Field `json:"projection"`
	// Size is the page size; omitted selects the default, non-positive
	// returns no hits.
	Size    *int   `json:"size"`
	Page    int    `json:"page"`
	PreTag  string `json:"pre_tag"`
	PostTag string `json:"post_tag"`
}

type searchResponse struct {
	Query string       `json:"query"`
	Page  int          `json:"page,omitempty"`
	Size  int          `json:"size"`
	Hits  []search.Hit `json:"hits"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !h.decode(w, r, &req) {
		return
	}
	size := h.limits.DefaultPageSize
	if req.Size != nil {
		size = min(*req.Size, h.limits.MaxPageSize)
	}
	var opts []search.Option
	if req.PreTag != "" || req.PostTag != "" {
		opts = append(opts, search.WithMarkers(req.PreTag, req.PostTag))
	}

	var (
		hits []search.Hit
		err  error
	)
	if req.Page != 0 {
		hits, err = h.engine.SearchPage(r.Context(), req.Location, req.Query, req.Fields, req.Projection, req.Page, size, opts...)
	} else {
		hits, err = h.engine.Search(r.Context(), req.Location, req.Query, req.Fields, req.Projection, size, opts...)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, searchResponse{Query: req.Query, Page: req.Page, Size: size, Hits: hits})
}

type countRequest struct {
	Location string   `json:"location"`
	Query    string   `json:"query"`
	Fields   []string `json:"fields"`
}

func (h *Handler) Count(w http.ResponseWriter, r *http.Request) {
	var req countRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.engine.Count(r.Context(), req.Location, req.Query, req.Fields)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"query": req.Query, "count": n})
}

type highlightRequest struct {
	Query   string `json:"query"`
	Value   string `json:"value"`
	PreTag  string `json:"pre_tag"`
	PostTag string `json:"post_tag"`
}

func (h *Handler) Highlight(w http.ResponseWriter, r *http.Request) {
	var req highlightRequest
	if !h.decode(w, r, &req) {
		return
	}
	var opts []search.Option
	if req.PreTag != "" || req.PostTag != "" {
		opts = append(opts, search.WithMarkers(req.PreTag, req.PostTag))
	}
	out, err := h.engine.HighlightFragment(req.Query, req.Value, opts...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"fragment": out})
}

type locationInfo struct {
	Location   string `json:"location"`
	Generation uint64 `json:"reader_generation"`
}

func (h *Handler) Locations(w http.ResponseWriter, r *http.Request) {
	locs := h.registry.Locations()
	out := make([]locationInfo, 0, len(locs))
	for _, loc := range locs {
		out = append(out, locationInfo{Location: loc, Generation: h.registry.Generation(loc)})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"locations": out})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	var req struct {
		Location string `json:"location"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	loc, err := h.registry.Resolve(req.Location)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.cache.Invalidate(r.Context(), loc); err != nil {
		h.logger.Error("cache invalidation failed", "location", loc, "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "location": loc})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		log.Warn("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
