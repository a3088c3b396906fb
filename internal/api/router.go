package api

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/ratelimit"
)

// RouterOptions configures the optional middleware. Zero values disable it.
type RouterOptions struct {
	Timeout time.Duration
	Limiter *ratelimit.Limiter
}

// NewRouter builds the service HTTP handler.
//
// Route table:
//
//	POST   /api/v1/documents          add documents
//	PUT    /api/v1/documents          update documents by key
//	DELETE /api/v1/documents          delete documents by key fields
//	POST   /api/v1/search             search, or one page when "page" is set
//	POST   /api/v1/count              count matches
//	POST   /api/v1/highlight          highlight a raw value
//	GET    /api/v1/locations          open locations and reader generations
//	GET    /api/v1/cache/stats        result cache counters
//	POST   /api/v1/cache/invalidate   drop cached results of a location
//	GET    /health/live, /health/ready
//
// Middleware chain (outermost first):
//
//	RequestID → RateLimit → Timeout → per-route metrics → handler
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, opts RouterOptions) http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, label string, fn http.HandlerFunc) {
		mux.Handle(pattern, middleware.Route(m, label, fn))
	}

	route("POST /api/v1/documents", "/api/v1/documents", h.AddDocuments)
	route("PUT /api/v1/documents", "/api/v1/documents", h.UpdateDocuments)
	route("DELETE /api/v1/documents", "/api/v1/documents", h.DeleteDocuments)
	route("POST /api/v1/search", "/api/v1/search", h.Search)
	route("POST /api/v1/count", "/api/v1/count", h.Count)
	route("POST /api/v1/highlight", "/api/v1/highlight", h.Highlight)
	route("GET /api/v1/locations", "/api/v1/locations", h.Locations)
	route("GET /api/v1/cache/stats", "/api/v1/cache/stats", h.CacheStats)
	route("POST /api/v1/cache/invalidate", "/api/v1/cache/invalidate", h.CacheInvalidate)

	if checker != nil {
		mux.HandleFunc("GET /health/live", checker.LiveHandler())
		mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	}

	var chain http.Handler = mux
	if opts.Timeout > 0 {
		chain = middleware.Timeout(opts.Timeout)(chain)
	}
	if opts.Limiter != nil {
		chain = middleware.RateLimit(opts.Limiter, m)(chain)
	}
	return middleware.RequestID(chain)
}
