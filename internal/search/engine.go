// Package search executes ranked queries against index locations: single
// page and page-wise search, counting, and highlighting of matched fields.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/highlight"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/resource"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/resultcache"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/metrics"
)

const defaultQueryCacheSize = 1024

// Config tunes an Engine. Zero values select the defaults.
type Config struct {
	QueryCacheSize int
	FragmentSize   int
	PreTag         string
	PostTag        string
}

// Hit is one ranked document with its projected fields.
type Hit struct {
	Doc    int               `json:"doc"`
	Score  float64           `json:"score"`
	Fields document.Document `json:"fields"`
}

// Option adjusts a single call.
type Option func(*callOptions)

type callOptions struct {
	pre, post string
}

// WithMarkers wraps highlighted matches in pre and post instead of the
// engine's markers.
func WithMarkers(pre, post string) Option {
	return func(o *callOptions) {
		o.pre, o.post = pre, post
	}
}

// Engine runs queries against the searchers of a Registry. It never closes
// the resources it borrows.
type Engine struct {
	registry    *resource.Registry
	highlighter *highlight.Highlighter
	parsed      *lru.Cache[string, query.Query]
	results     *resultcache.Cache
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New returns an Engine over registry. results may be nil to disable result
// caching.
func New(registry *resource.Registry, cfg Config, m *metrics.Metrics, results *resultcache.Cache) (*Engine, error) {
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = defaultQueryCacheSize
	}
	parsed, err := lru.New[string, query.Query](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating query cache: %w", err)
	}
	if m == nil {
		m = metrics.New(nil)
	}
	h := highlight.New(registry.Analyzer())
	if cfg.FragmentSize > 0 {
		h.FragmentSize = cfg.FragmentSize
	}
	if cfg.PreTag != "" || cfg.PostTag != "" {
		h = h.WithMarkers(cfg.PreTag, cfg.PostTag)
	}
	return &Engine{
		registry:    registry,
		highlighter: h,
		parsed:      parsed,
		results:     results,
		metrics:     m,
		logger:      slog.Default().With("component", "query-engine"),
	}, nil
}

// Search returns the top size hits of q over fields with the projected
// fields of each hit. A non-positive size returns no hits.
func (e *Engine) Search(ctx context.Context, location, q string, fields []string, projection []document.Field, size int, opts ...Option) ([]Hit, error) {
	if err := validate(q, fields, projection); err != nil {
		return nil, err
	}
	if size <= 0 {
		return []Hit{}, nil
	}
	return e.page(ctx, "search", location, q, fields, projection, 1, size, opts)
}

// SearchPage returns page pageIndex (1-based) of pageSize hits. Later pages
// rank up to the end of the previous page to find the boundary hit and
// resume after it. A page starting past the last hit fails with
// ErrOutOfRange; a page starting exactly at the end is empty.
func (e *Engine) SearchPage(ctx context.Context, location, q string, fields []string, projection []document.Field, pageIndex, pageSize int, opts ...Option) ([]Hit, error) {
	if err := validate(q, fields, projection); err != nil {
		return nil, err
	}
	if pageIndex <= 0 || pageSize <= 0 {
		return []Hit{}, nil
	}
	if pageIndex == 1 {
		return e.Search(ctx, location, q, fields, projection, pageSize, opts...)
	}
	if pageIndex-1 > math.MaxInt/pageSize {
		return nil, apperrors.InvalidArgument("page %d of size %d overflows", pageIndex, pageSize)
	}
	return e.page(ctx, "search_page", location, q, fields, projection, pageIndex, pageSize, opts)
}

// Count returns how many live documents match q over fields.
func (e *Engine) Count(ctx context.Context, location, q string, fields []string) (int, error) {
	if q == "" {
		return 0, apperrors.InvalidArgument("query is required")
	}
	if fields == nil {
		return 0, apperrors.InvalidArgument("fields are required")
	}
	start := time.Now()
	n, err := e.count(ctx, location, q, fields)
	e.observe("count", start, n, err)
	if err != nil {
		return 0, err
	}
	logger.FromContext(ctx).Debug("count executed", "location", location, "query", q, "count", n)
	return n, nil
}

func (e *Engine) count(ctx context.Context, location, q string, fields []string) (int, error) {
	parsed, err := e.parse(q, fields)
	if err != nil {
		return 0, err
	}
	s, release, err := e.registry.Acquire(location)
	if err != nil {
		return 0, err
	}
	defer release()
	compute := func() (int, error) { return s.Count(parsed) }
	if e.results == nil {
		return compute()
	}
	n, _, err := resultcache.GetOrCompute(ctx, e.results, resultcache.Key{
		Location:   s.Reader().Dir(),
		Generation: s.Reader().Generation(),
		Op:         "count",
		Params:     countParams{Query: q, Fields: fields},
	}, compute)
	return n, err
}

// HighlightFragment highlights raw for q without an index. q is parsed
// against the unnamed default field. raw comes back unchanged when no query
// term occurs in it.
func (e *Engine) HighlightFragment(q, raw string, opts ...Option) (string, error) {
	parsed, err := e.parse(q, nil)
	if err != nil {
		return "", err
	}
	h := e.callHighlighter(opts)
	out, ok := h.Fragment("", raw, query.Terms(parsed, ""))
	e.countHighlight(ok)
	return out, nil
}

type pageParams struct {
	Query      string           `json:"q"`
	Fields     []string         `json:"f"`
	Projection []document.Field `json:"p"`
	Page       int              `json:"n"`
	Size       int              `json:"s"`
	Pre        string           `json:"pre"`
	Post       string           `json:"post"`
}

type countParams struct {
	Query  string   `json:"q"`
	Fields []string `json:"f"`
}

func (e *Engine) page(ctx context.Context, op, location, q string, fields []string, projection []document.Field, pageIndex, pageSize int, opts []Option) ([]Hit, error) {
	start := time.Now()
	hits, cached, err := e.runPage(ctx, location, q, fields, projection, pageIndex, pageSize, opts)
	e.observe(op, start, len(hits), err)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug("query executed",
		"location", location,
		"query", q,
		"page", pageIndex,
		"size", pageSize,
		"results", len(hits),
		"cached", cached,
		"duration", time.Since(start),
	)
	return hits, nil
}

func (e *Engine) runPage(ctx context.Context, location, q string, fields []string, projection []document.Field, pageIndex, pageSize int, opts []Option) ([]Hit, bool, error) {
	parsed, err := e.parse(q, fields)
	if err != nil {
		return nil, false, err
	}
	s, release, err := e.registry.Acquire(location)
	if err != nil {
		return nil, false, err
	}
	defer release()

	h := e.callHighlighter(opts)
	compute := func() ([]Hit, error) {
		top, err := topPage(s, parsed, pageIndex, pageSize)
		if err != nil {
			return nil, err
		}
		return e.materialize(s, parsed, top.ScoreDocs, projection, h)
	}
	if e.results == nil {
		hits, err := compute()
		return hits, false, err
	}
	return resultcache.GetOrCompute(ctx, e.results, resultcache.Key{
		Location:   s.Reader().Dir(),
		Generation: s.Reader().Generation(),
		Op:         "page",
		Params: pageParams{
			Query:      q,
			Fields:     fields,
			Projection: projection,
			Page:       pageIndex,
			Size:       pageSize,
			Pre:        h.Pre,
			Post:       h.Post,
		},
	}, compute)
}

func topPage(s *store.Searcher, q query.Query, pageIndex, pageSize int) (store.TopDocs, error) {
	if pageIndex == 1 {
		return s.Search(q, pageSize)
	}
	k := (pageIndex - 1) * pageSize
	boundary, err := s.Search(q, k)
	if err != nil {
		return store.TopDocs{}, err
	}
	if len(boundary.ScoreDocs) < k {
		return store.TopDocs{}, fmt.Errorf("%w: page %d of size %d starts after hit %d, query matched %d",
			apperrors.ErrOutOfRange, pageIndex, pageSize, k, boundary.TotalHits)
	}
	last := boundary.ScoreDocs[k-1]
	return s.SearchAfter(&last, q, pageSize)
}

// materialize loads only the projected fields of every hit. Highlighted
// fields with a stored value are replaced by their best fragment.
func (e *Engine) materialize(s *store.Searcher, q query.Query, docs []store.ScoreDoc, projection []document.Field, h *highlight.Highlighter) ([]Hit, error) {
	terms := make(map[string][]string)
	for _, p := range projection {
		if p.Highlight {
			if _, ok := terms[p.Name]; !ok {
				terms[p.Name] = query.Terms(q, p.Name)
			}
		}
	}
	hits := make([]Hit, 0, len(docs))
	for _, sd := range docs {
		stored, err := s.Doc(sd.Doc)
		if err != nil {
			return nil, fmt.Errorf("loading document %d: %w", sd.Doc, err)
		}
		values := make(map[string]string, len(stored))
		for _, f := range stored {
			if _, dup := values[f.Name]; !dup {
				values[f.Name] = f.Value
			}
		}
		fields := make(document.Document, 0, len(projection))
		for _, p := range projection {
			out := document.Field{Name: p.Name, Kind: p.Kind, IsKey: p.IsKey, Highlight: p.Highlight}
			if v, ok := values[p.Name]; ok {
				if p.Highlight {
					frag, matched := h.Fragment(p.Name, v, terms[p.Name])
					e.countHighlight(matched)
					v = frag
				}
				out.Value = &v
			}
			fields = append(fields, out)
		}
		hits = append(hits, Hit{Doc: sd.Doc, Score: sd.Score, Fields: fields})
	}
	return hits, nil
}

func (e *Engine) parse(q string, fields []string) (query.Query, error) {
	key := strings.Join(fields, "\x1f") + "\x1e" + q
	if parsed, ok := e.parsed.Get(key); ok {
		return parsed, nil
	}
	parsed, err := query.Parse(e.registry.Analyzer(), q, fields)
	if err != nil {
		return nil, err
	}
	e.parsed.Add(key, parsed)
	return parsed, nil
}

func (e *Engine) callHighlighter(opts []Option) *highlight.Highlighter {
	if len(opts) == 0 {
		return e.highlighter
	}
	o := callOptions{pre: e.highlighter.Pre, post: e.highlighter.Post}
	for _, opt := range opts {
		opt(&o)
	}
	return e.highlighter.WithMarkers(o.pre, o.post)
}

func (e *Engine) countHighlight(matched bool) {
	if matched {
		e.metrics.HighlightsTotal.WithLabelValues("fragment").Inc()
	} else {
		e.metrics.HighlightsTotal.WithLabelValues("raw").Inc()
	}
}

func (e *Engine) observe(op string, start time.Time, n int, err error) {
	e.metrics.QueryLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "hit"
	switch {
	case err != nil:
		result = "error"
		e.logger.Warn("query failed", "op", op, "error", err)
	case n == 0:
		result = "zero_result"
	}
	e.metrics.QueriesTotal.WithLabelValues(op, result).Inc()
}

func validate(q string, fields []string, projection []document.Field) error {
	if q == "" {
		return apperrors.InvalidArgument("query is required")
	}
	if fields == nil {
		return apperrors.InvalidArgument("fields are required")
	}
	if projection == nil {
		return apperrors.InvalidArgument("projection is required")
	}
	return nil
}
