// Package resource caches the writer, reader and searcher of every index
// location. Handles are built lazily with double-checked locking, kept
// current with the last commit, and shared by all callers of a Registry.
package resource

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/metrics"
)

// acquireAttempts bounds how often Acquire retries when a concurrent refresh
// releases the reader it just looked up.
const acquireAttempts = 8

// Options configures a Registry.
type Options struct {
	// Store is applied to every writer the registry opens.
	Store store.Options
	// Root, when set, anchors relative locations.
	Root    string
	Metrics *metrics.Metrics
}

// Registry owns the cached resources of any number of index locations.
// It is safe for concurrent use; Close releases everything it opened.
type Registry struct {
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
	entries sync.Map
	closed  atomic.Bool
}

// entry holds the resources of one location. Lock order is searcherMu,
// readerMu, writerMu; a slow path only takes locks to the right of the one
// it holds.
type entry struct {
	location string

	writerMu   sync.Mutex
	readerMu   sync.Mutex
	searcherMu sync.Mutex

	writer     atomic.Pointer[store.Writer]
	reader     atomic.Pointer[store.Reader]
	searcher   atomic.Pointer[store.Searcher]
	generation atomic.Uint64
}

func New(opts Options) *Registry {
	if opts.Store.Analyzer == nil {
		opts.Store.Analyzer = analysis.Simple{}
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	return &Registry{
		opts:    opts,
		metrics: m,
		logger:  slog.Default().With("component", "resource-registry"),
	}
}

// Analyzer returns the analyzer shared by every location of the registry.
func (r *Registry) Analyzer() analysis.Analyzer { return r.opts.Store.Analyzer }

// NormalizeLocation cleans a location so equivalent paths share one entry.
// Relative locations are joined to root when root is not empty.
func NormalizeLocation(root, location string) (string, error) {
	if strings.TrimSpace(location) == "" {
		return "", apperrors.InvalidArgument("index location is required")
	}
	if root != "" && !filepath.IsAbs(location) {
		location = filepath.Join(root, location)
	}
	return filepath.Clean(location), nil
}

// Resolve returns the normalized location the registry keys location by.
func (r *Registry) Resolve(location string) (string, error) {
	return NormalizeLocation(r.opts.Root, location)
}

func (r *Registry) lookup(location string) (string, *entry, error) {
	loc, err := NormalizeLocation(r.opts.Root, location)
	if err != nil {
		return "", nil, err
	}
	if r.closed.Load() {
		return loc, nil, apperrors.Resource("lookup", loc, apperrors.ErrClosed)
	}
	if v, ok := r.entries.Load(loc); ok {
		return loc, v.(*entry), nil
	}
	v, _ := r.entries.LoadOrStore(loc, &entry{location: loc})
	return loc, v.(*entry), nil
}

// Mutator returns the open writer of location, opening or creating the
// index on first use.
func (r *Registry) Mutator(location string) (*store.Writer, error) {
	loc, e, err := r.lookup(location)
	if err != nil {
		return nil, err
	}
	w, err := r.writerFor(e)
	if err != nil {
		r.Invalidate(loc)
		return nil, apperrors.Resource("open writer", loc, err)
	}
	return w, nil
}

// Reader returns a reader that reflects every commit completed before the
// call.
func (r *Registry) Reader(location string) (*store.Reader, error) {
	loc, e, err := r.lookup(location)
	if err != nil {
		return nil, err
	}
	rd, err := r.readerFor(e)
	if err != nil {
		r.Invalidate(loc)
		return nil, apperrors.Resource("open reader", loc, err)
	}
	return rd, nil
}

// Searcher returns the searcher bound to the current reader. The handle is
// only guaranteed usable until the next refresh; use Acquire to pin it.
func (r *Registry) Searcher(location string) (*store.Searcher, error) {
	loc, e, err := r.lookup(location)
	if err != nil {
		return nil, err
	}
	s, err := r.searcherFor(e)
	if err != nil {
		r.Invalidate(loc)
		return nil, apperrors.Resource("open searcher", loc, err)
	}
	return s, nil
}

// Acquire returns the current searcher with a reference on its reader that
// keeps it open until release is called, even across a refresh.
func (r *Registry) Acquire(location string) (*store.Searcher, func(), error) {
	for i := 0; i < acquireAttempts; i++ {
		s, err := r.Searcher(location)
		if err != nil {
			return nil, nil, err
		}
		rd := s.Reader()
		if rd.TryIncRef() {
			var once sync.Once
			release := func() {
				once.Do(func() {
					if err := rd.DecRef(); err != nil {
						r.logger.Warn("failed to release reader", "location", rd.Dir(), "error", err)
					}
				})
			}
			return s, release, nil
		}
	}
	loc, _ := NormalizeLocation(r.opts.Root, location)
	return nil, nil, apperrors.Resource("acquire searcher", loc, fmt.Errorf("reader released %d times in a row", acquireAttempts))
}

// Generation returns how many times a reader was opened or refreshed for
// location.
func (r *Registry) Generation(location string) uint64 {
	loc, err := NormalizeLocation(r.opts.Root, location)
	if err != nil {
		return 0
	}
	if v, ok := r.entries.Load(loc); ok {
		return v.(*entry).generation.Load()
	}
	return 0
}

// Locations returns every location with an entry, sorted.
func (r *Registry) Locations() []string {
	var locs []string
	r.entries.Range(func(k, _ any) bool {
		locs = append(locs, k.(string))
		return true
	})
	sort.Strings(locs)
	return locs
}

func (r *Registry) writerFor(e *entry) (*store.Writer, error) {
	if w := e.writer.Load(); w != nil && w.IsOpen() {
		return w, nil
	}
	e.writerMu.Lock()
	defer e.writerMu.Unlock()
	if w := e.writer.Load(); w != nil && w.IsOpen() {
		return w, nil
	}
	w, err := store.OpenWriter(e.location, r.opts.Store)
	if err != nil {
		r.metrics.ResourceOpensTotal.WithLabelValues("writer", "error").Inc()
		return nil, err
	}
	e.writer.Store(w)
	r.metrics.ResourceOpensTotal.WithLabelValues("writer", "open").Inc()
	return w, nil
}

func current(rd *store.Reader) bool {
	ok, err := rd.IsCurrent()
	return err == nil && ok
}

func (r *Registry) readerFor(e *entry) (*store.Reader, error) {
	if rd := e.reader.Load(); rd != nil && current(rd) {
		return rd, nil
	}
	e.readerMu.Lock()
	defer e.readerMu.Unlock()

	old := e.reader.Load()
	if old != nil {
		ok, err := old.IsCurrent()
		if err != nil {
			return nil, fmt.Errorf("checking reader currency: %w", err)
		}
		if ok {
			return old, nil
		}
	}

	var next *store.Reader
	outcome := "open"
	if old == nil {
		w, err := r.writerFor(e)
		if err != nil {
			return nil, err
		}
		next, err = store.OpenReader(w)
		if err != nil {
			r.metrics.ResourceOpensTotal.WithLabelValues("reader", "error").Inc()
			return nil, err
		}
	} else {
		outcome = "refresh"
		var err error
		next, err = old.OpenIfChanged()
		if err != nil {
			r.metrics.ResourceOpensTotal.WithLabelValues("reader", "error").Inc()
			return nil, err
		}
		if next == nil {
			return old, nil
		}
	}

	e.reader.Store(next)
	gen := e.generation.Add(1)
	r.metrics.ResourceOpensTotal.WithLabelValues("reader", outcome).Inc()
	r.metrics.ReaderGeneration.WithLabelValues(e.location).Set(float64(gen))
	r.logger.Debug("reader published",
		"location", e.location,
		"generation", gen,
		"commit", next.Generation(),
		"docs", next.NumDocs(),
	)
	if old != nil {
		if err := old.DecRef(); err != nil {
			r.logger.Warn("failed to release superseded reader", "location", e.location, "error", err)
		}
	}
	return next, nil
}

func (r *Registry) searcherFor(e *entry) (*store.Searcher, error) {
	rd, err := r.readerFor(e)
	if err != nil {
		return nil, err
	}
	if s := e.searcher.Load(); s != nil && s.Reader() == rd {
		return s, nil
	}
	e.searcherMu.Lock()
	defer e.searcherMu.Unlock()
	rd, err = r.readerFor(e)
	if err != nil {
		return nil, err
	}
	if s := e.searcher.Load(); s != nil && s.Reader() == rd {
		return s, nil
	}
	s := store.NewSearcher(rd)
	e.searcher.Store(s)
	r.metrics.ResourceOpensTotal.WithLabelValues("searcher", "open").Inc()
	return s, nil
}

// Invalidate drops and releases the cached resources of location only.
// Release failures are logged.
func (r *Registry) Invalidate(location string) {
	loc, err := NormalizeLocation(r.opts.Root, location)
	if err != nil {
		return
	}
	v, ok := r.entries.Load(loc)
	if !ok {
		return
	}
	if err := r.invalidate(v.(*entry)); err != nil {
		r.logger.Warn("failed to release index resources", "location", loc, "error", err)
	}
}

func (r *Registry) invalidate(e *entry) error {
	e.searcherMu.Lock()
	defer e.searcherMu.Unlock()
	e.readerMu.Lock()
	defer e.readerMu.Unlock()
	e.writerMu.Lock()
	defer e.writerMu.Unlock()

	var errs []error
	e.searcher.Store(nil)
	if rd := e.reader.Swap(nil); rd != nil {
		if err := rd.DecRef(); err != nil {
			errs = append(errs, fmt.Errorf("releasing reader: %w", err))
		}
	}
	if w := e.writer.Swap(nil); w != nil {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing writer: %w", err))
		}
	}
	r.logger.Debug("location invalidated", "location", e.location)
	return errors.Join(errs...)
}

// Close releases every cached resource. Later lookups fail with ErrClosed.
func (r *Registry) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	var errs []error
	r.entries.Range(func(k, v any) bool {
		if err := r.invalidate(v.(*entry)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
		return true
	})
	r.logger.Info("resource registry closed")
	return errors.Join(errs...)
}
