package resource

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/metrics"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(Options{Metrics: metrics.New(prometheus.NewRegistry())})
	t.Cleanup(func() { r.Close() })
	return r
}

func addDoc(t *testing.T, r *Registry, loc, id, desc string) {
	t.Helper()
	w, err := r.Mutator(loc)
	require.NoError(t, err)
	txn, err := w.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.AddDocument(document.Document{
		document.Key("id", id),
		document.NewField("desc", desc, document.TokenizedStored),
	}))
	_, err = txn.Commit()
	require.NoError(t, err)
}

func countTerm(t *testing.T, r *Registry, loc, term string) int {
	t.Helper()
	s, err := r.Searcher(loc)
	require.NoError(t, err)
	n, err := s.Count(&query.TermQuery{Field: "desc", Term: term})
	require.NoError(t, err)
	return n
}

func TestConcurrentLookupsShareHandles(t *testing.T) {
	r := newRegistry(t)
	loc := t.TempDir()
	addDoc(t, r, loc, "1", "tea")

	const workers = 32
	writers := make([]*store.Writer, workers)
	readers := make([]*store.Reader, workers)
	searchers := make([]*store.Searcher, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			var err error
			writers[i], err = r.Mutator(loc)
			assert.NoError(t, err)
			readers[i], err = r.Reader(loc)
			assert.NoError(t, err)
			searchers[i], err = r.Searcher(loc)
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Same(t, writers[0], writers[i])
		assert.Same(t, readers[0], readers[i])
		assert.Same(t, searchers[0], searchers[i])
	}
	assert.Same(t, readers[0], searchers[0].Reader())
	assert.Equal(t, uint64(1), r.Generation(loc))
}

func TestEquivalentPathsShareEntry(t *testing.T) {
	r := newRegistry(t)
	loc := t.TempDir()
	w1, err := r.Mutator(loc)
	require.NoError(t, err)
	w2, err := r.Mutator(loc + string(filepath.Separator) + ".")
	require.NoError(t, err)
	assert.Same(t, w1, w2)
}

func TestRelativeLocationsUseRoot(t *testing.T) {
	root := t.TempDir()
	r := New(Options{Root: root})
	t.Cleanup(func() { r.Close() })

	w, err := r.Mutator("users")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "users"), w.Dir())

	abs := t.TempDir()
	loc, err := r.Resolve(abs)
	require.NoError(t, err)
	assert.Equal(t, abs, loc)
}

func TestCommitRefreshesOnlyThatLocation(t *testing.T) {
	r := newRegistry(t)
	a, b := t.TempDir(), t.TempDir()
	addDoc(t, r, a, "1", "tea")
	addDoc(t, r, b, "1", "tea")

	readerA, err := r.Reader(a)
	require.NoError(t, err)
	readerB, err := r.Reader(b)
	require.NoError(t, err)
	searcherA, err := r.Searcher(a)
	require.NoError(t, err)
	genA, genB := r.Generation(a), r.Generation(b)

	addDoc(t, r, a, "2", "tea")

	assert.Equal(t, 2, countTerm(t, r, a, "tea"))
	assert.Equal(t, 1, countTerm(t, r, b, "tea"))

	newA, err := r.Reader(a)
	require.NoError(t, err)
	assert.NotSame(t, readerA, newA)
	assert.Equal(t, genA+1, r.Generation(a))

	sameB, err := r.Reader(b)
	require.NoError(t, err)
	assert.Same(t, readerB, sameB)
	assert.Equal(t, genB, r.Generation(b))

	newSearcherA, err := r.Searcher(a)
	require.NoError(t, err)
	assert.NotSame(t, searcherA, newSearcherA)
	assert.Same(t, newA, newSearcherA.Reader())
}

func TestRefreshReleasesSupersededReader(t *testing.T) {
	r := newRegistry(t)
	loc := t.TempDir()
	addDoc(t, r, loc, "1", "tea")
	old, err := r.Reader(loc)
	require.NoError(t, err)
	require.Equal(t, 1, old.RefCount())

	addDoc(t, r, loc, "2", "tea")
	_, err = r.Reader(loc)
	require.NoError(t, err)
	assert.Equal(t, 0, old.RefCount())
}

func TestAcquirePinsReaderAcrossRefresh(t *testing.T) {
	r := newRegistry(t)
	loc := t.TempDir()
	addDoc(t, r, loc, "1", "tea")

	s, release, err := r.Acquire(loc)
	require.NoError(t, err)
	pinned := s.Reader()
	assert.Equal(t, 2, pinned.RefCount())

	addDoc(t, r, loc, "2", "tea")
	assert.Equal(t, 2, countTerm(t, r, loc, "tea"))

	n, err := s.Count(&query.TermQuery{Field: "desc", Term: "tea"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, pinned.RefCount())

	release()
	release()
	assert.Equal(t, 0, pinned.RefCount())
}

func TestLockedLocationIsResourceError(t *testing.T) {
	loc := t.TempDir()
	other, err := store.OpenWriter(loc, store.Options{})
	require.NoError(t, err)
	defer other.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := New(Options{Metrics: m})
	defer r.Close()

	_, err = r.Mutator(loc)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrResource)
	assert.ErrorIs(t, err, store.ErrLocked)
	gotLoc, ok := apperrors.Location(err)
	require.True(t, ok)
	assert.Equal(t, filepath.Clean(loc), gotLoc)

	_, err = r.Searcher(loc)
	assert.ErrorIs(t, err, apperrors.ErrResource)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ResourceOpensTotal.WithLabelValues("writer", "error")))

	require.NoError(t, other.Close())
	_, err = r.Searcher(loc)
	assert.NoError(t, err)
}

func TestInvalidateDropsOnlyThatLocation(t *testing.T) {
	r := newRegistry(t)
	a, b := t.TempDir(), t.TempDir()
	addDoc(t, r, a, "1", "tea")
	addDoc(t, r, b, "1", "tea")
	wa, err := r.Mutator(a)
	require.NoError(t, err)
	wb, err := r.Mutator(b)
	require.NoError(t, err)
	ra, err := r.Reader(a)
	require.NoError(t, err)
	gen := r.Generation(a)

	r.Invalidate(a)
	assert.False(t, wa.IsOpen())
	assert.True(t, wb.IsOpen())
	assert.Equal(t, 0, ra.RefCount())

	wa2, err := r.Mutator(a)
	require.NoError(t, err)
	assert.NotSame(t, wa, wa2)
	assert.Equal(t, 1, countTerm(t, r, a, "tea"))
	assert.Greater(t, r.Generation(a), gen)
}

func TestEmptyLocationIsInvalidArgument(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Mutator("  ")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	_, _, err = r.Acquire("")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestClosedRegistry(t *testing.T) {
	r := New(Options{})
	loc := t.TempDir()
	w, err := r.Mutator(loc)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Clean(loc)}, r.Locations())

	require.NoError(t, r.Close())
	assert.False(t, w.IsOpen())
	_, err = r.Reader(loc)
	assert.ErrorIs(t, err, apperrors.ErrClosed)
	assert.NoError(t, r.Close())

	w2, err := store.OpenWriter(loc, store.Options{})
	require.NoError(t, err)
	w2.Close()
}
