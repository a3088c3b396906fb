package search

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/indexops"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/resource"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/resultcache"
	apperrors "github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/metrics"
)

type fixture struct {
	ops     *indexops.Ops
	engine  *Engine
	metrics *metrics.Metrics
	loc     string
}

func newFixture(t *testing.T, results *resultcache.Cache) *fixture {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	reg := resource.New(resource.Options{Metrics: m})
	t.Cleanup(func() { reg.Close() })
	e, err := New(reg, Config{}, m, results)
	require.NoError(t, err)
	return &fixture{
		ops:     indexops.New(reg, m),
		engine:  e,
		metrics: m,
		loc:     t.TempDir(),
	}
}

func (f *fixture) add(t *testing.T, docs ...document.Document) {
	t.Helper()
	require.NoError(t, f.ops.AddDocuments(context.Background(), f.loc, docs))
}

func user(name, desc string) document.Document {
	return document.Document{
		document.Key("username", name),
		document.NewField("desc", desc, document.TokenizedStored),
	}
}

var usernameOnly = []document.Field{document.Project("username", false)}

func TestAliceBobScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.add(t, user("alice", "alice likes tea"), user("bob", "bob likes coffee"))

	hits, err := f.engine.Search(ctx, f.loc, "tea", []string{"desc"}, usernameOnly, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "alice", hits[0].Fields.Value("username"))

	n, err := f.engine.Count(ctx, f.loc, "likes", []string{"desc"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, f.ops.DeleteDocuments(ctx, f.loc, []document.Field{document.Key("username", "alice")}))
	hits, err = f.engine.Search(ctx, f.loc, "tea", []string{"desc"}, usernameOnly, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSizeGuard(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, user("alice", "alice likes tea"))
	for _, size := range []int{0, -5} {
		hits, err := f.engine.Search(context.Background(), f.loc, "tea", []string{"desc"}, usernameOnly, size)
		require.NoError(t, err)
		assert.Empty(t, hits)
		assert.NotNil(t, hits)
	}
}

func TestRequiredArguments(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.add(t, user("alice", "tea"))

	tests := []struct {
		name       string
		q          string
		fields     []string
		projection []document.Field
	}{
		{"empty query", "", []string{"desc"}, usernameOnly},
		{"nil fields", "tea", nil, usernameOnly},
		{"nil projection", "tea", []string{"desc"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Search(ctx, f.loc, tt.q, tt.fields, tt.projection, 10)
			assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
			_, err = f.engine.SearchPage(ctx, f.loc, tt.q, tt.fields, tt.projection, 2, 10)
			assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
		})
	}

	_, err := f.engine.Count(ctx, f.loc, "tea", nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	_, err = f.engine.Search(ctx, "", "tea", []string{"desc"}, usernameOnly, 10)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestMalformedQuery(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, user("alice", "tea"))

	_, err := f.engine.Search(context.Background(), f.loc, `"tea`, []string{"desc"}, usernameOnly, 10)
	assert.ErrorIs(t, err, apperrors.ErrQueryParse)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QueriesTotal.WithLabelValues("search", "error")))
}

func corpus(n int) []document.Document {
	docs := make([]document.Document, n)
	for i := range docs {
		desc := strings.Repeat("tea ", 1+i%4) + strings.Repeat("biscuit ", i%3)
		docs[i] = user(fmt.Sprintf("u%02d", i), desc)
	}
	return docs
}

func TestPagesMatchSingleSearch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	docs := corpus(30)
	f.add(t, docs[:12]...)
	f.add(t, docs[12:]...)

	all, err := f.engine.Search(ctx, f.loc, "tea", []string{"desc"}, usernameOnly, 20)
	require.NoError(t, err)
	require.Len(t, all, 20)

	var paged []Hit
	for p := 1; p <= 2; p++ {
		hits, err := f.engine.SearchPage(ctx, f.loc, "tea", []string{"desc"}, usernameOnly, p, 10)
		require.NoError(t, err)
		require.Len(t, hits, 10)
		paged = append(paged, hits...)
	}
	assert.Equal(t, all, paged)

	last, err := f.engine.SearchPage(ctx, f.loc, "tea", []string{"desc"}, usernameOnly, 3, 10)
	require.NoError(t, err)
	assert.Len(t, last, 10)
	seen := make(map[int]bool)
	for _, h := range append(paged, last...) {
		assert.False(t, seen[h.Doc], "doc %d returned twice", h.Doc)
		seen[h.Doc] = true
	}
	assert.Len(t, seen, 30)
}

func TestPageBeyondHits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.add(t, corpus(5)...)

	hits, err := f.engine.SearchPage(ctx, f.loc, "tea", []string{"desc"}, usernameOnly, 2, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = f.engine.SearchPage(ctx, f.loc, "tea", []string{"desc"}, usernameOnly, 3, 5)
	assert.ErrorIs(t, err, apperrors.ErrOutOfRange)

	hits, err = f.engine.SearchPage(ctx, f.loc, "tea", []string{"desc"}, usernameOnly, 2, 3)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestNonPositivePage(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, corpus(5)...)
	for _, tc := range [][2]int{{0, 10}, {-1, 10}, {1, 0}, {2, -3}} {
		hits, err := f.engine.SearchPage(context.Background(), f.loc, "tea", []string{"desc"}, usernameOnly, tc[0], tc[1])
		require.NoError(t, err)
		assert.Empty(t, hits)
	}
}

func TestProjection(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, document.Document{
		document.Key("username", "alice"),
		document.NewField("desc", "alice likes tea", document.TokenizedStored),
		document.NewField("notes", "tea notes are private", document.TokenizedUnstored),
		document.NewField("city", "Lisbon", document.ExactStored),
	})

	projection := []document.Field{
		document.Project("username", false),
		document.Project("desc", true),
		document.Project("notes", true),
		document.Project("missing", false),
	}
	hits, err := f.engine.Search(context.Background(), f.loc, "tea", []string{"desc", "notes"}, projection, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	fields := hits[0].Fields
	require.Len(t, fields, 4)
	assert.Equal(t, "alice", fields.Value("username"))
	assert.Equal(t, "alice likes <font color='red'>tea</font>", fields.Value("desc"))
	notes, ok := fields.Get("notes")
	require.True(t, ok)
	assert.Nil(t, notes.Value)
	missing, _ := fields.Get("missing")
	assert.Nil(t, missing.Value)
	_, ok = fields.Get("city")
	assert.False(t, ok)
}

func TestMarkersPerCall(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, user("alice", "alice likes tea"))

	projection := []document.Field{document.Project("desc", true)}
	hits, err := f.engine.Search(context.Background(), f.loc, "tea", []string{"desc"}, projection, 10, WithMarkers("<em>", "</em>"))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "alice likes <em>tea</em>", hits[0].Fields.Value("desc"))
}

func TestHighlightFragment(t *testing.T) {
	f := newFixture(t, nil)

	out, err := f.engine.HighlightFragment("coffee", "alice likes tea")
	require.NoError(t, err)
	assert.Equal(t, "alice likes tea", out)

	out, err = f.engine.HighlightFragment("likes", "alice likes tea")
	require.NoError(t, err)
	assert.Equal(t, "alice <font color='red'>likes</font> tea", out)

	out, err = f.engine.HighlightFragment("tea OR alice", "alice likes tea", WithMarkers("[", "]"))
	require.NoError(t, err)
	assert.Equal(t, "[alice] likes [tea]", out)

	_, err = f.engine.HighlightFragment("(tea", "alice likes tea")
	assert.ErrorIs(t, err, apperrors.ErrQueryParse)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HighlightsTotal.WithLabelValues("raw")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.HighlightsTotal.WithLabelValues("fragment")))
}

func TestSearchSeesLatestCommit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.add(t, user("alice", "tea"))

	n, err := f.engine.Count(ctx, f.loc, "tea", []string{"desc"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.add(t, user("bob", "tea"))
	n, err = f.engine.Count(ctx, f.loc, "tea", []string{"desc"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConcurrentQueries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.add(t, corpus(20)...)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				hits, err := f.engine.SearchPage(ctx, f.loc, "tea", []string{"desc"}, usernameOnly, 2, 5)
				assert.NoError(t, err)
				assert.Len(t, hits, 5)
			}
		}()
	}
	f.add(t, user("late", "tea"))
	wg.Wait()
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value.([]byte))
	return nil
}

func (m *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func TestResultCache(t *testing.T) {
	cache := resultcache.New(&memStore{data: make(map[string]string)}, time.Minute, nil)
	f := newFixture(t, cache)
	ctx := context.Background()
	f.add(t, user("alice", "alice likes tea"))

	first, err := f.engine.Search(ctx, f.loc, "tea", []string{"desc"}, usernameOnly, 10)
	require.NoError(t, err)
	second, err := f.engine.Search(ctx, f.loc, "tea", []string{"desc"}, usernameOnly, 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	hits, _ := cache.Stats()
	assert.Equal(t, int64(1), hits)

	f.add(t, user("bob", "bob likes tea"))
	third, err := f.engine.Search(ctx, f.loc, "tea", []string{"desc"}, usernameOnly, 10)
	require.NoError(t, err)
	assert.Len(t, third, 2)

	_, err = f.engine.SearchPage(ctx, f.loc, "tea", []string{"desc"}, usernameOnly, 5, 10)
	assert.ErrorIs(t, err, apperrors.ErrOutOfRange)
}
