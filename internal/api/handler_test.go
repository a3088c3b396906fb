package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/indexops"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/resource"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/search"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/ratelimit"
)

func newServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	root := t.TempDir()
	m := metrics.New(prometheus.NewRegistry())
	reg := resource.New(resource.Options{Root: root, Metrics: m})
	t.Cleanup(func() { reg.Close() })
	engine, err := search.New(reg, search.Config{}, m, nil)
	require.NoError(t, err)
	h := New(reg, indexops.New(reg, m), engine, nil, Limits{DefaultPageSize: 2, MaxPageSize: 5})
	checker := health.NewChecker()
	checker.Register("index_root", health.DirCheck(root))
	srv := httptest.NewServer(NewRouter(h, checker, m, RouterOptions{Timeout: 5 * time.Second}))
	t.Cleanup(srv.Close)
	return srv, root
}

func call(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

const users = `{"location":"users","documents":[
	[{"name":"username","value":"alice","kind":"exact_stored","is_key":true},
	 {"name":"desc","value":"alice likes tea","kind":"tokenized_stored"}],
	[{"name":"username","value":"bob","kind":"exact_stored","is_key":true},
	 {"name":"desc","value":"bob likes coffee","kind":"tokenized_stored"}]]}`

func TestMutateAndQuery(t *testing.T) {
	srv, _ := newServer(t)

	status, out := call(t, srv, http.MethodPost, "/api/v1/documents", users)
	require.Equal(t, http.StatusOK, status, out)
	assert.Equal(t, "committed", out["status"])
	assert.Equal(t, 1.0, out["generation"])

	status, out = call(t, srv, http.MethodPost, "/api/v1/search",
		`{"location":"users","query":"tea","fields":["desc"],"projection":[{"name":"username"},{"name":"desc","highlight":true}]}`)
	require.Equal(t, http.StatusOK, status, out)
	hits := out["hits"].([]any)
	require.Len(t, hits, 1)
	fields := hits[0].(map[string]any)["fields"].([]any)
	assert.Equal(t, "alice", fields[0].(map[string]any)["value"])
	assert.Equal(t, "alice likes <font color='red'>tea</font>", fields[1].(map[string]any)["value"])

	status, out = call(t, srv, http.MethodPost, "/api/v1/count", `{"location":"users","query":"likes","fields":["desc"]}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2.0, out["count"])

	status, _ = call(t, srv, http.MethodDelete, "/api/v1/documents",
		`{"location":"users","key_fields":[{"name":"username","value":"alice","is_key":true}]}`)
	require.Equal(t, http.StatusOK, status)
	_, out = call(t, srv, http.MethodPost, "/api/v1/count", `{"location":"users","query":"likes","fields":["desc"]}`)
	assert.Equal(t, 1.0, out["count"])

	status, out = call(t, srv, http.MethodGet, "/api/v1/locations", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["locations"], 1)
}

func TestSearchPagingAndSizes(t *testing.T) {
	srv, _ := newServer(t)
	status, _ := call(t, srv, http.MethodPost, "/api/v1/documents", users)
	require.Equal(t, http.StatusOK, status)

	base := `"location":"users","query":"likes","fields":["desc"],"projection":[{"name":"username"}]`
	_, out := call(t, srv, http.MethodPost, "/api/v1/search", `{`+base+`}`)
	assert.Equal(t, 2.0, out["size"])
	assert.Len(t, out["hits"], 2)

	_, out = call(t, srv, http.MethodPost, "/api/v1/search", `{`+base+`,"size":0}`)
	assert.Empty(t, out["hits"])

	_, out = call(t, srv, http.MethodPost, "/api/v1/search", `{`+base+`,"size":50}`)
	assert.Equal(t, 5.0, out["size"])

	_, out = call(t, srv, http.MethodPost, "/api/v1/search", `{`+base+`,"size":1,"page":2}`)
	assert.Len(t, out["hits"], 1)

	status, _ = call(t, srv, http.MethodPost, "/api/v1/search", `{`+base+`,"size":1,"page":4}`)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, status)
}

func TestErrorStatuses(t *testing.T) {
	srv, _ := newServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"malformed json", http.MethodPost, "/api/v1/search", `{`, http.StatusBadRequest},
		{"missing fields", http.MethodPost, "/api/v1/search", `{"location":"users","query":"tea","projection":[]}`, http.StatusBadRequest},
		{"bad query", http.MethodPost, "/api/v1/count", `{"location":"users","query":"(tea","fields":["desc"]}`, http.StatusBadRequest},
		{"missing batch", http.MethodPost, "/api/v1/documents", `{"location":"users"}`, http.StatusBadRequest},
		{"rejected document", http.MethodPost, "/api/v1/documents", `{"location":"users","documents":[[{"name":"desc"}]]}`, http.StatusConflict},
		{"missing location", http.MethodPost, "/api/v1/count", `{"query":"tea","fields":["desc"]}`, http.StatusBadRequest},
		{"cache disabled", http.MethodPost, "/api/v1/cache/invalidate", `{"location":"users"}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := call(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status, out)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestRateLimit(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	reg := resource.New(resource.Options{Root: t.TempDir(), Metrics: m})
	t.Cleanup(func() { reg.Close() })
	engine, err := search.New(reg, search.Config{}, m, nil)
	require.NoError(t, err)
	h := New(reg, indexops.New(reg, m), engine, nil, Limits{})
	srv := httptest.NewServer(NewRouter(h, health.NewChecker(), m, RouterOptions{
		Limiter: ratelimit.New(2, time.Minute),
	}))
	t.Cleanup(srv.Close)

	for i := 0; i < 2; i++ {
		status, _ := call(t, srv, http.MethodGet, "/api/v1/locations", "")
		assert.Equal(t, http.StatusOK, status)
	}
	status, out := call(t, srv, http.MethodGet, "/api/v1/locations", "")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate limit exceeded", out["error"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitedTotal.WithLabelValues(http.MethodGet)))

	status, _ = call(t, srv, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestHighlightAndHealth(t *testing.T) {
	srv, _ := newServer(t)

	status, out := call(t, srv, http.MethodPost, "/api/v1/highlight",
		`{"query":"tea","value":"alice likes tea","pre_tag":"<b>","post_tag":"</b>"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice likes <b>tea</b>", out["fragment"])

	status, out = call(t, srv, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "up", out["status"])

	status, out = call(t, srv, http.MethodGet, "/api/v1/cache/stats", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "disabled", out["status"])
}
