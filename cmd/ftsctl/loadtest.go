package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// loadOptions holds CLI flags for loadtest.
type loadOptions struct {
	url         string
	location    string
	fields      []string
	queries     []string
	concurrency int
	duration    time.Duration
	size        int
}

var defaultLoadQueries = []string{
	"distributed systems",
	"search engine",
	"indexing documents",
	"query processing",
	"full text search",
	"inverted index",
	`"ranking algorithm"`,
	"token AND stemming",
	"cache OR buffer",
}

// loadStats collects request outcomes from concurrent workers.
type loadStats struct {
	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func newLoadStats() *loadStats {
	return &loadStats{
		latencies: make([]time.Duration, 0, 1<<14),
		codes:     make(map[int]int64),
	}
}

func (s *loadStats) record(d time.Duration, status int, err error) {
	s.total.Add(1)
	if err != nil {
		s.failed.Add(1)
		return
	}
	if status >= 200 && status < 300 {
		s.success.Add(1)
	} else {
		s.failed.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[status]++
	s.mu.Unlock()
}

func newLoadTestCmd() *cobra.Command {
	var opts loadOptions
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive concurrent searches against a running index service",
		Long: `Send search requests from concurrent workers for a fixed duration and
report throughput, latency percentiles and status codes.

Examples:
  ftsctl loadtest --location users --field desc
  ftsctl loadtest --url http://search:8080 --location docs --field body -w 50 -d 1m
  ftsctl loadtest --location users --field desc -q "tea OR coffee" -q likes`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.concurrency <= 0 {
				return fmt.Errorf("--concurrency must be positive")
			}
			if len(opts.queries) == 0 {
				opts.queries = defaultLoadQueries
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "target=%s location=%s concurrency=%d duration=%s queries=%d\n",
				opts.url, opts.location, opts.concurrency, opts.duration, len(opts.queries))

			stats, err := runLoad(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printLoadReport(out, stats, opts.duration)
			if stats.total.Load() == 0 {
				return fmt.Errorf("no requests completed; is the service running at %s?", opts.url)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "http://localhost:8080", "Base URL of the index service")
	cmd.Flags().StringVar(&opts.location, "location", "", "Index location to query")
	cmd.Flags().StringSliceVar(&opts.fields, "field", nil, "Default field for unqualified terms (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.queries, "query", "q", nil, "Query to send (repeatable, default built-in set)")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "w", 10, "Number of concurrent workers")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 30*time.Second, "Test duration")
	cmd.Flags().IntVarP(&opts.size, "size", "n", 10, "Hits per request")
	_ = cmd.MarkFlagRequired("location")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func runLoad(ctx context.Context, opts loadOptions) (*loadStats, error) {
	bodies := make([][]byte, len(opts.queries))
	for i, q := range opts.queries {
		b, err := json.Marshal(map[string]any{
			"location": opts.location,
			"query":    q,
			"fields":   opts.fields,
			"size":     opts.size,
		})
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		bodies[i] = b
	}
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        opts.concurrency * 2,
			MaxIdleConnsPerHost: opts.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	defer client.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()
	stats := newLoadStats()
	target := opts.url + "/api/v1/search"

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.concurrency; w++ {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(bodies[i%len(bodies)]))
				if err != nil {
					return fmt.Errorf("building request: %w", err)
				}
				req.Header.Set("Content-Type", "application/json")
				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					stats.record(elapsed, 0, err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.record(elapsed, resp.StatusCode, nil)
			}
			return nil
		})
	}
	return stats, g.Wait()
}

func printLoadReport(w io.Writer, s *loadStats, duration time.Duration) {
	total, success, failed := s.total.Load(), s.success.Load(), s.failed.Load()
	fmt.Fprintf(w, "requests=%d success=%d errors=%d", total, success, failed)
	if total > 0 {
		fmt.Fprintf(w, " error_rate=%.2f%% rps=%.2f", float64(failed)/float64(total)*100, float64(total)/duration.Seconds())
	}
	fmt.Fprintln(w)

	s.mu.Lock()
	latencies := slices.Clone(s.latencies)
	codes := make([]int, 0, len(s.codes))
	for c := range s.codes {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	counts := make([]int64, len(codes))
	for i, c := range codes {
		counts[i] = s.codes[c]
	}
	s.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))
		var sq float64
		for _, l := range latencies {
			d := float64(l - avg)
			sq += d * d
		}
		stddev := time.Duration(math.Sqrt(sq / float64(len(latencies))))
		fmt.Fprintf(w, "latency min=%s avg=%s p50=%s p90=%s p99=%s max=%s stddev=%s\n",
			latencies[0], avg,
			percentile(latencies, 50), percentile(latencies, 90), percentile(latencies, 99),
			latencies[len(latencies)-1], stddev)
	}
	for i, c := range codes {
		fmt.Fprintf(w, "status %d: %d\n", c, counts[i])
	}
}

// percentile returns the nearest-rank percentile of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
