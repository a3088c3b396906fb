// Package importer streams the rows of a SQL query into an index location.
package importer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/indexops"
	apperrors "github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/metrics"
)

const defaultBatchSize = 500

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Column maps one result column to a document field.
type Column struct {
	Column string        `yaml:"column"`
	Field  string        `yaml:"field"`
	Kind   document.Kind `yaml:"kind"`
	IsKey  bool          `yaml:"key"`
}

// Job describes one import.
type Job struct {
	Query string
	Args  []any
	// Columns maps result columns to fields. Empty maps every column to a
	// TokenizedStored field of the same name.
	Columns   []Column
	BatchSize int
	// Update replaces documents by their key columns instead of appending.
	Update bool
}

// Stats summarizes a finished import.
type Stats struct {
	Rows     int
	Batches  int
	Duration time.Duration
}

// Importer commits one transaction per batch; a failed batch stops the import
// and leaves the earlier batches committed.
type Importer struct {
	ops     *indexops.Ops
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(ops *indexops.Ops, m *metrics.Metrics) *Importer {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Importer{
		ops:     ops,
		metrics: m,
		logger:  slog.Default().With("component", "sql-importer"),
	}
}

// Run executes job.Query on db and indexes every row into location. NULL
// columns leave the field out of the document.
func (im *Importer) Run(ctx context.Context, db Querier, location string, job Job) (Stats, error) {
	start := time.Now()
	var stats Stats
	if job.Query == "" {
		return stats, apperrors.InvalidArgument("import query is required")
	}
	if job.Update && !hasKey(job.Columns) {
		return stats, apperrors.InvalidArgument("update import needs a key column")
	}
	size := job.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}

	rows, err := db.QueryContext(ctx, job.Query, job.Args...)
	if err != nil {
		return stats, fmt.Errorf("running import query: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return stats, fmt.Errorf("reading columns: %w", err)
	}
	plan, err := bind(names, job.Columns)
	if err != nil {
		return stats, err
	}

	values := make([]sql.NullString, len(names))
	dest := make([]any, len(names))
	for i := range values {
		dest[i] = &values[i]
	}
	batch := make([]document.Document, 0, size)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		var err error
		if job.Update {
			err = im.ops.UpdateDocuments(ctx, location, batch)
		} else {
			err = im.ops.AddDocuments(ctx, location, batch)
		}
		if err != nil {
			return fmt.Errorf("batch %d: %w", stats.Batches, err)
		}
		stats.Rows += len(batch)
		stats.Batches++
		im.metrics.ImportedRowsTotal.Add(float64(len(batch)))
		batch = batch[:0]
		return nil
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return stats, fmt.Errorf("scanning row %d: %w", stats.Rows+len(batch), err)
		}
		doc := make(document.Document, 0, len(plan))
		for _, b := range plan {
			v := values[b.index]
			if !v.Valid {
				continue
			}
			f := document.NewField(b.col.Field, v.String, b.col.Kind)
			f.IsKey = b.col.IsKey
			doc = append(doc, f)
		}
		batch = append(batch, doc)
		if len(batch) >= size {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterating rows: %w", err)
	}
	if err := flush(); err != nil {
		return stats, err
	}
	stats.Duration = time.Since(start)
	im.logger.Info("import finished",
		"location", location,
		"rows", stats.Rows,
		"batches", stats.Batches,
		"duration", stats.Duration,
	)
	return stats, nil
}

type binding struct {
	index int
	col   Column
}

func bind(names []string, cols []Column) ([]binding, error) {
	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}
	if len(cols) == 0 {
		plan := make([]binding, len(names))
		for i, n := range names {
			plan[i] = binding{index: i, col: Column{Column: n, Field: n, Kind: document.TokenizedStored}}
		}
		return plan, nil
	}
	plan := make([]binding, 0, len(cols))
	for _, c := range cols {
		i, ok := index[c.Column]
		if !ok {
			return nil, apperrors.InvalidArgument("column %q not in result set", c.Column)
		}
		if c.Field == "" {
			c.Field = c.Column
		}
		plan = append(plan, binding{index: i, col: c})
	}
	return plan, nil
}

func hasKey(cols []Column) bool {
	for _, c := range cols {
		if c.IsKey {
			return true
		}
	}
	return false
}
