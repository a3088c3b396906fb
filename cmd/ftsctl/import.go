package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/importer"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/postgres"
)

// importOptions holds CLI flags for import.
type importOptions struct {
	driver    string
	dsn       string
	query     string
	mapping   string
	batchSize int
	update    bool
}

// mappingFile is the YAML form of an import job.
type mappingFile struct {
	Query     string            `yaml:"query"`
	BatchSize int               `yaml:"batchSize"`
	Update    bool              `yaml:"update"`
	Columns   []importer.Column `yaml:"columns"`
}

func newImportCmd(a *app) *cobra.Command {
	var opts importOptions
	cmd := &cobra.Command{
		Use:   "import <location>",
		Short: "Index the rows of a SQL query",
		Long: `Run a query against PostgreSQL or SQLite and index every row, one commit
per batch. Without a column mapping every column becomes a tokenized,
stored field of the same name; NULL columns are left out.

The postgres driver connects with the postgres section of the config
(FTS_POSTGRES_* variables override it). The sqlite driver opens --dsn.

A mapping file looks like:

  query: SELECT id, name, bio FROM users
  batchSize: 1000
  update: true
  columns:
    - {column: id, field: user_id, kind: exact_stored, key: true}
    - {column: name, kind: exact_stored}
    - {column: bio, kind: tokenized_unstored}

Examples:
  ftsctl import users --driver sqlite --dsn app.db --query "SELECT * FROM users"
  ftsctl import users --driver postgres --mapping users.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := loadJob(opts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			// read runs the import against the chosen source.
			var read func(fn func(importer.Querier) error) error
			switch opts.driver {
			case "postgres":
				client, err := postgres.New(ctx, a.cfg.Postgres)
				if err != nil {
					return err
				}
				defer client.Close()
				read = func(fn func(importer.Querier) error) error {
					return client.Snapshot(ctx, func(tx *sql.Tx) error { return fn(tx) })
				}
			case "sqlite":
				if opts.dsn == "" {
					return fmt.Errorf("--dsn is required for the sqlite driver")
				}
				db, err := sql.Open("sqlite", opts.dsn)
				if err != nil {
					return fmt.Errorf("opening sqlite database: %w", err)
				}
				defer db.Close()
				read = func(fn func(importer.Querier) error) error { return fn(db) }
			default:
				return fmt.Errorf("unknown driver %q: expected postgres or sqlite", opts.driver)
			}

			if err := a.open(); err != nil {
				return err
			}
			defer a.close()
			im := importer.New(a.ops, a.metrics)
			var stats importer.Stats
			err = read(func(q importer.Querier) error {
				var runErr error
				stats, runErr = im.Run(ctx, q, args[0], job)
				return runErr
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"location": args[0],
				"rows":     stats.Rows,
				"batches":  stats.Batches,
				"duration": stats.Duration.String(),
			})
		},
	}

	cmd.Flags().StringVar(&opts.driver, "driver", "postgres", "Source database: postgres, sqlite")
	cmd.Flags().StringVar(&opts.dsn, "dsn", "", "SQLite database path")
	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "SQL query (overrides the mapping file)")
	cmd.Flags().StringVarP(&opts.mapping, "mapping", "m", "", "YAML column mapping file")
	cmd.Flags().IntVar(&opts.batchSize, "batch", 0, "Rows per commit (default 500)")
	cmd.Flags().BoolVar(&opts.update, "update", false, "Replace documents by key columns")
	return cmd
}

func loadJob(opts importOptions) (importer.Job, error) {
	var m mappingFile
	if opts.mapping != "" {
		data, err := os.ReadFile(opts.mapping)
		if err != nil {
			return importer.Job{}, fmt.Errorf("reading mapping file: %w", err)
		}
		if err := yaml.Unmarshal(data, &m); err != nil {
			return importer.Job{}, fmt.Errorf("parsing mapping file %s: %w", opts.mapping, err)
		}
	}
	job := importer.Job{
		Query:     m.Query,
		Columns:   m.Columns,
		BatchSize: m.BatchSize,
		Update:    m.Update || opts.update,
	}
	if opts.query != "" {
		job.Query = opts.query
	}
	if opts.batchSize > 0 {
		job.BatchSize = opts.batchSize
	}
	return job, nil
}
