package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/indexops"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/resource"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/search"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/metrics"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	root       string
	analyzer   string
	logLevel   string
}

// app is the index stack opened lazily by commands that touch an index.
type app struct {
	cfg      *config.Config
	registry *resource.Registry
	ops      *indexops.Ops
	engine   *search.Engine
	metrics  *metrics.Metrics
}

func (a *app) close() {
	if a.registry == nil {
		return
	}
	if err := a.registry.Close(); err != nil {
		slog.Error("closing index resources", "error", err)
	}
	a.registry = nil
}

// NewRootCmd creates the ftsctl command tree.
func NewRootCmd() *cobra.Command {
	var opts globalOptions
	a := &app{}

	cmd := &cobra.Command{
		Use:   "ftsctl",
		Short: "Manage and query full-text index locations",
		Long: `ftsctl opens index locations directly on disk to add, update and
delete documents, run queries, and import rows from SQL databases.

Locations are directories; relative locations resolve under the index root.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.root != "" {
				cfg.Index.Root = opts.root
			}
			if opts.analyzer != "" {
				cfg.Index.Analyzer = opts.analyzer
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			slog.SetDefault(logger.New(cmd.ErrOrStderr(), cfg.Logging.Level, "text"))
			a.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&opts.root, "root", "", "Index root directory (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.analyzer, "analyzer", "", "Analyzer: simple, standard, en, cjk, keyword (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides config)")

	cmd.AddCommand(newAddCmd(a))
	cmd.AddCommand(newUpdateCmd(a))
	cmd.AddCommand(newDeleteCmd(a))
	cmd.AddCommand(newSearchCmd(a))
	cmd.AddCommand(newCountCmd(a))
	cmd.AddCommand(newHighlightCmd(a))
	cmd.AddCommand(newImportCmd(a))
	cmd.AddCommand(newLoadTestCmd())
	return cmd
}

// open builds the registry, mutation ops and query engine. Callers close
// the app when the command returns.
func (a *app) open() error {
	if a.registry != nil {
		return nil
	}
	analyzer, err := analysis.New(a.cfg.Index.Analyzer)
	if err != nil {
		return err
	}
	a.metrics = metrics.New(nil)
	a.registry = resource.New(resource.Options{
		Store:   store.Options{Analyzer: analyzer},
		Root:    a.cfg.Index.Root,
		Metrics: a.metrics,
	})
	a.ops = indexops.New(a.registry, a.metrics)
	a.engine, err = search.New(a.registry, search.Config{
		QueryCacheSize: a.cfg.Search.QueryCacheSize,
		FragmentSize:   a.cfg.Search.FragmentSize,
		PreTag:         a.cfg.Search.PreTag,
		PostTag:        a.cfg.Search.PostTag,
	}, a.metrics, nil)
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func main() {
	if err := Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
