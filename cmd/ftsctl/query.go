package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	fields    []string
	show      []string
	highlight []string
	size      int
	page      int
	preTag    string
	postTag   string
	format    string
}

func newSearchCmd(a *app) *cobra.Command {
	var opts searchOptions
	cmd := &cobra.Command{
		Use:   "search <location> <query>",
		Short: "Run a query and print the top hits",
		Long: `Run a query against the default fields and print each hit with the
projected fields. Highlighted fields show the best fragment around the
matched terms.

Examples:
  ftsctl search users "tea OR coffee" --field desc --show username
  ftsctl search users "desc:tea" --field desc --highlight desc --size 5
  ftsctl search users likes --field desc --show username --page 3 --size 20
  ftsctl search users tea --field desc --show username --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()

			projection := make([]document.Field, 0, len(opts.show)+len(opts.highlight))
			for _, name := range opts.show {
				projection = append(projection, document.Project(name, false))
			}
			for _, name := range opts.highlight {
				projection = append(projection, document.Project(name, true))
			}
			var callOpts []search.Option
			if opts.preTag != "" || opts.postTag != "" {
				callOpts = append(callOpts, search.WithMarkers(opts.preTag, opts.postTag))
			}

			var (
				hits []search.Hit
				err  error
			)
			if opts.page > 0 {
				hits, err = a.engine.SearchPage(cmd.Context(), args[0], args[1], opts.fields, projection, opts.page, opts.size, callOpts...)
			} else {
				hits, err = a.engine.Search(cmd.Context(), args[0], args[1], opts.fields, projection, opts.size, callOpts...)
			}
			if err != nil {
				return err
			}
			if opts.format == "json" {
				return printJSON(cmd.OutOrStdout(), hits)
			}
			printHits(cmd.OutOrStdout(), hits)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&opts.fields, "field", nil, "Default field for unqualified terms (repeatable)")
	cmd.Flags().StringSliceVarP(&opts.show, "show", "s", nil, "Field to return with each hit (repeatable)")
	cmd.Flags().StringSliceVar(&opts.highlight, "highlight", nil, "Field to return highlighted (repeatable)")
	cmd.Flags().IntVarP(&opts.size, "size", "n", 10, "Maximum number of hits")
	cmd.Flags().IntVarP(&opts.page, "page", "p", 0, "1-based page number; 0 returns the top hits")
	cmd.Flags().StringVar(&opts.preTag, "pre-tag", "", "Marker placed before highlighted terms")
	cmd.Flags().StringVar(&opts.postTag, "post-tag", "", "Marker placed after highlighted terms")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func printHits(w io.Writer, hits []search.Hit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "no hits")
		return
	}
	for i, h := range hits {
		parts := make([]string, 0, len(h.Fields))
		for _, f := range h.Fields {
			if f.Value == nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%q", f.Name, *f.Value))
		}
		fmt.Fprintf(w, "%d. doc=%d score=%.4f %s\n", i+1, h.Doc, h.Score, strings.Join(parts, " "))
	}
}

func newCountCmd(a *app) *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "count <location> <query>",
		Short: "Count live documents matching a query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()
			n, err := a.engine.Count(cmd.Context(), args[0], args[1], fields)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&fields, "field", nil, "Default field for unqualified terms (repeatable)")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func newHighlightCmd(a *app) *cobra.Command {
	var preTag, postTag string
	cmd := &cobra.Command{
		Use:   "highlight <query> <text>",
		Short: "Highlight the query terms in a piece of text",
		Long: `Print the best fragment of text with every query term wrapped in
markers. Text without matches is printed unchanged.

Examples:
  ftsctl highlight "tea" "alice likes tea" --pre-tag "[" --post-tag "]"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()
			var opts []search.Option
			if preTag != "" || postTag != "" {
				opts = append(opts, search.WithMarkers(preTag, postTag))
			}
			out, err := a.engine.HighlightFragment(args[0], args[1], opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&preTag, "pre-tag", "", "Marker placed before highlighted terms")
	cmd.Flags().StringVar(&postTag, "post-tag", "", "Marker placed after highlighted terms")
	return cmd
}
