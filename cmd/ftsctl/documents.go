package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/kafka"
)

// mutationOptions holds the flags of add, update and delete.
type mutationOptions struct {
	file    string
	keys    []string
	publish bool
}

func newAddCmd(a *app) *cobra.Command {
	var opts mutationOptions
	cmd := &cobra.Command{
		Use:   "add <location>",
		Short: "Append documents to a location in one commit",
		Long: `Append documents read as a JSON array of documents, each an array of
fields:

  [[{"name":"username","value":"alice","kind":"exact_stored","is_key":true},
    {"name":"desc","value":"alice likes tea"}]]

Examples:
  ftsctl add users --file users.json
  cat users.json | ftsctl add users
  ftsctl add users --file users.json --publish`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := readDocuments(cmd.InOrStdin(), opts.file)
			if err != nil {
				return err
			}
			if opts.publish {
				return publish(cmd, a, func(ctx context.Context, p *ingest.Publisher) (string, error) {
					return p.Add(ctx, args[0], docs)
				})
			}
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()
			if err := a.ops.AddDocuments(cmd.Context(), args[0], docs); err != nil {
				return err
			}
			return committed(cmd, a, args[0], len(docs))
		},
	}
	addMutationFlags(cmd, &opts)
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var opts mutationOptions
	cmd := &cobra.Command{
		Use:   "update <location>",
		Short: "Replace documents by their key fields in one commit",
		Long: `Replace every document matching the key fields of each new document.
Documents without a key field are rejected.

Examples:
  ftsctl update users --file changed.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := readDocuments(cmd.InOrStdin(), opts.file)
			if err != nil {
				return err
			}
			if opts.publish {
				return publish(cmd, a, func(ctx context.Context, p *ingest.Publisher) (string, error) {
					return p.Update(ctx, args[0], docs)
				})
			}
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()
			if err := a.ops.UpdateDocuments(cmd.Context(), args[0], docs); err != nil {
				return err
			}
			return committed(cmd, a, args[0], len(docs))
		},
	}
	addMutationFlags(cmd, &opts)
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var opts mutationOptions
	cmd := &cobra.Command{
		Use:   "delete <location>",
		Short: "Delete documents matching key fields",
		Long: `Delete every document whose exact key terms match all --key pairs.

Examples:
  ftsctl delete users --key username=alice
  ftsctl delete users --key tenant=acme --key username=bob`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := parseKeys(opts.keys)
			if err != nil {
				return err
			}
			if opts.publish {
				return publish(cmd, a, func(ctx context.Context, p *ingest.Publisher) (string, error) {
					return p.Delete(ctx, args[0], keys)
				})
			}
			if err := a.open(); err != nil {
				return err
			}
			defer a.close()
			if err := a.ops.DeleteDocuments(cmd.Context(), args[0], keys); err != nil {
				return err
			}
			return committed(cmd, a, args[0], len(keys))
		},
	}
	cmd.Flags().StringArrayVarP(&opts.keys, "key", "k", nil, "Key field as name=value (repeatable)")
	cmd.Flags().BoolVar(&opts.publish, "publish", false, "Publish the mutation to Kafka instead of committing locally")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func addMutationFlags(cmd *cobra.Command, opts *mutationOptions) {
	cmd.Flags().StringVarP(&opts.file, "file", "f", "-", "JSON documents file, - for stdin")
	cmd.Flags().BoolVar(&opts.publish, "publish", false, "Publish the mutation to Kafka instead of committing locally")
}

func readDocuments(stdin io.Reader, path string) ([]document.Document, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening documents file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var docs []document.Document
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decoding documents: %w", err)
	}
	return docs, nil
}

func parseKeys(pairs []string) ([]document.Field, error) {
	keys := make([]document.Field, 0, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("key %q: expected name=value", p)
		}
		keys = append(keys, document.Key(name, value))
	}
	return keys, nil
}

func committed(cmd *cobra.Command, a *app, location string, n int) error {
	loc, err := a.registry.Resolve(location)
	if err != nil {
		return err
	}
	w, err := a.registry.Mutator(location)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"status":     "committed",
		"location":   loc,
		"documents":  n,
		"generation": w.Generation(),
	})
}

func publish(cmd *cobra.Command, a *app, send func(context.Context, *ingest.Publisher) (string, error)) error {
	producer := kafka.NewProducer(a.cfg.Kafka)
	defer producer.Close()
	id, err := send(cmd.Context(), ingest.NewPublisher(producer))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]string{
		"status": "published",
		"id":     id,
		"topic":  a.cfg.Kafka.MutationTopic,
	})
}
