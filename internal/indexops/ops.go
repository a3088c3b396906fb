// Package indexops applies document mutations to an index location as one
// commit-or-rollback unit per call.
package indexops

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/resource"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/metrics"
)

// Ops mutates the locations of a Registry. Calls on the same location are
// serialized by the location's writer; calls on different locations run in
// parallel.
type Ops struct {
	registry *resource.Registry
	metrics  *metrics.Metrics
}

func New(registry *resource.Registry, m *metrics.Metrics) *Ops {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Ops{registry: registry, metrics: m}
}

// AddDocuments appends every document of batch in order and commits. If any
// document is rejected or the commit fails nothing of the batch is kept.
func (o *Ops) AddDocuments(ctx context.Context, location string, batch []document.Document) error {
	if batch == nil {
		return apperrors.InvalidArgument("document batch is required")
	}
	return o.mutate(ctx, "add", location, len(batch), func(txn *store.Txn) error {
		for i, doc := range batch {
			if err := txn.AddDocument(doc); err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
		}
		return nil
	})
}

// DeleteDocuments removes every document matching any of the key fields.
// Fields not flagged IsKey are ignored.
func (o *Ops) DeleteDocuments(ctx context.Context, location string, keyFields []document.Field) error {
	if keyFields == nil {
		return apperrors.InvalidArgument("key fields are required")
	}
	terms, err := keyTerms(keyFields)
	if err != nil {
		return err
	}
	if len(terms) == 0 {
		logger.FromContext(ctx).Debug("delete without key fields ignored", "location", location)
		return nil
	}
	return o.mutate(ctx, "delete", location, len(terms), func(txn *store.Txn) error {
		return txn.DeleteDocuments(terms...)
	})
}

// UpdateDocuments replaces, per document, every indexed document matching
// all of its key fields with the document itself. Every document must carry
// at least one key field; the batch is rejected before anything is staged
// otherwise.
func (o *Ops) UpdateDocuments(ctx context.Context, location string, batch []document.Document) error {
	if batch == nil {
		return apperrors.InvalidArgument("document batch is required")
	}
	keys := make([][]store.Term, len(batch))
	for i, doc := range batch {
		terms, err := keyTerms(doc.KeyFields())
		if err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
		if len(terms) == 0 {
			return apperrors.InvalidArgument("document %d has no key field", i)
		}
		keys[i] = terms
	}
	return o.mutate(ctx, "update", location, len(batch), func(txn *store.Txn) error {
		for i, doc := range batch {
			if err := txn.UpdateDocument(keys[i], doc); err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
		}
		return nil
	})
}

func keyTerms(fields []document.Field) ([]store.Term, error) {
	terms := make([]store.Term, 0, len(fields))
	for _, f := range fields {
		if !f.IsKey {
			continue
		}
		if f.Name == "" || f.Value == nil {
			return nil, apperrors.InvalidArgument("key field %q has no value", f.Name)
		}
		terms = append(terms, store.Term{Field: f.Name, Value: *f.Value})
	}
	return terms, nil
}

// mutate runs stage inside one transaction of location's writer and commits
// it. Any failure rolls the transaction back and is reported as a
// MutationError; the index keeps its previous committed state.
func (o *Ops) mutate(ctx context.Context, op, location string, n int, stage func(*store.Txn) error) error {
	log := logger.FromContext(ctx).With("component", "indexops", "op", op, "location", location)
	w, err := o.registry.Mutator(location)
	if err != nil {
		return err
	}
	start := time.Now()
	txn, err := w.Begin()
	if err != nil {
		return apperrors.Resource("begin transaction", w.Dir(), err)
	}
	if err := stage(txn); err != nil {
		txn.Rollback()
		o.metrics.CommitsTotal.WithLabelValues(op, "rolled_back").Inc()
		log.Warn("transaction rolled back", "error", err)
		return apperrors.Mutation(op, w.Dir(), err)
	}
	gen, err := txn.Commit()
	if err != nil {
		o.metrics.CommitsTotal.WithLabelValues(op, "rolled_back").Inc()
		log.Error("commit failed, transaction rolled back", "error", err)
		return apperrors.Mutation(op, w.Dir(), fmt.Errorf("commit: %w", err))
	}
	o.metrics.CommitsTotal.WithLabelValues(op, "committed").Inc()
	o.metrics.DocsMutatedTotal.WithLabelValues(op).Add(float64(n))
	log.Debug("transaction committed",
		"documents", n,
		"generation", gen,
		"duration", time.Since(start),
	)
	return nil
}
