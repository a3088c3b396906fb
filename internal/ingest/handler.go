package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/indexops"
	apperrors "github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/resilience"
)

// Handler returns a kafka.MessageHandler applying each MutationEvent through
// ops. Malformed, invalid or rejected events are logged and skipped so they
// do not block the partition. Resource failures are retried with backoff;
// once retry gives up the error is returned and the event stays uncommitted.
func Handler(ops *indexops.Ops, m *metrics.Metrics, retry resilience.RetryConfig) kafka.MessageHandler {
	if m == nil {
		m = metrics.New(nil)
	}
	retry.Retryable = func(err error) bool { return errors.Is(err, apperrors.ErrResource) }
	logger := slog.Default().With("component", "mutation-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[MutationEvent](value)
		if err != nil {
			logger.Error("failed to decode mutation event", "key", string(key), "error", err)
			m.IngestEventsTotal.WithLabelValues("unknown", "malformed").Inc()
			return nil
		}
		op := string(ev.Op)
		if err := ev.Validate(); err != nil {
			logger.Warn("invalid mutation event", "id", ev.ID, "error", err)
			m.IngestEventsTotal.WithLabelValues(op, "invalid").Inc()
			return nil
		}

		err = resilience.Retry(ctx, "apply "+op, retry, func(ctx context.Context) error {
			return Apply(ctx, ops, &ev)
		})
		if err != nil {
			if errors.Is(err, apperrors.ErrResource) {
				m.IngestEventsTotal.WithLabelValues(op, "retry").Inc()
				return fmt.Errorf("applying event %s: %w", ev.ID, err)
			}
			logger.Error("mutation event rejected",
				"id", ev.ID,
				"op", op,
				"location", ev.Location,
				"error", err,
			)
			m.IngestEventsTotal.WithLabelValues(op, "rejected").Inc()
			return nil
		}
		m.IngestEventsTotal.WithLabelValues(op, "applied").Inc()
		logger.Info("mutation event applied",
			"id", ev.ID,
			"op", op,
			"location", ev.Location,
			"documents", len(ev.Documents),
		)
		return nil
	}
}

// Apply runs the mutation of ev.
func Apply(ctx context.Context, ops *indexops.Ops, ev *MutationEvent) error {
	switch ev.Op {
	case OpAdd:
		return ops.AddDocuments(ctx, ev.Location, ev.Documents)
	case OpUpdate:
		return ops.UpdateDocuments(ctx, ev.Location, ev.Documents)
	case OpDelete:
		return ops.DeleteDocuments(ctx, ev.Location, ev.KeyFields)
	}
	return apperrors.InvalidArgument("unknown op %q", ev.Op)
}
