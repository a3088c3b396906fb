package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/kafka"
)

// Producer is the part of *kafka.Producer a Publisher needs.
type Producer interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// Publisher validates mutation events and produces them keyed by location,
// so events for one location are consumed in publish order.
type Publisher struct {
	producer Producer
	now      func() time.Time
	logger   *slog.Logger
}

func NewPublisher(p Producer) *Publisher {
	return &Publisher{
		producer: p,
		now:      time.Now,
		logger:   slog.Default().With("component", "mutation-publisher"),
	}
}

// Publish assigns an ID to ev when it has none, stamps it and produces it.
// It returns the event ID.
func (p *Publisher) Publish(ctx context.Context, ev MutationEvent) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.PublishedAt = p.now().UTC()
	if err := ev.Validate(); err != nil {
		return "", fmt.Errorf("validating event: %w", err)
	}
	if err := p.producer.Publish(ctx, kafka.Event{Key: ev.Location, Value: ev}); err != nil {
		return "", err
	}
	p.logger.Debug("mutation event published", "id", ev.ID, "op", ev.Op, "location", ev.Location)
	return ev.ID, nil
}

func (p *Publisher) Add(ctx context.Context, location string, docs []document.Document) (string, error) {
	return p.Publish(ctx, MutationEvent{Op: OpAdd, Location: location, Documents: docs})
}

func (p *Publisher) Update(ctx context.Context, location string, docs []document.Document) (string, error) {
	return p.Publish(ctx, MutationEvent{Op: OpUpdate, Location: location, Documents: docs})
}

func (p *Publisher) Delete(ctx context.Context, location string, keyFields []document.Field) (string, error) {
	return p.Publish(ctx, MutationEvent{Op: OpDelete, Location: location, KeyFields: keyFields})
}
