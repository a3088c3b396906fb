// Package ingest applies document mutations received as Kafka events and
// publishes such events for other producers.
package ingest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/document"
)

// Op names the mutation an event carries.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

const maxDocumentsPerEvent = 10000

// MutationEvent is the Kafka payload of one mutation against one location.
// Add and update events carry Documents; delete events carry KeyFields.
type MutationEvent struct {
	ID          string              `json:"id"`
	Op          Op                  `json:"op"`
	Location    string              `json:"location"`
	Documents   []document.Document `json:"documents,omitempty"`
	KeyFields   []document.Field    `json:"key_fields,omitempty"`
	PublishedAt time.Time           `json:"published_at"`
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// Validate checks the event shape. Document contents are validated when the
// mutation is staged.
func (ev *MutationEvent) Validate() error {
	errs := make(map[string]string)
	if strings.TrimSpace(ev.Location) == "" {
		errs["location"] = "location is required"
	}
	switch ev.Op {
	case OpAdd, OpUpdate:
		if len(ev.Documents) == 0 {
			errs["documents"] = "at least one document is required"
		} else if len(ev.Documents) > maxDocumentsPerEvent {
			errs["documents"] = fmt.Sprintf("at most %d documents per event", maxDocumentsPerEvent)
		}
	case OpDelete:
		if len(ev.KeyFields) == 0 {
			errs["key_fields"] = "at least one key field is required"
		}
	default:
		errs["op"] = fmt.Sprintf("unknown op %q", ev.Op)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
