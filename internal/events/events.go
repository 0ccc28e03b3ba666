// Package events carries domain notifications (route saved, invoice verified, ...) to
// whoever listens: connected websocket clients and, when configured, a Kafka topic.
package events

import (
	"context"
	"errors"
	"time"
)

// Event types.
const (
	RouteSaved           = "route.saved"
	RouteDeleted         = "route.deleted"
	RouteStatusChanged   = "route.status_changed"
	InvoiceCreated       = "invoice.created"
	InvoiceDeleted       = "invoice.deleted"
	InvoiceAssigned      = "invoice.assigned"
	InvoiceStatusChanged = "invoice.status_changed"
	InvoiceVerified      = "invoice.verified"
)

// Event is a single notification. Payload must be JSON-encodable.
type Event struct {
	Type       string    `json:"type"`
	EntityID   string    `json:"entity_id"`
	ActorID    string    `json:"actor_id,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New stamps an event with the current time.
func New(eventType, entityID, actorID string, payload any) Event {
	return Event{Type: eventType, EntityID: entityID, ActorID: actorID, Payload: payload, OccurredAt: time.Now().UTC()}
}

// Publisher delivers events. Publish is called after the change is committed.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers and reports every failure.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
