package assignment

import (
	"snapclaim/internal/model"

	"github.com/google/uuid"
)

// EntityInvoice names the invoices table in a Change.
const EntityInvoice = "invoice"

// Change is one row update: the entity kind, its id and the column deltas to apply.
// Expect holds column values the row must still carry for the update to land.
type Change struct {
	Entity string
	ID     uuid.UUID
	Fields map[string]any
	Expect map[string]any
}

// ChangeSet is applied as a single atomic unit by the persistence layer.
type ChangeSet []Change

// IsEmpty reports whether there is nothing to apply.
func (cs ChangeSet) IsEmpty() bool { return len(cs) == 0 }

// Plan computes the route_id updates that move a route's invoice set from previous to next.
// Removed invoices are detached first, in previous order, then added invoices are attached
// in next order. Invoices present in both sets produce no change. A detach expects the invoice
// to still sit on the route and an attach expects it to still be pending.
func Plan(routeID uuid.UUID, previous, next []uuid.UUID) ChangeSet {
	inPrev := make(map[uuid.UUID]bool, len(previous))
	for _, id := range previous {
		inPrev[id] = true
	}
	inNext := make(map[uuid.UUID]bool, len(next))
	for _, id := range next {
		inNext[id] = true
	}

	var cs ChangeSet
	for _, id := range previous {
		if !inNext[id] {
			cs = append(cs, Change{Entity: EntityInvoice, ID: id, Fields: map[string]any{"route_id": nil},
				Expect: map[string]any{"route_id": routeID}})
		}
	}
	added := make(map[uuid.UUID]bool)
	for _, id := range next {
		if inPrev[id] || added[id] {
			continue
		}
		added[id] = true
		cs = append(cs, Change{Entity: EntityInvoice, ID: id, Fields: map[string]any{"route_id": routeID},
			Expect: map[string]any{"status": model.InvoiceStatusPending}})
	}
	return cs
}
