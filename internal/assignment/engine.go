// Package assignment decides which invoices may ride on a route and how a route's
// invoice set turns into row changes. It performs no I/O: callers load the invoices
// and routes, and commit the resulting ChangeSet inside one transaction.
package assignment

import (
	"fmt"
	"sort"
	"time"

	"snapclaim/internal/apperror"
	"snapclaim/internal/lifecycle"
	"snapclaim/internal/model"

	"github.com/google/uuid"
)

// Draft is a route as submitted by the caller, before any persistence.
type Draft struct {
	Date       time.Time
	DriverID   uuid.UUID
	InvoiceIDs []uuid.UUID
}

// ValidateDraft rejects drafts missing a date, a driver or any invoice.
func ValidateDraft(d Draft) error {
	verr := &apperror.ValidationError{}
	if d.Date.IsZero() {
		verr.Add("date", "is required")
	}
	if d.DriverID == uuid.Nil {
		verr.Add("driver_id", "is required")
	}
	if len(d.InvoiceIDs) == 0 {
		verr.Add("invoice_ids", "select at least one invoice")
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// EligibleInvoices returns the invoices that may be placed on a route dated targetDate.
// editing is the route being edited, or nil when a route is being created.
// The result is sorted by invoice number.
func EligibleInvoices(targetDate time.Time, editing *model.Route, invoices []model.Invoice, routes []model.Route) []model.Invoice {
	claims := claimsOn(targetDate, editing, routes)
	claimsFromInvoices(claims, targetDate, editing, invoices, routes)
	members := membersOf(editing)

	out := make([]model.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if checkEligible(inv, targetDate, editing, members, claims) == "" {
			out = append(out, inv)
		}
	}
	SortByNumber(out)
	return out
}

// checkEligible returns "" when inv is eligible, otherwise the reason it is not.
func checkEligible(inv model.Invoice, targetDate time.Time, editing *model.Route, members map[uuid.UUID]bool, claims map[uuid.UUID]model.Route) string {
	if inv.Status != model.InvoiceStatusPending {
		return fmt.Sprintf("status is %s, only pending invoices can be routed", inv.Status)
	}
	if editing != nil && (members[inv.ID] || inv.OnRoute(editing.ID)) {
		return ""
	}
	if other, ok := claims[inv.ID]; ok {
		return fmt.Sprintf("already on route %s for %s", other.ID, model.DayKey(other.Date))
	}
	if !model.SameDay(inv.Date, targetDate) {
		return fmt.Sprintf("dated %s, route is for %s", model.DayKey(inv.Date), model.DayKey(targetDate))
	}
	return ""
}

// claimsOn maps invoice id to the other route holding it on targetDate. A claim is
// read from a route's loaded invoices and from an invoice's own route id.
func claimsOn(targetDate time.Time, editing *model.Route, routes []model.Route) map[uuid.UUID]model.Route {
	claims := make(map[uuid.UUID]model.Route)
	for _, r := range routes {
		if editing != nil && r.ID == editing.ID {
			continue
		}
		if !model.SameDay(r.Date, targetDate) {
			continue
		}
		for _, inv := range r.Invoices {
			claims[inv.ID] = r
		}
	}
	return claims
}

func membersOf(r *model.Route) map[uuid.UUID]bool {
	members := make(map[uuid.UUID]bool)
	if r == nil {
		return members
	}
	for _, inv := range r.Invoices {
		members[inv.ID] = true
	}
	return members
}

// claimsFromInvoices adds claims recorded only on the invoice side, for routes known to the caller.
func claimsFromInvoices(claims map[uuid.UUID]model.Route, targetDate time.Time, editing *model.Route, invoices []model.Invoice, routes []model.Route) {
	byID := make(map[uuid.UUID]model.Route, len(routes))
	for _, r := range routes {
		byID[r.ID] = r
	}
	for _, inv := range invoices {
		if inv.RouteID == nil {
			continue
		}
		if editing != nil && *inv.RouteID == editing.ID {
			continue
		}
		r, ok := byID[*inv.RouteID]
		if !ok || !model.SameDay(r.Date, targetDate) {
			continue
		}
		claims[inv.ID] = r
	}
}

// Selection is the outcome of screening a submitted invoice set.
type Selection struct {
	// Next is the invoice set to persist, in submission order, retained invoices last.
	Next       []uuid.UUID
	Rejections []apperror.Rejection
}

// Screen checks every selected invoice against the eligibility rules and the invoices the
// edited route already holds. Conflicts are reported per invoice; they never abort the screen.
// Invoices already on the edited route whose status forbids leaving it are retained.
func Screen(targetDate time.Time, editing *model.Route, selected []uuid.UUID, invoices []model.Invoice, routes []model.Route) Selection {
	byID := make(map[uuid.UUID]model.Invoice, len(invoices))
	for _, inv := range invoices {
		byID[inv.ID] = inv
	}
	claims := claimsOn(targetDate, editing, routes)
	claimsFromInvoices(claims, targetDate, editing, invoices, routes)
	members := membersOf(editing)

	var sel Selection
	seen := make(map[uuid.UUID]bool, len(selected))
	for _, id := range selected {
		if seen[id] {
			continue
		}
		seen[id] = true

		inv, ok := byID[id]
		if !ok {
			sel.Rejections = append(sel.Rejections, apperror.Rejection{InvoiceID: id, Reason: "invoice not found"})
			continue
		}
		if editing != nil && (members[id] || inv.OnRoute(editing.ID)) {
			sel.Next = append(sel.Next, id)
			continue
		}
		if reason := checkEligible(inv, targetDate, editing, members, claims); reason != "" {
			sel.Rejections = append(sel.Rejections, apperror.Rejection{InvoiceID: id, InvoiceNumber: inv.InvoiceNumber, Reason: reason})
			continue
		}
		sel.Next = append(sel.Next, id)
	}

	if editing == nil {
		return sel
	}
	for _, inv := range editing.Invoices {
		if seen[inv.ID] || lifecycle.CanLeaveRoute(inv.Status) {
			continue
		}
		sel.Next = append(sel.Next, inv.ID)
		sel.Rejections = append(sel.Rejections, apperror.Rejection{
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.InvoiceNumber,
			Reason:        fmt.Sprintf("cannot leave the route while %s", inv.Status),
		})
	}
	return sel
}

// SortByNumber orders invoices by invoice number, then id for a stable tie-break.
func SortByNumber(invoices []model.Invoice) {
	sort.SliceStable(invoices, func(i, j int) bool {
		if invoices[i].InvoiceNumber != invoices[j].InvoiceNumber {
			return invoices[i].InvoiceNumber < invoices[j].InvoiceNumber
		}
		return invoices[i].ID.String() < invoices[j].ID.String()
	})
}
