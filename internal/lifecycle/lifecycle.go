// Package lifecycle holds the invoice and route state machines and the rules tying an
// invoice's status to the stage of the route carrying it.
package lifecycle

import (
	"fmt"
	"strings"

	"snapclaim/internal/apperror"
	"snapclaim/internal/model"
)

var invoiceTransitions = map[string][]string{
	model.InvoiceStatusPending:            {model.InvoiceStatusInPreparation, model.InvoiceStatusCancelled, model.InvoiceStatusWarehouseIncidence},
	model.InvoiceStatusInPreparation:      {model.InvoiceStatusReadyForRoute, model.InvoiceStatusWarehouseIncidence},
	model.InvoiceStatusReadyForRoute:      {model.InvoiceStatusDelivered, model.InvoiceStatusWarehouseIncidence},
	model.InvoiceStatusWarehouseIncidence: {model.InvoiceStatusPending, model.InvoiceStatusInPreparation},
	model.InvoiceStatusDelivered:          nil,
	model.InvoiceStatusCancelled:          nil,
}

var routeTransitions = map[string]string{
	model.RouteStatusPlanned:    model.RouteStatusInProgress,
	model.RouteStatusInProgress: model.RouteStatusCompleted,
}

// allowedOnRoute lists the invoice statuses a route tolerates at each stage.
var allowedOnRoute = map[string][]string{
	model.RouteStatusPlanned: {
		model.InvoiceStatusPending, model.InvoiceStatusInPreparation,
		model.InvoiceStatusReadyForRoute, model.InvoiceStatusWarehouseIncidence,
	},
	model.RouteStatusInProgress: {
		model.InvoiceStatusReadyForRoute, model.InvoiceStatusDelivered, model.InvoiceStatusWarehouseIncidence,
	},
	model.RouteStatusCompleted: {
		model.InvoiceStatusDelivered, model.InvoiceStatusWarehouseIncidence,
	},
}

// IsInvoiceStatus reports whether s is a known invoice status.
func IsInvoiceStatus(s string) bool {
	_, ok := invoiceTransitions[s]
	return ok
}

// IsRouteStatus reports whether s is a known route status.
func IsRouteStatus(s string) bool {
	_, ok := allowedOnRoute[s]
	return ok
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status string) bool {
	return IsInvoiceStatus(status) && len(invoiceTransitions[status]) == 0
}

// CanTransitionInvoice reports whether from → to is an edge of the invoice state machine.
func CanTransitionInvoice(from, to string) bool {
	return contains(invoiceTransitions[from], to)
}

// NeedsRoute reports whether an invoice in status must belong to a route.
func NeedsRoute(status string) bool {
	return status == model.InvoiceStatusInPreparation || status == model.InvoiceStatusReadyForRoute
}

// CanLeaveRoute reports whether an invoice in status may be detached from its route.
func CanLeaveRoute(status string) bool {
	return status == model.InvoiceStatusPending || status == model.InvoiceStatusWarehouseIncidence
}

// AllowedOnRoute reports whether an invoice in status may sit on a route at routeStatus.
func AllowedOnRoute(routeStatus, status string) bool {
	return contains(allowedOnRoute[routeStatus], status)
}

// InvoiceChange is a requested invoice status change with the data some targets require.
type InvoiceChange struct {
	To                 string
	CancellationReason string
	IncidenceType      string
	IncidenceDetails   string
	RequiresAction     bool
}

// ValidateInvoiceTransition checks a status change for an invoice currently in from.
// routeStatus is the stage of the invoice's route, or "" when it has none.
func ValidateInvoiceTransition(from, routeStatus string, ch InvoiceChange) error {
	if !IsInvoiceStatus(ch.To) {
		return apperror.NewValidation("status", fmt.Sprintf("unknown invoice status %q", ch.To))
	}
	if from == ch.To {
		return apperror.NewValidation("status", fmt.Sprintf("invoice is already %s", from))
	}
	if !CanTransitionInvoice(from, ch.To) {
		return apperror.NewValidation("status", fmt.Sprintf("cannot move invoice from %s to %s", from, ch.To))
	}

	verr := &apperror.ValidationError{}
	switch ch.To {
	case model.InvoiceStatusCancelled:
		if strings.TrimSpace(ch.CancellationReason) == "" {
			verr.Add("cancellation_reason", "is required to cancel an invoice")
		}
	case model.InvoiceStatusWarehouseIncidence:
		if !IsIncidenceType(ch.IncidenceType) {
			verr.Add("incidence_type", "must be one of "+strings.Join(incidenceTypes, ", "))
		}
		if strings.TrimSpace(ch.IncidenceDetails) == "" {
			verr.Add("incidence_details", "is required")
		}
	}
	if NeedsRoute(ch.To) && routeStatus == "" {
		verr.Add("status", fmt.Sprintf("invoice must be on a route to be %s", ch.To))
	}
	if routeStatus != "" && ch.To != model.InvoiceStatusCancelled && !AllowedOnRoute(routeStatus, ch.To) {
		verr.Add("status", fmt.Sprintf("%s is not allowed on a %s route", ch.To, routeStatus))
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// ValidateRouteTransition checks a route move from → to. Only single forward steps are allowed.
func ValidateRouteTransition(from, to string) error {
	if !IsRouteStatus(to) {
		return apperror.NewValidation("status", fmt.Sprintf("unknown route status %q", to))
	}
	if routeTransitions[from] != to {
		return apperror.NewValidation("status", fmt.Sprintf("cannot move route from %s to %s", from, to))
	}
	return nil
}

var incidenceTypes = []string{
	model.IncidenceRebilling, model.IncidenceReturn, model.IncidenceNegotiation,
	model.IncidenceDamaged, model.IncidenceOther,
}

// IsIncidenceType reports whether t is a known incidence type.
func IsIncidenceType(t string) bool {
	return contains(incidenceTypes, t)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
