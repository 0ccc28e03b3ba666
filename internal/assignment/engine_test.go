package assignment

import (
	"errors"
	"testing"
	"time"

	"snapclaim/internal/apperror"
	"snapclaim/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	day1 = time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 7, 16, 0, 0, 0, 0, time.UTC)
)

func invoice(number, status string, date time.Time) model.Invoice {
	return model.Invoice{ID: uuid.New(), InvoiceNumber: number, Status: status, Date: date}
}

func route(date time.Time, invoices ...model.Invoice) model.Route {
	r := model.Route{ID: uuid.New(), Date: date, Status: model.RouteStatusPlanned}
	for _, inv := range invoices {
		id := r.ID
		inv.RouteID = &id
		r.Invoices = append(r.Invoices, inv)
	}
	return r
}

func numbers(invoices []model.Invoice) []string {
	out := make([]string, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, inv.InvoiceNumber)
	}
	return out
}

func TestEligibleInvoices_NonPendingNeverEligible(t *testing.T) {
	statuses := []string{
		model.InvoiceStatusInPreparation,
		model.InvoiceStatusReadyForRoute,
		model.InvoiceStatusDelivered,
		model.InvoiceStatusCancelled,
		model.InvoiceStatusWarehouseIncidence,
	}
	for _, status := range statuses {
		t.Run(status, func(t *testing.T) {
			inv := invoice("F-001", status, day1)
			editing := route(day1, inv)

			assert.Empty(t, EligibleInvoices(day1, nil, []model.Invoice{inv}, nil))
			assert.Empty(t, EligibleInvoices(day1, &editing, []model.Invoice{editing.Invoices[0]}, []model.Route{editing}))
		})
	}
}

func TestEligibleInvoices_EditedRouteKeepsItsInvoices(t *testing.T) {
	a := invoice("F-001", model.InvoiceStatusPending, day1)
	editing := route(day1, a)
	// Another route on the same day also lists the invoice; the edited route still wins.
	other := route(day1, a)

	got := EligibleInvoices(day1, &editing, []model.Invoice{editing.Invoices[0]}, []model.Route{editing, other})
	assert.Equal(t, []string{"F-001"}, numbers(got))

	// Retained even when the route is being moved to another date.
	got = EligibleInvoices(day2, &editing, []model.Invoice{editing.Invoices[0]}, []model.Route{editing, other})
	assert.Equal(t, []string{"F-001"}, numbers(got))
}

func TestEligibleInvoices_ExclusivePerDay(t *testing.T) {
	claimed := invoice("F-001", model.InvoiceStatusPending, day1)
	free := invoice("F-002", model.InvoiceStatusPending, day1)
	r1 := route(day1, claimed)
	r2 := model.Route{ID: uuid.New(), Date: day1}

	all := []model.Invoice{r1.Invoices[0], free}
	routes := []model.Route{r1, r2}

	assert.Equal(t, []string{"F-002"}, numbers(EligibleInvoices(day1, nil, all, routes)))
	assert.Equal(t, []string{"F-002"}, numbers(EligibleInvoices(day1, &r2, all, routes)))

	t.Run("claim on another date does not block", func(t *testing.T) {
		elsewhere := route(day2, claimed)
		got := EligibleInvoices(day1, nil, []model.Invoice{claimed, free}, []model.Route{elsewhere})
		assert.Equal(t, []string{"F-001", "F-002"}, numbers(got))
	})

	t.Run("claim recorded only on the invoice side", func(t *testing.T) {
		other := model.Route{ID: uuid.New(), Date: day1, Status: model.RouteStatusPlanned}
		held := invoice("F-003", model.InvoiceStatusPending, day1)
		held.RouteID = &other.ID

		got := EligibleInvoices(day1, nil, []model.Invoice{held, free}, []model.Route{other})
		assert.Equal(t, []string{"F-002"}, numbers(got))

		got = EligibleInvoices(day1, &r2, []model.Invoice{held, free}, []model.Route{r2, other})
		assert.Equal(t, []string{"F-002"}, numbers(got))
	})
}

func TestEligibleInvoices_NoInvoiceEligibleForTwoRoutesInCreateMode(t *testing.T) {
	var invoices []model.Invoice
	for _, n := range []string{"F-003", "F-001", "F-002"} {
		invoices = append(invoices, invoice(n, model.InvoiceStatusPending, day1))
	}
	r1 := route(day1, invoices[0])
	r2 := route(day1, invoices[1])
	routes := []model.Route{r1, r2}

	eligible := EligibleInvoices(day1, nil, invoices, routes)
	inRoute := map[uuid.UUID]int{}
	for _, r := range routes {
		for _, inv := range r.Invoices {
			inRoute[inv.ID]++
		}
	}
	for _, inv := range eligible {
		assert.Zero(t, inRoute[inv.ID], "invoice %s is claimed but eligible", inv.InvoiceNumber)
	}
	assert.Equal(t, []string{"F-002"}, numbers(eligible))
}

func TestEligibleInvoices_DateAndOrdering(t *testing.T) {
	late := time.Date(2024, 7, 15, 18, 30, 0, 0, time.UTC)
	invoices := []model.Invoice{
		invoice("F-010", model.InvoiceStatusPending, late),
		invoice("F-002", model.InvoiceStatusPending, day1),
		invoice("F-005", model.InvoiceStatusPending, day2),
		invoice("F-001", model.InvoiceStatusPending, day1),
	}
	got := EligibleInvoices(day1, nil, invoices, nil)
	assert.Equal(t, []string{"F-001", "F-002", "F-010"}, numbers(got))
}

func TestValidateDraft(t *testing.T) {
	err := ValidateDraft(Draft{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	var verr *apperror.ValidationError
	require.True(t, errors.As(err, &verr))
	fields := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	assert.Equal(t, []string{"date", "driver_id", "invoice_ids"}, fields)

	assert.NoError(t, ValidateDraft(Draft{Date: day1, DriverID: uuid.New(), InvoiceIDs: []uuid.UUID{uuid.New()}}))
}

func TestScreen(t *testing.T) {
	t.Run("create mode splits accepted and rejected", func(t *testing.T) {
		ok := invoice("F-001", model.InvoiceStatusPending, day1)
		delivered := invoice("F-002", model.InvoiceStatusDelivered, day1)
		claimed := invoice("F-003", model.InvoiceStatusPending, day1)
		other := route(day1, claimed)
		missing := uuid.New()

		invoices := []model.Invoice{ok, delivered, other.Invoices[0]}
		sel := Screen(day1, nil, []uuid.UUID{ok.ID, delivered.ID, claimed.ID, missing, ok.ID}, invoices, []model.Route{other})

		assert.Equal(t, []uuid.UUID{ok.ID}, sel.Next)
		require.Len(t, sel.Rejections, 3)
		assert.Equal(t, delivered.ID, sel.Rejections[0].InvoiceID)
		assert.Contains(t, sel.Rejections[0].Reason, "delivered")
		assert.Equal(t, claimed.ID, sel.Rejections[1].InvoiceID)
		assert.Contains(t, sel.Rejections[1].Reason, "already on route")
		assert.Equal(t, "invoice not found", sel.Rejections[2].Reason)
	})

	t.Run("claim recorded only on the invoice side", func(t *testing.T) {
		other := model.Route{ID: uuid.New(), Date: day1}
		inv := invoice("F-001", model.InvoiceStatusPending, day1)
		inv.RouteID = &other.ID

		sel := Screen(day1, nil, []uuid.UUID{inv.ID}, []model.Invoice{inv}, []model.Route{other})
		assert.Empty(t, sel.Next)
		require.Len(t, sel.Rejections, 1)
	})

	t.Run("edit mode retains invoices that cannot leave", func(t *testing.T) {
		pending := invoice("F-001", model.InvoiceStatusPending, day1)
		prepared := invoice("F-002", model.InvoiceStatusInPreparation, day1)
		editing := route(day1, pending, prepared)
		added := invoice("F-003", model.InvoiceStatusPending, day1)

		invoices := append([]model.Invoice{added}, editing.Invoices...)
		sel := Screen(day1, &editing, []uuid.UUID{added.ID}, invoices, []model.Route{editing})

		assert.Equal(t, []uuid.UUID{added.ID, prepared.ID}, sel.Next)
		require.Len(t, sel.Rejections, 1)
		assert.Equal(t, prepared.ID, sel.Rejections[0].InvoiceID)
		assert.Contains(t, sel.Rejections[0].Reason, "cannot leave")
	})

	t.Run("edit mode keeps selected members whatever their status", func(t *testing.T) {
		prepared := invoice("F-002", model.InvoiceStatusReadyForRoute, day1)
		editing := route(day1, prepared)

		sel := Screen(day1, &editing, []uuid.UUID{prepared.ID}, editing.Invoices, []model.Route{editing})
		assert.Equal(t, []uuid.UUID{prepared.ID}, sel.Next)
		assert.Empty(t, sel.Rejections)
	})
}
