package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"snapclaim/internal/apperror"
	"snapclaim/internal/events"
	"snapclaim/internal/model"
	"snapclaim/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type invoiceFixture struct {
	invoices *fakeInvoices
	routes   *fakeRoutes
	users    *fakeUsers
	clients  *fakeClients
	audit    *fakeAudit
	pub      *recordingPublisher
	svc      InvoiceService
}

func newInvoiceFixture(invoices ...model.Invoice) *invoiceFixture {
	f := &invoiceFixture{
		invoices: newFakeInvoices(invoices...),
		users:    newFakeUsers(),
		clients:  newFakeClients(),
		audit:    &fakeAudit{},
		pub:      &recordingPublisher{},
	}
	f.routes = newFakeRoutes(f.invoices)
	svc := NewInvoiceService(f.invoices, f.clients, f.users, f.routes, f.audit, &fakeTx{}, f.pub, logger.Nop())
	svc.(*invoiceService).now = func() time.Time { return time.Date(2024, 7, 10, 9, 0, 0, 0, time.UTC) }
	f.svc = svc
	return f
}

func TestCreateInvoice(t *testing.T) {
	f := newInvoiceFixture()
	ctx := context.Background()
	ana := agent("ana")
	f.users.users[ana.ID] = ana
	client := model.Client{ID: uuid.New(), Name: "Bodega Sur", Address: "Av. Central 12"}
	f.clients.rows[client.ID] = &client

	req := CreateInvoiceRequest{
		InvoiceNumber: " F-100 ",
		SupplierName:  "ACME",
		Date:          "2024-07-15",
		TotalAmount:   "99.999",
		AssigneeID:    strPtr(ana.ID.String()),
		ClientID:      strPtr(client.ID.String()),
	}
	res, err := f.svc.CreateInvoice(ctx, supervisor, req)
	require.NoError(t, err)
	assert.Equal(t, "SC-20240710-00001", res.Code)
	assert.Equal(t, "F-100", res.InvoiceNumber)
	assert.Equal(t, "100.00", res.TotalAmount)
	assert.Equal(t, "2024-07-15", res.Date)
	assert.Equal(t, model.InvoiceStatusPending, res.Status)
	assert.Equal(t, "Av. Central 12", res.DeliveryAddress)
	require.NotNil(t, res.AssigneeID)
	assert.Equal(t, ana.ID.String(), *res.AssigneeID)
	require.Len(t, f.pub.events, 1)
	assert.Equal(t, events.InvoiceCreated, f.pub.events[0].Type)

	_, err = f.svc.CreateInvoice(ctx, supervisor, req)
	assert.True(t, errors.Is(err, apperror.ErrConflict), "same supplier and number")

	second, err := f.svc.CreateInvoice(ctx, supervisor, CreateInvoiceRequest{
		InvoiceNumber: "F-101", SupplierName: "ACME", Date: "2024-07-15", TotalAmount: "1",
	})
	require.NoError(t, err)
	assert.Equal(t, "SC-20240710-00002", second.Code)

	t.Run("assignee must deliver", func(t *testing.T) {
		clerk := &model.User{ID: uuid.New(), Username: "clerk", Role: model.RoleWarehouse}
		f.users.users[clerk.ID] = clerk
		_, err := f.svc.CreateInvoice(ctx, supervisor, CreateInvoiceRequest{
			InvoiceNumber: "F-102", SupplierName: "ACME", Date: "2024-07-15", TotalAmount: "1",
			AssigneeID: strPtr(clerk.ID.String()),
		})
		var verr *apperror.ValidationError
		require.True(t, errors.As(err, &verr))
		require.Len(t, verr.Fields, 1)
		assert.Equal(t, "assignee_id", verr.Fields[0].Field)
	})

	t.Run("rejects bad date and amount", func(t *testing.T) {
		_, err := f.svc.CreateInvoice(ctx, supervisor, CreateInvoiceRequest{
			InvoiceNumber: "F-103", SupplierName: "ACME", Date: "2024-02-30", TotalAmount: "1",
		})
		assert.True(t, errors.Is(err, apperror.ErrValidation))

		_, err = f.svc.CreateInvoice(ctx, supervisor, CreateInvoiceRequest{
			InvoiceNumber: "F-103", SupplierName: "ACME", Date: "2024-07-15", TotalAmount: "-4",
		})
		assert.True(t, errors.Is(err, apperror.ErrValidation))
	})
}

func TestInvoiceChangeStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("cancel detaches from route", func(t *testing.T) {
		inv := pendingInvoice("C-1", day)
		route := model.Route{ID: uuid.New(), Date: day, Status: model.RouteStatusPlanned}
		inv.RouteID = &route.ID
		f := newInvoiceFixture(inv)
		f.routes.rows[route.ID] = &route

		res, err := f.svc.ChangeStatus(ctx, supervisor, inv.ID.String(), ChangeInvoiceStatusRequest{
			Status: model.InvoiceStatusCancelled, CancellationReason: "client closed",
		})
		require.NoError(t, err)
		assert.Equal(t, model.InvoiceStatusCancelled, res.Status)
		assert.Nil(t, res.RouteID)
		assert.Equal(t, "client closed", res.CancellationReason)
		assert.Equal(t, []string{model.ActionChangeInvoiceStatus}, f.audit.actions())
	})

	t.Run("preparation needs a route", func(t *testing.T) {
		inv := pendingInvoice("C-2", day)
		f := newInvoiceFixture(inv)

		_, err := f.svc.ChangeStatus(ctx, supervisor, inv.ID.String(), ChangeInvoiceStatusRequest{Status: model.InvoiceStatusInPreparation})
		assert.True(t, errors.Is(err, apperror.ErrValidation))
		assert.Zero(t, f.invoices.writes)
	})

	t.Run("incidence records report and recovery clears action", func(t *testing.T) {
		inv := pendingInvoice("C-3", day)
		f := newInvoiceFixture(inv)

		res, err := f.svc.ChangeStatus(ctx, supervisor, inv.ID.String(), ChangeInvoiceStatusRequest{
			Status:           model.InvoiceStatusWarehouseIncidence,
			IncidenceType:    model.IncidenceDamaged,
			IncidenceDetails: "pallet dropped",
			RequiresAction:   true,
		})
		require.NoError(t, err)
		require.NotNil(t, res.Incidence)
		assert.True(t, res.Incidence.RequiresAction)
		assert.NotNil(t, res.Incidence.ReportedAt)

		res, err = f.svc.ChangeStatus(ctx, supervisor, inv.ID.String(), ChangeInvoiceStatusRequest{Status: model.InvoiceStatusPending})
		require.NoError(t, err)
		require.NotNil(t, res.Incidence)
		assert.False(t, res.Incidence.RequiresAction)
	})

	t.Run("agents only touch their own invoices", func(t *testing.T) {
		inv := pendingInvoice("C-4", day)
		f := newInvoiceFixture(inv)
		_, err := f.svc.ChangeStatus(ctx, Actor{ID: uuid.New(), Role: model.RoleDeliveryAgent}, inv.ID.String(), ChangeInvoiceStatusRequest{
			Status: model.InvoiceStatusCancelled, CancellationReason: "x",
		})
		assert.True(t, errors.Is(err, apperror.ErrForbidden))
	})
}

func TestListInvoices_AgentSeesOwnOnly(t *testing.T) {
	ana, luis := uuid.New(), uuid.New()
	mine := pendingInvoice("L-1", day)
	mine.AssigneeID = &ana
	theirs := pendingInvoice("L-2", day)
	theirs.AssigneeID = &luis
	f := newInvoiceFixture(mine, theirs, pendingInvoice("L-3", day))

	res, total, err := f.svc.ListInvoices(context.Background(), Actor{ID: ana, Role: model.RoleDeliveryAgent},
		InvoiceFilter{AssigneeID: luis.String()})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, res, 1)
	assert.Equal(t, "L-1", res[0].InvoiceNumber)

	_, total, err = f.svc.ListInvoices(context.Background(), supervisor, InvoiceFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)

	_, _, err = f.svc.ListInvoices(context.Background(), supervisor, InvoiceFilter{Status: "lost"})
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestCreateInvoice_CodeAfterDelete(t *testing.T) {
	f := newInvoiceFixture()
	ctx := context.Background()

	create := func(number string) InvoiceResponse {
		res, err := f.svc.CreateInvoice(ctx, supervisor, CreateInvoiceRequest{
			InvoiceNumber: number,
			SupplierName:  "ACME",
			Date:          "2024-07-15",
			TotalAmount:   "10",
		})
		require.NoError(t, err)
		return res
	}

	first := create("F-1")
	create("F-2")
	third := create("F-3")
	require.NoError(t, f.svc.DeleteInvoice(ctx, supervisor, first.ID))

	next := create("F-4")
	assert.Equal(t, "SC-20240710-00004", next.Code)
	assert.NotEqual(t, third.Code, next.Code)
	for id, inv := range f.invoices.rows {
		if id.String() != next.ID {
			assert.NotEqual(t, inv.Code, next.Code)
		}
	}
}

func TestUpdateAndDeleteInvoice(t *testing.T) {
	ctx := context.Background()
	routeID := uuid.New()
	routed := pendingInvoice("U-1", day)
	routed.RouteID = &routeID
	delivered := pendingInvoice("U-2", day)
	delivered.Status = model.InvoiceStatusDelivered
	f := newInvoiceFixture(routed, delivered)

	_, err := f.svc.UpdateInvoice(ctx, supervisor, routed.ID.String(), UpdateInvoiceRequest{Date: strPtr("2024-07-16")})
	assert.True(t, errors.Is(err, apperror.ErrConflict))

	res, err := f.svc.UpdateInvoice(ctx, supervisor, routed.ID.String(), UpdateInvoiceRequest{TotalAmount: strPtr("12.5")})
	require.NoError(t, err)
	assert.Equal(t, "12.50", res.TotalAmount)

	_, err = f.svc.UpdateInvoice(ctx, supervisor, delivered.ID.String(), UpdateInvoiceRequest{TotalAmount: strPtr("1")})
	assert.True(t, errors.Is(err, apperror.ErrConflict))

	assert.True(t, errors.Is(f.svc.DeleteInvoice(ctx, supervisor, delivered.ID.String()), apperror.ErrConflict))
	require.NoError(t, f.svc.DeleteInvoice(ctx, supervisor, routed.ID.String()))
	assert.NotContains(t, f.invoices.rows, routed.ID)
}
