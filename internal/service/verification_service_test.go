package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"snapclaim/internal/apperror"
	"snapclaim/internal/events"
	"snapclaim/internal/model"
	"snapclaim/internal/reconcile"
	"snapclaim/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verificationFixture(inv model.Invoice, extractor *fakeExtractor) (VerificationService, *fakeAudit, *recordingPublisher) {
	audit := &fakeAudit{}
	pub := &recordingPublisher{}
	svc := NewVerificationService(newFakeInvoices(inv), audit, extractor, pub, time.Second, logger.Nop())
	return svc, audit, pub
}

func recordedInvoice(assignee uuid.UUID) model.Invoice {
	inv := pendingInvoice("F-1001", day)
	inv.SupplierName = "ACME Foods S.A."
	inv.TotalAmount = decimal.RequireFromString("1250.50")
	inv.AssigneeID = &assignee
	return inv
}

func TestVerifyPhoto_Match(t *testing.T) {
	driver := uuid.New()
	inv := recordedInvoice(driver)
	amount := decimal.RequireFromString("1250.505")
	extractor := &fakeExtractor{out: reconcile.Extracted{
		InvoiceNumber: strPtr("f-1001"),
		Date:          strPtr("2024-07-15"),
		TotalAmount:   &amount,
		SupplierName:  strPtr("acme foods"),
	}}
	svc, audit, pub := verificationFixture(inv, extractor)

	res, err := svc.VerifyPhoto(context.Background(), Actor{ID: driver, Role: model.RoleDeliveryAgent}, inv.ID.String(), []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, StateMatch, res.State)
	assert.Equal(t, SourcePhoto, res.Source)
	assert.True(t, res.Report.OverallMatch)
	assert.Len(t, res.Report.Fields, 4)
	assert.Equal(t, []string{model.ActionVerifyInvoice}, audit.actions())
	require.Len(t, pub.events, 1)
	assert.Equal(t, events.InvoiceVerified, pub.events[0].Type)
}

func TestVerifyPhoto_ExtractionFailureIsUnavailable(t *testing.T) {
	inv := recordedInvoice(uuid.New())
	extractor := &fakeExtractor{err: errors.New("upstream timeout")}
	svc, audit, pub := verificationFixture(inv, extractor)

	_, err := svc.VerifyPhoto(context.Background(), supervisor, inv.ID.String(), []byte("png"), "image/png")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrExtractionUnavailable))
	assert.False(t, errors.Is(err, apperror.ErrValidation))
	assert.Empty(t, audit.entries)
	assert.Empty(t, pub.events)
}

func TestVerifyPhoto_InputChecks(t *testing.T) {
	driver := uuid.New()
	inv := recordedInvoice(driver)
	extractor := &fakeExtractor{}
	svc, _, _ := verificationFixture(inv, extractor)
	ctx := context.Background()

	_, err := svc.VerifyPhoto(ctx, supervisor, inv.ID.String(), nil, "image/jpeg")
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = svc.VerifyPhoto(ctx, supervisor, inv.ID.String(), []byte("x"), "application/pdf")
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = svc.VerifyPhoto(ctx, Actor{ID: uuid.New(), Role: model.RoleDeliveryAgent}, inv.ID.String(), []byte("x"), "image/jpeg")
	assert.True(t, errors.Is(err, apperror.ErrForbidden))

	_, err = svc.VerifyPhoto(ctx, supervisor, uuid.NewString(), []byte("x"), "image/jpeg")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	assert.Zero(t, extractor.calls)
}

func TestReconcileExtracted(t *testing.T) {
	inv := recordedInvoice(uuid.New())
	svc, _, _ := verificationFixture(inv, &fakeExtractor{})
	ctx := context.Background()

	t.Run("missing fields mismatch without values", func(t *testing.T) {
		res, err := svc.ReconcileExtracted(ctx, supervisor, inv.ID.String(), ReconcileRequest{
			InvoiceNumber: strPtr("F-1001"),
			TotalAmount:   strPtr("1250.52"),
		})
		require.NoError(t, err)
		assert.Equal(t, StateMismatch, res.State)
		assert.Equal(t, SourceManual, res.Source)

		byKey := map[string]reconcile.FieldResult{}
		for _, f := range res.Report.Fields {
			byKey[f.Key] = f
		}
		assert.True(t, byKey["invoice_number"].Match)
		assert.False(t, byKey["total_amount"].Match)
		assert.False(t, byKey["date"].Match)
		assert.Nil(t, byKey["date"].ExtractedValue)
	})

	t.Run("malformed amount", func(t *testing.T) {
		_, err := svc.ReconcileExtracted(ctx, supervisor, inv.ID.String(), ReconcileRequest{TotalAmount: strPtr("twelve")})
		assert.True(t, errors.Is(err, apperror.ErrValidation))
	})
}
