package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"snapclaim/internal/apperror"
	"snapclaim/internal/events"
	"snapclaim/internal/extraction"
	"snapclaim/internal/metrics"
	"snapclaim/internal/model"
	"snapclaim/internal/reconcile"
	"snapclaim/internal/repository"
	"snapclaim/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	SourcePhoto  = "photo"
	SourceManual = "manual"

	StateMatch       = "match"
	StateMismatch    = "mismatch"
	StateUnavailable = "unavailable"
)

// ReconcileRequest carries values read from an invoice by some other means. Omitted fields
// count as not read.
type ReconcileRequest struct {
	InvoiceNumber *string `json:"invoice_number"`
	Date          *string `json:"date"`
	TotalAmount   *string `json:"total_amount"`
	SupplierName  *string `json:"supplier_name"`
}

type VerificationResult struct {
	InvoiceID string              `json:"invoice_id"`
	Source    string              `json:"source"`
	State     string              `json:"state"`
	Report    reconcile.Report    `json:"report"`
	Extracted reconcile.Extracted `json:"extracted"`
}

type VerificationService interface {
	VerifyPhoto(ctx context.Context, actor Actor, invoiceID string, image []byte, mediaType string) (VerificationResult, error)
	ReconcileExtracted(ctx context.Context, actor Actor, invoiceID string, req ReconcileRequest) (VerificationResult, error)
}

type verificationService struct {
	invoiceRepo repository.InvoiceRepository
	auditRepo   repository.AuditRepository
	extractor   extraction.Extractor
	publisher   events.Publisher
	timeout     time.Duration
	log         *logger.Logger
}

func NewVerificationService(
	invoiceRepo repository.InvoiceRepository,
	auditRepo repository.AuditRepository,
	extractor extraction.Extractor,
	publisher events.Publisher,
	timeout time.Duration,
	log *logger.Logger,
) VerificationService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &verificationService{
		invoiceRepo: invoiceRepo,
		auditRepo:   auditRepo,
		extractor:   extractor,
		publisher:   publisher,
		timeout:     timeout,
		log:         log.Named("verification"),
	}
}

// VerifyPhoto reads the invoice photo and reconciles it against the invoice on record.
// When extraction fails the result is ErrExtractionUnavailable, never a mismatch report.
func (s *verificationService) VerifyPhoto(ctx context.Context, actor Actor, invoiceID string, image []byte, mediaType string) (VerificationResult, error) {
	if len(image) == 0 {
		return VerificationResult{}, apperror.NewValidation("photo", "is required")
	}
	if !extraction.SupportedMediaTypes[mediaType] {
		return VerificationResult{}, apperror.NewValidation("photo", fmt.Sprintf("unsupported image type %q", mediaType))
	}
	invoice, err := s.loadForActor(ctx, actor, invoiceID)
	if err != nil {
		return VerificationResult{}, err
	}

	extractCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	extracted, err := s.extractor.Extract(extractCtx, image, mediaType)
	metrics.ExtractionDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues(SourcePhoto, StateUnavailable).Inc()
		s.log.Warn().Err(err).Str("invoice_id", invoice.ID.String()).Msg("invoice extraction failed")
		return VerificationResult{}, fmt.Errorf("%w: %v", apperror.ErrExtractionUnavailable, err)
	}

	return s.record(ctx, actor, invoice, SourcePhoto, extracted)
}

// ReconcileExtracted reconciles caller supplied values against the invoice on record.
func (s *verificationService) ReconcileExtracted(ctx context.Context, actor Actor, invoiceID string, req ReconcileRequest) (VerificationResult, error) {
	extracted := reconcile.Extracted{
		InvoiceNumber: req.InvoiceNumber,
		Date:          req.Date,
		SupplierName:  req.SupplierName,
	}
	if req.TotalAmount != nil {
		amount, err := decimal.NewFromString(strings.TrimSpace(*req.TotalAmount))
		if err != nil {
			return VerificationResult{}, apperror.NewValidation("total_amount", "must be a decimal number")
		}
		extracted.TotalAmount = &amount
	}

	invoice, err := s.loadForActor(ctx, actor, invoiceID)
	if err != nil {
		return VerificationResult{}, err
	}
	return s.record(ctx, actor, invoice, SourceManual, extracted)
}

func (s *verificationService) loadForActor(ctx context.Context, actor Actor, invoiceID string) (*model.Invoice, error) {
	id, err := parseID("id", invoiceID)
	if err != nil {
		return nil, err
	}
	invoice, err := s.invoiceRepo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr("invoice", err)
	}
	if err := checkAgentScope(actor, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// record reconciles, then counts, audits and announces the outcome.
func (s *verificationService) record(ctx context.Context, actor Actor, invoice *model.Invoice, source string, extracted reconcile.Extracted) (VerificationResult, error) {
	report := reconcile.Reconcile(reconcile.FromInvoice(*invoice), extracted)

	state := StateMatch
	mismatched := make([]string, 0)
	if !report.OverallMatch {
		state = StateMismatch
		for _, f := range report.Fields {
			if !f.Match {
				mismatched = append(mismatched, f.Key)
				metrics.FieldMismatchesTotal.WithLabelValues(f.Key).Inc()
			}
		}
	}
	metrics.VerificationsTotal.WithLabelValues(source, state).Inc()

	if err := writeAudit(ctx, s.auditRepo, actor, model.ActionVerifyInvoice, invoice.ID.String(), invoice.Code,
		map[string]any{"source": source, "state": state, "mismatched": mismatched}); err != nil {
		return VerificationResult{}, err
	}

	s.log.Info().
		Str("invoice_id", invoice.ID.String()).
		Str("source", source).
		Str("state", state).
		Strs("mismatched", mismatched).
		Msg("invoice verified")
	publish(ctx, s.publisher, s.log, events.New(events.InvoiceVerified, invoice.ID.String(), actorID(actor), map[string]any{
		"source": source,
		"state":  state,
	}))

	return VerificationResult{
		InvoiceID: invoice.ID.String(),
		Source:    source,
		State:     state,
		Report:    report,
		Extracted: extracted,
	}, nil
}
