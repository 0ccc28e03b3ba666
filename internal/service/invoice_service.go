package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"snapclaim/internal/apperror"
	"snapclaim/internal/events"
	"snapclaim/internal/lifecycle"
	"snapclaim/internal/model"
	"snapclaim/internal/repository"
	"snapclaim/pkg/logger"
	"snapclaim/pkg/validation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// --- DTOs ---

type CreateInvoiceRequest struct {
	InvoiceNumber   string  `json:"invoice_number" validate:"required,max=50"`
	SupplierName    string  `json:"supplier_name" validate:"required,max=255"`
	Date            string  `json:"date" validate:"required,calendar_date"`
	TotalAmount     string  `json:"total_amount" validate:"required"`
	DeliveryAddress string  `json:"delivery_address"`
	AssigneeID      *string `json:"assignee_id" validate:"omitempty,uuid"`
	ClientID        *string `json:"client_id" validate:"omitempty,uuid"`
}

// UpdateInvoiceRequest edits document fields of a non-terminal invoice. Nil fields are kept.
type UpdateInvoiceRequest struct {
	InvoiceNumber   *string `json:"invoice_number" validate:"omitempty,max=50"`
	SupplierName    *string `json:"supplier_name" validate:"omitempty,max=255"`
	Date            *string `json:"date" validate:"omitempty,calendar_date"`
	TotalAmount     *string `json:"total_amount"`
	DeliveryAddress *string `json:"delivery_address"`
	ClientID        *string `json:"client_id" validate:"omitempty,uuid"`
}

type AssignInvoiceRequest struct {
	AssigneeID *string `json:"assignee_id" validate:"omitempty,uuid"` // null unassigns
}

type ChangeInvoiceStatusRequest struct {
	Status             string `json:"status" validate:"required"`
	CancellationReason string `json:"cancellation_reason"`
	IncidenceType      string `json:"incidence_type"`
	IncidenceDetails   string `json:"incidence_details"`
	RequiresAction     bool   `json:"requires_action"`
}

type InvoiceFilter struct {
	Status     string
	AssigneeID string
	ClientID   string
	RouteID    string
	Date       string
	Unrouted   bool
	Search     string
	Page       int
	Limit      int
}

type IncidenceResponse struct {
	Type           string  `json:"type"`
	Details        string  `json:"details"`
	ReportedAt     *string `json:"reported_at"`
	RequiresAction bool    `json:"requires_action"`
}

type InvoiceResponse struct {
	ID                 string             `json:"id"`
	Code               string             `json:"code"`
	InvoiceNumber      string             `json:"invoice_number"`
	SupplierName       string             `json:"supplier_name"`
	Date               string             `json:"date"`
	TotalAmount        string             `json:"total_amount"`
	DeliveryAddress    string             `json:"delivery_address"`
	AssigneeID         *string            `json:"assignee_id"`
	AssigneeName       string             `json:"assignee_name,omitempty"`
	ClientID           *string            `json:"client_id"`
	ClientName         string             `json:"client_name,omitempty"`
	RouteID            *string            `json:"route_id"`
	Status             string             `json:"status"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	Incidence          *IncidenceResponse `json:"incidence,omitempty"`
	CreatedAt          string             `json:"created_at"`
	UpdatedAt          string             `json:"updated_at"`
}

// --- Interface ---

type InvoiceService interface {
	CreateInvoice(ctx context.Context, actor Actor, req CreateInvoiceRequest) (InvoiceResponse, error)
	GetInvoice(ctx context.Context, actor Actor, id string) (InvoiceResponse, error)
	ListInvoices(ctx context.Context, actor Actor, filter InvoiceFilter) ([]InvoiceResponse, int64, error)
	UpdateInvoice(ctx context.Context, actor Actor, id string, req UpdateInvoiceRequest) (InvoiceResponse, error)
	DeleteInvoice(ctx context.Context, actor Actor, id string) error
	AssignInvoice(ctx context.Context, actor Actor, id string, req AssignInvoiceRequest) (InvoiceResponse, error)
	ChangeStatus(ctx context.Context, actor Actor, id string, req ChangeInvoiceStatusRequest) (InvoiceResponse, error)
}

type invoiceService struct {
	invoiceRepo repository.InvoiceRepository
	clientRepo  repository.ClientRepository
	userRepo    repository.UserRepository
	routeRepo   repository.RouteRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	publisher   events.Publisher
	log         *logger.Logger
	now         func() time.Time
}

func NewInvoiceService(
	invoiceRepo repository.InvoiceRepository,
	clientRepo repository.ClientRepository,
	userRepo repository.UserRepository,
	routeRepo repository.RouteRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	publisher events.Publisher,
	log *logger.Logger,
) InvoiceService {
	return &invoiceService{
		invoiceRepo: invoiceRepo,
		clientRepo:  clientRepo,
		userRepo:    userRepo,
		routeRepo:   routeRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		publisher:   publisher,
		log:         log.Named("invoices"),
		now:         time.Now,
	}
}

// --- Implementation ---

func (s *invoiceService) CreateInvoice(ctx context.Context, actor Actor, req CreateInvoiceRequest) (InvoiceResponse, error) {
	req.InvoiceNumber = strings.TrimSpace(req.InvoiceNumber)
	req.SupplierName = strings.TrimSpace(req.SupplierName)
	if err := validation.Struct(req); err != nil {
		return InvoiceResponse{}, err
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return InvoiceResponse{}, err
	}
	total, err := parseAmount("total_amount", req.TotalAmount)
	if err != nil {
		return InvoiceResponse{}, err
	}
	if err := s.ensureNumberFree(ctx, uuid.Nil, req.SupplierName, req.InvoiceNumber); err != nil {
		return InvoiceResponse{}, err
	}

	invoice := model.Invoice{
		InvoiceNumber:   req.InvoiceNumber,
		SupplierName:    req.SupplierName,
		Date:            date,
		TotalAmount:     total,
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		Status:          model.InvoiceStatusPending,
	}

	if invoice.AssigneeID, err = s.resolveAssignee(ctx, req.AssigneeID); err != nil {
		return InvoiceResponse{}, err
	}
	client, err := s.resolveClient(ctx, req.ClientID)
	if err != nil {
		return InvoiceResponse{}, err
	}
	if client != nil {
		invoice.ClientID = &client.ID
		if invoice.DeliveryAddress == "" {
			invoice.DeliveryAddress = client.Address
		}
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		code, err := s.generateCode(txCtx)
		if err != nil {
			return fmt.Errorf("failed to generate invoice code: %w", err)
		}
		invoice.Code = code
		if err := s.invoiceRepo.Create(txCtx, &invoice); err != nil {
			return fmt.Errorf("failed to create invoice: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.ActionCreateInvoice, invoice.ID.String(), invoice.Code,
			map[string]any{
				"invoice_number": invoice.InvoiceNumber,
				"supplier_name":  invoice.SupplierName,
				"total_amount":   invoice.TotalAmount.StringFixed(2),
			})
	})
	if err != nil {
		return InvoiceResponse{}, err
	}

	publish(ctx, s.publisher, s.log, events.New(events.InvoiceCreated, invoice.ID.String(), actorID(actor), map[string]any{
		"code": invoice.Code,
		"date": model.DayKey(invoice.Date),
	}))
	return s.reload(ctx, invoice.ID)
}

func (s *invoiceService) generateCode(ctx context.Context) (string, error) {
	prefix := "SC-" + s.now().Format("20060102") + "-"

	last, err := s.invoiceRepo.LastCodeWithPrefix(ctx, prefix)
	if err != nil {
		return "", err
	}

	next := 1
	if last != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(last, prefix))
		if err != nil {
			return "", fmt.Errorf("malformed invoice code %q: %w", last, err)
		}
		next = n + 1
	}
	return fmt.Sprintf("%s%05d", prefix, next), nil
}

func (s *invoiceService) GetInvoice(ctx context.Context, actor Actor, id string) (InvoiceResponse, error) {
	invoice, err := s.load(ctx, id)
	if err != nil {
		return InvoiceResponse{}, err
	}
	if err := checkAgentScope(actor, invoice); err != nil {
		return InvoiceResponse{}, err
	}
	return toInvoiceResponse(*invoice), nil
}

// ListInvoices lists invoices. Delivery agents only ever see invoices assigned to them.
func (s *invoiceService) ListInvoices(ctx context.Context, actor Actor, filter InvoiceFilter) ([]InvoiceResponse, int64, error) {
	page, limit := normalizePage(filter.Page, filter.Limit)
	f := repository.InvoiceFilter{Unrouted: filter.Unrouted, Search: strings.TrimSpace(filter.Search)}

	if filter.Status != "" {
		if !lifecycle.IsInvoiceStatus(filter.Status) {
			return nil, 0, apperror.NewValidation("status", fmt.Sprintf("unknown invoice status %q", filter.Status))
		}
		f.Status = filter.Status
	}
	var err error
	if f.AssigneeID, err = parseOptionalID("assignee_id", &filter.AssigneeID); err != nil {
		return nil, 0, err
	}
	if f.ClientID, err = parseOptionalID("client_id", &filter.ClientID); err != nil {
		return nil, 0, err
	}
	if f.RouteID, err = parseOptionalID("route_id", &filter.RouteID); err != nil {
		return nil, 0, err
	}
	if filter.Date != "" {
		date, err := parseDate("date", filter.Date)
		if err != nil {
			return nil, 0, err
		}
		f.Date = &date
	}
	if actor.Role == model.RoleDeliveryAgent {
		self := actor.ID
		f.AssigneeID = &self
	}

	invoices, total, err := s.invoiceRepo.List(ctx, f, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list invoices: %w", err)
	}
	res := make([]InvoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		res = append(res, toInvoiceResponse(inv))
	}
	return res, total, nil
}

// UpdateInvoice edits document fields. The date of an invoice already on a route is fixed,
// since the route was planned for that day.
func (s *invoiceService) UpdateInvoice(ctx context.Context, actor Actor, id string, req UpdateInvoiceRequest) (InvoiceResponse, error) {
	if err := validation.Struct(req); err != nil {
		return InvoiceResponse{}, err
	}
	invoice, err := s.load(ctx, id)
	if err != nil {
		return InvoiceResponse{}, err
	}
	if lifecycle.IsTerminal(invoice.Status) {
		return InvoiceResponse{}, apperror.Conflict("invoice is %s and can no longer be edited", invoice.Status)
	}

	changed := map[string]any{}
	if req.InvoiceNumber != nil {
		invoice.InvoiceNumber = strings.TrimSpace(*req.InvoiceNumber)
		changed["invoice_number"] = invoice.InvoiceNumber
	}
	if req.SupplierName != nil {
		invoice.SupplierName = strings.TrimSpace(*req.SupplierName)
		changed["supplier_name"] = invoice.SupplierName
	}
	if invoice.InvoiceNumber == "" {
		return InvoiceResponse{}, apperror.NewValidation("invoice_number", "is required")
	}
	if invoice.SupplierName == "" {
		return InvoiceResponse{}, apperror.NewValidation("supplier_name", "is required")
	}
	if req.InvoiceNumber != nil || req.SupplierName != nil {
		if err := s.ensureNumberFree(ctx, invoice.ID, invoice.SupplierName, invoice.InvoiceNumber); err != nil {
			return InvoiceResponse{}, err
		}
	}
	if req.Date != nil {
		date, err := parseDate("date", *req.Date)
		if err != nil {
			return InvoiceResponse{}, err
		}
		if invoice.RouteID != nil && !model.SameDay(date, invoice.Date) {
			return InvoiceResponse{}, apperror.Conflict("remove the invoice from its route before changing its date")
		}
		invoice.Date = date
		changed["date"] = model.DayKey(date)
	}
	if req.TotalAmount != nil {
		total, err := parseAmount("total_amount", *req.TotalAmount)
		if err != nil {
			return InvoiceResponse{}, err
		}
		invoice.TotalAmount = total
		changed["total_amount"] = total.StringFixed(2)
	}
	if req.DeliveryAddress != nil {
		invoice.DeliveryAddress = strings.TrimSpace(*req.DeliveryAddress)
		changed["delivery_address"] = invoice.DeliveryAddress
	}
	if req.ClientID != nil {
		client, err := s.resolveClient(ctx, req.ClientID)
		if err != nil {
			return InvoiceResponse{}, err
		}
		invoice.ClientID = nil
		if client != nil {
			invoice.ClientID = &client.ID
		}
		changed["client_id"] = idString(invoice.ClientID)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.invoiceRepo.Update(txCtx, invoice); err != nil {
			return fmt.Errorf("failed to update invoice: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.ActionUpdateInvoice, invoice.ID.String(), invoice.Code, changed)
	})
	if err != nil {
		return InvoiceResponse{}, err
	}
	return s.reload(ctx, invoice.ID)
}

// DeleteInvoice removes a pending or cancelled invoice.
func (s *invoiceService) DeleteInvoice(ctx context.Context, actor Actor, id string) error {
	invoice, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if invoice.Status != model.InvoiceStatusPending && invoice.Status != model.InvoiceStatusCancelled {
		return apperror.Conflict("only pending or cancelled invoices can be deleted, invoice is %s", invoice.Status)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.invoiceRepo.Delete(txCtx, invoice.ID); err != nil {
			return fmt.Errorf("failed to delete invoice: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.ActionDeleteInvoice, invoice.ID.String(), invoice.Code,
			map[string]any{"invoice_number": invoice.InvoiceNumber, "route_id": idString(invoice.RouteID)})
	})
	if err != nil {
		return err
	}

	publish(ctx, s.publisher, s.log, events.New(events.InvoiceDeleted, invoice.ID.String(), actorID(actor), nil))
	return nil
}

// AssignInvoice sets or clears the delivery agent responsible for an invoice.
func (s *invoiceService) AssignInvoice(ctx context.Context, actor Actor, id string, req AssignInvoiceRequest) (InvoiceResponse, error) {
	if err := validation.Struct(req); err != nil {
		return InvoiceResponse{}, err
	}
	invoice, err := s.load(ctx, id)
	if err != nil {
		return InvoiceResponse{}, err
	}
	if lifecycle.IsTerminal(invoice.Status) {
		return InvoiceResponse{}, apperror.Conflict("invoice is %s and can no longer be reassigned", invoice.Status)
	}
	assignee, err := s.resolveAssignee(ctx, req.AssigneeID)
	if err != nil {
		return InvoiceResponse{}, err
	}

	previous := idString(invoice.AssigneeID)
	invoice.AssigneeID = assignee
	invoice.Assignee = nil
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.invoiceRepo.Update(txCtx, invoice); err != nil {
			return fmt.Errorf("failed to assign invoice: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.ActionAssignInvoice, invoice.ID.String(), invoice.Code,
			map[string]any{"from": previous, "to": idString(assignee)})
	})
	if err != nil {
		return InvoiceResponse{}, err
	}

	publish(ctx, s.publisher, s.log, events.New(events.InvoiceAssigned, invoice.ID.String(), actorID(actor), map[string]any{
		"assignee_id": idString(assignee),
	}))
	return s.reload(ctx, invoice.ID)
}

// ChangeStatus moves an invoice through its lifecycle. Cancelling detaches it from its route;
// raising an incidence stamps the report time; leaving an incidence clears its action flag.
func (s *invoiceService) ChangeStatus(ctx context.Context, actor Actor, id string, req ChangeInvoiceStatusRequest) (InvoiceResponse, error) {
	if err := validation.Struct(req); err != nil {
		return InvoiceResponse{}, err
	}
	invoice, err := s.load(ctx, id)
	if err != nil {
		return InvoiceResponse{}, err
	}
	if err := checkAgentScope(actor, invoice); err != nil {
		return InvoiceResponse{}, err
	}

	routeStatus := ""
	if invoice.RouteID != nil {
		routes, err := s.routeRepo.ListByIDs(ctx, []uuid.UUID{*invoice.RouteID})
		if err != nil {
			return InvoiceResponse{}, fmt.Errorf("failed to load route: %w", err)
		}
		if len(routes) == 1 {
			routeStatus = routes[0].Status
		}
	}

	change := lifecycle.InvoiceChange{
		To:                 req.Status,
		CancellationReason: req.CancellationReason,
		IncidenceType:      req.IncidenceType,
		IncidenceDetails:   req.IncidenceDetails,
		RequiresAction:     req.RequiresAction,
	}
	if err := lifecycle.ValidateInvoiceTransition(invoice.Status, routeStatus, change); err != nil {
		return InvoiceResponse{}, err
	}

	from := invoice.Status
	applyStatus(invoice, change, s.now())

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.invoiceRepo.Update(txCtx, invoice); err != nil {
			return fmt.Errorf("failed to update invoice status: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.ActionChangeInvoiceStatus, invoice.ID.String(), invoice.Code,
			map[string]any{
				"from":                from,
				"to":                  invoice.Status,
				"cancellation_reason": invoice.CancellationReason,
				"incidence_type":      invoice.Incidence.Type,
			})
	})
	if err != nil {
		return InvoiceResponse{}, err
	}

	publish(ctx, s.publisher, s.log, events.New(events.InvoiceStatusChanged, invoice.ID.String(), actorID(actor), map[string]any{
		"from": from,
		"to":   invoice.Status,
	}))
	return s.reload(ctx, invoice.ID)
}

// applyStatus writes an already validated change onto inv.
func applyStatus(inv *model.Invoice, ch lifecycle.InvoiceChange, now time.Time) {
	if inv.Status == model.InvoiceStatusWarehouseIncidence {
		inv.Incidence.RequiresAction = false
	}
	inv.Status = ch.To
	switch ch.To {
	case model.InvoiceStatusCancelled:
		inv.CancellationReason = strings.TrimSpace(ch.CancellationReason)
		inv.RouteID = nil
	case model.InvoiceStatusWarehouseIncidence:
		reported := now
		inv.Incidence = model.Incidence{
			Type:           ch.IncidenceType,
			Details:        strings.TrimSpace(ch.IncidenceDetails),
			ReportedAt:     &reported,
			RequiresAction: ch.RequiresAction,
		}
	}
}

// --- Helpers ---

func (s *invoiceService) load(ctx context.Context, id string) (*model.Invoice, error) {
	invoiceID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	invoice, err := s.invoiceRepo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, lookupErr("invoice", err)
	}
	return invoice, nil
}

func (s *invoiceService) reload(ctx context.Context, id uuid.UUID) (InvoiceResponse, error) {
	invoice, err := s.invoiceRepo.FindByID(ctx, id)
	if err != nil {
		return InvoiceResponse{}, fmt.Errorf("failed to reload invoice: %w", err)
	}
	return toInvoiceResponse(*invoice), nil
}

func (s *invoiceService) ensureNumberFree(ctx context.Context, self uuid.UUID, supplier, number string) error {
	existing, err := s.invoiceRepo.FindBySupplierNumber(ctx, supplier, number)
	if err == nil && existing.ID != self {
		return apperror.Conflict("invoice %s from %s already exists", number, supplier)
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check invoice number: %w", err)
	}
	return nil
}

// resolveAssignee returns nil for no assignee and refuses users who are not delivery agents.
func (s *invoiceService) resolveAssignee(ctx context.Context, raw *string) (*uuid.UUID, error) {
	id, err := parseOptionalID("assignee_id", raw)
	if err != nil || id == nil {
		return nil, err
	}
	user, err := s.userRepo.GetByID(ctx, *id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NewValidation("assignee_id", "user does not exist")
		}
		return nil, fmt.Errorf("failed to load assignee: %w", err)
	}
	if !user.IsDeliveryAgent() {
		return nil, apperror.NewValidation("assignee_id", "user is not a delivery agent")
	}
	return &user.ID, nil
}

func (s *invoiceService) resolveClient(ctx context.Context, raw *string) (*model.Client, error) {
	id, err := parseOptionalID("client_id", raw)
	if err != nil || id == nil {
		return nil, err
	}
	client, err := s.clientRepo.FindByID(ctx, *id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NewValidation("client_id", "client does not exist")
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	return client, nil
}

// checkAgentScope keeps delivery agents on their own invoices.
func checkAgentScope(actor Actor, inv *model.Invoice) error {
	if actor.Role != model.RoleDeliveryAgent {
		return nil
	}
	if inv.AssigneeID == nil || *inv.AssigneeID != actor.ID {
		return apperror.Forbidden("invoice is not assigned to you")
	}
	return nil
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, apperror.NewValidation(field, "must be a decimal number")
	}
	if amount.IsNegative() {
		return decimal.Zero, apperror.NewValidation(field, "must not be negative")
	}
	return amount.Round(2), nil
}

func toInvoiceResponse(inv model.Invoice) InvoiceResponse {
	res := InvoiceResponse{
		ID:                 inv.ID.String(),
		Code:               inv.Code,
		InvoiceNumber:      inv.InvoiceNumber,
		SupplierName:       inv.SupplierName,
		Date:               model.DayKey(inv.Date),
		TotalAmount:        inv.TotalAmount.StringFixed(2),
		DeliveryAddress:    inv.DeliveryAddress,
		AssigneeID:         idString(inv.AssigneeID),
		ClientID:           idString(inv.ClientID),
		RouteID:            idString(inv.RouteID),
		Status:             inv.Status,
		CancellationReason: inv.CancellationReason,
		CreatedAt:          inv.CreatedAt.Format(timeLayout),
		UpdatedAt:          inv.UpdatedAt.Format(timeLayout),
	}
	if inv.Assignee != nil {
		res.AssigneeName = inv.Assignee.DisplayName
	}
	if inv.Client != nil {
		res.ClientName = inv.Client.Name
	}
	if inv.Incidence.Type != "" {
		var reported *string
		if inv.Incidence.ReportedAt != nil {
			r := inv.Incidence.ReportedAt.Format(timeLayout)
			reported = &r
		}
		res.Incidence = &IncidenceResponse{
			Type:           inv.Incidence.Type,
			Details:        inv.Incidence.Details,
			ReportedAt:     reported,
			RequiresAction: inv.Incidence.RequiresAction,
		}
	}
	return res
}
