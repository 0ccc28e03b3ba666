package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"snapclaim/internal/apperror"
	"snapclaim/internal/assignment"
	"snapclaim/internal/events"
	"snapclaim/internal/lifecycle"
	"snapclaim/internal/metrics"
	"snapclaim/internal/model"
	"snapclaim/internal/repository"
	"snapclaim/pkg/logger"
	"snapclaim/pkg/validation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// --- DTOs ---

// SaveRouteRequest creates a route or replaces an existing route's date, driver and invoices.
type SaveRouteRequest struct {
	Date       string   `json:"date"`
	DriverID   string   `json:"driver_id"`
	Notes      string   `json:"notes" validate:"max=2000"`
	InvoiceIDs []string `json:"invoice_ids"`
}

type ChangeRouteStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type RouteFilter struct {
	Date     string
	DriverID string
	Status   string
	Page     int
	Limit    int
}

type RouteResponse struct {
	ID         string            `json:"id"`
	Date       string            `json:"date"`
	DriverID   *string           `json:"driver_id"`
	DriverName string            `json:"driver_name,omitempty"`
	Status     string            `json:"status"`
	Notes      string            `json:"notes"`
	Invoices   []InvoiceResponse `json:"invoices"`
	CreatedAt  string            `json:"created_at"`
	UpdatedAt  string            `json:"updated_at"`
}

// SaveRouteResult is the saved route plus the selected invoices that were refused.
type SaveRouteResult struct {
	Route      RouteResponse        `json:"route"`
	Rejections []apperror.Rejection `json:"rejections"`
}

// --- Interface ---

type RouteService interface {
	EligibleInvoices(ctx context.Context, date string, routeID string) ([]InvoiceResponse, error)
	SaveRoute(ctx context.Context, actor Actor, routeID string, req SaveRouteRequest) (SaveRouteResult, error)
	GetRoute(ctx context.Context, actor Actor, id string) (RouteResponse, error)
	ListRoutes(ctx context.Context, actor Actor, filter RouteFilter) ([]RouteResponse, int64, error)
	ChangeStatus(ctx context.Context, actor Actor, id string, req ChangeRouteStatusRequest) (RouteResponse, error)
	DeleteRoute(ctx context.Context, actor Actor, id string) error
}

type routeService struct {
	routeRepo   repository.RouteRepository
	invoiceRepo repository.InvoiceRepository
	userRepo    repository.UserRepository
	changes     repository.ChangeApplier
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	publisher   events.Publisher
	log         *logger.Logger
}

func NewRouteService(
	routeRepo repository.RouteRepository,
	invoiceRepo repository.InvoiceRepository,
	userRepo repository.UserRepository,
	changes repository.ChangeApplier,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	publisher events.Publisher,
	log *logger.Logger,
) RouteService {
	return &routeService{
		routeRepo:   routeRepo,
		invoiceRepo: invoiceRepo,
		userRepo:    userRepo,
		changes:     changes,
		auditRepo:   auditRepo,
		txManager:   txManager,
		publisher:   publisher,
		log:         log.Named("routes"),
	}
}

// --- Implementation ---

// EligibleInvoices lists the invoices a route dated date may carry. With routeID set the
// route's own invoices stay eligible.
func (s *routeService) EligibleInvoices(ctx context.Context, date string, routeID string) ([]InvoiceResponse, error) {
	target, err := parseDate("date", date)
	if err != nil {
		return nil, err
	}
	editing, err := s.loadOptional(ctx, routeID)
	if err != nil {
		return nil, err
	}

	invoices, err := s.invoiceRepo.ListByDate(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoices: %w", err)
	}
	if editing != nil {
		invoices = mergeInvoices(invoices, editing.Invoices)
	}
	routes, err := s.routeRepo.ListByDate(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}

	eligible := assignment.EligibleInvoices(target, editing, invoices, routes)
	res := make([]InvoiceResponse, 0, len(eligible))
	for _, inv := range eligible {
		res = append(res, toInvoiceResponse(inv))
	}
	return res, nil
}

// SaveRoute creates a route when routeID is empty and edits it otherwise. Selected invoices
// that cannot ride on the route are reported as rejections; the rest are saved together with
// the route row in one transaction. When nothing can be saved no write happens.
func (s *routeService) SaveRoute(ctx context.Context, actor Actor, routeID string, req SaveRouteRequest) (SaveRouteResult, error) {
	mode := "create"
	if routeID != "" {
		mode = "update"
	}
	result, err := s.saveRoute(ctx, actor, routeID, req)
	switch {
	case err == nil:
		metrics.RouteSavesTotal.WithLabelValues(mode, "saved").Inc()
	case errors.Is(err, apperror.ErrValidation):
		metrics.RouteSavesTotal.WithLabelValues(mode, "rejected").Inc()
	default:
		metrics.RouteSavesTotal.WithLabelValues(mode, "error").Inc()
	}
	return result, err
}

func (s *routeService) saveRoute(ctx context.Context, actor Actor, routeID string, req SaveRouteRequest) (SaveRouteResult, error) {
	draft, err := parseDraft(req)
	if err != nil {
		return SaveRouteResult{}, err
	}
	if err := assignment.ValidateDraft(draft); err != nil {
		return SaveRouteResult{}, err
	}
	if err := validation.Struct(req); err != nil {
		return SaveRouteResult{}, err
	}
	if err := s.checkDriver(ctx, draft.DriverID); err != nil {
		return SaveRouteResult{}, err
	}

	// Screening outside the transaction answers rejected drafts without opening one.
	// The transaction screens again on locked rows before writing.
	if _, _, err := s.screenDraft(ctx, draft, routeID); err != nil {
		return SaveRouteResult{}, err
	}

	driverID := draft.DriverID
	var (
		route *model.Route
		sel   assignment.Selection
		plan  assignment.ChangeSet
	)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.lockDraft(txCtx, draft, routeID); err != nil {
			return err
		}
		editing, screened, err := s.screenDraft(txCtx, draft, routeID)
		if err != nil {
			return err
		}
		sel = screened

		route = &model.Route{Status: model.RouteStatusPlanned}
		var previous []uuid.UUID
		action := model.ActionCreateRoute
		if editing != nil {
			route = editing
			previous = editing.InvoiceIDs()
			action = model.ActionUpdateRoute
		}
		route.Date = draft.Date
		route.DriverID = &driverID
		route.Driver = nil
		route.Notes = strings.TrimSpace(req.Notes)

		if editing == nil {
			if err := s.routeRepo.Create(txCtx, route); err != nil {
				return fmt.Errorf("failed to create route: %w", err)
			}
		} else if err := s.routeRepo.Update(txCtx, route); err != nil {
			return fmt.Errorf("failed to update route: %w", err)
		}

		plan = assignment.Plan(route.ID, previous, sel.Next)
		if err := s.changes.Apply(txCtx, plan); err != nil {
			if errors.Is(err, repository.ErrStaleChange) {
				return apperror.Conflict("an invoice on this route changed while saving, reload and try again")
			}
			return fmt.Errorf("failed to apply route membership: %w", err)
		}

		return writeAudit(txCtx, s.auditRepo, actor, action, route.ID.String(), model.DayKey(route.Date),
			map[string]any{
				"driver_id":  driverID.String(),
				"invoices":   sel.Next,
				"changes":    len(plan),
				"rejections": sel.Rejections,
			})
	})
	if err != nil {
		return SaveRouteResult{}, err
	}
	if len(sel.Rejections) > 0 {
		metrics.InvoiceRejectionsTotal.Add(float64(len(sel.Rejections)))
	}

	s.log.Info().
		Str("route_id", route.ID.String()).
		Str("date", model.DayKey(route.Date)).
		Int("invoices", len(sel.Next)).
		Int("changes", len(plan)).
		Int("rejections", len(sel.Rejections)).
		Msg("route saved")
	publish(ctx, s.publisher, s.log, events.New(events.RouteSaved, route.ID.String(), actorID(actor), map[string]any{
		"date":        model.DayKey(route.Date),
		"driver_id":   driverID.String(),
		"invoice_ids": sel.Next,
	}))

	saved, err := s.routeRepo.FindByID(ctx, route.ID)
	if err != nil {
		return SaveRouteResult{}, fmt.Errorf("failed to reload route: %w", err)
	}
	rejections := sel.Rejections
	if rejections == nil {
		rejections = []apperror.Rejection{}
	}
	return SaveRouteResult{Route: toRouteResponse(*saved), Rejections: rejections}, nil
}

// screenDraft loads the edited route and the candidate invoices and screens the selection.
// It fails with a validation error carrying the rejections when nothing can be placed.
func (s *routeService) screenDraft(ctx context.Context, draft assignment.Draft, routeID string) (*model.Route, assignment.Selection, error) {
	editing, err := s.loadOptional(ctx, routeID)
	if err != nil {
		return nil, assignment.Selection{}, err
	}
	if editing != nil && editing.Status != model.RouteStatusPlanned {
		return nil, assignment.Selection{}, apperror.Conflict("route is %s, only planned routes can be edited", editing.Status)
	}

	invoices, routes, err := s.loadCandidates(ctx, draft, editing)
	if err != nil {
		return nil, assignment.Selection{}, err
	}

	sel := assignment.Screen(draft.Date, editing, draft.InvoiceIDs, invoices, routes)
	if len(sel.Next) == 0 {
		metrics.InvoiceRejectionsTotal.Add(float64(len(sel.Rejections)))
		verr := &apperror.ValidationError{Rejections: sel.Rejections}
		verr.Add("invoice_ids", "none of the selected invoices can be placed on this route")
		return nil, assignment.Selection{}, verr
	}
	return editing, sel, nil
}

// lockDraft takes row locks on the edited route and on every invoice the save may touch,
// so the screen that follows reads rows no other save can change before commit.
func (s *routeService) lockDraft(ctx context.Context, draft assignment.Draft, routeID string) error {
	ids := append([]uuid.UUID(nil), draft.InvoiceIDs...)
	if strings.TrimSpace(routeID) != "" {
		id, err := parseID("id", routeID)
		if err != nil {
			return err
		}
		if err := s.routeRepo.LockForUpdate(ctx, id); err != nil {
			return lookupErr("route", err)
		}
		members, err := s.invoiceRepo.IDsOnRoute(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load route invoices: %w", err)
		}
		ids = append(ids, members...)
	}
	if err := s.invoiceRepo.LockForUpdate(ctx, ids); err != nil {
		return fmt.Errorf("failed to lock invoices: %w", err)
	}
	return nil
}

// parseDraft converts the request into a Draft, reporting malformed ids as field errors.
func parseDraft(req SaveRouteRequest) (assignment.Draft, error) {
	var d assignment.Draft
	verr := &apperror.ValidationError{}

	if strings.TrimSpace(req.Date) != "" {
		date, err := parseDate("date", req.Date)
		if err != nil {
			verr.Add("date", "must be a date formatted "+model.DateLayout)
		}
		d.Date = date
	}
	if strings.TrimSpace(req.DriverID) != "" {
		id, err := uuid.Parse(strings.TrimSpace(req.DriverID))
		if err != nil {
			verr.Add("driver_id", "must be a valid id")
		}
		d.DriverID = id
	}
	for i, raw := range req.InvoiceIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			verr.Add(fmt.Sprintf("invoice_ids[%d]", i), "must be a valid id")
			continue
		}
		d.InvoiceIDs = append(d.InvoiceIDs, id)
	}
	if verr.HasErrors() {
		return d, verr
	}
	return d, nil
}

func (s *routeService) checkDriver(ctx context.Context, driverID uuid.UUID) error {
	driver, err := s.userRepo.GetByID(ctx, driverID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NewValidation("driver_id", "user does not exist")
		}
		return fmt.Errorf("failed to load driver: %w", err)
	}
	if !driver.IsDeliveryAgent() {
		return apperror.NewValidation("driver_id", "user is not a delivery agent")
	}
	return nil
}

// loadCandidates loads the selected invoices, the edited route's invoices and every route
// that may claim one of them on the draft's date.
func (s *routeService) loadCandidates(ctx context.Context, draft assignment.Draft, editing *model.Route) ([]model.Invoice, []model.Route, error) {
	invoices, err := s.invoiceRepo.FindByIDs(ctx, draft.InvoiceIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load invoices: %w", err)
	}
	if editing != nil {
		invoices = mergeInvoices(invoices, editing.Invoices)
	}

	routes, err := s.routeRepo.ListByDate(ctx, draft.Date)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load routes: %w", err)
	}

	known := make(map[uuid.UUID]bool, len(routes))
	for _, r := range routes {
		known[r.ID] = true
	}
	var missing []uuid.UUID
	for _, inv := range invoices {
		if inv.RouteID != nil && !known[*inv.RouteID] {
			known[*inv.RouteID] = true
			missing = append(missing, *inv.RouteID)
		}
	}
	if len(missing) > 0 {
		extra, err := s.routeRepo.ListByIDs(ctx, missing)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load routes: %w", err)
		}
		routes = append(routes, extra...)
	}
	return invoices, routes, nil
}

func (s *routeService) GetRoute(ctx context.Context, actor Actor, id string) (RouteResponse, error) {
	route, err := s.load(ctx, id)
	if err != nil {
		return RouteResponse{}, err
	}
	if err := checkDriverScope(actor, route); err != nil {
		return RouteResponse{}, err
	}
	return toRouteResponse(*route), nil
}

// ListRoutes lists routes. Delivery agents only see the routes they drive.
func (s *routeService) ListRoutes(ctx context.Context, actor Actor, filter RouteFilter) ([]RouteResponse, int64, error) {
	page, limit := normalizePage(filter.Page, filter.Limit)
	var f repository.RouteFilter

	if filter.Date != "" {
		date, err := parseDate("date", filter.Date)
		if err != nil {
			return nil, 0, err
		}
		f.Date = &date
	}
	if filter.Status != "" {
		if !lifecycle.IsRouteStatus(filter.Status) {
			return nil, 0, apperror.NewValidation("status", fmt.Sprintf("unknown route status %q", filter.Status))
		}
		f.Status = filter.Status
	}
	var err error
	if f.DriverID, err = parseOptionalID("driver_id", &filter.DriverID); err != nil {
		return nil, 0, err
	}
	if actor.Role == model.RoleDeliveryAgent {
		self := actor.ID
		f.DriverID = &self
	}

	routes, total, err := s.routeRepo.List(ctx, f, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list routes: %w", err)
	}
	res := make([]RouteResponse, 0, len(routes))
	for _, r := range routes {
		res = append(res, toRouteResponse(r))
	}
	return res, total, nil
}

// ChangeStatus advances a route one stage. Every invoice on it must be allowed at the new stage.
func (s *routeService) ChangeStatus(ctx context.Context, actor Actor, id string, req ChangeRouteStatusRequest) (RouteResponse, error) {
	if err := validation.Struct(req); err != nil {
		return RouteResponse{}, err
	}
	route, err := s.load(ctx, id)
	if err != nil {
		return RouteResponse{}, err
	}
	if err := checkDriverScope(actor, route); err != nil {
		return RouteResponse{}, err
	}
	if err := lifecycle.ValidateRouteTransition(route.Status, req.Status); err != nil {
		return RouteResponse{}, err
	}

	if err := checkStatusChange(route, req.Status); err != nil {
		return RouteResponse{}, err
	}

	from := route.Status
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		locked, err := s.lockRoute(txCtx, route.ID)
		if err != nil {
			return err
		}
		if locked.Status != from {
			return apperror.Conflict("route changed to %s while updating, reload and try again", locked.Status)
		}
		if err := checkStatusChange(locked, req.Status); err != nil {
			return err
		}
		route = locked
		route.Status = req.Status
		if err := s.routeRepo.Update(txCtx, route); err != nil {
			return fmt.Errorf("failed to update route status: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.ActionChangeRouteStatus, route.ID.String(), model.DayKey(route.Date),
			map[string]any{"from": from, "to": route.Status})
	})
	if err != nil {
		return RouteResponse{}, err
	}

	publish(ctx, s.publisher, s.log, events.New(events.RouteStatusChanged, route.ID.String(), actorID(actor), map[string]any{
		"from": from,
		"to":   route.Status,
	}))
	return toRouteResponse(*route), nil
}

// DeleteRoute removes a planned route whose invoices may all leave it. They return to the unrouted pool.
func (s *routeService) DeleteRoute(ctx context.Context, actor Actor, id string) error {
	route, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := checkDeletable(route); err != nil {
		return err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		locked, err := s.lockRoute(txCtx, route.ID)
		if err != nil {
			return err
		}
		if err := checkDeletable(locked); err != nil {
			return err
		}
		route = locked
		if err := s.routeRepo.Delete(txCtx, route.ID); err != nil {
			return fmt.Errorf("failed to delete route: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.ActionDeleteRoute, route.ID.String(), model.DayKey(route.Date),
			map[string]any{"released_invoices": route.InvoiceIDs()})
	})
	if err != nil {
		return err
	}

	publish(ctx, s.publisher, s.log, events.New(events.RouteDeleted, route.ID.String(), actorID(actor), nil))
	return nil
}

// --- Helpers ---

// checkStatusChange refuses a status whose stage does not allow one of the route's invoices.
func checkStatusChange(route *model.Route, status string) error {
	verr := &apperror.ValidationError{}
	for _, inv := range route.Invoices {
		if !lifecycle.AllowedOnRoute(status, inv.Status) {
			verr.Rejections = append(verr.Rejections, apperror.Rejection{
				InvoiceID:     inv.ID,
				InvoiceNumber: inv.InvoiceNumber,
				Reason:        fmt.Sprintf("%s is not allowed on a %s route", inv.Status, status),
			})
		}
	}
	if verr.HasErrors() {
		verr.Add("status", fmt.Sprintf("route cannot become %s", status))
		return verr
	}
	return nil
}

func checkDeletable(route *model.Route) error {
	if route.Status != model.RouteStatusPlanned {
		return apperror.Conflict("route is %s, only planned routes can be deleted", route.Status)
	}
	for _, inv := range route.Invoices {
		if !lifecycle.CanLeaveRoute(inv.Status) {
			return apperror.Conflict("invoice %s is %s and cannot leave the route", inv.InvoiceNumber, inv.Status)
		}
	}
	return nil
}

// lockRoute locks a route and its invoices, then reads them back under the lock.
func (s *routeService) lockRoute(ctx context.Context, id uuid.UUID) (*model.Route, error) {
	if err := s.routeRepo.LockForUpdate(ctx, id); err != nil {
		return nil, lookupErr("route", err)
	}
	members, err := s.invoiceRepo.IDsOnRoute(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load route invoices: %w", err)
	}
	if err := s.invoiceRepo.LockForUpdate(ctx, members); err != nil {
		return nil, fmt.Errorf("failed to lock invoices: %w", err)
	}
	route, err := s.routeRepo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr("route", err)
	}
	return route, nil
}

func (s *routeService) load(ctx context.Context, id string) (*model.Route, error) {
	routeID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	route, err := s.routeRepo.FindByID(ctx, routeID)
	if err != nil {
		return nil, lookupErr("route", err)
	}
	return route, nil
}

func (s *routeService) loadOptional(ctx context.Context, id string) (*model.Route, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	return s.load(ctx, id)
}

// mergeInvoices appends the invoices of extra missing from base.
func mergeInvoices(base, extra []model.Invoice) []model.Invoice {
	seen := make(map[uuid.UUID]bool, len(base))
	for _, inv := range base {
		seen[inv.ID] = true
	}
	for _, inv := range extra {
		if !seen[inv.ID] {
			seen[inv.ID] = true
			base = append(base, inv)
		}
	}
	return base
}

func checkDriverScope(actor Actor, route *model.Route) error {
	if actor.Role != model.RoleDeliveryAgent {
		return nil
	}
	if route.DriverID == nil || *route.DriverID != actor.ID {
		return apperror.Forbidden("route is not assigned to you")
	}
	return nil
}

func toRouteResponse(r model.Route) RouteResponse {
	invoices := make([]InvoiceResponse, 0, len(r.Invoices))
	for _, inv := range r.Invoices {
		invoices = append(invoices, toInvoiceResponse(inv))
	}
	res := RouteResponse{
		ID:        r.ID.String(),
		Date:      model.DayKey(r.Date),
		DriverID:  idString(r.DriverID),
		Status:    r.Status,
		Notes:     r.Notes,
		Invoices:  invoices,
		CreatedAt: r.CreatedAt.Format(timeLayout),
		UpdatedAt: r.UpdatedAt.Format(timeLayout),
	}
	if r.Driver != nil {
		res.DriverName = r.Driver.DisplayName
	}
	return res
}
