package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"snapclaim/internal/assignment"
	"snapclaim/internal/events"
	"snapclaim/internal/model"
	"snapclaim/internal/reconcile"
	"snapclaim/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var day = time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)

// --- transactions ---

type fakeTx struct {
	calls int
	// begin runs before fn, standing in for a writer that commits first.
	begin func()
}

func (f *fakeTx) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	f.calls++
	if f.begin != nil {
		f.begin()
	}
	return fn(ctx)
}

// --- audit ---

type fakeAudit struct {
	entries    []model.AuditLog
	lastFilter repository.AuditFilter
}

func (f *fakeAudit) Log(_ context.Context, entry *model.AuditLog) error {
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAudit) List(_ context.Context, filter repository.AuditFilter, _, _ int) ([]model.AuditLog, int64, error) {
	f.lastFilter = filter
	return f.entries, int64(len(f.entries)), nil
}

func (f *fakeAudit) actions() []string {
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

// --- events ---

type recordingPublisher struct{ events []events.Event }

func (r *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	r.events = append(r.events, evt)
	return nil
}

// --- users ---

type fakeUsers struct {
	users  map[uuid.UUID]*model.User
	tokens map[string]*model.RefreshToken
}

func newFakeUsers(users ...*model.User) *fakeUsers {
	f := &fakeUsers{users: map[uuid.UUID]*model.User{}, tokens: map[string]*model.RefreshToken{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) find(match func(*model.User) bool) (*model.User, error) {
	for _, u := range f.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Email == email })
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Username == username })
}

func (f *fakeUsers) List(_ context.Context, filter repository.UserFilter, _, _ int) ([]model.User, int64, error) {
	var out []model.User
	for _, u := range f.users {
		if filter.Role == "" || u.Role == filter.Role {
			out = append(out, *u)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeUsers) ListByRole(ctx context.Context, role string) ([]model.User, error) {
	out, _, err := f.List(ctx, repository.UserFilter{Role: role}, 1, 100)
	return out, err
}

func (f *fakeUsers) Update(_ context.Context, u *model.User) error {
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeUsers) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.users, id)
	return nil
}

func (f *fakeUsers) CreateRefreshToken(_ context.Context, t *model.RefreshToken) error {
	f.tokens[t.Token] = t
	return nil
}

func (f *fakeUsers) GetRefreshToken(_ context.Context, token string) (*model.RefreshToken, error) {
	t, ok := f.tokens[token]
	if !ok || !t.ExpiresAt.After(time.Now()) {
		return nil, gorm.ErrRecordNotFound
	}
	return t, nil
}

func (f *fakeUsers) DeleteRefreshToken(_ context.Context, token string) error {
	delete(f.tokens, token)
	return nil
}

func (f *fakeUsers) DeleteRefreshTokensByUser(_ context.Context, userID uuid.UUID) error {
	for k, t := range f.tokens {
		if t.UserID == userID {
			delete(f.tokens, k)
		}
	}
	return nil
}

// --- invoices ---

type fakeInvoices struct {
	rows   map[uuid.UUID]*model.Invoice
	writes int
	locked []uuid.UUID
}

func newFakeInvoices(invoices ...model.Invoice) *fakeInvoices {
	f := &fakeInvoices{rows: map[uuid.UUID]*model.Invoice{}}
	for i := range invoices {
		inv := invoices[i]
		f.rows[inv.ID] = &inv
	}
	return f
}

func (f *fakeInvoices) Create(_ context.Context, inv *model.Invoice) error {
	f.writes++
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	cp := *inv
	f.rows[inv.ID] = &cp
	return nil
}

func (f *fakeInvoices) Update(_ context.Context, inv *model.Invoice) error {
	f.writes++
	cp := *inv
	cp.Assignee, cp.Client = nil, nil
	f.rows[inv.ID] = &cp
	return nil
}

func (f *fakeInvoices) Delete(_ context.Context, id uuid.UUID) error {
	f.writes++
	delete(f.rows, id)
	return nil
}

func (f *fakeInvoices) FindByID(_ context.Context, id uuid.UUID) (*model.Invoice, error) {
	inv, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeInvoices) FindByIDs(_ context.Context, ids []uuid.UUID) ([]model.Invoice, error) {
	var out []model.Invoice
	for _, id := range ids {
		if inv, ok := f.rows[id]; ok {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (f *fakeInvoices) FindBySupplierNumber(_ context.Context, supplier, number string) (*model.Invoice, error) {
	for _, inv := range f.rows {
		if inv.SupplierName == supplier && inv.InvoiceNumber == number {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeInvoices) List(_ context.Context, filter repository.InvoiceFilter, _, _ int) ([]model.Invoice, int64, error) {
	var out []model.Invoice
	for _, inv := range f.rows {
		if filter.AssigneeID != nil && (inv.AssigneeID == nil || *inv.AssigneeID != *filter.AssigneeID) {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		out = append(out, *inv)
	}
	assignment.SortByNumber(out)
	return out, int64(len(out)), nil
}

func (f *fakeInvoices) ListByDate(_ context.Context, date time.Time) ([]model.Invoice, error) {
	var out []model.Invoice
	for _, inv := range f.rows {
		if model.SameDay(inv.Date, date) {
			out = append(out, *inv)
		}
	}
	assignment.SortByNumber(out)
	return out, nil
}

func (f *fakeInvoices) ClearAssignee(_ context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	for _, inv := range f.rows {
		if inv.AssigneeID != nil && *inv.AssigneeID == userID {
			inv.AssigneeID = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeInvoices) LastCodeWithPrefix(_ context.Context, prefix string) (string, error) {
	var last string
	for _, inv := range f.rows {
		if strings.HasPrefix(inv.Code, prefix) && inv.Code > last {
			last = inv.Code
		}
	}
	return last, nil
}

func (f *fakeInvoices) IDsOnRoute(_ context.Context, routeID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, inv := range f.on(routeID) {
		ids = append(ids, inv.ID)
	}
	return ids, nil
}

func (f *fakeInvoices) LockForUpdate(_ context.Context, ids []uuid.UUID) error {
	f.locked = append(f.locked, ids...)
	return nil
}

func (f *fakeInvoices) on(routeID uuid.UUID) []model.Invoice {
	var out []model.Invoice
	for _, inv := range f.rows {
		if inv.OnRoute(routeID) {
			out = append(out, *inv)
		}
	}
	assignment.SortByNumber(out)
	return out
}

// --- routes ---

type fakeRoutes struct {
	rows     map[uuid.UUID]*model.Route
	invoices *fakeInvoices
	writes   int
	locked   []uuid.UUID
}

func newFakeRoutes(invoices *fakeInvoices, routes ...model.Route) *fakeRoutes {
	f := &fakeRoutes{rows: map[uuid.UUID]*model.Route{}, invoices: invoices}
	for i := range routes {
		r := routes[i]
		r.Invoices = nil
		f.rows[r.ID] = &r
	}
	return f
}

func (f *fakeRoutes) withInvoices(r model.Route) model.Route {
	r.Invoices = f.invoices.on(r.ID)
	return r
}

func (f *fakeRoutes) Create(_ context.Context, r *model.Route) error {
	f.writes++
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cp := *r
	cp.Invoices = nil
	f.rows[r.ID] = &cp
	return nil
}

func (f *fakeRoutes) Update(_ context.Context, r *model.Route) error {
	f.writes++
	cp := *r
	cp.Invoices = nil
	f.rows[r.ID] = &cp
	return nil
}

func (f *fakeRoutes) Delete(_ context.Context, id uuid.UUID) error {
	f.writes++
	for _, inv := range f.invoices.rows {
		if inv.OnRoute(id) {
			inv.RouteID = nil
		}
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeRoutes) FindByID(_ context.Context, id uuid.UUID) (*model.Route, error) {
	r, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := f.withInvoices(*r)
	return &out, nil
}

func (f *fakeRoutes) List(_ context.Context, filter repository.RouteFilter, _, _ int) ([]model.Route, int64, error) {
	var out []model.Route
	for _, r := range f.rows {
		if filter.DriverID != nil && (r.DriverID == nil || *r.DriverID != *filter.DriverID) {
			continue
		}
		out = append(out, f.withInvoices(*r))
	}
	return out, int64(len(out)), nil
}

func (f *fakeRoutes) ListByDate(_ context.Context, date time.Time) ([]model.Route, error) {
	var out []model.Route
	for _, r := range f.rows {
		if model.SameDay(r.Date, date) {
			out = append(out, f.withInvoices(*r))
		}
	}
	return out, nil
}

func (f *fakeRoutes) ListByIDs(_ context.Context, ids []uuid.UUID) ([]model.Route, error) {
	var out []model.Route
	for _, id := range ids {
		if r, ok := f.rows[id]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRoutes) CountActiveByDriver(_ context.Context, driverID uuid.UUID) (int64, error) {
	var n int64
	for _, r := range f.rows {
		if r.DriverID != nil && *r.DriverID == driverID && r.Status != model.RouteStatusCompleted {
			n++
		}
	}
	return n, nil
}

func (f *fakeRoutes) LockForUpdate(_ context.Context, id uuid.UUID) error {
	if _, ok := f.rows[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	f.locked = append(f.locked, id)
	return nil
}

// --- change applier ---

type fakeApplier struct {
	invoices *fakeInvoices
	applied  []assignment.ChangeSet
	// before runs ahead of the writes, standing in for a writer that skipped the row locks.
	before func()
}

func (f *fakeApplier) Apply(_ context.Context, cs assignment.ChangeSet) error {
	if f.before != nil {
		f.before()
	}
	f.applied = append(f.applied, cs)
	for _, ch := range cs {
		inv, ok := f.invoices.rows[ch.ID]
		if !ok {
			return gorm.ErrRecordNotFound
		}
		if !matches(inv, ch.Expect) {
			return fmt.Errorf("apply %s %s: %w", ch.Entity, ch.ID, repository.ErrStaleChange)
		}
		switch v := ch.Fields["route_id"].(type) {
		case uuid.UUID:
			id := v
			inv.RouteID = &id
		case nil:
			inv.RouteID = nil
		}
	}
	return nil
}

func matches(inv *model.Invoice, expect map[string]any) bool {
	for col, want := range expect {
		switch col {
		case "route_id":
			id, ok := want.(uuid.UUID)
			if !ok || !inv.OnRoute(id) {
				return false
			}
		case "status":
			if inv.Status != want {
				return false
			}
		}
	}
	return true
}

// --- extraction ---

type fakeExtractor struct {
	out   reconcile.Extracted
	err   error
	calls int
}

func (f *fakeExtractor) Extract(context.Context, []byte, string) (reconcile.Extracted, error) {
	f.calls++
	return f.out, f.err
}

// --- builders ---

func agent(name string) *model.User {
	return &model.User{ID: uuid.New(), Username: name, DisplayName: name, Email: name + "@example.com", Role: model.RoleDeliveryAgent}
}

func pendingInvoice(number string, date time.Time) model.Invoice {
	return model.Invoice{
		ID:            uuid.New(),
		InvoiceNumber: number,
		SupplierName:  "ACME",
		Date:          date,
		Status:        model.InvoiceStatusPending,
		Code:          "SC-" + number,
	}
}

func strPtr(s string) *string { return &s }

// --- clients ---

type fakeClients struct {
	rows map[uuid.UUID]*model.Client
}

func newFakeClients(clients ...model.Client) *fakeClients {
	f := &fakeClients{rows: map[uuid.UUID]*model.Client{}}
	for i := range clients {
		c := clients[i]
		f.rows[c.ID] = &c
	}
	return f
}

func (f *fakeClients) Create(_ context.Context, c *model.Client) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	f.rows[c.ID] = &cp
	return nil
}

func (f *fakeClients) Update(_ context.Context, c *model.Client) error {
	cp := *c
	cp.Branches = f.rows[c.ID].Branches
	f.rows[c.ID] = &cp
	return nil
}

func (f *fakeClients) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.rows, id)
	return nil
}

func (f *fakeClients) FindByID(_ context.Context, id uuid.UUID) (*model.Client, error) {
	c, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeClients) FindByName(_ context.Context, name string) (*model.Client, error) {
	for _, c := range f.rows {
		if strings.EqualFold(c.Name, name) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeClients) List(context.Context, string, int, int) ([]model.Client, int64, error) {
	var out []model.Client
	for _, c := range f.rows {
		out = append(out, *c)
	}
	return out, int64(len(out)), nil
}

func (f *fakeClients) ReplaceBranches(_ context.Context, clientID uuid.UUID, branches []model.Branch) error {
	c, ok := f.rows[clientID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	out := make([]model.Branch, 0, len(branches))
	for _, b := range branches {
		b.ID = uuid.New()
		b.ClientID = clientID
		out = append(out, b)
	}
	c.Branches = out
	return nil
}
