package repository

import (
	"context"
	"database/sql"
	"time"

	"snapclaim/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvoiceFilter narrows invoice listings. Zero values do not filter.
type InvoiceFilter struct {
	Status     string
	AssigneeID *uuid.UUID
	ClientID   *uuid.UUID
	RouteID    *uuid.UUID
	Date       *time.Time
	Unrouted   bool
	Search     string
}

func (f InvoiceFilter) scope(db *gorm.DB) *gorm.DB {
	if f.Status != "" {
		db = db.Where("invoices.status = ?", f.Status)
	}
	if f.AssigneeID != nil {
		db = db.Where("invoices.assignee_id = ?", *f.AssigneeID)
	}
	if f.ClientID != nil {
		db = db.Where("invoices.client_id = ?", *f.ClientID)
	}
	if f.RouteID != nil {
		db = db.Where("invoices.route_id = ?", *f.RouteID)
	}
	if f.Date != nil {
		db = db.Where("invoices.date = ?", model.DayKey(*f.Date))
	}
	if f.Unrouted {
		db = db.Where("invoices.route_id IS NULL")
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		db = db.Where("invoices.invoice_number ILIKE ? OR invoices.supplier_name ILIKE ? OR invoices.code ILIKE ?", like, like, like)
	}
	return db
}

type InvoiceRepository interface {
	Create(ctx context.Context, invoice *model.Invoice) error
	Update(ctx context.Context, invoice *model.Invoice) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Invoice, error)
	FindBySupplierNumber(ctx context.Context, supplier, number string) (*model.Invoice, error)
	List(ctx context.Context, filter InvoiceFilter, page, limit int) ([]model.Invoice, int64, error)
	ListByDate(ctx context.Context, date time.Time) ([]model.Invoice, error)
	ClearAssignee(ctx context.Context, userID uuid.UUID) (int64, error)
	LastCodeWithPrefix(ctx context.Context, prefix string) (string, error)
	IDsOnRoute(ctx context.Context, routeID uuid.UUID) ([]uuid.UUID, error)
	LockForUpdate(ctx context.Context, ids []uuid.UUID) error
}

type invoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

func (r *invoiceRepository) Create(ctx context.Context, invoice *model.Invoice) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(invoice).Error
}

func (r *invoiceRepository) Update(ctx context.Context, invoice *model.Invoice) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Save(invoice).Error
}

func (r *invoiceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Invoice{}).Error
}

func (r *invoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	var invoice model.Invoice
	if err := GetDB(ctx, r.db).Preload("Assignee").Preload("Client").First(&invoice, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *invoiceRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Invoice, error) {
	var invoices []model.Invoice
	if len(ids) == 0 {
		return invoices, nil
	}
	if err := GetDB(ctx, r.db).Where("id IN ?", ids).Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *invoiceRepository) FindBySupplierNumber(ctx context.Context, supplier, number string) (*model.Invoice, error) {
	var invoice model.Invoice
	if err := GetDB(ctx, r.db).First(&invoice, "supplier_name = ? AND invoice_number = ?", supplier, number).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *invoiceRepository) List(ctx context.Context, filter InvoiceFilter, page, limit int) ([]model.Invoice, int64, error) {
	var invoices []model.Invoice
	var total int64

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.Invoice{}).Scopes(filter.scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Scopes(filter.scope).
		Preload("Assignee").Preload("Client").
		Order("invoices.date desc, invoices.invoice_number asc").
		Offset(offset).Limit(limit).
		Find(&invoices).Error; err != nil {
		return nil, 0, err
	}

	return invoices, total, nil
}

// ListByDate returns every invoice dated date, whatever its status or route.
func (r *invoiceRepository) ListByDate(ctx context.Context, date time.Time) ([]model.Invoice, error) {
	var invoices []model.Invoice
	if err := GetDB(ctx, r.db).Where("date = ?", model.DayKey(date)).Order("invoice_number asc").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// ClearAssignee unassigns every invoice held by userID and returns how many were touched.
func (r *invoiceRepository) ClearAssignee(ctx context.Context, userID uuid.UUID) (int64, error) {
	res := GetDB(ctx, r.db).Model(&model.Invoice{}).Where("assignee_id = ?", userID).Update("assignee_id", nil)
	return res.RowsAffected, res.Error
}

// LastCodeWithPrefix returns the highest code starting with prefix, or "" when there is none.
// Inside a transaction it first takes an advisory lock on the prefix, so creators of the same
// day queue behind each other until commit.
func (r *invoiceRepository) LastCodeWithPrefix(ctx context.Context, prefix string) (string, error) {
	db := GetDB(ctx, r.db)
	if InTx(ctx) {
		if err := db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", prefix).Error; err != nil {
			return "", err
		}
	}
	var last sql.NullString
	if err := db.Model(&model.Invoice{}).Where("code LIKE ?", prefix+"%").Select("MAX(code)").Scan(&last).Error; err != nil {
		return "", err
	}
	return last.String, nil
}

func (r *invoiceRepository) IDsOnRoute(ctx context.Context, routeID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := GetDB(ctx, r.db).Model(&model.Invoice{}).Where("route_id = ?", routeID).Order("id").Pluck("id", &ids).Error
	return ids, err
}

// LockForUpdate takes row locks on the given invoices until the surrounding transaction ends.
// Rows are locked in id order so two savers never wait on each other in a cycle.
func (r *invoiceRepository) LockForUpdate(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	var locked []uuid.UUID
	return GetDB(ctx, r.db).Model(&model.Invoice{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id").
		Pluck("id", &locked).Error
}
