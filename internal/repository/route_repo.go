package repository

import (
	"context"
	"time"

	"snapclaim/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RouteFilter narrows route listings. Zero values do not filter.
type RouteFilter struct {
	Date     *time.Time
	DriverID *uuid.UUID
	Status   string
}

type RouteRepository interface {
	Create(ctx context.Context, route *model.Route) error
	Update(ctx context.Context, route *model.Route) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Route, error)
	List(ctx context.Context, filter RouteFilter, page, limit int) ([]model.Route, int64, error)
	ListByDate(ctx context.Context, date time.Time) ([]model.Route, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Route, error)
	CountActiveByDriver(ctx context.Context, driverID uuid.UUID) (int64, error)
	LockForUpdate(ctx context.Context, id uuid.UUID) error
}

type routeRepository struct {
	db *gorm.DB
}

func NewRouteRepository(db *gorm.DB) RouteRepository {
	return &routeRepository{db: db}
}

func invoicesByNumber(db *gorm.DB) *gorm.DB {
	return db.Order("invoice_number asc, id asc")
}

// Create inserts the route row only. Membership is written through ChangeApplier.
func (r *routeRepository) Create(ctx context.Context, route *model.Route) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(route).Error
}

func (r *routeRepository) Update(ctx context.Context, route *model.Route) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Save(route).Error
}

// Delete detaches the route's invoices and removes the route.
func (r *routeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	if err := db.Model(&model.Invoice{}).Where("route_id = ?", id).Update("route_id", nil).Error; err != nil {
		return err
	}
	return db.Where("id = ?", id).Delete(&model.Route{}).Error
}

func (r *routeRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Route, error) {
	var route model.Route
	if err := GetDB(ctx, r.db).
		Preload("Driver").
		Preload("Invoices", invoicesByNumber).
		First(&route, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &route, nil
}

func (r *routeRepository) List(ctx context.Context, filter RouteFilter, page, limit int) ([]model.Route, int64, error) {
	var routes []model.Route
	var total int64

	scope := func(db *gorm.DB) *gorm.DB {
		if filter.Date != nil {
			db = db.Where("date = ?", model.DayKey(*filter.Date))
		}
		if filter.DriverID != nil {
			db = db.Where("driver_id = ?", *filter.DriverID)
		}
		if filter.Status != "" {
			db = db.Where("status = ?", filter.Status)
		}
		return db
	}

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.Route{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Scopes(scope).
		Preload("Driver").
		Preload("Invoices", invoicesByNumber).
		Order("date desc, created_at desc").
		Offset(offset).Limit(limit).
		Find(&routes).Error; err != nil {
		return nil, 0, err
	}

	return routes, total, nil
}

// ListByDate returns the routes scheduled on date with their invoices loaded.
func (r *routeRepository) ListByDate(ctx context.Context, date time.Time) ([]model.Route, error) {
	var routes []model.Route
	if err := GetDB(ctx, r.db).Preload("Invoices", invoicesByNumber).Where("date = ?", model.DayKey(date)).Find(&routes).Error; err != nil {
		return nil, err
	}
	return routes, nil
}

func (r *routeRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Route, error) {
	var routes []model.Route
	if len(ids) == 0 {
		return routes, nil
	}
	if err := GetDB(ctx, r.db).Where("id IN ?", ids).Find(&routes).Error; err != nil {
		return nil, err
	}
	return routes, nil
}

// CountActiveByDriver counts planned and in-progress routes driven by driverID.
func (r *routeRepository) CountActiveByDriver(ctx context.Context, driverID uuid.UUID) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.Route{}).
		Where("driver_id = ? AND status IN ?", driverID, []string{model.RouteStatusPlanned, model.RouteStatusInProgress}).
		Count(&count).Error
	return count, err
}

// LockForUpdate holds the route row until the surrounding transaction ends.
func (r *routeRepository) LockForUpdate(ctx context.Context, id uuid.UUID) error {
	var route model.Route
	return GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&route, "id = ?", id).Error
}
