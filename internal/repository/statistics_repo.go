package repository

import (
	"context"
	"fmt"
	"time"

	"snapclaim/internal/model"

	"gorm.io/gorm"
)

type StatisticsRepository interface {
	CountInvoicesByStatus(ctx context.Context, start, end time.Time) ([]model.StatusCount, error)
	CountRoutesByStatus(ctx context.Context, start, end time.Time) ([]model.StatusCount, error)
	DeliveredAmount(ctx context.Context, start, end time.Time) (string, error)
	CountUnroutedPending(ctx context.Context) (int64, error)
	CountOpenIncidences(ctx context.Context) (int64, error)
	TopDeliveryAgents(ctx context.Context, start, end time.Time, limit int) ([]model.AgentLoad, error)
}

type statisticsRepository struct {
	db *gorm.DB
}

func NewStatisticsRepository(db *gorm.DB) StatisticsRepository {
	return &statisticsRepository{db: db}
}

func (r *statisticsRepository) countByStatus(ctx context.Context, table string, start, end time.Time) ([]model.StatusCount, error) {
	var counts []model.StatusCount
	if err := r.db.WithContext(ctx).Table(table).
		Select("status, COUNT(*) as count").
		Where("date >= ? AND date <= ?", model.DayKey(start), model.DayKey(end)).
		Group("status").
		Order("status").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to count %s by status: %w", table, err)
	}
	return counts, nil
}

func (r *statisticsRepository) CountInvoicesByStatus(ctx context.Context, start, end time.Time) ([]model.StatusCount, error) {
	return r.countByStatus(ctx, "invoices", start, end)
}

func (r *statisticsRepository) CountRoutesByStatus(ctx context.Context, start, end time.Time) ([]model.StatusCount, error) {
	return r.countByStatus(ctx, "routes", start, end)
}

func (r *statisticsRepository) DeliveredAmount(ctx context.Context, start, end time.Time) (string, error) {
	var value string
	if err := r.db.WithContext(ctx).Table("invoices").
		Select("COALESCE(CAST(SUM(total_amount) AS TEXT), '0')").
		Where("status = ? AND date >= ? AND date <= ?", model.InvoiceStatusDelivered, model.DayKey(start), model.DayKey(end)).
		Scan(&value).Error; err != nil {
		return "", fmt.Errorf("failed to sum delivered amount: %w", err)
	}
	return value, nil
}

func (r *statisticsRepository) CountUnroutedPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Invoice{}).
		Where("status = ? AND route_id IS NULL", model.InvoiceStatusPending).
		Count(&count).Error
	return count, err
}

func (r *statisticsRepository) CountOpenIncidences(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Invoice{}).
		Where("status = ? AND incidence_requires_action = ?", model.InvoiceStatusWarehouseIncidence, true).
		Count(&count).Error
	return count, err
}

func (r *statisticsRepository) TopDeliveryAgents(ctx context.Context, start, end time.Time, limit int) ([]model.AgentLoad, error) {
	var rankings []model.AgentLoad
	if err := r.db.WithContext(ctx).Table("invoices").
		Select("users.id as user_id, users.display_name as display_name, COUNT(invoices.id) as delivered_count, CAST(SUM(invoices.total_amount) AS TEXT) as total_value").
		Joins("JOIN users ON users.id = invoices.assignee_id").
		Where("invoices.status = ? AND invoices.date >= ? AND invoices.date <= ?", model.InvoiceStatusDelivered, model.DayKey(start), model.DayKey(end)).
		Group("users.id, users.display_name").
		Order("delivered_count DESC").
		Limit(limit).
		Scan(&rankings).Error; err != nil {
		return nil, fmt.Errorf("failed to query top delivery agents: %w", err)
	}
	return rankings, nil
}
