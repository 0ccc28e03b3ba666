package service

import (
	"context"
	"fmt"
	"time"

	"snapclaim/internal/apperror"
	"snapclaim/internal/model"
	"snapclaim/internal/repository"
)

const topAgentsLimit = 5

type StatisticsService interface {
	GetStatistics(ctx context.Context, startDate, endDate time.Time) (model.StatisticsResponse, error)
}

type statisticsService struct {
	repo repository.StatisticsRepository
}

func NewStatisticsService(repo repository.StatisticsRepository) StatisticsService {
	return &statisticsService{repo: repo}
}

// GetStatistics aggregates invoice and route activity dated within [startDate, endDate].
// Backlog counters (unrouted pending invoices, open incidences) ignore the range.
func (s *statisticsService) GetStatistics(ctx context.Context, startDate, endDate time.Time) (model.StatisticsResponse, error) {
	if endDate.Before(startDate) {
		return model.StatisticsResponse{}, apperror.NewValidation("end_date", "must not be before start_date")
	}

	var response model.StatisticsResponse
	response.TimeRangeStartDate = startDate
	response.TimeRangeEndDate = endDate

	var err error
	if response.InvoicesByStatus, err = s.repo.CountInvoicesByStatus(ctx, startDate, endDate); err != nil {
		return response, err
	}
	if response.RoutesByStatus, err = s.repo.CountRoutesByStatus(ctx, startDate, endDate); err != nil {
		return response, err
	}
	if response.DeliveredAmount, err = s.repo.DeliveredAmount(ctx, startDate, endDate); err != nil {
		return response, err
	}
	if response.UnroutedPending, err = s.repo.CountUnroutedPending(ctx); err != nil {
		return response, fmt.Errorf("failed to count unrouted invoices: %w", err)
	}
	if response.OpenIncidences, err = s.repo.CountOpenIncidences(ctx); err != nil {
		return response, fmt.Errorf("failed to count open incidences: %w", err)
	}
	if response.TopDeliveryAgents, err = s.repo.TopDeliveryAgents(ctx, startDate, endDate, topAgentsLimit); err != nil {
		return response, err
	}

	if response.InvoicesByStatus == nil {
		response.InvoicesByStatus = []model.StatusCount{}
	}
	if response.RoutesByStatus == nil {
		response.RoutesByStatus = []model.StatusCount{}
	}
	if response.TopDeliveryAgents == nil {
		response.TopDeliveryAgents = []model.AgentLoad{}
	}
	return response, nil
}
