package model

import (
	"time"
)

// StatisticsResponse aggregates invoice and route activity for a date range
type StatisticsResponse struct {
	InvoicesByStatus   []StatusCount `json:"invoices_by_status"`
	RoutesByStatus     []StatusCount `json:"routes_by_status"`
	DeliveredAmount    string        `json:"delivered_amount"`
	UnroutedPending    int64         `json:"unrouted_pending"`
	OpenIncidences     int64         `json:"open_incidences"`
	TopDeliveryAgents  []AgentLoad   `json:"top_delivery_agents"`
	TimeRangeStartDate time.Time     `json:"time_range_start_date"`
	TimeRangeEndDate   time.Time     `json:"time_range_end_date"`
}

// StatusCount is a grouped count for one status value
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// AgentLoad ranks delivery agents by delivered invoices
type AgentLoad struct {
	UserID         string `json:"user_id"`
	DisplayName    string `json:"display_name"`
	DeliveredCount int64  `json:"delivered_count"`
	TotalValue     string `json:"total_value"`
}
