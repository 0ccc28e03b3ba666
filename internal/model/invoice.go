package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus enum constants
const (
	InvoiceStatusPending            = "pending"
	InvoiceStatusInPreparation      = "in_preparation"
	InvoiceStatusReadyForRoute      = "ready_for_route"
	InvoiceStatusDelivered          = "delivered"
	InvoiceStatusCancelled          = "cancelled"
	InvoiceStatusWarehouseIncidence = "warehouse_incidence"
)

// IncidenceType enum constants
const (
	IncidenceRebilling   = "rebilling"
	IncidenceReturn      = "return"
	IncidenceNegotiation = "client_negotiation"
	IncidenceDamaged     = "damaged_goods"
	IncidenceOther       = "other"
)

// DateLayout is the calendar-date format used for invoice and route dates on the wire.
const DateLayout = "2006-01-02"

// DayKey returns the calendar date of t in its own location, ignoring time of day.
func DayKey(t time.Time) string {
	return t.Format(DateLayout)
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	return DayKey(a) == DayKey(b)
}

// Incidence is a flagged exception requiring follow-up outside the delivery flow.
type Incidence struct {
	Type           string     `gorm:"type:varchar(30)" json:"type"`
	Details        string     `gorm:"type:text" json:"details"`
	ReportedAt     *time.Time `json:"reported_at"`
	RequiresAction bool       `gorm:"default:false" json:"requires_action"`
}

// Invoice is a supplier document to be delivered to a client by a delivery agent.
// RouteID is the single source of route membership.
type Invoice struct {
	ID                 uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	InvoiceNumber      string          `gorm:"type:varchar(50);not null;uniqueIndex:idx_invoice_supplier_number" json:"invoice_number"`
	SupplierName       string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_invoice_supplier_number" json:"supplier_name"`
	Date               time.Time       `gorm:"type:date;not null;index" json:"date"`
	TotalAmount        decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"total_amount"`
	Code               string          `gorm:"type:varchar(40);uniqueIndex;not null" json:"code"`
	DeliveryAddress    string          `gorm:"type:text" json:"delivery_address"`
	AssigneeID         *uuid.UUID      `gorm:"type:uuid;index" json:"assignee_id"`
	Assignee           *User           `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
	ClientID           *uuid.UUID      `gorm:"type:uuid;index" json:"client_id"`
	Client             *Client         `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	RouteID            *uuid.UUID      `gorm:"type:uuid;index" json:"route_id"`
	Status             string          `gorm:"type:varchar(30);not null;default:'pending';index" json:"status"`
	CancellationReason string          `gorm:"type:text" json:"cancellation_reason"`
	Incidence          Incidence       `gorm:"embedded;embeddedPrefix:incidence_" json:"incidence"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// OnRoute reports whether the invoice currently belongs to routeID.
func (i *Invoice) OnRoute(routeID uuid.UUID) bool {
	return i.RouteID != nil && *i.RouteID == routeID
}
