package model

import (
	"time"

	"github.com/google/uuid"
)

// RouteStatus enum constants
const (
	RouteStatusPlanned    = "planned"
	RouteStatusInProgress = "in_progress"
	RouteStatusCompleted  = "completed"
)

// Route is a dated run of invoices handed to one delivery agent.
// Invoices are loaded through invoices.route_id ordered by invoice number.
type Route struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Date      time.Time  `gorm:"type:date;not null;index" json:"date"`
	DriverID  *uuid.UUID `gorm:"type:uuid;index" json:"driver_id"`
	Driver    *User      `gorm:"foreignKey:DriverID" json:"driver,omitempty"`
	Status    string     `gorm:"type:varchar(20);not null;default:'planned';index" json:"status"`
	Notes     string     `gorm:"type:text" json:"notes"`
	Invoices  []Invoice  `gorm:"foreignKey:RouteID" json:"invoices"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// InvoiceIDs returns the ids of the invoices loaded on the route, in load order.
func (r *Route) InvoiceIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.Invoices))
	for _, inv := range r.Invoices {
		ids = append(ids, inv.ID)
	}
	return ids
}
