package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreateClient = "CREATE_CLIENT"
	ActionUpdateClient = "UPDATE_CLIENT"
	ActionDeleteClient = "DELETE_CLIENT"

	ActionCreateInvoice       = "CREATE_INVOICE"
	ActionUpdateInvoice       = "UPDATE_INVOICE"
	ActionDeleteInvoice       = "DELETE_INVOICE"
	ActionAssignInvoice       = "ASSIGN_INVOICE"
	ActionChangeInvoiceStatus = "CHANGE_INVOICE_STATUS"
	ActionVerifyInvoice       = "VERIFY_INVOICE"

	ActionCreateRoute       = "CREATE_ROUTE"
	ActionUpdateRoute       = "UPDATE_ROUTE"
	ActionDeleteRoute       = "DELETE_ROUTE"
	ActionChangeRouteStatus = "CHANGE_ROUTE_STATUS"

	ActionCreateUser     = "CREATE_USER"
	ActionUpdateUser     = "UPDATE_USER"
	ActionChangeUserRole = "CHANGE_USER_ROLE"
	ActionDeleteUser     = "DELETE_USER"
)

// AuditLog tracks Who, What, and When for critical system changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // Nullable for seeds and CLI actions
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"`
	Details    string     `gorm:"type:jsonb" json:"details"` // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
