package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role values. The set is closed; see authz for who may change them.
const (
	RoleAdmin         = "admin"
	RoleSupervisor    = "supervisor"
	RoleDeliveryAgent = "delivery_agent"
	RoleWarehouse     = "warehouse"
)

// Roles lists every valid role in display order.
var Roles = []string{RoleAdmin, RoleSupervisor, RoleDeliveryAgent, RoleWarehouse}

// IsValidRole reports whether role belongs to the closed role set.
func IsValidRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

// User is an operator of the system: office staff, warehouse staff or a delivery agent.
type User struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Username    string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"username"`
	DisplayName string         `gorm:"type:varchar(255);not null" json:"display_name"`
	Email       string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Phone       string         `gorm:"type:varchar(20)" json:"phone"`
	Password    string         `gorm:"type:varchar(255);not null" json:"-"`
	Role        string         `gorm:"type:varchar(50);not null;index" json:"role"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsDeliveryAgent reports whether the user can be assigned invoices and routes.
func (u *User) IsDeliveryAgent() bool {
	return u.Role == RoleDeliveryAgent
}

// RefreshToken stores long-lived tokens allowing users to request new access tokens
type RefreshToken struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User      User      `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Token     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"token"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
