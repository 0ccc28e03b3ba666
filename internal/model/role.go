package model

import (
	"time"

	"github.com/google/uuid"
)

// Permission is one grantable capability, addressed by its code.
type Permission struct {
	ID    uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code  string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"code"` // routes.write
	Name  string    `gorm:"type:varchar(255);not null" json:"name"`
	Group string    `gorm:"type:varchar(50);not null;index" json:"group"`
}

// Role holds the permission set of one of the fixed user roles named in Roles.
// Rows are created by seeding; afterwards only the permission set changes.
type Role struct {
	ID          uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name        string       `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	Description string       `gorm:"type:text" json:"description"`
	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// PermissionsLocked reports whether the role keeps its seeded permissions. The admin role
// is locked so no edit can leave the system without a role able to manage roles.
func (r Role) PermissionsLocked() bool {
	return r.Name == RoleAdmin
}
