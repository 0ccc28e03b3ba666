package service

import (
	"context"
	"fmt"

	"snapclaim/internal/apperror"
	"snapclaim/internal/cache"
	"snapclaim/internal/model"
	"snapclaim/internal/repository"
	"snapclaim/pkg/logger"
	"snapclaim/pkg/validation"

	"github.com/google/uuid"
)

// Permission codes checked by the HTTP layer.
const (
	PermDashboardRead   = "dashboard.read"
	PermUsersRead       = "users.read"
	PermUsersWrite      = "users.write"
	PermUsersDelete     = "users.delete"
	PermClientsRead     = "clients.read"
	PermClientsWrite    = "clients.write"
	PermInvoicesRead    = "invoices.read"
	PermInvoicesWrite   = "invoices.write"
	PermInvoicesStatus  = "invoices.status"
	PermRoutesRead      = "routes.read"
	PermRoutesWrite     = "routes.write"
	PermRoutesStatus    = "routes.status"
	PermVerificationRun = "verification.run"
	PermAuditRead       = "audit.read"
	PermRolesManage     = "roles.manage"
)

// --- DTOs ---

type UpdateRolePermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids" validate:"required,dive,uuid"`
}

type RoleResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Locked      bool                 `json:"locked"`
	Permissions []PermissionResponse `json:"permissions"`
	CreatedAt   string               `json:"created_at"`
}

type PermissionResponse struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	Group string `json:"group"`
}

// --- Interface ---

type RoleService interface {
	ListRoles(ctx context.Context) ([]RoleResponse, error)
	GetRole(ctx context.Context, id string) (*RoleResponse, error)
	ListPermissions(ctx context.Context) ([]PermissionResponse, error)
	UpdateRolePermissions(ctx context.Context, roleID string, req UpdateRolePermissionsRequest) (*RoleResponse, error)
	GetPermissionsByRoleName(ctx context.Context, roleName string) ([]string, error)
	SeedDefaultRolesAndPermissions(ctx context.Context) error
}

type roleService struct {
	repo      repository.RoleRepository
	cache     cache.PermissionCache
	txManager repository.TransactionManager
	log       *logger.Logger
}

func NewRoleService(repo repository.RoleRepository, permCache cache.PermissionCache, txManager repository.TransactionManager, log *logger.Logger) RoleService {
	return &roleService{repo: repo, cache: permCache, txManager: txManager, log: log.Named("roles")}
}

// --- Implementation ---

func (s *roleService) ListRoles(ctx context.Context) ([]RoleResponse, error) {
	roles, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", err)
	}

	res := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		res = append(res, toRoleResponse(r))
	}
	return res, nil
}

func (s *roleService) GetRole(ctx context.Context, id string) (*RoleResponse, error) {
	roleID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	role, err := s.repo.FindByID(ctx, roleID)
	if err != nil {
		return nil, lookupErr("role", err)
	}
	resp := toRoleResponse(*role)
	return &resp, nil
}

func (s *roleService) ListPermissions(ctx context.Context) ([]PermissionResponse, error) {
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch permissions: %w", err)
	}

	res := make([]PermissionResponse, 0, len(perms))
	for _, p := range perms {
		res = append(res, toPermissionResponse(p))
	}
	return res, nil
}

// UpdateRolePermissions replaces the role's permissions and drops its cached codes.
// Locked roles are refused.
func (s *roleService) UpdateRolePermissions(ctx context.Context, roleID string, req UpdateRolePermissionsRequest) (*RoleResponse, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	id, err := parseID("id", roleID)
	if err != nil {
		return nil, err
	}
	role, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr("role", err)
	}
	if role.PermissionsLocked() {
		return nil, apperror.Forbidden("permissions of the %s role cannot be edited", role.Name)
	}

	permIDs := make([]uuid.UUID, 0, len(req.PermissionIDs))
	for _, pid := range req.PermissionIDs {
		parsed, err := parseID("permission_ids", pid)
		if err != nil {
			return nil, err
		}
		permIDs = append(permIDs, parsed)
	}

	if err := s.repo.UpdatePermissions(ctx, role.ID, permIDs); err != nil {
		return nil, fmt.Errorf("failed to update permissions: %w", err)
	}
	if err := s.cache.Invalidate(ctx, role.Name); err != nil {
		s.log.Warn().Err(err).Str("role", role.Name).Msg("failed to invalidate permission cache")
	}

	return s.GetRole(ctx, roleID)
}

// GetPermissionsByRoleName serves permission codes from the cache, falling back to the
// database. An unreachable cache degrades to database reads.
func (s *roleService) GetPermissionsByRoleName(ctx context.Context, roleName string) ([]string, error) {
	codes, ok, err := s.cache.Get(ctx, roleName)
	if err != nil {
		s.log.Warn().Err(err).Str("role", roleName).Msg("permission cache read failed")
	}
	if ok {
		return codes, nil
	}

	codes, err = s.repo.GetPermissionsByRoleName(ctx, roleName)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions for role '%s': %w", roleName, err)
	}
	if codes == nil {
		codes = []string{}
	}
	if err := s.cache.Set(ctx, roleName, codes); err != nil {
		s.log.Warn().Err(err).Str("role", roleName).Msg("permission cache write failed")
	}
	return codes, nil
}

// DefaultPermissions is every permission the API checks.
var DefaultPermissions = []model.Permission{
	{Code: PermDashboardRead, Name: "View dashboard and statistics", Group: "dashboard"},
	{Code: PermUsersRead, Name: "View users", Group: "users"},
	{Code: PermUsersWrite, Name: "Manage users", Group: "users"},
	{Code: PermUsersDelete, Name: "Delete users", Group: "users"},
	{Code: PermClientsRead, Name: "View clients", Group: "clients"},
	{Code: PermClientsWrite, Name: "Manage clients", Group: "clients"},
	{Code: PermInvoicesRead, Name: "View invoices", Group: "invoices"},
	{Code: PermInvoicesWrite, Name: "Manage invoices", Group: "invoices"},
	{Code: PermInvoicesStatus, Name: "Change invoice status", Group: "invoices"},
	{Code: PermRoutesRead, Name: "View routes", Group: "routes"},
	{Code: PermRoutesWrite, Name: "Plan routes", Group: "routes"},
	{Code: PermRoutesStatus, Name: "Start and complete routes", Group: "routes"},
	{Code: PermVerificationRun, Name: "Verify invoices", Group: "verification"},
	{Code: PermAuditRead, Name: "View activity log", Group: "audit"},
	{Code: PermRolesManage, Name: "Manage role permissions", Group: "roles"},
}

// DefaultRoles maps each fixed role to its description and seeded permissions.
var DefaultRoles = map[string]struct {
	Description string
	PermCodes   []string
}{
	model.RoleAdmin: {
		Description: "Administrator, full access",
		PermCodes: []string{
			PermDashboardRead, PermUsersRead, PermUsersWrite, PermUsersDelete,
			PermClientsRead, PermClientsWrite,
			PermInvoicesRead, PermInvoicesWrite, PermInvoicesStatus,
			PermRoutesRead, PermRoutesWrite, PermRoutesStatus,
			PermVerificationRun, PermAuditRead, PermRolesManage,
		},
	},
	model.RoleSupervisor: {
		Description: "Office supervisor, plans routes and manages invoices",
		PermCodes: []string{
			PermDashboardRead, PermUsersRead,
			PermClientsRead, PermClientsWrite,
			PermInvoicesRead, PermInvoicesWrite, PermInvoicesStatus,
			PermRoutesRead, PermRoutesWrite, PermRoutesStatus,
			PermVerificationRun, PermAuditRead,
		},
	},
	model.RoleWarehouse: {
		Description: "Warehouse staff, prepares invoices and reports incidences",
		PermCodes: []string{
			PermClientsRead, PermInvoicesRead, PermInvoicesStatus,
			PermRoutesRead, PermVerificationRun,
		},
	},
	model.RoleDeliveryAgent: {
		Description: "Delivery agent, works their own routes and invoices",
		PermCodes: []string{
			PermInvoicesRead, PermInvoicesStatus,
			PermRoutesRead, PermRoutesStatus, PermVerificationRun,
		},
	},
}

// SeedDefaultRolesAndPermissions creates the default permissions and roles if not already
// present. Existing roles gain missing default permissions and keep any added by hand.
func (s *roleService) SeedDefaultRolesAndPermissions(ctx context.Context) error {
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		permByCode := make(map[string]uuid.UUID, len(DefaultPermissions))
		for _, p := range DefaultPermissions {
			perm := p
			if err := s.repo.FindOrCreatePermission(txCtx, &perm); err != nil {
				return fmt.Errorf("failed to seed permission '%s': %w", p.Code, err)
			}
			permByCode[perm.Code] = perm.ID
		}

		for _, roleName := range model.Roles {
			def := DefaultRoles[roleName]
			role, err := s.repo.FindByName(txCtx, roleName)
			if err != nil {
				role = &model.Role{Name: roleName, Description: def.Description}
				if err := s.repo.Create(txCtx, role); err != nil {
					return fmt.Errorf("failed to seed role '%s': %w", roleName, err)
				}
			}

			ids := make([]uuid.UUID, 0, len(def.PermCodes))
			for _, code := range def.PermCodes {
				if id, ok := permByCode[code]; ok {
					ids = append(ids, id)
				}
			}
			if err := s.repo.AssociatePermissions(txCtx, role.ID, ids); err != nil {
				return fmt.Errorf("failed to assign permissions to role '%s': %w", roleName, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.cache.Invalidate(ctx, ""); err != nil {
		s.log.Warn().Err(err).Msg("failed to invalidate permission cache")
	}
	return nil
}

// --- Helpers ---

func toRoleResponse(r model.Role) RoleResponse {
	perms := make([]PermissionResponse, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		perms = append(perms, toPermissionResponse(p))
	}

	return RoleResponse{
		ID:          r.ID.String(),
		Name:        r.Name,
		Description: r.Description,
		Locked:      r.PermissionsLocked(),
		Permissions: perms,
		CreatedAt:   r.CreatedAt.Format(timeLayout),
	}
}

func toPermissionResponse(p model.Permission) PermissionResponse {
	return PermissionResponse{
		ID:    p.ID.String(),
		Code:  p.Code,
		Name:  p.Name,
		Group: p.Group,
	}
}
