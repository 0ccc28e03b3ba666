package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"snapclaim/internal/apperror"
	"snapclaim/internal/authz"
	"snapclaim/internal/model"
	"snapclaim/internal/repository"
	"snapclaim/pkg/logger"
	"snapclaim/pkg/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DTOs for Request validation
type CreateUserRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=50"`
	DisplayName string `json:"display_name" validate:"required,max=255"`
	Email       string `json:"email" validate:"required,email"`
	Phone       string `json:"phone" validate:"omitempty,max=20"`
	Password    string `json:"password" validate:"required,min=6"`
	Role        string `json:"role" validate:"required,role"`
}

// UpdateUserRequest edits profile fields. The role is changed through ChangeRole only.
type UpdateUserRequest struct {
	Username    *string `json:"username" validate:"omitempty,min=3,max=50"`
	DisplayName *string `json:"display_name" validate:"omitempty,max=255"`
	Email       *string `json:"email" validate:"omitempty,email"`
	Phone       *string `json:"phone" validate:"omitempty,max=20"`
	Password    *string `json:"password" validate:"omitempty,min=6"`
}

type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

type LoginUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type TokenResponse struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    string       `json:"expires_at"`
	User         UserResponse `json:"user"`
}

// UserListFilter narrows ListUsers. Empty fields do not filter.
type UserListFilter struct {
	Role   string
	Search string
	Page   int
	Limit  int
}

// DTO for returning User without exposing sensitive data (e.g. password)
type UserResponse struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Role        string    `json:"role"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
}

// TokenConfig signs access tokens and sets token lifetimes.
type TokenConfig struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// UserService defines the interface for business logic related to User
type UserService interface {
	CreateUser(ctx context.Context, actor Actor, req CreateUserRequest) (*UserResponse, error)
	Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	GetUserByID(ctx context.Context, id string) (*UserResponse, error)
	ListUsers(ctx context.Context, filter UserListFilter) ([]UserResponse, int64, error)
	ListDeliveryAgents(ctx context.Context) ([]UserResponse, error)
	UpdateUser(ctx context.Context, actor Actor, id string, req UpdateUserRequest) (*UserResponse, error)
	ChangeRole(ctx context.Context, actor Actor, id string, req ChangeRoleRequest) (*UserResponse, error)
	DeleteUser(ctx context.Context, actor Actor, id string) error
	EnsureAdmin(ctx context.Context, req CreateUserRequest) (bool, error)
}

type userService struct {
	repo        repository.UserRepository
	invoiceRepo repository.InvoiceRepository
	routeRepo   repository.RouteRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	tokens      TokenConfig
	log         *logger.Logger
	now         func() time.Time
}

// NewUserService returns a new instance of UserService
func NewUserService(
	repo repository.UserRepository,
	invoiceRepo repository.InvoiceRepository,
	routeRepo repository.RouteRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	tokens TokenConfig,
	log *logger.Logger,
) UserService {
	return &userService{
		repo:        repo,
		invoiceRepo: invoiceRepo,
		routeRepo:   routeRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		tokens:      tokens,
		log:         log.Named("users"),
		now:         time.Now,
	}
}

// Helper: parse model to standard json API response
func mapToResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Phone:       user.Phone,
		Role:        user.Role,
		CreatedAt:   user.CreatedAt.Format(timeLayout),
		UpdatedAt:   user.UpdatedAt.Format(timeLayout),
	}
}

func (s *userService) CreateUser(ctx context.Context, actor Actor, req CreateUserRequest) (*UserResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.Role == model.RoleAdmin && actor.Role != model.RoleAdmin {
		return nil, apperror.Forbidden("only administrators can create administrators")
	}
	if err := s.ensureUnique(ctx, uuid.Nil, req.Username, req.Email); err != nil {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Username:    req.Username,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Email:       req.Email,
		Phone:       req.Phone,
		Password:    string(hashedPassword),
		Role:        req.Role,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Create(txCtx, user); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.ActionCreateUser, user.ID.String(), user.Username,
			map[string]any{"role": user.Role, "email": user.Email})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID.String()).Str("role", user.Role).Msg("user created")
	return mapToResponse(user), nil
}

// ensureUnique reports a conflict when username or email belongs to a user other than self.
func (s *userService) ensureUnique(ctx context.Context, self uuid.UUID, username, email string) error {
	if username != "" {
		existing, err := s.repo.GetByUsername(ctx, username)
		if err == nil && existing.ID != self {
			return apperror.Conflict("username %q already exists", username)
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check username: %w", err)
		}
	}
	if email != "" {
		existing, err := s.repo.GetByEmail(ctx, email)
		if err == nil && existing.ID != self {
			return apperror.Conflict("email %q already exists", email)
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check email: %w", err)
		}
	}
	return nil
}

func (s *userService) Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	invalid := fmt.Errorf("%w: invalid email or password", apperror.ErrUnauthorized)
	user, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, invalid
	}

	return s.issueTokens(ctx, user)
}

func (s *userService) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, fmt.Errorf("%w: refresh token is missing", apperror.ErrUnauthorized)
	}
	stored, err := s.repo.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: refresh token is invalid or expired", apperror.ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	user, err := s.repo.GetByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user no longer exists", apperror.ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	// Refresh tokens are single use.
	if err := s.repo.DeleteRefreshToken(ctx, refreshToken); err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	return s.issueTokens(ctx, user)
}

func (s *userService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.repo.DeleteRefreshToken(ctx, refreshToken); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

func (s *userService) issueTokens(ctx context.Context, user *model.User) (*TokenResponse, error) {
	now := s.now()
	expiresAt := now.Add(s.tokens.AccessTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": user.Role,
		"iat":  now.Unix(),
		"exp":  expiresAt.Unix(),
	})
	tokenString, err := token.SignedString(s.tokens.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	refresh := &model.RefreshToken{
		UserID:    user.ID,
		Token:     uuid.NewString() + uuid.NewString(),
		ExpiresAt: now.Add(s.tokens.RefreshTTL),
	}
	if err := s.repo.CreateRefreshToken(ctx, refresh); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &TokenResponse{
		Token:        tokenString,
		RefreshToken: refresh.Token,
		ExpiresAt:    expiresAt.UTC().Format(timeLayout),
		User:         *mapToResponse(user),
	}, nil
}

func (s *userService) GetUserByID(ctx context.Context, id string) (*UserResponse, error) {
	userID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, lookupErr("user", err)
	}
	return mapToResponse(user), nil
}

func (s *userService) ListUsers(ctx context.Context, filter UserListFilter) ([]UserResponse, int64, error) {
	page, limit := normalizePage(filter.Page, filter.Limit)
	if filter.Role != "" && !model.IsValidRole(filter.Role) {
		return nil, 0, apperror.NewValidation("role", fmt.Sprintf("unknown role %q", filter.Role))
	}

	users, total, err := s.repo.List(ctx, repository.UserFilter{Role: filter.Role, Search: strings.TrimSpace(filter.Search)}, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}

	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, *mapToResponse(&users[i]))
	}
	return responses, total, nil
}

func (s *userService) ListDeliveryAgents(ctx context.Context) ([]UserResponse, error) {
	users, err := s.repo.ListByRole(ctx, model.RoleDeliveryAgent)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery agents: %w", err)
	}
	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, *mapToResponse(&users[i]))
	}
	return responses, nil
}

func (s *userService) UpdateUser(ctx context.Context, actor Actor, id string, req UpdateUserRequest) (*UserResponse, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	userID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, lookupErr("user", err)
	}
	if user.Role == model.RoleAdmin && actor.Role != model.RoleAdmin {
		return nil, apperror.Forbidden("only administrators can edit administrators")
	}

	changed := map[string]any{}
	if req.Username != nil && strings.TrimSpace(*req.Username) != user.Username {
		username := strings.TrimSpace(*req.Username)
		if err := s.ensureUnique(ctx, user.ID, username, ""); err != nil {
			return nil, err
		}
		user.Username = username
		changed["username"] = username
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if email != user.Email {
			if err := s.ensureUnique(ctx, user.ID, "", email); err != nil {
				return nil, err
			}
			user.Email = email
			changed["email"] = email
		}
	}
	if req.DisplayName != nil && *req.DisplayName != user.DisplayName {
		user.DisplayName = strings.TrimSpace(*req.DisplayName)
		changed["display_name"] = user.DisplayName
	}
	if req.Phone != nil && *req.Phone != user.Phone {
		user.Phone = *req.Phone
		changed["phone"] = user.Phone
	}
	if req.Password != nil {
		hashed, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.Password = string(hashed)
		changed["password"] = "changed"
	}
	if len(changed) == 0 {
		return mapToResponse(user), nil
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Update(txCtx, user); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.ActionUpdateUser, user.ID.String(), user.Username, changed)
	})
	if err != nil {
		return nil, err
	}
	return mapToResponse(user), nil
}

// ChangeRole applies the role guard. Moving a delivery agent to another role releases
// their invoices and is refused while they drive an open route.
func (s *userService) ChangeRole(ctx context.Context, actor Actor, id string, req ChangeRoleRequest) (*UserResponse, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	userID, err := parseID("id", id)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, lookupErr("user", err)
	}

	if err := authz.CheckRoleChange(actor, authz.SubjectOf(user), req.Role); err != nil {
		return nil, err
	}
	if user.Role == req.Role {
		return mapToResponse(user), nil
	}

	leavingAgent := user.IsDeliveryAgent()
	if leavingAgent {
		if err := s.ensureNoActiveRoutes(ctx, user.ID); err != nil {
			return nil, err
		}
	}

	previous := user.Role
	user.Role = req.Role
	var released int64
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.Update(txCtx, user); err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}
		if leavingAgent {
			n, err := s.invoiceRepo.ClearAssignee(txCtx, user.ID)
			if err != nil {
				return fmt.Errorf("failed to release invoices: %w", err)
			}
			released = n
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.ActionChangeUserRole, user.ID.String(), user.Username,
			map[string]any{"from": previous, "to": req.Role, "released_invoices": released})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID.String()).Str("from", previous).Str("to", req.Role).Msg("role changed")
	return mapToResponse(user), nil
}

// DeleteUser soft-deletes the user. A delivery agent's invoices become unassigned.
func (s *userService) DeleteUser(ctx context.Context, actor Actor, id string) error {
	userID, err := parseID("id", id)
	if err != nil {
		return err
	}
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return lookupErr("user", err)
	}
	if err := authz.CheckUserDeletion(actor, authz.SubjectOf(user)); err != nil {
		return err
	}
	if user.IsDeliveryAgent() {
		if err := s.ensureNoActiveRoutes(ctx, user.ID); err != nil {
			return err
		}
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		released, err := s.invoiceRepo.ClearAssignee(txCtx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to release invoices: %w", err)
		}
		if err := s.repo.DeleteRefreshTokensByUser(txCtx, user.ID); err != nil {
			return fmt.Errorf("failed to revoke sessions: %w", err)
		}
		if err := s.repo.Delete(txCtx, user.ID); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.ActionDeleteUser, user.ID.String(), user.Username,
			map[string]any{"role": user.Role, "released_invoices": released})
	})
}

// EnsureAdmin creates the first administrator unless one with the same email exists.
// It reports whether a user was created.
func (s *userService) EnsureAdmin(ctx context.Context, req CreateUserRequest) (bool, error) {
	req.Role = model.RoleAdmin
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("failed to look up admin: %w", err)
	}
	if _, err := s.CreateUser(ctx, Actor{Role: model.RoleAdmin}, req); err != nil {
		return false, err
	}
	return true, nil
}

func (s *userService) ensureNoActiveRoutes(ctx context.Context, driverID uuid.UUID) error {
	active, err := s.routeRepo.CountActiveByDriver(ctx, driverID)
	if err != nil {
		return fmt.Errorf("failed to count routes: %w", err)
	}
	if active > 0 {
		return apperror.Conflict("delivery agent drives %d open route(s)", active)
	}
	return nil
}
