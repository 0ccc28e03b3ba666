package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"snapclaim/internal/apperror"
	"snapclaim/internal/model"
	"snapclaim/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testTokens = TokenConfig{Secret: []byte("test-secret"), AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour}

type userFixture struct {
	users    *fakeUsers
	invoices *fakeInvoices
	routes   *fakeRoutes
	audit    *fakeAudit
	svc      UserService
}

func newUserFixture(users ...*model.User) *userFixture {
	f := &userFixture{users: newFakeUsers(users...), invoices: newFakeInvoices(), audit: &fakeAudit{}}
	f.routes = newFakeRoutes(f.invoices)
	f.svc = NewUserService(f.users, f.invoices, f.routes, f.audit, &fakeTx{}, testTokens, logger.Nop())
	return f
}

func withPassword(t *testing.T, u *model.User, password string) *model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u.Password = string(hash)
	return u
}

func TestLogin(t *testing.T) {
	ana := withPassword(t, agent("ana"), "s3cret!")
	f := newUserFixture(ana)
	ctx := context.Background()

	t.Run("issues signed tokens", func(t *testing.T) {
		res, err := f.svc.Login(ctx, LoginUserRequest{Email: " ANA@example.com ", Password: "s3cret!"})
		require.NoError(t, err)
		assert.Equal(t, ana.ID, res.User.ID)
		assert.NotEmpty(t, res.RefreshToken)

		parsed, err := jwt.Parse(res.Token, func(*jwt.Token) (any, error) { return testTokens.Secret, nil })
		require.NoError(t, err)
		claims := parsed.Claims.(jwt.MapClaims)
		assert.Equal(t, ana.ID.String(), claims["sub"])
		assert.Equal(t, model.RoleDeliveryAgent, claims["role"])
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := f.svc.Login(ctx, LoginUserRequest{Email: "ana@example.com", Password: "nope"})
		assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
	})

	t.Run("unknown email looks the same", func(t *testing.T) {
		_, err := f.svc.Login(ctx, LoginUserRequest{Email: "who@example.com", Password: "s3cret!"})
		assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
	})
}

func TestRefresh_RotatesToken(t *testing.T) {
	ana := withPassword(t, agent("ana"), "s3cret!")
	f := newUserFixture(ana)
	ctx := context.Background()

	first, err := f.svc.Login(ctx, LoginUserRequest{Email: "ana@example.com", Password: "s3cret!"})
	require.NoError(t, err)

	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized), "a used refresh token is rejected")

	require.NoError(t, f.svc.Logout(ctx, second.RefreshToken))
	_, err = f.svc.Refresh(ctx, second.RefreshToken)
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestCreateUser(t *testing.T) {
	f := newUserFixture(agent("ana"))
	ctx := context.Background()
	sup := Actor{ID: uuid.New(), Role: model.RoleSupervisor}

	req := CreateUserRequest{
		Username:    "luis",
		DisplayName: "Luis",
		Email:       "Luis@Example.com",
		Password:    "secret1",
		Role:        model.RoleWarehouse,
	}
	created, err := f.svc.CreateUser(ctx, sup, req)
	require.NoError(t, err)
	assert.Equal(t, "luis@example.com", created.Email)
	assert.Equal(t, []string{model.ActionCreateUser}, f.audit.actions())

	_, err = f.svc.CreateUser(ctx, sup, req)
	assert.True(t, errors.Is(err, apperror.ErrConflict))

	req.Username, req.Email, req.Role = "root", "root@example.com", model.RoleAdmin
	_, err = f.svc.CreateUser(ctx, sup, req)
	assert.True(t, errors.Is(err, apperror.ErrForbidden))

	req.Role = "driver"
	_, err = f.svc.CreateUser(ctx, sup, req)
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestChangeRole(t *testing.T) {
	admin := Actor{ID: uuid.New(), Role: model.RoleAdmin}
	ctx := context.Background()

	t.Run("non admin is forbidden", func(t *testing.T) {
		ana := agent("ana")
		f := newUserFixture(ana)
		_, err := f.svc.ChangeRole(ctx, Actor{ID: uuid.New(), Role: model.RoleSupervisor}, ana.ID.String(), ChangeRoleRequest{Role: model.RoleWarehouse})
		assert.True(t, errors.Is(err, apperror.ErrForbidden))
	})

	t.Run("same role is a no-op", func(t *testing.T) {
		ana := agent("ana")
		f := newUserFixture(ana)
		res, err := f.svc.ChangeRole(ctx, Actor{ID: uuid.New(), Role: model.RoleSupervisor}, ana.ID.String(), ChangeRoleRequest{Role: model.RoleDeliveryAgent})
		require.NoError(t, err)
		assert.Equal(t, model.RoleDeliveryAgent, res.Role)
		assert.Empty(t, f.audit.entries)
	})

	t.Run("open route blocks leaving delivery", func(t *testing.T) {
		ana := agent("ana")
		f := newUserFixture(ana)
		f.routes.rows[uuid.New()] = &model.Route{Date: day, DriverID: &ana.ID, Status: model.RouteStatusInProgress}

		_, err := f.svc.ChangeRole(ctx, admin, ana.ID.String(), ChangeRoleRequest{Role: model.RoleWarehouse})
		assert.True(t, errors.Is(err, apperror.ErrConflict))
		assert.Equal(t, model.RoleDeliveryAgent, f.users.users[ana.ID].Role)
	})

	t.Run("leaving delivery releases invoices", func(t *testing.T) {
		ana := agent("ana")
		f := newUserFixture(ana)
		inv := pendingInvoice("R-1", day)
		inv.AssigneeID = &ana.ID
		f.invoices.rows[inv.ID] = &inv

		res, err := f.svc.ChangeRole(ctx, admin, ana.ID.String(), ChangeRoleRequest{Role: model.RoleWarehouse})
		require.NoError(t, err)
		assert.Equal(t, model.RoleWarehouse, res.Role)
		assert.Nil(t, f.invoices.rows[inv.ID].AssigneeID)
		assert.Equal(t, []string{model.ActionChangeUserRole}, f.audit.actions())
	})
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	admin := Actor{ID: uuid.New(), Role: model.RoleAdmin}
	ana := withPassword(t, agent("ana"), "s3cret!")
	f := newUserFixture(ana)

	inv := pendingInvoice("D-1", day)
	inv.AssigneeID = &ana.ID
	f.invoices.rows[inv.ID] = &inv
	_, err := f.svc.Login(ctx, LoginUserRequest{Email: "ana@example.com", Password: "s3cret!"})
	require.NoError(t, err)

	err = f.svc.DeleteUser(ctx, Actor{ID: uuid.New(), Role: model.RoleSupervisor}, ana.ID.String())
	assert.True(t, errors.Is(err, apperror.ErrForbidden))

	require.NoError(t, f.svc.DeleteUser(ctx, admin, ana.ID.String()))
	assert.NotContains(t, f.users.users, ana.ID)
	assert.Empty(t, f.users.tokens)
	assert.Nil(t, f.invoices.rows[inv.ID].AssigneeID)

	err = f.svc.DeleteUser(ctx, admin, admin.ID.String())
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}
