package authz

import (
	"testing"

	"snapclaim/internal/apperror"
	"snapclaim/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCheckRoleChange(t *testing.T) {
	admin := Subject{ID: uuid.New(), Role: model.RoleAdmin}
	otherAdmin := Subject{ID: uuid.New(), Role: model.RoleAdmin}
	supervisor := Subject{ID: uuid.New(), Role: model.RoleSupervisor}
	agent := Subject{ID: uuid.New(), Role: model.RoleDeliveryAgent}

	tests := []struct {
		name    string
		actor   Subject
		target  Subject
		role    string
		wantErr error
	}{
		{"admin promotes agent", admin, agent, model.RoleWarehouse, nil},
		{"admin makes supervisor admin", admin, supervisor, model.RoleAdmin, nil},
		{"admin demotes self", admin, admin, model.RoleSupervisor, apperror.ErrForbidden},
		{"admin demotes other admin", admin, otherAdmin, model.RoleSupervisor, apperror.ErrForbidden},
		{"supervisor changes agent", supervisor, agent, model.RoleWarehouse, apperror.ErrForbidden},
		{"unknown role", admin, agent, "driver", apperror.ErrValidation},
		{"same role is a no-op", supervisor, agent, model.RoleDeliveryAgent, nil},
		{"self same role", admin, admin, model.RoleAdmin, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRoleChange(tt.actor, tt.target, tt.role)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCheckUserDeletion(t *testing.T) {
	admin := Subject{ID: uuid.New(), Role: model.RoleAdmin}
	agent := Subject{ID: uuid.New(), Role: model.RoleDeliveryAgent}

	assert.NoError(t, CheckUserDeletion(admin, agent))
	assert.ErrorIs(t, CheckUserDeletion(admin, admin), apperror.ErrForbidden)
	assert.ErrorIs(t, CheckUserDeletion(agent, admin), apperror.ErrForbidden)

	u := &model.User{ID: uuid.New(), Role: model.RoleWarehouse}
	assert.Equal(t, Subject{ID: u.ID, Role: model.RoleWarehouse}, SubjectOf(u))
}
