package service

import (
	"context"
	"errors"
	"testing"

	"snapclaim/internal/apperror"
	"snapclaim/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientService(t *testing.T) {
	repo := newFakeClients()
	audit := &fakeAudit{}
	svc := NewClientService(repo, audit, &fakeTx{})
	ctx := context.Background()

	created, err := svc.CreateClient(ctx, supervisor, CreateClientRequest{
		Name:    " Bodega Sur ",
		Address: "Av. Central 12",
		Branches: []BranchPayload{
			{Name: "Norte", Address: "Calle 1"},
			{Name: "Puerto", Address: "Muelle 3"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bodega Sur", created.Name)
	require.Len(t, created.Branches, 2)
	assert.Equal(t, "Puerto", created.Branches[1].Name)
	assert.Equal(t, 1, created.Branches[1].Position)

	_, err = svc.CreateClient(ctx, supervisor, CreateClientRequest{Name: "bodega sur"})
	assert.True(t, errors.Is(err, apperror.ErrConflict), "names are unique ignoring case")

	_, err = svc.CreateClient(ctx, supervisor, CreateClientRequest{Name: "Other", Branches: []BranchPayload{{Name: "no address"}}})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	t.Run("nil branches are kept", func(t *testing.T) {
		updated, err := svc.UpdateClient(ctx, supervisor, created.ID.String(), UpdateClientRequest{Phone: strPtr("555-0100")})
		require.NoError(t, err)
		assert.Equal(t, "555-0100", updated.Phone)
		assert.Len(t, updated.Branches, 2)
	})

	t.Run("empty branches remove all", func(t *testing.T) {
		empty := []BranchPayload{}
		updated, err := svc.UpdateClient(ctx, supervisor, created.ID.String(), UpdateClientRequest{Branches: &empty})
		require.NoError(t, err)
		assert.Empty(t, updated.Branches)
	})

	require.NoError(t, svc.DeleteClient(ctx, supervisor, created.ID.String()))
	_, err = svc.GetClient(ctx, created.ID.String())
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	assert.Equal(t, []string{
		model.ActionCreateClient, model.ActionUpdateClient, model.ActionUpdateClient, model.ActionDeleteClient,
	}, audit.actions())
}
