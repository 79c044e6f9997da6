package service

import (
	"testing"

	"egg-market/internal/apperr"
	"egg-market/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeration(t *testing.T) {
	f := newFixture(t)
	producer, err := f.auth.Register(f.ctx, RegisterRequest{
		FirstName: "Jean", Phone: "677000020", Password: "secret1", Role: models.RoleProducer, FarmName: "Ferme Logbaba",
	})
	require.NoError(t, err)
	courier, err := f.auth.Register(f.ctx, RegisterRequest{
		FirstName: "Ali", Phone: "677000021", Password: "secret1", Role: models.RoleCourier,
	})
	require.NoError(t, err)

	producers, err := f.admin.PendingProducers(f.ctx, f.adminActor)
	require.NoError(t, err)
	require.Len(t, producers, 1)
	assert.Equal(t, producer.User.ID, producers[0].UserID)
	couriers, err := f.admin.PendingCouriers(f.ctx, f.adminActor)
	require.NoError(t, err)
	require.Len(t, couriers, 1)

	u, err := f.admin.Validate(f.ctx, f.adminActor, producer.User.ID)
	require.NoError(t, err)
	assert.True(t, u.Producer.Validated)
	assert.True(t, u.Active)

	u, err = f.admin.Reject(f.ctx, f.adminActor, courier.User.ID, "plate number unreadable")
	require.NoError(t, err)
	assert.False(t, u.Courier.Validated)
	assert.False(t, u.Active)

	_, err = f.auth.Login(f.ctx, LoginRequest{Phone: "677000021", Password: "secret1"})
	assertKind(t, err, apperr.Unauthorized)

	require.Len(t, f.events.users, 2)
	assert.True(t, f.events.users[0].Approved)
	assert.False(t, f.events.users[1].Approved)
	assert.Equal(t, "plate number unreadable", f.events.users[1].Reason)

	producers, err = f.admin.PendingProducers(f.ctx, f.adminActor)
	require.NoError(t, err)
	assert.Empty(t, producers)

	_, err = f.admin.Validate(f.ctx, f.adminActor, f.client.UserID)
	assertKind(t, err, apperr.Validation)
	_, err = f.admin.Validate(f.ctx, f.producer, producer.User.ID)
	assertKind(t, err, apperr.Unauthorized)
}

func TestUserManagement(t *testing.T) {
	f := newFixture(t)

	page, err := f.admin.ListUsers(f.ctx, f.adminActor, "client", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 20, page.Limit)

	page, err = f.admin.ListUsers(f.ctx, f.adminActor, "", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Len(t, page.Users, 2)

	_, err = f.admin.ListUsers(f.ctx, f.adminActor, "farmer", 0, 0)
	assertKind(t, err, apperr.Validation)

	u, err := f.admin.GetUser(f.ctx, f.adminActor, f.producer.UserID)
	require.NoError(t, err)
	require.NotNil(t, u.Producer)

	u, err = f.admin.ToggleActive(f.ctx, f.adminActor, f.client.UserID)
	require.NoError(t, err)
	assert.False(t, u.Active)
	u, err = f.admin.ToggleActive(f.ctx, f.adminActor, f.client.UserID)
	require.NoError(t, err)
	assert.True(t, u.Active)

	_, err = f.admin.ToggleActive(f.ctx, f.adminActor, f.adminActor.UserID)
	assertKind(t, err, apperr.InvalidState)
	_, err = f.admin.ListUsers(f.ctx, f.client, "", 0, 0)
	assertKind(t, err, apperr.Unauthorized)
}
