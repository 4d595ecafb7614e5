package repository

import (
	"context"
	"testing"

	"exchange/internal/model"
	"exchange/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_Lookups(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	ana := testutil.CreateUser(t, db, "ana@example.com", "Ana", model.RoleUser)
	testutil.CreateUser(t, db, "ana2@example.com", "ANA", model.RoleUser)
	testutil.CreateUser(t, db, "bo@example.com", "bo", model.RoleAdmin)

	got, err := repo.FindByID(ctx, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", got.Email)

	_, err = repo.FindByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrUserNotFound)

	got, err = repo.FindByEmail(ctx, " ana@example.com ")
	require.NoError(t, err)
	assert.Equal(t, ana.ID, got.ID)

	exists, err := repo.ExistsByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, exists)

	matches, err := repo.FindByNickname(ctx, "ana")
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = repo.FindByNickname(ctx, "BO")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, model.RoleAdmin, matches[0].Role)
}
