package gormstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/elskow/idstore/internal/identity"
	"github.com/elskow/idstore/internal/store"
)

// newTestStore connects to the database named by IDSTORE_TEST_DSN and
// resets the identity tables. Without the variable the test is skipped, the
// same way the deploy pipeline gates its cluster tests.
func newTestStore(t *testing.T) *Store[uuid.UUID] {
	t.Helper()

	dsn := os.Getenv("IDSTORE_TEST_DSN")
	if dsn == "" {
		t.Skip("IDSTORE_TEST_DSN not set; skipping postgres integration test")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&identity.User[uuid.UUID]{},
		&identity.Role[uuid.UUID]{},
		&identity.UserClaim[uuid.UUID]{},
		&identity.UserLogin[uuid.UUID]{},
		&identity.UserRole[uuid.UUID]{},
		&identity.UserToken[uuid.UUID]{},
	)
	require.NoError(t, err)

	for _, table := range []string{"user_tokens", "user_roles", "user_logins", "user_claims", "roles", "users"} {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	return New[uuid.UUID](db, logger, uuid.New, uuid.NewString)
}

func createUser(t *testing.T, s *Store[uuid.UUID], name string) *identity.User[uuid.UUID] {
	t.Helper()
	user := &identity.User[uuid.UUID]{
		UserName:           name,
		NormalizedUserName: name,
		LockoutEnabled:     true,
	}
	require.NoError(t, s.CreateUser(context.Background(), user))
	return user
}

func TestIntegration_UserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := createUser(t, s, "ALICE")
	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.NotEmpty(t, user.ConcurrencyStamp)

	// Uniqueness on the normalized name.
	err := s.CreateUser(ctx, &identity.User[uuid.UUID]{UserName: "alice", NormalizedUserName: "ALICE"})
	assert.ErrorIs(t, err, store.ErrConflict)

	// Optimistic concurrency.
	stale, err := s.FindUserByID(ctx, user.ID)
	require.NoError(t, err)

	user.Email = "alice@example.com"
	require.NoError(t, s.UpdateUser(ctx, user))

	stale.Email = "stale@example.com"
	err = s.UpdateUser(ctx, stale)
	assert.ErrorIs(t, err, store.ErrConcurrency)

	current, err := s.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", current.Email)

	require.NoError(t, s.DeleteUser(ctx, user))
	err = s.DeleteUser(ctx, user)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIntegration_CascadeDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := createUser(t, s, "ALICE")
	require.NoError(t, s.AddClaims(ctx, user, []identity.Claim{{Type: "dept", Value: "eng"}}))
	require.NoError(t, s.AddLogin(ctx, user, identity.LoginInfo{Provider: "github", ProviderKey: "123"}))
	require.NoError(t, s.SetToken(ctx, user, "idstore", "confirm", "tok"))

	role := &identity.Role[uuid.UUID]{Name: "admin", NormalizedName: "ADMIN"}
	require.NoError(t, s.CreateRole(ctx, role))
	require.NoError(t, s.AddToRole(ctx, user, "ADMIN"))

	require.NoError(t, s.DeleteUser(ctx, user))

	found, err := s.FindUserByLogin(ctx, "github", "123")
	require.NoError(t, err)
	assert.Nil(t, found)

	holders, err := s.GetUsersForClaim(ctx, identity.Claim{Type: "dept", Value: "eng"})
	require.NoError(t, err)
	assert.Empty(t, holders)

	members, err := s.GetUsersInRole(ctx, "ADMIN")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestIntegration_Logins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := createUser(t, s, "ALICE")
	bob := createUser(t, s, "BOB")

	stampBefore := alice.SecurityStamp
	login := identity.LoginInfo{Provider: "github", ProviderKey: "123", DisplayName: "GitHub"}
	require.NoError(t, s.AddLogin(ctx, alice, login))
	assert.NotEqual(t, stampBefore, alice.SecurityStamp)

	err := s.AddLogin(ctx, bob, login)
	assert.ErrorIs(t, err, store.ErrConflict)

	found, err := s.FindUserByLogin(ctx, "github", "123")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, alice.ID, found.ID)
}

func TestIntegration_Lockout(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	policy := store.LockoutPolicy{Threshold: 3, Duration: 15 * time.Minute}

	user := createUser(t, s, "ALICE")
	for i := 0; i < policy.Threshold; i++ {
		_, err := s.IncrementAccessFailedCount(ctx, user, policy)
		require.NoError(t, err)
	}
	require.NoError(t, s.UpdateUser(ctx, user))

	stored, err := s.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LockoutEnd)
	assert.True(t, stored.LockoutEnd.After(time.Now()))
}

func TestIntegration_AllUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createUser(t, s, "ALICE")
	createUser(t, s, "BOB")

	count := 0
	for user, err := range s.AllUsers(ctx) {
		require.NoError(t, err)
		require.NotNil(t, user)
		count++
	}
	assert.Equal(t, 2, count)
}
