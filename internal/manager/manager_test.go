package manager

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elskow/idstore/internal/config"
	"github.com/elskow/idstore/internal/identity"
	"github.com/elskow/idstore/internal/store"
	"github.com/elskow/idstore/internal/store/memory"
)

func newTestLogger(t *testing.T) *zap.Logger {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return logger
}

func newTestConfig() *config.AppConfig {
	return &config.AppConfig{
		Lockout: config.LockoutConfig{
			Enabled:   true,
			Threshold: 3,
			Duration:  15 * time.Minute,
		},
		Tokens: config.TokenConfig{
			Secret: "test-secret-key",
			TTL:    time.Hour,
		},
	}
}

func newMemoryStore() *memory.Store[string] {
	n := 0
	return memory.New[string](
		func() string {
			n++
			return fmt.Sprintf("key-%d", n)
		},
		func() string {
			n++
			return fmt.Sprintf("stamp-%d", n)
		},
	)
}

func newTestManager(t *testing.T) *Manager[string] {
	return New[string](newTestConfig(), newTestLogger(t), newMemoryStore())
}

// baselineOnlyStore implements just the mandatory contract, so every
// optional capability should fail with ErrUnsupported.
type baselineOnlyStore struct{}

func (baselineOnlyStore) CreateUser(ctx context.Context, user *identity.User[string]) error {
	return nil
}

func (baselineOnlyStore) UpdateUser(ctx context.Context, user *identity.User[string]) error {
	return nil
}

func (baselineOnlyStore) DeleteUser(ctx context.Context, user *identity.User[string]) error {
	return nil
}

func (baselineOnlyStore) FindUserByID(ctx context.Context, id string) (*identity.User[string], error) {
	return nil, nil
}

func (baselineOnlyStore) FindUserByName(ctx context.Context, normalizedName string) (*identity.User[string], error) {
	return nil, nil
}

func TestManager_Register(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	user, err := mgr.Register(ctx, "alice", "alice@example.com", "correct horse")
	require.NoError(t, err)

	assert.Equal(t, "alice", user.UserName)
	assert.Equal(t, "ALICE", user.NormalizedUserName)
	assert.Equal(t, "ALICE@EXAMPLE.COM", user.NormalizedEmail)
	assert.NotEmpty(t, user.SecurityStamp)
	assert.NotEmpty(t, user.ConcurrencyStamp)
	assert.True(t, user.LockoutEnabled)

	// The stored hash verifies against the original password.
	assert.True(t, mgr.hasher.Verify(user.PasswordHash, "correct horse"))
	assert.NotEqual(t, "correct horse", user.PasswordHash)
}

func TestManager_Register_DuplicateUserName(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Register(ctx, "alice", "a@example.com", "pw")
	require.NoError(t, err)

	_, err = mgr.Register(ctx, "Alice", "b@example.com", "pw")
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestManager_Authenticate(t *testing.T) {
	tests := []struct {
		name     string
		userName string
		password string
		wantErr  error
	}{
		{
			name:     "valid credentials",
			userName: "alice",
			password: "correct horse",
			wantErr:  nil,
		},
		{
			name:     "wrong password",
			userName: "alice",
			password: "battery staple",
			wantErr:  ErrInvalidPassword,
		},
		{
			name:     "unknown user",
			userName: "nobody",
			password: "whatever",
			wantErr:  store.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := newTestManager(t)
			ctx := context.Background()

			_, err := mgr.Register(ctx, "alice", "alice@example.com", "correct horse")
			require.NoError(t, err)

			user, err := mgr.Authenticate(ctx, tt.userName, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, user)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "ALICE", user.NormalizedUserName)
		})
	}
}

func TestManager_Authenticate_LockoutAfterThreshold(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Register(ctx, "alice", "alice@example.com", "correct horse")
	require.NoError(t, err)

	for i := 0; i < newTestConfig().Lockout.Threshold; i++ {
		_, err = mgr.Authenticate(ctx, "alice", "wrong")
		assert.ErrorIs(t, err, ErrInvalidPassword)
	}

	// Even the right password is refused while the window is open.
	_, err = mgr.Authenticate(ctx, "alice", "correct horse")
	assert.ErrorIs(t, err, ErrLockedOut)
}

func TestManager_Authenticate_FewerFailuresDoNotLock(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Register(ctx, "alice", "alice@example.com", "correct horse")
	require.NoError(t, err)

	for i := 0; i < newTestConfig().Lockout.Threshold-1; i++ {
		_, err = mgr.Authenticate(ctx, "alice", "wrong")
		assert.ErrorIs(t, err, ErrInvalidPassword)
	}

	user, err := mgr.Authenticate(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.Nil(t, user.LockoutEnd)
}

func TestManager_Authenticate_SuccessResetsFailedCount(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Register(ctx, "alice", "alice@example.com", "correct horse")
	require.NoError(t, err)

	_, err = mgr.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	user, err := mgr.Authenticate(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.Zero(t, user.AccessFailedCount)
}

func TestManager_SetPassword_RotatesSecurityStamp(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	user, err := mgr.Register(ctx, "alice", "alice@example.com", "old password")
	require.NoError(t, err)
	before := user.SecurityStamp

	require.NoError(t, mgr.SetPassword(ctx, user, "new password"))
	assert.NotEqual(t, before, user.SecurityStamp)

	_, err = mgr.Authenticate(ctx, "alice", "new password")
	require.NoError(t, err)
}

func TestManager_RolesScenario(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	user, err := mgr.Register(ctx, "alice", "alice@example.com", "pw")
	require.NoError(t, err)

	_, err = mgr.CreateRole(ctx, "admin")
	require.NoError(t, err)

	require.NoError(t, mgr.AddToRole(ctx, user, "admin"))

	inRole, err := mgr.IsInRole(ctx, user, "admin")
	require.NoError(t, err)
	assert.True(t, inRole)

	require.NoError(t, mgr.RemoveFromRole(ctx, user, "admin"))

	inRole, err = mgr.IsInRole(ctx, user, "admin")
	require.NoError(t, err)
	assert.False(t, inRole)
}

func TestManager_AddToRole_MissingRole(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	user, err := mgr.Register(ctx, "alice", "alice@example.com", "pw")
	require.NoError(t, err)

	err = mgr.AddToRole(ctx, user, "admin")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_ChangeEmailClearsConfirmation(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	user, err := mgr.Register(ctx, "alice", "alice@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, mgr.ConfirmEmail(ctx, user))
	assert.True(t, user.EmailConfirmed)

	require.NoError(t, mgr.ChangeEmail(ctx, user, "new@example.com"))
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, "NEW@EXAMPLE.COM", user.NormalizedEmail)
	assert.False(t, user.EmailConfirmed)
}

func TestManager_UnsupportedCapability(t *testing.T) {
	mgr := New[string](newTestConfig(), newTestLogger(t), baselineOnlyStore{})
	ctx := context.Background()
	user := &identity.User[string]{ID: "u1"}

	tests := []struct {
		name string
		call func() error
	}{
		{
			name: "claims",
			call: func() error {
				return mgr.AddClaims(ctx, user, []identity.Claim{{Type: "a", Value: "b"}})
			},
		},
		{
			name: "logins",
			call: func() error {
				return mgr.AddLogin(ctx, user, identity.LoginInfo{Provider: "p", ProviderKey: "k"})
			},
		},
		{
			name: "roles",
			call: func() error {
				return mgr.AddToRole(ctx, user, "admin")
			},
		},
		{
			name: "password",
			call: func() error {
				return mgr.SetPassword(ctx, user, "pw")
			},
		},
		{
			name: "tokens",
			call: func() error {
				_, err := mgr.GenerateUserToken(ctx, user, "confirm")
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), store.ErrUnsupported)
		})
	}
}

func TestManager_Capabilities(t *testing.T) {
	full := newTestManager(t)
	assert.True(t, full.Supports(store.CapabilityLockout))
	assert.Len(t, full.Capabilities(), 14)

	bare := New[string](newTestConfig(), newTestLogger(t), baselineOnlyStore{})
	assert.False(t, bare.Supports(store.CapabilityLockout))
	assert.Equal(t, []store.Capability{store.CapabilityUsers}, bare.Capabilities())
}
