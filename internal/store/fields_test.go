package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elskow/idstore/internal/identity"
	"github.com/elskow/idstore/internal/store"
)

func newStampSource() store.StampSource {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("stamp-%d", n)
	}
}

func TestFieldStore_SetPasswordHashRotatesSecurityStamp(t *testing.T) {
	fields := store.NewFieldStore[string](newStampSource())
	user := &identity.User[string]{ID: "u1", SecurityStamp: "initial"}

	before, err := fields.GetSecurityStamp(context.Background(), user)
	require.NoError(t, err)

	err = fields.SetPasswordHash(context.Background(), user, "hash-1")
	require.NoError(t, err)

	after, err := fields.GetSecurityStamp(context.Background(), user)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.Equal(t, "hash-1", user.PasswordHash)
}

func TestFieldStore_SetSecurityStampStoresCallerValue(t *testing.T) {
	fields := store.NewFieldStore[string](newStampSource())
	user := &identity.User[string]{ID: "u1"}

	err := fields.SetSecurityStamp(context.Background(), user, "caller-chosen")
	require.NoError(t, err)
	assert.Equal(t, "caller-chosen", user.SecurityStamp)
}

func TestFieldStore_HasPassword(t *testing.T) {
	fields := store.NewFieldStore[string](newStampSource())

	tests := []struct {
		name string
		hash string
		want bool
	}{
		{
			name: "no password",
			hash: "",
			want: false,
		},
		{
			name: "password set",
			hash: "some-hash",
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := &identity.User[string]{ID: "u1", PasswordHash: tt.hash}
			has, err := fields.HasPassword(context.Background(), user)
			require.NoError(t, err)
			assert.Equal(t, tt.want, has)
		})
	}
}

func TestFieldStore_Lockout(t *testing.T) {
	policy := store.LockoutPolicy{Threshold: 3, Duration: 15 * time.Minute}

	tests := []struct {
		name           string
		lockoutEnabled bool
		attempts       int
		wantLocked     bool
	}{
		{
			name:           "below threshold stays active",
			lockoutEnabled: true,
			attempts:       2,
			wantLocked:     false,
		},
		{
			name:           "threshold reached locks",
			lockoutEnabled: true,
			attempts:       3,
			wantLocked:     true,
		},
		{
			name:           "lockout disabled never locks",
			lockoutEnabled: false,
			attempts:       5,
			wantLocked:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := store.NewFieldStore[string](newStampSource())
			user := &identity.User[string]{ID: "u1", LockoutEnabled: tt.lockoutEnabled}

			var count int
			var err error
			for i := 0; i < tt.attempts; i++ {
				count, err = fields.IncrementAccessFailedCount(context.Background(), user, policy)
				require.NoError(t, err)
			}
			assert.Equal(t, tt.attempts, count)

			end, err := fields.GetLockoutEnd(context.Background(), user)
			require.NoError(t, err)
			if tt.wantLocked {
				require.NotNil(t, end)
				assert.True(t, end.After(time.Now()))
				assert.True(t, user.IsLockedOut(time.Now()))
			} else {
				assert.Nil(t, end)
				assert.False(t, user.IsLockedOut(time.Now()))
			}
		})
	}
}

func TestFieldStore_ResetAccessFailedCount(t *testing.T) {
	fields := store.NewFieldStore[string](newStampSource())
	user := &identity.User[string]{ID: "u1", AccessFailedCount: 4}

	err := fields.ResetAccessFailedCount(context.Background(), user)
	require.NoError(t, err)
	assert.Zero(t, user.AccessFailedCount)
}

func TestFieldStore_ExpiredLockoutIsNotCleared(t *testing.T) {
	fields := store.NewFieldStore[string](newStampSource())
	past := time.Now().Add(-time.Minute)
	user := &identity.User[string]{ID: "u1", LockoutEnabled: true, LockoutEnd: &past}

	assert.False(t, user.IsLockedOut(time.Now()))

	// The store leaves the expired timestamp in place.
	end, err := fields.GetLockoutEnd(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, &past, end)
}

func TestFieldStore_SetEmailKeepsConfirmedFlag(t *testing.T) {
	fields := store.NewFieldStore[string](newStampSource())
	user := &identity.User[string]{ID: "u1", Email: "old@example.com", EmailConfirmed: true}

	err := fields.SetEmail(context.Background(), user, "new@example.com")
	require.NoError(t, err)

	confirmed, err := fields.GetEmailConfirmed(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, confirmed, "store must not clear the confirmed flag on change")
	assert.Equal(t, "new@example.com", user.Email)
}

func TestFieldStore_SetPhoneNumberKeepsConfirmedFlag(t *testing.T) {
	fields := store.NewFieldStore[string](newStampSource())
	user := &identity.User[string]{ID: "u1", PhoneNumber: "111", PhoneNumberConfirmed: true}

	err := fields.SetPhoneNumber(context.Background(), user, "222")
	require.NoError(t, err)

	confirmed, err := fields.GetPhoneNumberConfirmed(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, confirmed)
}

func TestFieldStore_CancelledContext(t *testing.T) {
	fields := store.NewFieldStore[string](newStampSource())
	user := &identity.User[string]{ID: "u1"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fields.SetPasswordHash(ctx, user, "hash")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, user.PasswordHash, "cancelled call must not mutate")
}
