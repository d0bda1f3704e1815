// Package store defines the capability contracts between the identity
// manager and a persistence backend. A backend implements UserStore plus
// whichever optional capabilities it can support; consumers discover the
// supported set at runtime (see registry.go) instead of branching on
// concrete types.
//
// Field capabilities (password, stamps, lockout, two-factor, email, phone)
// mutate the entity in place; UpdateUser persists the result and rotates the
// ConcurrencyStamp. Relationship capabilities (claims, logins, roles,
// tokens) write through to the backend immediately.
package store

import (
	"context"
	"iter"
	"time"

	"github.com/elskow/idstore/internal/identity"
)

// StampSource produces fresh opaque stamp values. Randomness policy belongs
// to the embedding application; stores only apply the values they are given.
type StampSource func() string

// UserStore is the mandatory baseline every backend implements.
//
// CreateUser assigns the ID (when zero) and the initial ConcurrencyStamp.
// UpdateUser persists the entity only if its ConcurrencyStamp matches the
// stored one, then replaces it with a fresh value. DeleteUser cascades
// claims, logins, tokens and role memberships. Lookups return (nil, nil)
// when no entity matches.
type UserStore[K comparable] interface {
	CreateUser(ctx context.Context, user *identity.User[K]) error
	UpdateUser(ctx context.Context, user *identity.User[K]) error
	DeleteUser(ctx context.Context, user *identity.User[K]) error
	FindUserByID(ctx context.Context, id K) (*identity.User[K], error)
	FindUserByName(ctx context.Context, normalizedName string) (*identity.User[K], error)
}

// RoleStore manages Role entities under the same concurrency discipline as
// UserStore. Deleting a role cascades its membership rows.
type RoleStore[K comparable] interface {
	CreateRole(ctx context.Context, role *identity.Role[K]) error
	UpdateRole(ctx context.Context, role *identity.Role[K]) error
	DeleteRole(ctx context.Context, role *identity.Role[K]) error
	FindRoleByID(ctx context.Context, id K) (*identity.Role[K], error)
	FindRoleByName(ctx context.Context, normalizedName string) (*identity.Role[K], error)
}

// PasswordStore stores the opaque password hash. SetPasswordHash also
// rotates the SecurityStamp, so cached credential state is invalidated in
// the same logical operation.
type PasswordStore[K comparable] interface {
	GetPasswordHash(ctx context.Context, user *identity.User[K]) (string, error)
	SetPasswordHash(ctx context.Context, user *identity.User[K], hash string) error
	HasPassword(ctx context.Context, user *identity.User[K]) (bool, error)
}

// SecurityStampStore gives callers direct control of the security stamp.
// The caller supplies the fresh value; the store never generates one here.
type SecurityStampStore[K comparable] interface {
	GetSecurityStamp(ctx context.Context, user *identity.User[K]) (string, error)
	SetSecurityStamp(ctx context.Context, user *identity.User[K], stamp string) error
}

// ClaimStore manages claim rows. Duplicate claims are allowed. ReplaceClaim
// and RemoveClaims require an exact (type, value) match and are no-ops when
// nothing matches.
type ClaimStore[K comparable] interface {
	GetClaims(ctx context.Context, user *identity.User[K]) ([]identity.Claim, error)
	AddClaims(ctx context.Context, user *identity.User[K], claims []identity.Claim) error
	ReplaceClaim(ctx context.Context, user *identity.User[K], oldClaim, newClaim identity.Claim) error
	RemoveClaims(ctx context.Context, user *identity.User[K], claims []identity.Claim) error
	GetUsersForClaim(ctx context.Context, claim identity.Claim) ([]*identity.User[K], error)
}

// LoginStore binds external-provider identities to local users. A
// (provider, key) pair identifies at most one user; AddLogin fails with
// ErrConflict when the pair is already bound. Adding or removing a login
// rotates the user's SecurityStamp.
type LoginStore[K comparable] interface {
	AddLogin(ctx context.Context, user *identity.User[K], login identity.LoginInfo) error
	RemoveLogin(ctx context.Context, user *identity.User[K], provider, providerKey string) error
	GetLogins(ctx context.Context, user *identity.User[K]) ([]identity.LoginInfo, error)
	FindUserByLogin(ctx context.Context, provider, providerKey string) (*identity.User[K], error)
}

// UserRoleStore manages role membership. AddToRole fails with ErrNotFound
// when the named role does not exist; roles are never created implicitly.
type UserRoleStore[K comparable] interface {
	AddToRole(ctx context.Context, user *identity.User[K], normalizedRoleName string) error
	RemoveFromRole(ctx context.Context, user *identity.User[K], normalizedRoleName string) error
	GetRoles(ctx context.Context, user *identity.User[K]) ([]string, error)
	IsInRole(ctx context.Context, user *identity.User[K], normalizedRoleName string) (bool, error)
	GetUsersInRole(ctx context.Context, normalizedRoleName string) ([]*identity.User[K], error)
}

// LockoutPolicy carries the caller-owned lockout parameters. Stores never
// hardcode a threshold or duration.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// LockoutStore implements the failed-attempt counter and lockout window.
// IncrementAccessFailedCount sets LockoutEnd to now+policy.Duration once the
// incremented count reaches policy.Threshold on a lockout-enabled user. An
// expired LockoutEnd is never cleared by the store.
type LockoutStore[K comparable] interface {
	IncrementAccessFailedCount(ctx context.Context, user *identity.User[K], policy LockoutPolicy) (int, error)
	ResetAccessFailedCount(ctx context.Context, user *identity.User[K]) error
	GetLockoutEnd(ctx context.Context, user *identity.User[K]) (*time.Time, error)
	SetLockoutEnd(ctx context.Context, user *identity.User[K], end *time.Time) error
	GetLockoutEnabled(ctx context.Context, user *identity.User[K]) (bool, error)
	SetLockoutEnabled(ctx context.Context, user *identity.User[K], enabled bool) error
}

type TwoFactorStore[K comparable] interface {
	GetTwoFactorEnabled(ctx context.Context, user *identity.User[K]) (bool, error)
	SetTwoFactorEnabled(ctx context.Context, user *identity.User[K], enabled bool) error
}

// EmailStore accesses the email fields. Setting a new address does not clear
// EmailConfirmed; that policy belongs to the caller.
type EmailStore[K comparable] interface {
	GetEmail(ctx context.Context, user *identity.User[K]) (string, error)
	SetEmail(ctx context.Context, user *identity.User[K], email string) error
	GetEmailConfirmed(ctx context.Context, user *identity.User[K]) (bool, error)
	SetEmailConfirmed(ctx context.Context, user *identity.User[K], confirmed bool) error
	FindUserByEmail(ctx context.Context, normalizedEmail string) (*identity.User[K], error)
}

// PhoneStore accesses the phone fields, with the same confirmed-flag policy
// as EmailStore.
type PhoneStore[K comparable] interface {
	GetPhoneNumber(ctx context.Context, user *identity.User[K]) (string, error)
	SetPhoneNumber(ctx context.Context, user *identity.User[K], phone string) error
	GetPhoneNumberConfirmed(ctx context.Context, user *identity.User[K]) (bool, error)
	SetPhoneNumberConfirmed(ctx context.Context, user *identity.User[K], confirmed bool) error
}

// TokenStore persists one-off tokens keyed by (user, provider, name).
// SetToken overwrites an existing value. GetToken returns (nil, nil) when
// absent; RemoveToken of an absent token is a no-op.
type TokenStore[K comparable] interface {
	SetToken(ctx context.Context, user *identity.User[K], provider, name, value string) error
	GetToken(ctx context.Context, user *identity.User[K], provider, name string) (*identity.UserToken[K], error)
	RemoveToken(ctx context.Context, user *identity.User[K], provider, name string) error
}

// QueryableUserStore exposes a lazy, restartable scan over all users. Each
// call starts a fresh scan; the sequence must not be used to mutate.
type QueryableUserStore[K comparable] interface {
	AllUsers(ctx context.Context) iter.Seq2[*identity.User[K], error]
}

// QueryableRoleStore is the role counterpart of QueryableUserStore.
type QueryableRoleStore[K comparable] interface {
	AllRoles(ctx context.Context) iter.Seq2[*identity.Role[K], error]
}
