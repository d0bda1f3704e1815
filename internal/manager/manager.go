// Package manager is the reference consumer of the storage contract. It
// owns everything the stores refuse to: name normalization, password
// hashing, stamp randomness and the lockout policy parameters. Optional
// capabilities are discovered by probing; invoking a missing one fails with
// store.ErrUnsupported.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elskow/idstore/internal/config"
	"github.com/elskow/idstore/internal/identity"
	"github.com/elskow/idstore/internal/store"
)

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrLockedOut       = errors.New("account is locked out")
)

type Manager[K comparable] struct {
	cfg       *config.AppConfig
	log       *zap.Logger
	store     store.UserStore[K]
	hasher    Hasher
	normalize func(string) string
	newStamp  store.StampSource
}

func New[K comparable](cfg *config.AppConfig, log *zap.Logger, s store.UserStore[K]) *Manager[K] {
	return &Manager[K]{
		cfg:       cfg,
		log:       log,
		store:     s,
		hasher:    NewBcryptHasher(),
		normalize: strings.ToUpper,
		newStamp:  uuid.NewString,
	}
}

// Capabilities reports what the bound backend supports.
func (m *Manager[K]) Capabilities() []store.Capability {
	return store.Capabilities(m.store)
}

func (m *Manager[K]) Supports(c store.Capability) bool {
	return store.Supports(m.store, c)
}

func (m *Manager[K]) policy() store.LockoutPolicy {
	return store.LockoutPolicy{
		Threshold: m.cfg.Lockout.Threshold,
		Duration:  m.cfg.Lockout.Duration,
	}
}

func (m *Manager[K]) passwords() (store.PasswordStore[K], error) {
	ps, ok := m.store.(store.PasswordStore[K])
	if !ok {
		return nil, fmt.Errorf("password: %w", store.ErrUnsupported)
	}
	return ps, nil
}

func (m *Manager[K]) stamps() (store.SecurityStampStore[K], error) {
	ss, ok := m.store.(store.SecurityStampStore[K])
	if !ok {
		return nil, fmt.Errorf("security stamp: %w", store.ErrUnsupported)
	}
	return ss, nil
}

func (m *Manager[K]) claims() (store.ClaimStore[K], error) {
	cs, ok := m.store.(store.ClaimStore[K])
	if !ok {
		return nil, fmt.Errorf("claims: %w", store.ErrUnsupported)
	}
	return cs, nil
}

func (m *Manager[K]) logins() (store.LoginStore[K], error) {
	ls, ok := m.store.(store.LoginStore[K])
	if !ok {
		return nil, fmt.Errorf("logins: %w", store.ErrUnsupported)
	}
	return ls, nil
}

func (m *Manager[K]) roles() (store.RoleStore[K], error) {
	rs, ok := m.store.(store.RoleStore[K])
	if !ok {
		return nil, fmt.Errorf("roles: %w", store.ErrUnsupported)
	}
	return rs, nil
}

func (m *Manager[K]) userRoles() (store.UserRoleStore[K], error) {
	urs, ok := m.store.(store.UserRoleStore[K])
	if !ok {
		return nil, fmt.Errorf("user roles: %w", store.ErrUnsupported)
	}
	return urs, nil
}

func (m *Manager[K]) lockouts() (store.LockoutStore[K], error) {
	ls, ok := m.store.(store.LockoutStore[K])
	if !ok {
		return nil, fmt.Errorf("lockout: %w", store.ErrUnsupported)
	}
	return ls, nil
}

func (m *Manager[K]) emails() (store.EmailStore[K], error) {
	es, ok := m.store.(store.EmailStore[K])
	if !ok {
		return nil, fmt.Errorf("email: %w", store.ErrUnsupported)
	}
	return es, nil
}

func (m *Manager[K]) phones() (store.PhoneStore[K], error) {
	ps, ok := m.store.(store.PhoneStore[K])
	if !ok {
		return nil, fmt.Errorf("phone: %w", store.ErrUnsupported)
	}
	return ps, nil
}

func (m *Manager[K]) userTokens() (store.TokenStore[K], error) {
	ts, ok := m.store.(store.TokenStore[K])
	if !ok {
		return nil, fmt.Errorf("tokens: %w", store.ErrUnsupported)
	}
	return ts, nil
}

// Register creates a user with normalized names, a fresh security stamp and
// the configured lockout default. An empty password leaves the account
// passwordless.
func (m *Manager[K]) Register(ctx context.Context, userName, email, password string) (*identity.User[K], error) {
	user := &identity.User[K]{
		UserName:           userName,
		NormalizedUserName: m.normalize(userName),
		Email:              email,
		NormalizedEmail:    m.normalize(email),
		SecurityStamp:      m.newStamp(),
		LockoutEnabled:     m.cfg.Lockout.Enabled,
	}

	if password != "" {
		ps, err := m.passwords()
		if err != nil {
			return nil, err
		}
		hash, err := m.hasher.Hash(password)
		if err != nil {
			return nil, err
		}
		if err := ps.SetPasswordHash(ctx, user, hash); err != nil {
			return nil, err
		}
	}

	if err := m.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	m.log.Info("user registered", zap.String("user", user.NormalizedUserName))
	return user, nil
}

// Authenticate verifies the password and drives the lockout state machine:
// a failed attempt increments the counter (locking once the threshold is
// reached), a successful one resets it.
func (m *Manager[K]) Authenticate(ctx context.Context, userName, password string) (*identity.User[K], error) {
	user, err := m.store.FindUserByName(ctx, m.normalize(userName))
	if err != nil {
		return nil, err
	}
	if user == nil {
		m.hasher.Hash("dummy") // Prevent timing attacks
		return nil, fmt.Errorf("authenticate: %w", store.ErrNotFound)
	}

	if user.LockoutEnabled && user.IsLockedOut(time.Now()) {
		return nil, ErrLockedOut
	}

	if !m.hasher.Verify(user.PasswordHash, password) {
		if err := m.recordFailedAttempt(ctx, user); err != nil {
			m.log.Error("failed to record failed attempt", zap.Error(err))
		}
		return nil, ErrInvalidPassword
	}

	if user.AccessFailedCount > 0 {
		if err := m.resetFailedAttempts(ctx, user); err != nil {
			m.log.Error("failed to reset failed attempts", zap.Error(err))
		}
	}
	return user, nil
}

func (m *Manager[K]) recordFailedAttempt(ctx context.Context, user *identity.User[K]) error {
	ls, err := m.lockouts()
	if err != nil {
		return err
	}
	count, err := ls.IncrementAccessFailedCount(ctx, user, m.policy())
	if err != nil {
		return err
	}
	if user.LockoutEnd != nil {
		m.log.Warn("account locked",
			zap.String("user", user.NormalizedUserName),
			zap.Int("failed_count", count),
			zap.Time("lockout_end", *user.LockoutEnd))
	}
	return m.store.UpdateUser(ctx, user)
}

func (m *Manager[K]) resetFailedAttempts(ctx context.Context, user *identity.User[K]) error {
	ls, err := m.lockouts()
	if err != nil {
		return err
	}
	if err := ls.ResetAccessFailedCount(ctx, user); err != nil {
		return err
	}
	return m.store.UpdateUser(ctx, user)
}

// SetPassword rehashes and persists. The store rotates the security stamp
// as part of SetPasswordHash.
func (m *Manager[K]) SetPassword(ctx context.Context, user *identity.User[K], password string) error {
	ps, err := m.passwords()
	if err != nil {
		return err
	}
	hash, err := m.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := ps.SetPasswordHash(ctx, user, hash); err != nil {
		return err
	}
	return m.store.UpdateUser(ctx, user)
}

// RefreshSecurityStamp invalidates cached credential state everywhere.
func (m *Manager[K]) RefreshSecurityStamp(ctx context.Context, user *identity.User[K]) error {
	ss, err := m.stamps()
	if err != nil {
		return err
	}
	if err := ss.SetSecurityStamp(ctx, user, m.newStamp()); err != nil {
		return err
	}
	return m.store.UpdateUser(ctx, user)
}

func (m *Manager[K]) AddClaims(ctx context.Context, user *identity.User[K], claims []identity.Claim) error {
	cs, err := m.claims()
	if err != nil {
		return err
	}
	return cs.AddClaims(ctx, user, claims)
}

func (m *Manager[K]) GetClaims(ctx context.Context, user *identity.User[K]) ([]identity.Claim, error) {
	cs, err := m.claims()
	if err != nil {
		return nil, err
	}
	return cs.GetClaims(ctx, user)
}

func (m *Manager[K]) RemoveClaims(ctx context.Context, user *identity.User[K], claims []identity.Claim) error {
	cs, err := m.claims()
	if err != nil {
		return err
	}
	return cs.RemoveClaims(ctx, user, claims)
}

func (m *Manager[K]) UsersForClaim(ctx context.Context, claim identity.Claim) ([]*identity.User[K], error) {
	cs, err := m.claims()
	if err != nil {
		return nil, err
	}
	return cs.GetUsersForClaim(ctx, claim)
}

func (m *Manager[K]) AddLogin(ctx context.Context, user *identity.User[K], login identity.LoginInfo) error {
	ls, err := m.logins()
	if err != nil {
		return err
	}
	return ls.AddLogin(ctx, user, login)
}

func (m *Manager[K]) RemoveLogin(ctx context.Context, user *identity.User[K], provider, providerKey string) error {
	ls, err := m.logins()
	if err != nil {
		return err
	}
	return ls.RemoveLogin(ctx, user, provider, providerKey)
}

func (m *Manager[K]) FindByLogin(ctx context.Context, provider, providerKey string) (*identity.User[K], error) {
	ls, err := m.logins()
	if err != nil {
		return nil, err
	}
	return ls.FindUserByLogin(ctx, provider, providerKey)
}

// CreateRole creates a role with a normalized name; roles are never created
// implicitly by membership operations.
func (m *Manager[K]) CreateRole(ctx context.Context, name string) (*identity.Role[K], error) {
	rs, err := m.roles()
	if err != nil {
		return nil, err
	}
	role := &identity.Role[K]{
		Name:           name,
		NormalizedName: m.normalize(name),
	}
	if err := rs.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func (m *Manager[K]) AddToRole(ctx context.Context, user *identity.User[K], roleName string) error {
	urs, err := m.userRoles()
	if err != nil {
		return err
	}
	return urs.AddToRole(ctx, user, m.normalize(roleName))
}

func (m *Manager[K]) RemoveFromRole(ctx context.Context, user *identity.User[K], roleName string) error {
	urs, err := m.userRoles()
	if err != nil {
		return err
	}
	return urs.RemoveFromRole(ctx, user, m.normalize(roleName))
}

func (m *Manager[K]) IsInRole(ctx context.Context, user *identity.User[K], roleName string) (bool, error) {
	urs, err := m.userRoles()
	if err != nil {
		return false, err
	}
	return urs.IsInRole(ctx, user, m.normalize(roleName))
}

func (m *Manager[K]) Roles(ctx context.Context, user *identity.User[K]) ([]string, error) {
	urs, err := m.userRoles()
	if err != nil {
		return nil, err
	}
	return urs.GetRoles(ctx, user)
}

// ChangeEmail updates the address and clears the confirmed flag; the store
// leaves that policy to us.
func (m *Manager[K]) ChangeEmail(ctx context.Context, user *identity.User[K], email string) error {
	es, err := m.emails()
	if err != nil {
		return err
	}
	if err := es.SetEmail(ctx, user, email); err != nil {
		return err
	}
	user.NormalizedEmail = m.normalize(email)
	if err := es.SetEmailConfirmed(ctx, user, false); err != nil {
		return err
	}
	return m.store.UpdateUser(ctx, user)
}

func (m *Manager[K]) ConfirmEmail(ctx context.Context, user *identity.User[K]) error {
	es, err := m.emails()
	if err != nil {
		return err
	}
	if err := es.SetEmailConfirmed(ctx, user, true); err != nil {
		return err
	}
	return m.store.UpdateUser(ctx, user)
}

func (m *Manager[K]) ChangePhoneNumber(ctx context.Context, user *identity.User[K], phone string) error {
	ps, err := m.phones()
	if err != nil {
		return err
	}
	if err := ps.SetPhoneNumber(ctx, user, phone); err != nil {
		return err
	}
	if err := ps.SetPhoneNumberConfirmed(ctx, user, false); err != nil {
		return err
	}
	return m.store.UpdateUser(ctx, user)
}

func (m *Manager[K]) SetTwoFactorEnabled(ctx context.Context, user *identity.User[K], enabled bool) error {
	ts, ok := m.store.(store.TwoFactorStore[K])
	if !ok {
		return fmt.Errorf("two factor: %w", store.ErrUnsupported)
	}
	if err := ts.SetTwoFactorEnabled(ctx, user, enabled); err != nil {
		return err
	}
	return m.store.UpdateUser(ctx, user)
}
