// Package memory provides the reference in-memory backend. It implements
// every capability and honors the same contract as a real database: entities
// are deep-copied on the way in and out, so optimistic concurrency conflicts
// are observable instead of being papered over by shared pointers.
package memory

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/elskow/idstore/internal/identity"
	"github.com/elskow/idstore/internal/store"
)

type loginKey struct {
	provider    string
	providerKey string
}

type loginRecord[K comparable] struct {
	userID      K
	displayName string
}

type tokenKey[K comparable] struct {
	userID   K
	provider string
	name     string
}

type membership[K comparable] struct {
	userID K
	roleID K
}

// Store keeps everything in maps guarded by a single mutex. Locks are held
// per call only; cross-request consistency relies on the concurrency stamp,
// exactly as with a database backend.
type Store[K comparable] struct {
	store.FieldStore[K]

	newKey func() K
	stamps store.StampSource

	mu          sync.RWMutex
	users       map[K]*identity.User[K]
	usersByName map[string]K
	roles       map[K]*identity.Role[K]
	rolesByName map[string]K
	claims      map[K][]identity.Claim
	logins      map[loginKey]loginRecord[K]
	memberships map[membership[K]]struct{}
	tokens      map[tokenKey[K]]string
}

// New builds a Store. newKey assigns entity IDs on create; stamps supplies
// concurrency and security stamp values.
func New[K comparable](newKey func() K, stamps store.StampSource) *Store[K] {
	return &Store[K]{
		FieldStore:  store.NewFieldStore[K](stamps),
		newKey:      newKey,
		stamps:      stamps,
		users:       make(map[K]*identity.User[K]),
		usersByName: make(map[string]K),
		roles:       make(map[K]*identity.Role[K]),
		rolesByName: make(map[string]K),
		claims:      make(map[K][]identity.Claim),
		logins:      make(map[loginKey]loginRecord[K]),
		memberships: make(map[membership[K]]struct{}),
		tokens:      make(map[tokenKey[K]]string),
	}
}

func cloneUser[K comparable](u *identity.User[K]) *identity.User[K] {
	c := *u
	if u.LockoutEnd != nil {
		end := *u.LockoutEnd
		c.LockoutEnd = &end
	}
	return &c
}

func cloneRole[K comparable](r *identity.Role[K]) *identity.Role[K] {
	c := *r
	return &c
}

func (s *Store[K]) CreateUser(ctx context.Context, user *identity.User[K]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var zero K
	if user.ID == zero {
		user.ID = s.newKey()
	}
	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("user id already taken: %w", store.ErrConflict)
	}
	if _, exists := s.usersByName[user.NormalizedUserName]; exists {
		return fmt.Errorf("user name %q already taken: %w", user.NormalizedUserName, store.ErrConflict)
	}

	now := time.Now()
	user.ConcurrencyStamp = s.stamps()
	user.AccessFailedCount = 0
	user.CreatedAt = now
	user.UpdatedAt = now

	s.users[user.ID] = cloneUser(user)
	s.usersByName[user.NormalizedUserName] = user.ID
	return nil
}

func (s *Store[K]) UpdateUser(ctx context.Context, user *identity.User[K]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.users[user.ID]
	if !exists {
		return fmt.Errorf("update user: %w", store.ErrNotFound)
	}
	if current.ConcurrencyStamp != user.ConcurrencyStamp {
		return fmt.Errorf("update user: %w", store.ErrConcurrency)
	}
	if user.NormalizedUserName != current.NormalizedUserName {
		if _, taken := s.usersByName[user.NormalizedUserName]; taken {
			return fmt.Errorf("user name %q already taken: %w", user.NormalizedUserName, store.ErrConflict)
		}
		delete(s.usersByName, current.NormalizedUserName)
		s.usersByName[user.NormalizedUserName] = user.ID
	}

	user.ConcurrencyStamp = s.stamps()
	user.UpdatedAt = time.Now()
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *Store[K]) DeleteUser(ctx context.Context, user *identity.User[K]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.users[user.ID]
	if !exists {
		return fmt.Errorf("delete user: %w", store.ErrNotFound)
	}

	delete(s.users, user.ID)
	delete(s.usersByName, current.NormalizedUserName)
	delete(s.claims, user.ID)
	for key, rec := range s.logins {
		if rec.userID == user.ID {
			delete(s.logins, key)
		}
	}
	for m := range s.memberships {
		if m.userID == user.ID {
			delete(s.memberships, m)
		}
	}
	for key := range s.tokens {
		if key.userID == user.ID {
			delete(s.tokens, key)
		}
	}
	return nil
}

func (s *Store[K]) FindUserByID(ctx context.Context, id K) (*identity.User[K], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[id]
	if !exists {
		return nil, nil
	}
	return cloneUser(user), nil
}

func (s *Store[K]) FindUserByName(ctx context.Context, normalizedName string) (*identity.User[K], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.usersByName[normalizedName]
	if !exists {
		return nil, nil
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store[K]) FindUserByEmail(ctx context.Context, normalizedEmail string) (*identity.User[K], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.NormalizedEmail == normalizedEmail {
			return cloneUser(user), nil
		}
	}
	return nil, nil
}

func (s *Store[K]) CreateRole(ctx context.Context, role *identity.Role[K]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var zero K
	if role.ID == zero {
		role.ID = s.newKey()
	}
	if _, exists := s.roles[role.ID]; exists {
		return fmt.Errorf("role id already taken: %w", store.ErrConflict)
	}
	if _, exists := s.rolesByName[role.NormalizedName]; exists {
		return fmt.Errorf("role name %q already taken: %w", role.NormalizedName, store.ErrConflict)
	}

	now := time.Now()
	role.ConcurrencyStamp = s.stamps()
	role.CreatedAt = now
	role.UpdatedAt = now

	s.roles[role.ID] = cloneRole(role)
	s.rolesByName[role.NormalizedName] = role.ID
	return nil
}

func (s *Store[K]) UpdateRole(ctx context.Context, role *identity.Role[K]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.roles[role.ID]
	if !exists {
		return fmt.Errorf("update role: %w", store.ErrNotFound)
	}
	if current.ConcurrencyStamp != role.ConcurrencyStamp {
		return fmt.Errorf("update role: %w", store.ErrConcurrency)
	}
	if role.NormalizedName != current.NormalizedName {
		if _, taken := s.rolesByName[role.NormalizedName]; taken {
			return fmt.Errorf("role name %q already taken: %w", role.NormalizedName, store.ErrConflict)
		}
		delete(s.rolesByName, current.NormalizedName)
		s.rolesByName[role.NormalizedName] = role.ID
	}

	role.ConcurrencyStamp = s.stamps()
	role.UpdatedAt = time.Now()
	s.roles[role.ID] = cloneRole(role)
	return nil
}

func (s *Store[K]) DeleteRole(ctx context.Context, role *identity.Role[K]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.roles[role.ID]
	if !exists {
		return fmt.Errorf("delete role: %w", store.ErrNotFound)
	}

	delete(s.roles, role.ID)
	delete(s.rolesByName, current.NormalizedName)
	for m := range s.memberships {
		if m.roleID == role.ID {
			delete(s.memberships, m)
		}
	}
	return nil
}

func (s *Store[K]) FindRoleByID(ctx context.Context, id K) (*identity.Role[K], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	role, exists := s.roles[id]
	if !exists {
		return nil, nil
	}
	return cloneRole(role), nil
}

func (s *Store[K]) FindRoleByName(ctx context.Context, normalizedName string) (*identity.Role[K], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.rolesByName[normalizedName]
	if !exists {
		return nil, nil
	}
	return cloneRole(s.roles[id]), nil
}

func (s *Store[K]) GetClaims(ctx context.Context, user *identity.User[K]) ([]identity.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	claims := s.claims[user.ID]
	out := make([]identity.Claim, len(claims))
	copy(out, claims)
	return out, nil
}

func (s *Store[K]) AddClaims(ctx context.Context, user *identity.User[K], claims []identity.Claim) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; !exists {
		return fmt.Errorf("add claims: %w", store.ErrNotFound)
	}

	s.claims[user.ID] = append(s.claims[user.ID], claims...)
	return nil
}

func (s *Store[K]) ReplaceClaim(ctx context.Context, user *identity.User[K], oldClaim, newClaim identity.Claim) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	claims := s.claims[user.ID]
	for i, c := range claims {
		if c == oldClaim {
			claims[i] = newClaim
		}
	}
	return nil
}

func (s *Store[K]) RemoveClaims(ctx context.Context, user *identity.User[K], claims []identity.Claim) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	remove := make(map[identity.Claim]struct{}, len(claims))
	for _, c := range claims {
		remove[c] = struct{}{}
	}

	kept := s.claims[user.ID][:0]
	for _, c := range s.claims[user.ID] {
		if _, drop := remove[c]; !drop {
			kept = append(kept, c)
		}
	}
	s.claims[user.ID] = kept
	return nil
}

func (s *Store[K]) GetUsersForClaim(ctx context.Context, claim identity.Claim) ([]*identity.User[K], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []*identity.User[K]
	for id, claims := range s.claims {
		for _, c := range claims {
			if c == claim {
				users = append(users, cloneUser(s.users[id]))
				break
			}
		}
	}
	return users, nil
}

func (s *Store[K]) AddLogin(ctx context.Context, user *identity.User[K], login identity.LoginInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.users[user.ID]
	if !exists {
		return fmt.Errorf("add login: %w", store.ErrNotFound)
	}

	key := loginKey{provider: login.Provider, providerKey: login.ProviderKey}
	if _, bound := s.logins[key]; bound {
		return fmt.Errorf("login %s/%s already bound: %w", login.Provider, login.ProviderKey, store.ErrConflict)
	}

	s.logins[key] = loginRecord[K]{userID: user.ID, displayName: login.DisplayName}
	stored.SecurityStamp = s.stamps()
	user.SecurityStamp = stored.SecurityStamp
	return nil
}

func (s *Store[K]) RemoveLogin(ctx context.Context, user *identity.User[K], provider, providerKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := loginKey{provider: provider, providerKey: providerKey}
	rec, bound := s.logins[key]
	if !bound || rec.userID != user.ID {
		return nil
	}

	delete(s.logins, key)
	if stored, exists := s.users[user.ID]; exists {
		stored.SecurityStamp = s.stamps()
		user.SecurityStamp = stored.SecurityStamp
	}
	return nil
}

func (s *Store[K]) GetLogins(ctx context.Context, user *identity.User[K]) ([]identity.LoginInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var logins []identity.LoginInfo
	for key, rec := range s.logins {
		if rec.userID == user.ID {
			logins = append(logins, identity.LoginInfo{
				Provider:    key.provider,
				ProviderKey: key.providerKey,
				DisplayName: rec.displayName,
			})
		}
	}
	return logins, nil
}

func (s *Store[K]) FindUserByLogin(ctx context.Context, provider, providerKey string) (*identity.User[K], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, bound := s.logins[loginKey{provider: provider, providerKey: providerKey}]
	if !bound {
		return nil, nil
	}
	user, exists := s.users[rec.userID]
	if !exists {
		return nil, nil
	}
	return cloneUser(user), nil
}

func (s *Store[K]) AddToRole(ctx context.Context, user *identity.User[K], normalizedRoleName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; !exists {
		return fmt.Errorf("add to role: %w", store.ErrNotFound)
	}

	roleID, exists := s.rolesByName[normalizedRoleName]
	if !exists {
		return fmt.Errorf("role %q: %w", normalizedRoleName, store.ErrNotFound)
	}

	s.memberships[membership[K]{userID: user.ID, roleID: roleID}] = struct{}{}
	return nil
}

func (s *Store[K]) RemoveFromRole(ctx context.Context, user *identity.User[K], normalizedRoleName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	roleID, exists := s.rolesByName[normalizedRoleName]
	if !exists {
		return nil
	}
	delete(s.memberships, membership[K]{userID: user.ID, roleID: roleID})
	return nil
}

func (s *Store[K]) GetRoles(ctx context.Context, user *identity.User[K]) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for m := range s.memberships {
		if m.userID == user.ID {
			names = append(names, s.roles[m.roleID].Name)
		}
	}
	return names, nil
}

func (s *Store[K]) IsInRole(ctx context.Context, user *identity.User[K], normalizedRoleName string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	roleID, exists := s.rolesByName[normalizedRoleName]
	if !exists {
		return false, nil
	}
	_, member := s.memberships[membership[K]{userID: user.ID, roleID: roleID}]
	return member, nil
}

func (s *Store[K]) GetUsersInRole(ctx context.Context, normalizedRoleName string) ([]*identity.User[K], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	roleID, exists := s.rolesByName[normalizedRoleName]
	if !exists {
		return nil, nil
	}

	var users []*identity.User[K]
	for m := range s.memberships {
		if m.roleID == roleID {
			users = append(users, cloneUser(s.users[m.userID]))
		}
	}
	return users, nil
}

func (s *Store[K]) SetToken(ctx context.Context, user *identity.User[K], provider, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[tokenKey[K]{userID: user.ID, provider: provider, name: name}] = value
	return nil
}

func (s *Store[K]) GetToken(ctx context.Context, user *identity.User[K], provider, name string) (*identity.UserToken[K], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.tokens[tokenKey[K]{userID: user.ID, provider: provider, name: name}]
	if !exists {
		return nil, nil
	}
	return &identity.UserToken[K]{
		UserID:   user.ID,
		Provider: provider,
		Name:     name,
		Value:    value,
	}, nil
}

func (s *Store[K]) RemoveToken(ctx context.Context, user *identity.User[K], provider, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, tokenKey[K]{userID: user.ID, provider: provider, name: name})
	return nil
}

// AllUsers snapshots the user set under the read lock and yields clones.
// Each call re-scans, so the sequence is restartable.
func (s *Store[K]) AllUsers(ctx context.Context) iter.Seq2[*identity.User[K], error] {
	return func(yield func(*identity.User[K], error) bool) {
		s.mu.RLock()
		snapshot := make([]*identity.User[K], 0, len(s.users))
		for _, user := range s.users {
			snapshot = append(snapshot, cloneUser(user))
		}
		s.mu.RUnlock()

		for _, user := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(user, nil) {
				return
			}
		}
	}
}

func (s *Store[K]) AllRoles(ctx context.Context) iter.Seq2[*identity.Role[K], error] {
	return func(yield func(*identity.Role[K], error) bool) {
		s.mu.RLock()
		snapshot := make([]*identity.Role[K], 0, len(s.roles))
		for _, role := range s.roles {
			snapshot = append(snapshot, cloneRole(role))
		}
		s.mu.RUnlock()

		for _, role := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(role, nil) {
				return
			}
		}
	}
}

var (
	_ store.UserStore[string]          = (*Store[string])(nil)
	_ store.RoleStore[string]          = (*Store[string])(nil)
	_ store.PasswordStore[string]      = (*Store[string])(nil)
	_ store.SecurityStampStore[string] = (*Store[string])(nil)
	_ store.ClaimStore[string]         = (*Store[string])(nil)
	_ store.LoginStore[string]         = (*Store[string])(nil)
	_ store.UserRoleStore[string]      = (*Store[string])(nil)
	_ store.LockoutStore[string]       = (*Store[string])(nil)
	_ store.TwoFactorStore[string]     = (*Store[string])(nil)
	_ store.EmailStore[string]         = (*Store[string])(nil)
	_ store.PhoneStore[string]         = (*Store[string])(nil)
	_ store.TokenStore[string]         = (*Store[string])(nil)
	_ store.QueryableUserStore[string] = (*Store[string])(nil)
	_ store.QueryableRoleStore[string] = (*Store[string])(nil)
)
