package gormstore

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/elskow/idstore/internal/identity"
	"github.com/elskow/idstore/internal/store"
)

func (s *Store[K]) GetClaims(ctx context.Context, user *identity.User[K]) ([]identity.Claim, error) {
	var rows []identity.UserClaim[K]
	if err := s.db.WithContext(ctx).Where("user_id = ?", user.ID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get claims: %w", translate(err))
	}

	claims := make([]identity.Claim, 0, len(rows))
	for _, row := range rows {
		claims = append(claims, identity.Claim{Type: row.ClaimType, Value: row.ClaimValue})
	}
	return claims, nil
}

func (s *Store[K]) AddClaims(ctx context.Context, user *identity.User[K], claims []identity.Claim) error {
	if len(claims) == 0 {
		return nil
	}

	rows := make([]identity.UserClaim[K], 0, len(claims))
	for _, c := range claims {
		rows = append(rows, identity.UserClaim[K]{
			UserID:     user.ID,
			ClaimType:  c.Type,
			ClaimValue: c.Value,
		})
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("add claims: %w", translate(err))
	}
	return nil
}

// ReplaceClaim rewrites every row matching the old (type, value) pair. No
// matching row means no-op, not an error.
func (s *Store[K]) ReplaceClaim(ctx context.Context, user *identity.User[K], oldClaim, newClaim identity.Claim) error {
	err := s.db.WithContext(ctx).
		Model(&identity.UserClaim[K]{}).
		Where("user_id = ? AND claim_type = ? AND claim_value = ?", user.ID, oldClaim.Type, oldClaim.Value).
		Updates(map[string]any{"claim_type": newClaim.Type, "claim_value": newClaim.Value}).Error
	if err != nil {
		return fmt.Errorf("replace claim: %w", translate(err))
	}
	return nil
}

func (s *Store[K]) RemoveClaims(ctx context.Context, user *identity.User[K], claims []identity.Claim) error {
	for _, c := range claims {
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND claim_type = ? AND claim_value = ?", user.ID, c.Type, c.Value).
			Delete(&identity.UserClaim[K]{}).Error
		if err != nil {
			return fmt.Errorf("remove claims: %w", translate(err))
		}
	}
	return nil
}

func (s *Store[K]) GetUsersForClaim(ctx context.Context, claim identity.Claim) ([]*identity.User[K], error) {
	var users []identity.User[K]
	err := s.db.WithContext(ctx).
		Joins("JOIN user_claims ON user_claims.user_id = users.id").
		Where("user_claims.claim_type = ? AND user_claims.claim_value = ?", claim.Type, claim.Value).
		Distinct("users.*").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("users for claim: %w", translate(err))
	}

	out := make([]*identity.User[K], 0, len(users))
	for i := range users {
		out = append(out, &users[i])
	}
	return out, nil
}

// AddLogin binds the (provider, key) pair to the user and rotates the
// security stamp on the user row in the same transaction.
func (s *Store[K]) AddLogin(ctx context.Context, user *identity.User[K], login identity.LoginInfo) error {
	stamp := s.stamps()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing identity.UserLogin[K]
		err := tx.Where("provider = ? AND provider_key = ?", login.Provider, login.ProviderKey).
			First(&existing).Error
		if err == nil {
			return fmt.Errorf("login %s/%s already bound: %w", login.Provider, login.ProviderKey, store.ErrConflict)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row := identity.UserLogin[K]{
			Provider:    login.Provider,
			ProviderKey: login.ProviderKey,
			UserID:      user.ID,
			DisplayName: login.DisplayName,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&identity.User[K]{}).
			Where("id = ?", user.ID).
			Update("security_stamp", stamp).Error
	})
	if err != nil {
		return fmt.Errorf("add login: %w", translate(err))
	}
	user.SecurityStamp = stamp
	return nil
}

func (s *Store[K]) RemoveLogin(ctx context.Context, user *identity.User[K], provider, providerKey string) error {
	stamp := s.stamps()
	removed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND provider = ? AND provider_key = ?", user.ID, provider, providerKey).
			Delete(&identity.UserLogin[K]{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		removed = true
		return tx.Model(&identity.User[K]{}).
			Where("id = ?", user.ID).
			Update("security_stamp", stamp).Error
	})
	if err != nil {
		return fmt.Errorf("remove login: %w", translate(err))
	}
	if removed {
		user.SecurityStamp = stamp
	}
	return nil
}

func (s *Store[K]) GetLogins(ctx context.Context, user *identity.User[K]) ([]identity.LoginInfo, error) {
	var rows []identity.UserLogin[K]
	if err := s.db.WithContext(ctx).Where("user_id = ?", user.ID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get logins: %w", translate(err))
	}

	logins := make([]identity.LoginInfo, 0, len(rows))
	for _, row := range rows {
		logins = append(logins, identity.LoginInfo{
			Provider:    row.Provider,
			ProviderKey: row.ProviderKey,
			DisplayName: row.DisplayName,
		})
	}
	return logins, nil
}

func (s *Store[K]) FindUserByLogin(ctx context.Context, provider, providerKey string) (*identity.User[K], error) {
	var user identity.User[K]
	err := s.db.WithContext(ctx).
		Joins("JOIN user_logins ON user_logins.user_id = users.id").
		Where("user_logins.provider = ? AND user_logins.provider_key = ?", provider, providerKey).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by login: %w", translate(err))
	}
	return &user, nil
}

func (s *Store[K]) AddToRole(ctx context.Context, user *identity.User[K], normalizedRoleName string) error {
	role, err := s.FindRoleByName(ctx, normalizedRoleName)
	if err != nil {
		return err
	}
	if role == nil {
		return fmt.Errorf("role %q: %w", normalizedRoleName, store.ErrNotFound)
	}

	row := identity.UserRole[K]{UserID: user.ID, RoleID: role.ID}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("add to role: %w", translate(err))
	}
	return nil
}

func (s *Store[K]) RemoveFromRole(ctx context.Context, user *identity.User[K], normalizedRoleName string) error {
	role, err := s.FindRoleByName(ctx, normalizedRoleName)
	if err != nil {
		return err
	}
	if role == nil {
		return nil
	}

	err = s.db.WithContext(ctx).
		Where("user_id = ? AND role_id = ?", user.ID, role.ID).
		Delete(&identity.UserRole[K]{}).Error
	if err != nil {
		return fmt.Errorf("remove from role: %w", translate(err))
	}
	return nil
}

func (s *Store[K]) GetRoles(ctx context.Context, user *identity.User[K]) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&identity.Role[K]{}).
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", user.ID).
		Pluck("roles.name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("get roles: %w", translate(err))
	}
	return names, nil
}

func (s *Store[K]) IsInRole(ctx context.Context, user *identity.User[K], normalizedRoleName string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&identity.UserRole[K]{}).
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("user_roles.user_id = ? AND roles.normalized_name = ?", user.ID, normalizedRoleName).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("is in role: %w", translate(err))
	}
	return count > 0, nil
}

func (s *Store[K]) GetUsersInRole(ctx context.Context, normalizedRoleName string) ([]*identity.User[K], error) {
	var users []identity.User[K]
	err := s.db.WithContext(ctx).
		Joins("JOIN user_roles ON user_roles.user_id = users.id").
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("roles.normalized_name = ?", normalizedRoleName).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("users in role: %w", translate(err))
	}

	out := make([]*identity.User[K], 0, len(users))
	for i := range users {
		out = append(out, &users[i])
	}
	return out, nil
}

func (s *Store[K]) SetToken(ctx context.Context, user *identity.User[K], provider, name, value string) error {
	row := identity.UserToken[K]{
		UserID:   user.ID,
		Provider: provider,
		Name:     name,
		Value:    value,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("set token: %w", translate(err))
	}
	return nil
}

func (s *Store[K]) GetToken(ctx context.Context, user *identity.User[K], provider, name string) (*identity.UserToken[K], error) {
	var row identity.UserToken[K]
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND name = ?", user.ID, provider, name).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", translate(err))
	}
	return &row, nil
}

func (s *Store[K]) RemoveToken(ctx context.Context, user *identity.User[K], provider, name string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND name = ?", user.ID, provider, name).
		Delete(&identity.UserToken[K]{}).Error
	if err != nil {
		return fmt.Errorf("remove token: %w", translate(err))
	}
	return nil
}

// errStopScan ends a FindInBatches scan early when the consumer stops
// iterating.
var errStopScan = errors.New("scan stopped")

const scanBatchSize = 100

// AllUsers streams the user table in batches. Each call starts a new scan.
func (s *Store[K]) AllUsers(ctx context.Context) iter.Seq2[*identity.User[K], error] {
	return func(yield func(*identity.User[K], error) bool) {
		var batch []identity.User[K]
		res := s.db.WithContext(ctx).FindInBatches(&batch, scanBatchSize, func(_ *gorm.DB, _ int) error {
			for i := range batch {
				user := batch[i]
				if !yield(&user, nil) {
					return errStopScan
				}
			}
			return nil
		})
		if res.Error != nil && !errors.Is(res.Error, errStopScan) {
			yield(nil, translate(res.Error))
		}
	}
}

func (s *Store[K]) AllRoles(ctx context.Context) iter.Seq2[*identity.Role[K], error] {
	return func(yield func(*identity.Role[K], error) bool) {
		var batch []identity.Role[K]
		res := s.db.WithContext(ctx).FindInBatches(&batch, scanBatchSize, func(_ *gorm.DB, _ int) error {
			for i := range batch {
				role := batch[i]
				if !yield(&role, nil) {
					return errStopScan
				}
			}
			return nil
		})
		if res.Error != nil && !errors.Is(res.Error, errStopScan) {
			yield(nil, translate(res.Error))
		}
	}
}
