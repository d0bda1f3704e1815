// Package gormstore implements the full capability suite on gorm with a
// postgres dialect. It expects the users, roles, user_claims, user_logins,
// user_roles and user_tokens tables to exist with the unique indexes the
// entity tags describe; schema management lives with the embedding
// application.
package gormstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/idstore/internal/identity"
	"github.com/elskow/idstore/internal/store"
)

type Store[K comparable] struct {
	store.FieldStore[K]

	db     *gorm.DB
	log    *zap.Logger
	newKey func() K
	stamps store.StampSource
}

// New builds a Store over an open gorm handle. The handle must be opened
// with TranslateError so uniqueness violations surface as
// gorm.ErrDuplicatedKey (see internal/database).
func New[K comparable](db *gorm.DB, log *zap.Logger, newKey func() K, stamps store.StampSource) *Store[K] {
	return &Store[K]{
		FieldStore: store.NewFieldStore[K](stamps),
		db:         db,
		log:        log,
		newKey:     newKey,
		stamps:     stamps,
	}
}

// translate maps driver errors onto the store taxonomy. Context errors and
// taxonomy sentinels pass through; anything else is a transient backend
// failure the caller may retry.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrConcurrency):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrConflict
	default:
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
}

func (s *Store[K]) CreateUser(ctx context.Context, user *identity.User[K]) error {
	var zero K
	if user.ID == zero {
		user.ID = s.newKey()
	}
	user.ConcurrencyStamp = s.stamps()
	user.AccessFailedCount = 0

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", translate(err))
	}
	return nil
}

func (s *Store[K]) UpdateUser(ctx context.Context, user *identity.User[K]) error {
	prev := user.ConcurrencyStamp
	user.ConcurrencyStamp = s.stamps()

	res := s.db.WithContext(ctx).
		Model(&identity.User[K]{}).
		Where("id = ? AND concurrency_stamp = ?", user.ID, prev).
		Select("*").
		Omit("id", "created_at").
		Updates(user)
	if res.Error != nil {
		user.ConcurrencyStamp = prev
		return fmt.Errorf("update user: %w", translate(res.Error))
	}
	if res.RowsAffected == 0 {
		user.ConcurrencyStamp = prev
		var count int64
		if err := s.db.WithContext(ctx).Model(&identity.User[K]{}).Where("id = ?", user.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("update user: %w", translate(err))
		}
		if count == 0 {
			return fmt.Errorf("update user: %w", store.ErrNotFound)
		}
		s.log.Debug("concurrent update lost", zap.Any("user_id", user.ID))
		return fmt.Errorf("update user: %w", store.ErrConcurrency)
	}
	return nil
}

// DeleteUser removes the user and every relationship row it owns in one
// transaction; cascade is the store's responsibility.
func (s *Store[K]) DeleteUser(ctx context.Context, user *identity.User[K]) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&identity.UserClaim[K]{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&identity.UserLogin[K]{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&identity.UserRole[K]{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&identity.UserToken[K]{}).Error; err != nil {
			return err
		}

		res := tx.Where("id = ?", user.ID).Delete(&identity.User[K]{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete user: %w", translate(err))
	}
	return nil
}

func (s *Store[K]) FindUserByID(ctx context.Context, id K) (*identity.User[K], error) {
	var user identity.User[K]
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", translate(err))
	}
	return &user, nil
}

func (s *Store[K]) FindUserByName(ctx context.Context, normalizedName string) (*identity.User[K], error) {
	var user identity.User[K]
	err := s.db.WithContext(ctx).Where("normalized_user_name = ?", normalizedName).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by name: %w", translate(err))
	}
	return &user, nil
}

func (s *Store[K]) FindUserByEmail(ctx context.Context, normalizedEmail string) (*identity.User[K], error) {
	var user identity.User[K]
	err := s.db.WithContext(ctx).Where("normalized_email = ?", normalizedEmail).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", translate(err))
	}
	return &user, nil
}

func (s *Store[K]) CreateRole(ctx context.Context, role *identity.Role[K]) error {
	var zero K
	if role.ID == zero {
		role.ID = s.newKey()
	}
	role.ConcurrencyStamp = s.stamps()

	if err := s.db.WithContext(ctx).Create(role).Error; err != nil {
		return fmt.Errorf("create role: %w", translate(err))
	}
	return nil
}

func (s *Store[K]) UpdateRole(ctx context.Context, role *identity.Role[K]) error {
	prev := role.ConcurrencyStamp
	role.ConcurrencyStamp = s.stamps()

	res := s.db.WithContext(ctx).
		Model(&identity.Role[K]{}).
		Where("id = ? AND concurrency_stamp = ?", role.ID, prev).
		Select("*").
		Omit("id", "created_at").
		Updates(role)
	if res.Error != nil {
		role.ConcurrencyStamp = prev
		return fmt.Errorf("update role: %w", translate(res.Error))
	}
	if res.RowsAffected == 0 {
		role.ConcurrencyStamp = prev
		var count int64
		if err := s.db.WithContext(ctx).Model(&identity.Role[K]{}).Where("id = ?", role.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("update role: %w", translate(err))
		}
		if count == 0 {
			return fmt.Errorf("update role: %w", store.ErrNotFound)
		}
		return fmt.Errorf("update role: %w", store.ErrConcurrency)
	}
	return nil
}

func (s *Store[K]) DeleteRole(ctx context.Context, role *identity.Role[K]) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("role_id = ?", role.ID).Delete(&identity.UserRole[K]{}).Error; err != nil {
			return err
		}

		res := tx.Where("id = ?", role.ID).Delete(&identity.Role[K]{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete role: %w", translate(err))
	}
	return nil
}

func (s *Store[K]) FindRoleByID(ctx context.Context, id K) (*identity.Role[K], error) {
	var role identity.Role[K]
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find role by id: %w", translate(err))
	}
	return &role, nil
}

func (s *Store[K]) FindRoleByName(ctx context.Context, normalizedName string) (*identity.Role[K], error) {
	var role identity.Role[K]
	err := s.db.WithContext(ctx).Where("normalized_name = ?", normalizedName).First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find role by name: %w", translate(err))
	}
	return &role, nil
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
