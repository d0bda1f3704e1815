package store

import (
	"context"
	"time"

	"github.com/elskow/idstore/internal/identity"
)

// FieldStore implements the pure field capabilities over the entity itself.
// Setters mutate the user in place; a later UpdateUser call persists the
// result. Backends embed it so the field semantics stay identical across
// implementations.
type FieldStore[K comparable] struct {
	stamps StampSource
}

// NewFieldStore builds a FieldStore around the caller's stamp source. The
// source is used wherever the contract demands a fresh SecurityStamp as a
// side effect, keeping randomness policy outside the store.
func NewFieldStore[K comparable](stamps StampSource) FieldStore[K] {
	return FieldStore[K]{stamps: stamps}
}

// RotateSecurityStamp stamps the user with a fresh value from the source.
// Exposed for backends whose relationship operations (logins) must rotate
// the stamp as well.
func (s FieldStore[K]) RotateSecurityStamp(user *identity.User[K]) string {
	user.SecurityStamp = s.stamps()
	return user.SecurityStamp
}

func (s FieldStore[K]) GetPasswordHash(ctx context.Context, user *identity.User[K]) (string, error) {
	return user.PasswordHash, nil
}

func (s FieldStore[K]) SetPasswordHash(ctx context.Context, user *identity.User[K], hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	user.PasswordHash = hash
	s.RotateSecurityStamp(user)
	return nil
}

func (s FieldStore[K]) HasPassword(ctx context.Context, user *identity.User[K]) (bool, error) {
	return user.PasswordHash != "", nil
}

func (s FieldStore[K]) GetSecurityStamp(ctx context.Context, user *identity.User[K]) (string, error) {
	return user.SecurityStamp, nil
}

func (s FieldStore[K]) SetSecurityStamp(ctx context.Context, user *identity.User[K], stamp string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	user.SecurityStamp = stamp
	return nil
}

// IncrementAccessFailedCount bumps the counter and, once it reaches the
// policy threshold on a lockout-enabled user, opens the lockout window.
func (s FieldStore[K]) IncrementAccessFailedCount(ctx context.Context, user *identity.User[K], policy LockoutPolicy) (int, error) {
	if err := ctx.Err(); err != nil {
		return user.AccessFailedCount, err
	}
	user.AccessFailedCount++
	if user.LockoutEnabled && policy.Threshold > 0 && user.AccessFailedCount >= policy.Threshold {
		end := time.Now().Add(policy.Duration)
		user.LockoutEnd = &end
	}
	return user.AccessFailedCount, nil
}

func (s FieldStore[K]) ResetAccessFailedCount(ctx context.Context, user *identity.User[K]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	user.AccessFailedCount = 0
	return nil
}

func (s FieldStore[K]) GetLockoutEnd(ctx context.Context, user *identity.User[K]) (*time.Time, error) {
	return user.LockoutEnd, nil
}

func (s FieldStore[K]) SetLockoutEnd(ctx context.Context, user *identity.User[K], end *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	user.LockoutEnd = end
	return nil
}

func (s FieldStore[K]) GetLockoutEnabled(ctx context.Context, user *identity.User[K]) (bool, error) {
	return user.LockoutEnabled, nil
}

func (s FieldStore[K]) SetLockoutEnabled(ctx context.Context, user *identity.User[K], enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	user.LockoutEnabled = enabled
	return nil
}

func (s FieldStore[K]) GetTwoFactorEnabled(ctx context.Context, user *identity.User[K]) (bool, error) {
	return user.TwoFactorEnabled, nil
}

func (s FieldStore[K]) SetTwoFactorEnabled(ctx context.Context, user *identity.User[K], enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	user.TwoFactorEnabled = enabled
	return nil
}

func (s FieldStore[K]) GetEmail(ctx context.Context, user *identity.User[K]) (string, error) {
	return user.Email, nil
}

// SetEmail stores the address as given. The confirmed flag is left alone;
// clearing it on change is the caller's policy.
func (s FieldStore[K]) SetEmail(ctx context.Context, user *identity.User[K], email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	user.Email = email
	return nil
}

func (s FieldStore[K]) GetEmailConfirmed(ctx context.Context, user *identity.User[K]) (bool, error) {
	return user.EmailConfirmed, nil
}

func (s FieldStore[K]) SetEmailConfirmed(ctx context.Context, user *identity.User[K], confirmed bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	user.EmailConfirmed = confirmed
	return nil
}

func (s FieldStore[K]) GetPhoneNumber(ctx context.Context, user *identity.User[K]) (string, error) {
	return user.PhoneNumber, nil
}

func (s FieldStore[K]) SetPhoneNumber(ctx context.Context, user *identity.User[K], phone string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	user.PhoneNumber = phone
	return nil
}

func (s FieldStore[K]) GetPhoneNumberConfirmed(ctx context.Context, user *identity.User[K]) (bool, error) {
	return user.PhoneNumberConfirmed, nil
}

func (s FieldStore[K]) SetPhoneNumberConfirmed(ctx context.Context, user *identity.User[K], confirmed bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	user.PhoneNumberConfirmed = confirmed
	return nil
}
