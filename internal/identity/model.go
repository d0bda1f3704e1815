package identity

import (
	"time"
)

// User is the core account record. The key type K is chosen by the backend;
// any comparable type works as long as the backend can persist it.
type User[K comparable] struct {
	ID                   K      `gorm:"primaryKey"`
	UserName             string `gorm:"not null"`
	NormalizedUserName   string `gorm:"uniqueIndex;not null"`
	PasswordHash         string
	SecurityStamp        string
	ConcurrencyStamp     string `gorm:"not null"`
	Email                string
	NormalizedEmail      string `gorm:"index"`
	EmailConfirmed       bool
	PhoneNumber          string
	PhoneNumberConfirmed bool
	TwoFactorEnabled     bool
	LockoutEnd           *time.Time
	LockoutEnabled       bool
	AccessFailedCount    int `gorm:"default:0"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (User[K]) TableName() string {
	return "users"
}

// IsLockedOut reports whether the account is locked at the given instant.
// An expired LockoutEnd is not cleared here; callers compare timestamps.
func (u *User[K]) IsLockedOut(now time.Time) bool {
	return u.LockoutEnd != nil && now.Before(*u.LockoutEnd)
}

type Role[K comparable] struct {
	ID               K      `gorm:"primaryKey"`
	Name             string `gorm:"not null"`
	NormalizedName   string `gorm:"uniqueIndex;not null"`
	ConcurrencyStamp string `gorm:"not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (Role[K]) TableName() string {
	return "roles"
}

// Claim is a (type, value) pair attached to a user. A user may hold the same
// claim more than once.
type Claim struct {
	Type  string
	Value string
}

// UserClaim is the persisted row behind a Claim.
type UserClaim[K comparable] struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	UserID     K      `gorm:"index;not null"`
	ClaimType  string `gorm:"not null"`
	ClaimValue string `gorm:"not null"`
}

func (UserClaim[K]) TableName() string {
	return "user_claims"
}

// LoginInfo identifies an external-provider identity.
type LoginInfo struct {
	Provider    string
	ProviderKey string
	DisplayName string
}

// UserLogin binds a (provider, key) pair to exactly one local user.
type UserLogin[K comparable] struct {
	Provider    string `gorm:"primaryKey;size:128"`
	ProviderKey string `gorm:"primaryKey;size:128"`
	UserID      K      `gorm:"index;not null"`
	DisplayName string
}

func (UserLogin[K]) TableName() string {
	return "user_logins"
}

// UserRole is the membership row of the user/role many-to-many relation.
type UserRole[K comparable] struct {
	UserID K `gorm:"primaryKey"`
	RoleID K `gorm:"primaryKey"`
}

func (UserRole[K]) TableName() string {
	return "user_roles"
}

// UserToken stores one named token per (user, provider, name).
type UserToken[K comparable] struct {
	UserID   K      `gorm:"primaryKey"`
	Provider string `gorm:"primaryKey;size:128"`
	Name     string `gorm:"primaryKey;size:128"`
	Value    string
}

func (UserToken[K]) TableName() string {
	return "user_tokens"
}
