package store

// Capability names an independently implementable subset of the storage
// contract. Discovery is structural: a backend supports a capability exactly
// when it satisfies the matching interface, no declaration required.
type Capability string

const (
	CapabilityUsers          Capability = "users"
	CapabilityRoles          Capability = "roles"
	CapabilityPassword       Capability = "password"
	CapabilitySecurityStamp  Capability = "security_stamp"
	CapabilityClaims         Capability = "claims"
	CapabilityLogins         Capability = "logins"
	CapabilityUserRoles      Capability = "user_roles"
	CapabilityLockout        Capability = "lockout"
	CapabilityTwoFactor      Capability = "two_factor"
	CapabilityEmail          Capability = "email"
	CapabilityPhone          Capability = "phone"
	CapabilityTokens         Capability = "tokens"
	CapabilityQueryableUsers Capability = "queryable_users"
	CapabilityQueryableRoles Capability = "queryable_roles"
)

func is[T any](s any) bool {
	_, ok := s.(T)
	return ok
}

// Capabilities probes a backend and returns every capability it supports.
// The baseline is always present since the argument satisfies UserStore.
func Capabilities[K comparable](s UserStore[K]) []Capability {
	probes := []struct {
		cap Capability
		ok  bool
	}{
		{CapabilityUsers, true},
		{CapabilityRoles, is[RoleStore[K]](s)},
		{CapabilityPassword, is[PasswordStore[K]](s)},
		{CapabilitySecurityStamp, is[SecurityStampStore[K]](s)},
		{CapabilityClaims, is[ClaimStore[K]](s)},
		{CapabilityLogins, is[LoginStore[K]](s)},
		{CapabilityUserRoles, is[UserRoleStore[K]](s)},
		{CapabilityLockout, is[LockoutStore[K]](s)},
		{CapabilityTwoFactor, is[TwoFactorStore[K]](s)},
		{CapabilityEmail, is[EmailStore[K]](s)},
		{CapabilityPhone, is[PhoneStore[K]](s)},
		{CapabilityTokens, is[TokenStore[K]](s)},
		{CapabilityQueryableUsers, is[QueryableUserStore[K]](s)},
		{CapabilityQueryableRoles, is[QueryableRoleStore[K]](s)},
	}

	caps := make([]Capability, 0, len(probes))
	for _, p := range probes {
		if p.ok {
			caps = append(caps, p.cap)
		}
	}
	return caps
}

// Supports reports whether the backend implements a single capability.
// A missing capability is not an error at probe time; invoking its
// operations is what fails, with ErrUnsupported.
func Supports[K comparable](s UserStore[K], c Capability) bool {
	for _, have := range Capabilities(s) {
		if have == c {
			return true
		}
	}
	return false
}
