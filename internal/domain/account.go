package domain

// AuthAccount is one recipe-level account materialized by an import, stored in
// a single storage pool and visible on a set of tenants within that pool.
type AuthAccount struct {
	ID               string
	PoolID           string
	RecipeID         RecipeID
	TenantIDs        []string
	Email            *string
	PhoneNumber      *string
	PasswordHash     *string
	HashingAlgorithm *string
	ThirdParty       *ThirdPartyInfo
	Webauthn         *WebauthnInfo
	IsVerified       bool
	IsPrimary        bool
	PrimaryUserID    *string
	TimeJoined       int64
}

// OnTenant reports whether the account is enabled on the given tenant.
func (a *AuthAccount) OnTenant(tenantID string) bool {
	for _, t := range a.TenantIDs {
		if t == tenantID {
			return true
		}
	}
	return false
}

// SharesTenantWith reports whether both accounts are enabled on at least one
// common tenant.
func (a *AuthAccount) SharesTenantWith(other *AuthAccount) bool {
	for _, t := range other.TenantIDs {
		if a.OnTenant(t) {
			return true
		}
	}
	return false
}

// BatchOutcome maps an ImportUser id to the primary account produced for it.
type BatchOutcome map[string]string
