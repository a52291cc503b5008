package domain

// PublicTenantID is the default tenant present in every app.
const PublicTenantID = "public"

// DefaultAppID is the app used when a caller does not scope requests.
const DefaultAppID = "public"

// AppIdentifier scopes queue records; an app may contain many tenants.
type AppIdentifier struct {
	AppID string
}

// NewAppIdentifier normalizes an app id, defaulting empty to the public app.
func NewAppIdentifier(appID string) AppIdentifier {
	if appID == "" {
		appID = DefaultAppID
	}
	return AppIdentifier{AppID: appID}
}

// TenantIdentifier scopes account operations to one tenant of an app.
type TenantIdentifier struct {
	AppID    string
	TenantID string
}

// Tenant builds a tenant identifier under this app.
func (a AppIdentifier) Tenant(tenantID string) TenantIdentifier {
	return TenantIdentifier{AppID: a.AppID, TenantID: tenantID}
}
