package domain

import (
	"bytes"
	"encoding/json"
)

// ImportStatus represents lifecycle states for a queued import record.
type ImportStatus string

const (
	ImportStatusNew        ImportStatus = "NEW"
	ImportStatusProcessing ImportStatus = "PROCESSING"
	ImportStatusFailed     ImportStatus = "FAILED"
)

// RecipeID identifies the login method kind.
type RecipeID string

const (
	RecipeEmailPassword RecipeID = "emailpassword"
	RecipeThirdParty    RecipeID = "thirdparty"
	RecipePasswordless  RecipeID = "passwordless"
	RecipeWebauthn      RecipeID = "webauthn"
)

// ThirdPartyInfo identifies a third-party provider account.
type ThirdPartyInfo struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
}

// WebauthnInfo carries an imported WebAuthn credential descriptor.
type WebauthnInfo struct {
	CredentialID        string `json:"credentialId"`
	PublicKey           string `json:"publicKey"`
	RelyingPartyID      string `json:"rpId"`
	SignatureCount      int64  `json:"counter"`
	TransportsSupported string `json:"transports,omitempty"`
}

// LoginMethod is one authentication mechanism carried by an import record.
type LoginMethod struct {
	RecipeID          RecipeID        `json:"recipeId"`
	TenantIDs         []string        `json:"tenantIds"`
	Email             *string         `json:"email,omitempty"`
	PhoneNumber       *string         `json:"phoneNumber,omitempty"`
	PasswordHash      *string         `json:"passwordHash,omitempty"`
	HashingAlgorithm  *string         `json:"hashingAlgorithm,omitempty"`
	PlainTextPassword *string         `json:"plainTextPassword,omitempty"`
	ThirdParty        *ThirdPartyInfo `json:"thirdParty,omitempty"`
	Webauthn          *WebauthnInfo   `json:"webauthn,omitempty"`
	IsVerified        bool            `json:"isVerified"`
	IsPrimary         bool            `json:"isPrimary"`
	TimeJoined        int64           `json:"timeJoinedInMSSinceEpoch"`
}

// ImportUser is one record in the import queue, scoped to a single app.
type ImportUser struct {
	ID             string        `json:"id"`
	ExternalUserID *string       `json:"externalUserId,omitempty"`
	Status         ImportStatus  `json:"-"`
	CreatedAt      int64         `json:"-"`
	ErrorMessage   *string       `json:"-"`
	Roles          []string      `json:"userRoles,omitempty"`
	LoginMethods   []LoginMethod `json:"loginMethods"`

	// RawPayload is the canonical JSON captured at admission, kept for the
	// round-trip equality check before processing.
	RawPayload json.RawMessage `json:"-"`
}

// RawData returns the canonical JSON form of the record as it is persisted.
func (u ImportUser) RawData() ([]byte, error) {
	return json.Marshal(u)
}

// RawDataEquals reports whether the stored payload still describes this
// record. The comparison is structural: both sides are normalized through the
// struct encoding, so key reordering by the store (JSONB, repair rewrites)
// does not count as drift, while any changed field value does.
func (u ImportUser) RawDataEquals(stored []byte) bool {
	own, err := u.RawData()
	if err != nil {
		return false
	}
	var parsed ImportUser
	if err := json.Unmarshal(stored, &parsed); err != nil {
		return false
	}
	normalized, err := parsed.RawData()
	if err != nil {
		return false
	}
	return bytes.Equal(own, normalized)
}

// PrimaryLoginMethod returns the login method flagged as primary, falling back
// to the first supplied method.
func (u ImportUser) PrimaryLoginMethod() *LoginMethod {
	for i := range u.LoginMethods {
		if u.LoginMethods[i].IsPrimary {
			return &u.LoginMethods[i]
		}
	}
	if len(u.LoginMethods) == 0 {
		return nil
	}
	return &u.LoginMethods[0]
}

// ImportUserPage is one page of queue records plus the continuation cursor.
// NextPaginationToken is nil when no records exist beyond the page.
type ImportUserPage struct {
	Users               []ImportUser
	NextPaginationToken *string
}
