// Package recipe holds one engine per login-method kind. Engines validate the
// method's required fields and materialize a recipe account from it; creation
// and linking of the accounts is the import engine's job.
package recipe

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/identity-import/internal/domain"
)

// Engine is the contract a login-method kind exposes to the importer.
type Engine interface {
	RecipeID() domain.RecipeID

	// ValidateMethod returns one message per violated field. An empty slice
	// means the method can be imported.
	ValidateMethod(method domain.LoginMethod) []string

	// BuildAccount resolves the method into a recipe account, hashing
	// plaintext credentials where needed. Credential material is never
	// persisted in the clear.
	BuildAccount(method domain.LoginMethod) (*domain.AuthAccount, error)
}

func baseAccount(method domain.LoginMethod) *domain.AuthAccount {
	timeJoined := method.TimeJoined
	if timeJoined == 0 {
		timeJoined = time.Now().UnixMilli()
	}
	return &domain.AuthAccount{
		ID:          uuid.NewString(),
		RecipeID:    method.RecipeID,
		TenantIDs:   append([]string(nil), method.TenantIDs...),
		Email:       method.Email,
		PhoneNumber: method.PhoneNumber,
		IsVerified:  method.IsVerified,
		TimeJoined:  timeJoined,
	}
}
