package recipe

import (
	"github.com/spec-kit/identity-import/internal/domain"
)

type webauthnEngine struct{}

// NewWebauthnEngine builds the WebAuthn recipe engine.
func NewWebauthnEngine() Engine {
	return &webauthnEngine{}
}

func (e *webauthnEngine) RecipeID() domain.RecipeID {
	return domain.RecipeWebauthn
}

func (e *webauthnEngine) ValidateMethod(method domain.LoginMethod) []string {
	var violations []string
	if method.Email == nil || *method.Email == "" {
		violations = append(violations, "email is required for a webauthn login method")
	}
	if method.Webauthn == nil || method.Webauthn.CredentialID == "" || method.Webauthn.PublicKey == "" {
		violations = append(violations, "webauthn credential with credentialId and publicKey is required")
	}
	return violations
}

func (e *webauthnEngine) BuildAccount(method domain.LoginMethod) (*domain.AuthAccount, error) {
	account := baseAccount(method)
	wa := *method.Webauthn
	account.Webauthn = &wa
	return account, nil
}
