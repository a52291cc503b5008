package recipe

import (
	"github.com/spec-kit/identity-import/internal/domain"
)

type passwordlessEngine struct{}

// NewPasswordlessEngine builds the passwordless recipe engine.
func NewPasswordlessEngine() Engine {
	return &passwordlessEngine{}
}

func (e *passwordlessEngine) RecipeID() domain.RecipeID {
	return domain.RecipePasswordless
}

func (e *passwordlessEngine) ValidateMethod(method domain.LoginMethod) []string {
	hasEmail := method.Email != nil && *method.Email != ""
	hasPhone := method.PhoneNumber != nil && *method.PhoneNumber != ""
	if !hasEmail && !hasPhone {
		return []string{"either email or phoneNumber is required for a passwordless login method"}
	}
	return nil
}

func (e *passwordlessEngine) BuildAccount(method domain.LoginMethod) (*domain.AuthAccount, error) {
	return baseAccount(method), nil
}
