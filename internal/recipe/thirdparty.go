package recipe

import (
	"github.com/spec-kit/identity-import/internal/domain"
)

type thirdPartyEngine struct{}

// NewThirdPartyEngine builds the third-party recipe engine.
func NewThirdPartyEngine() Engine {
	return &thirdPartyEngine{}
}

func (e *thirdPartyEngine) RecipeID() domain.RecipeID {
	return domain.RecipeThirdParty
}

func (e *thirdPartyEngine) ValidateMethod(method domain.LoginMethod) []string {
	var violations []string
	if method.Email == nil || *method.Email == "" {
		violations = append(violations, "email is required for a thirdparty login method")
	}
	if method.ThirdParty == nil || method.ThirdParty.ID == "" || method.ThirdParty.UserID == "" {
		violations = append(violations, "thirdParty.id and thirdParty.userId are required")
	}
	return violations
}

func (e *thirdPartyEngine) BuildAccount(method domain.LoginMethod) (*domain.AuthAccount, error) {
	account := baseAccount(method)
	tp := *method.ThirdParty
	account.ThirdParty = &tp
	return account, nil
}
