package recipe

import (
	"github.com/spec-kit/identity-import/internal/auth"
	"github.com/spec-kit/identity-import/internal/domain"
)

type emailPasswordEngine struct {
	hasher auth.PasswordHasher
}

// NewEmailPasswordEngine builds the password-recipe engine. Plaintext
// passwords are hashed with the app's configured hasher at import time.
func NewEmailPasswordEngine(hasher auth.PasswordHasher) Engine {
	return &emailPasswordEngine{hasher: hasher}
}

func (e *emailPasswordEngine) RecipeID() domain.RecipeID {
	return domain.RecipeEmailPassword
}

func (e *emailPasswordEngine) ValidateMethod(method domain.LoginMethod) []string {
	var violations []string
	if method.Email == nil || *method.Email == "" {
		violations = append(violations, "email is required for an emailpassword login method")
	}
	hasHash := method.PasswordHash != nil && *method.PasswordHash != ""
	hasPlain := method.PlainTextPassword != nil && *method.PlainTextPassword != ""
	if hasHash == hasPlain {
		violations = append(violations, "exactly one of passwordHash and plainTextPassword is required")
	}
	if hasHash && (method.HashingAlgorithm == nil || *method.HashingAlgorithm == "") {
		violations = append(violations, "hashingAlgorithm is required when passwordHash is set")
	}
	return violations
}

func (e *emailPasswordEngine) BuildAccount(method domain.LoginMethod) (*domain.AuthAccount, error) {
	account := baseAccount(method)

	if method.PlainTextPassword != nil && *method.PlainTextPassword != "" {
		hash, err := e.hasher.Hash(*method.PlainTextPassword)
		if err != nil {
			return nil, err
		}
		algorithm := e.hasher.Algorithm()
		account.PasswordHash = &hash
		account.HashingAlgorithm = &algorithm
		return account, nil
	}

	account.PasswordHash = method.PasswordHash
	account.HashingAlgorithm = method.HashingAlgorithm
	return account, nil
}
