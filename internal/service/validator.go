package service

import (
	"context"
	"fmt"

	"github.com/spec-kit/identity-import/internal/domain"
	"github.com/spec-kit/identity-import/internal/recipe"
	"github.com/spec-kit/identity-import/internal/repository"
	apperrors "github.com/spec-kit/identity-import/pkg/util/errorutil"
)

// Validator checks raw import records for structural correctness before
// admission. It is a pure check: it rejects records that cannot possibly be
// imported and reports every violated field at once.
type Validator struct {
	tenants repository.TenantRegistry
	recipes *recipe.Registry
}

// NewValidator builds the validator.
func NewValidator(tenants repository.TenantRegistry, recipes *recipe.Registry) *Validator {
	return &Validator{tenants: tenants, recipes: recipes}
}

// Validate returns nil when the record is admissible, or a validation error
// enumerating every violation. It never partial-accepts a record.
func (v *Validator) Validate(ctx context.Context, app domain.AppIdentifier, user domain.ImportUser) error {
	var violations []string

	if len(user.LoginMethods) == 0 {
		violations = append(violations, "at least one login method is required")
	}

	primaryFlags := 0
	pools := make(map[string]bool)
	for i, method := range user.LoginMethods {
		if method.IsPrimary {
			primaryFlags++
		}

		if !v.recipes.Known(method.RecipeID) {
			violations = append(violations, fmt.Sprintf("loginMethods[%d]: unknown recipe %q", i, method.RecipeID))
			continue
		}
		engine, err := v.recipes.Get(method.RecipeID)
		if err != nil {
			return err
		}
		for _, msg := range engine.ValidateMethod(method) {
			violations = append(violations, fmt.Sprintf("loginMethods[%d]: %s", i, msg))
		}

		if len(method.TenantIDs) == 0 {
			violations = append(violations, fmt.Sprintf("loginMethods[%d]: at least one tenantId is required", i))
		}
		methodPools := make(map[string]bool)
		for _, tenantID := range method.TenantIDs {
			exists, err := v.tenants.TenantExists(ctx, app, tenantID)
			if err != nil {
				return err
			}
			if !exists {
				violations = append(violations, fmt.Sprintf("loginMethods[%d]: tenant %q does not exist", i, tenantID))
				continue
			}
			poolID, err := v.tenants.PoolFor(ctx, app, tenantID)
			if err != nil {
				return err
			}
			methodPools[poolID] = true
			pools[poolID] = true
		}
		if len(methodPools) > 1 {
			violations = append(violations, fmt.Sprintf("loginMethods[%d]: tenants must share one storage pool", i))
		}
	}

	if primaryFlags > 1 {
		violations = append(violations, "at most one login method may be flagged as primary")
	}
	// Linked accounts live in a single pool; a record whose login methods
	// span pools could never be linked into one identity.
	if len(user.LoginMethods) > 1 && len(pools) > 1 {
		violations = append(violations, "login methods of one user must share one storage pool")
	}

	for _, role := range user.Roles {
		exists, err := v.tenants.RoleExists(ctx, app, role)
		if err != nil {
			return err
		}
		if !exists {
			violations = append(violations, fmt.Sprintf("role %q does not exist", role))
		}
	}

	if len(violations) > 0 {
		return apperrors.NewValidationError("import user validation failed", map[string]any{"errors": violations})
	}
	return nil
}
