package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/identity-import/internal/config"
	"github.com/spec-kit/identity-import/internal/domain"
	"github.com/spec-kit/identity-import/internal/recipe"
	"github.com/spec-kit/identity-import/internal/repository"
	apperrors "github.com/spec-kit/identity-import/pkg/util/errorutil"
)

// LinkEngine materializes one import record into linked recipe accounts: one
// account per login method, the first-created (or flagged) one becoming the
// primary identity, the rest linked to it. A user's import is all-or-nothing:
// any failure rolls back every account created for that user.
type LinkEngine struct {
	accounts repository.AccountRepository
	tenants  repository.TenantRegistry
	recipes  *recipe.Registry
	caps     config.Capabilities
	logger   *zap.Logger
}

// NewLinkEngine builds the engine. Capability flags are passed in explicitly
// rather than read from ambient process state.
func NewLinkEngine(
	accounts repository.AccountRepository,
	tenants repository.TenantRegistry,
	recipes *recipe.Registry,
	caps config.Capabilities,
	logger *zap.Logger,
) *LinkEngine {
	return &LinkEngine{accounts: accounts, tenants: tenants, recipes: recipes, caps: caps, logger: logger}
}

type createdAccount struct {
	account *domain.AuthAccount
	poolID  string
}

// ImportUser imports one record and returns the primary account id. Errors
// carrying a DomainError code (E003, E027, validation) are logical
// rejections; anything else means the attempt could not complete and may be
// retried.
func (e *LinkEngine) ImportUser(ctx context.Context, app domain.AppIdentifier, user domain.ImportUser) (string, error) {
	if len(user.LoginMethods) == 0 {
		return "", apperrors.NewValidationError("import user has no login methods", nil)
	}
	if len(user.LoginMethods) > 1 && !e.caps.AccountLinking {
		return "", apperrors.NewValidationError(
			"account linking capability is required to import a user with multiple login methods", nil)
	}

	pools, err := e.resolvePools(ctx, app, user.LoginMethods)
	if err != nil {
		return "", err
	}
	for _, poolID := range pools[1:] {
		if poolID != pools[0] {
			return "", apperrors.NewValidationError(
				"login methods of one user must share one storage pool", nil)
		}
	}

	var created []createdAccount
	fail := func(cause error) (string, error) {
		e.rollback(ctx, created)
		return "", cause
	}

	// Creation order within the record is the order the login methods were
	// supplied.
	for i, method := range user.LoginMethods {
		engine, err := e.recipes.Get(method.RecipeID)
		if err != nil {
			return fail(apperrors.NewValidationError(err.Error(), nil))
		}
		account, err := engine.BuildAccount(method)
		if err != nil {
			return fail(err)
		}
		if err := e.accounts.CreateAccount(ctx, pools[i], account); err != nil {
			return fail(err)
		}
		created = append(created, createdAccount{account: account, poolID: pools[i]})
	}

	// Eager conflict detection: check every email against every tenant the
	// record touches before any linking happens, so a collision on the last
	// tenant still aborts the whole user.
	for _, c := range created {
		if c.account.Email == nil {
			continue
		}
		conflict, err := e.accounts.FindPrimaryByEmail(ctx, c.poolID, *c.account.Email)
		if err != nil {
			return fail(err)
		}
		if conflict != nil {
			return fail(apperrors.NewConflict(domain.ErrCodePrimaryUserConflict,
				fmt.Sprintf("email %s is already associated with a primary user", *c.account.Email),
				map[string]any{"email": *c.account.Email, "poolId": c.poolID}))
		}
	}

	primaryIdx := 0
	for i, method := range user.LoginMethods {
		if method.IsPrimary {
			primaryIdx = i
			break
		}
	}
	primary := created[primaryIdx]

	if err := e.accounts.MakePrimary(ctx, primary.poolID, primary.account.ID); err != nil {
		return fail(err)
	}
	for _, c := range created {
		if c.account.ID == primary.account.ID {
			continue
		}
		if err := e.accounts.LinkAccounts(ctx, primary.poolID, primary.account.ID, c.account.ID); err != nil {
			return fail(err)
		}
	}

	if len(user.Roles) > 0 {
		if err := e.accounts.AssignRoles(ctx, primary.poolID, primary.account.ID, user.Roles); err != nil {
			return fail(err)
		}
	}

	e.logger.Debug("imported user",
		zap.String("importUserId", user.ID),
		zap.String("primaryAccountId", primary.account.ID),
		zap.Int("loginMethods", len(created)),
	)
	return primary.account.ID, nil
}

// ImportUsers drives a batch through ImportUser, each user independently. The
// outcome maps every succeeded user to its primary account id; failures are
// aggregated into a BatchInsertError keyed by user id, with the underlying
// conflict codes preserved verbatim.
func (e *LinkEngine) ImportUsers(ctx context.Context, app domain.AppIdentifier, users []domain.ImportUser) (domain.BatchOutcome, error) {
	outcome := make(domain.BatchOutcome)
	failures := make(map[string]error)

	for i := range users {
		primaryID, err := e.ImportUser(ctx, app, users[i])
		if err != nil {
			failures[users[i].ID] = err
			continue
		}
		outcome[users[i].ID] = primaryID
	}

	if len(failures) > 0 {
		return outcome, domain.NewBatchInsertError(failures)
	}
	return outcome, nil
}

// resolvePools maps each login method to the storage pool backing its
// tenants. The validator guarantees single-pool methods; this re-checks
// because the engine is also called directly for one-off imports.
func (e *LinkEngine) resolvePools(ctx context.Context, app domain.AppIdentifier, methods []domain.LoginMethod) ([]string, error) {
	pools := make([]string, len(methods))
	for i, method := range methods {
		if len(method.TenantIDs) == 0 {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("loginMethods[%d]: at least one tenantId is required", i), nil)
		}
		poolID, err := e.tenants.PoolFor(ctx, app, method.TenantIDs[0])
		if err != nil {
			return nil, err
		}
		for _, tenantID := range method.TenantIDs[1:] {
			other, err := e.tenants.PoolFor(ctx, app, tenantID)
			if err != nil {
				return nil, err
			}
			if other != poolID {
				return nil, apperrors.NewValidationError(
					fmt.Sprintf("loginMethods[%d]: tenants must share one storage pool", i), nil)
			}
		}
		pools[i] = poolID
	}
	return pools, nil
}

// rollback removes every account created for the user, most recent first.
// Partial users must never be left behind.
func (e *LinkEngine) rollback(ctx context.Context, created []createdAccount) {
	for i := len(created) - 1; i >= 0; i-- {
		c := created[i]
		if err := e.accounts.DeleteAccount(ctx, c.poolID, c.account.ID); err != nil {
			e.logger.Error("failed to roll back imported account",
				zap.String("accountId", c.account.ID),
				zap.String("poolId", c.poolID),
				zap.Error(err),
			)
		}
	}
}
