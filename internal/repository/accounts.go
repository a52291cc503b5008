package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/identity-import/internal/domain"
	apperrors "github.com/spec-kit/identity-import/pkg/util/errorutil"
)

// AccountRepository is the recipe-account store, scoped per storage pool.
// Uniqueness checks and the accompanying writes run as one transaction: the
// check-and-create sequence for an email must not interleave with a
// concurrent creation of a conflicting primary.
type AccountRepository interface {
	// CreateAccount inserts a recipe account. It fails with code E003 when an
	// account for the same recipe with the same identity key already exists
	// on an overlapping tenant.
	CreateAccount(ctx context.Context, poolID string, account *domain.AuthAccount) error
	GetByID(ctx context.Context, poolID, id string) (*domain.AuthAccount, error)
	// FindPrimaryByEmail returns the primary account carrying the email
	// anywhere in the pool, or nil.
	FindPrimaryByEmail(ctx context.Context, poolID, email string) (*domain.AuthAccount, error)
	// MakePrimary promotes the account to a primary identity; fails with
	// E027 when another primary in the pool already carries its email.
	MakePrimary(ctx context.Context, poolID, accountID string) error
	// LinkAccounts attaches accountID as an additional login method of
	// primaryID; fails with E027 when the linked email collides with a
	// different primary in the pool.
	LinkAccounts(ctx context.Context, poolID, primaryID, accountID string) error
	// ListLinked returns every account belonging to the given primary
	// identity, the primary itself included.
	ListLinked(ctx context.Context, poolID, primaryUserID string) ([]domain.AuthAccount, error)
	// DeleteAccount removes an account; used to roll back partial imports.
	DeleteAccount(ctx context.Context, poolID, id string) error
	// AssignRoles attaches roles to a primary identity.
	AssignRoles(ctx context.Context, poolID, primaryUserID string, roles []string) error
}

var errAccountNotFound = apperrors.NewNotFound("account", nil)

type accountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository instantiates the postgres-backed account store.
func NewAccountRepository(pool *pgxpool.Pool) AccountRepository {
	return &accountRepository{pool: pool}
}

const accountColumns = `id, pool_id, recipe_id, tenant_ids, email, phone_number,
       password_hash, hashing_algorithm, third_party_id, third_party_user_id,
       webauthn_credential_id, is_verified, is_primary, primary_user_id, time_joined`

func (r *accountRepository) CreateAccount(ctx context.Context, poolID string, account *domain.AuthAccount) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Lock same-recipe rows sharing the identity key before checking tenant
	// overlap, so a concurrent create of the same identity serializes here.
	const lockQuery = `
        SELECT tenant_ids FROM auth_accounts
        WHERE pool_id = $1 AND recipe_id = $2
          AND (email = $3 OR (phone_number IS NOT NULL AND phone_number = $4)
               OR (third_party_id IS NOT NULL AND third_party_id = $5 AND third_party_user_id = $6))
        FOR UPDATE`

	var tpID, tpUserID *string
	if account.ThirdParty != nil {
		tpID = &account.ThirdParty.ID
		tpUserID = &account.ThirdParty.UserID
	}

	rows, err := tx.Query(ctx, lockQuery, poolID, account.RecipeID, account.Email, account.PhoneNumber, tpID, tpUserID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var tenantIDs []string
		if err := rows.Scan(&tenantIDs); err != nil {
			rows.Close()
			return err
		}
		if tenantsOverlap(tenantIDs, account.TenantIDs) {
			rows.Close()
			return duplicateAccountError(account)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	var webauthnCredID *string
	if account.Webauthn != nil {
		webauthnCredID = &account.Webauthn.CredentialID
	}

	const insertQuery = `
        INSERT INTO auth_accounts (id, pool_id, recipe_id, tenant_ids, email, phone_number,
            password_hash, hashing_algorithm, third_party_id, third_party_user_id,
            webauthn_credential_id, is_verified, is_primary, primary_user_id, time_joined)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	if _, err := tx.Exec(ctx, insertQuery,
		account.ID, poolID, account.RecipeID, account.TenantIDs, account.Email, account.PhoneNumber,
		account.PasswordHash, account.HashingAlgorithm, tpID, tpUserID,
		webauthnCredID, account.IsVerified, account.IsPrimary, account.PrimaryUserID, account.TimeJoined,
	); err != nil {
		return err
	}

	account.PoolID = poolID
	return tx.Commit(ctx)
}

func (r *accountRepository) GetByID(ctx context.Context, poolID, id string) (*domain.AuthAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM auth_accounts WHERE pool_id = $1 AND id = $2`, accountColumns)
	account, err := scanAccount(r.pool.QueryRow(ctx, query, poolID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errAccountNotFound
	}
	return account, err
}

func (r *accountRepository) FindPrimaryByEmail(ctx context.Context, poolID, email string) (*domain.AuthAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM auth_accounts WHERE pool_id = $1 AND email = $2 AND is_primary`, accountColumns)
	account, err := scanAccount(r.pool.QueryRow(ctx, query, poolID, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return account, err
}

func (r *accountRepository) MakePrimary(ctx context.Context, poolID, accountID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	account, err := lockAccount(ctx, tx, poolID, accountID)
	if err != nil {
		return err
	}
	if account.Email != nil {
		if err := lockConflictingPrimary(ctx, tx, poolID, *account.Email, accountID); err != nil {
			return err
		}
	}

	const query = `UPDATE auth_accounts SET is_primary = TRUE, primary_user_id = id WHERE pool_id = $1 AND id = $2`
	if _, err := tx.Exec(ctx, query, poolID, accountID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *accountRepository) LinkAccounts(ctx context.Context, poolID, primaryID, accountID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	primary, err := lockAccount(ctx, tx, poolID, primaryID)
	if err != nil {
		return err
	}
	if !primary.IsPrimary {
		return apperrors.NewConflict(domain.ErrCodePrimaryUserConflict,
			"target account is not a primary user", map[string]any{"accountId": primaryID})
	}

	account, err := lockAccount(ctx, tx, poolID, accountID)
	if err != nil {
		return err
	}
	if account.Email != nil {
		if err := lockConflictingPrimary(ctx, tx, poolID, *account.Email, primaryID); err != nil {
			return err
		}
	}

	const query = `UPDATE auth_accounts SET primary_user_id = $1 WHERE pool_id = $2 AND id = $3`
	if _, err := tx.Exec(ctx, query, primaryID, poolID, accountID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *accountRepository) ListLinked(ctx context.Context, poolID, primaryUserID string) ([]domain.AuthAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM auth_accounts WHERE pool_id = $1 AND primary_user_id = $2 ORDER BY time_joined ASC`, accountColumns)
	rows, err := r.pool.Query(ctx, query, poolID, primaryUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AuthAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *account)
	}
	return result, rows.Err()
}

func (r *accountRepository) DeleteAccount(ctx context.Context, poolID, id string) error {
	const query = `DELETE FROM auth_accounts WHERE pool_id = $1 AND id = $2`
	_, err := r.pool.Exec(ctx, query, poolID, id)
	return err
}

func (r *accountRepository) AssignRoles(ctx context.Context, poolID, primaryUserID string, roles []string) error {
	const query = `
        INSERT INTO account_roles (pool_id, user_id, role)
        VALUES ($1, $2, $3)
        ON CONFLICT DO NOTHING`
	for _, role := range roles {
		if _, err := r.pool.Exec(ctx, query, poolID, primaryUserID, role); err != nil {
			return err
		}
	}
	return nil
}

// lockConflictingPrimary acquires a row lock on any primary account carrying
// the email, failing with E027 when it is a different identity. Holding the
// lock until commit keeps the check-and-link sequence atomic.
func lockConflictingPrimary(ctx context.Context, tx pgx.Tx, poolID, email, allowedPrimaryID string) error {
	const query = `SELECT id FROM auth_accounts WHERE pool_id = $1 AND email = $2 AND is_primary FOR UPDATE`
	rows, err := tx.Query(ctx, query, poolID, email)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		if id != allowedPrimaryID {
			return primaryConflictError(email)
		}
	}
	return rows.Err()
}

func lockAccount(ctx context.Context, tx pgx.Tx, poolID, id string) (*domain.AuthAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM auth_accounts WHERE pool_id = $1 AND id = $2 FOR UPDATE`, accountColumns)
	account, err := scanAccount(tx.QueryRow(ctx, query, poolID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errAccountNotFound
	}
	return account, err
}

func scanAccount(row pgx.Row) (*domain.AuthAccount, error) {
	var (
		account        domain.AuthAccount
		tpID, tpUserID *string
		webauthnCredID *string
	)
	if err := row.Scan(
		&account.ID,
		&account.PoolID,
		&account.RecipeID,
		&account.TenantIDs,
		&account.Email,
		&account.PhoneNumber,
		&account.PasswordHash,
		&account.HashingAlgorithm,
		&tpID,
		&tpUserID,
		&webauthnCredID,
		&account.IsVerified,
		&account.IsPrimary,
		&account.PrimaryUserID,
		&account.TimeJoined,
	); err != nil {
		return nil, err
	}
	if tpID != nil && tpUserID != nil {
		account.ThirdParty = &domain.ThirdPartyInfo{ID: *tpID, UserID: *tpUserID}
	}
	if webauthnCredID != nil {
		account.Webauthn = &domain.WebauthnInfo{CredentialID: *webauthnCredID}
	}
	return &account, nil
}

func tenantsOverlap(a, b []string) bool {
	for _, t := range a {
		for _, u := range b {
			if t == u {
				return true
			}
		}
	}
	return false
}

func duplicateAccountError(account *domain.AuthAccount) error {
	details := map[string]any{"recipeId": account.RecipeID}
	if account.Email != nil {
		details["email"] = *account.Email
	}
	return apperrors.NewConflict(domain.ErrCodeDuplicateEmail,
		"an account with the same identity already exists on this tenant", details)
}

func primaryConflictError(email string) error {
	return apperrors.NewConflict(domain.ErrCodePrimaryUserConflict,
		"email is already associated with a primary user in this pool", map[string]any{"email": email})
}
