package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/identity-import/internal/domain"
)

// ImportQueueRepository is the durable pending queue of import records,
// keyed by app. Status transitions are single-row transactions; claiming is
// atomic per record so two processor instances never claim the same one.
type ImportQueueRepository interface {
	// AddUsers admits a batch. Client-supplied ids that collide with queued
	// records are silently reassigned; the whole batch is always admitted.
	AddUsers(ctx context.Context, app domain.AppIdentifier, users []domain.ImportUser) error
	// GetUsers returns up to limit records ordered by (createdAt DESC, id
	// DESC), optionally filtered by status, starting strictly after the
	// cursor. The next cursor is non-nil iff more records exist past the page.
	GetUsers(ctx context.Context, app domain.AppIdentifier, limit int, status *domain.ImportStatus, paginationToken *string) (*domain.ImportUserPage, error)
	// GetCount returns the exact number of queued records, optionally
	// filtered by status.
	GetCount(ctx context.Context, app domain.AppIdentifier, status *domain.ImportStatus) (int64, error)
	// ClaimBatch transitions up to limit NEW records to PROCESSING and
	// returns them, oldest first.
	ClaimBatch(ctx context.Context, app domain.AppIdentifier, limit int) ([]domain.ImportUser, error)
	// UpdateStatus sets the record's status and error message.
	UpdateStatus(ctx context.Context, app domain.AppIdentifier, id string, status domain.ImportStatus, errorMessage *string) error
	// Delete removes a record from the queue.
	Delete(ctx context.Context, app domain.AppIdentifier, id string) error
}

type importQueueRepository struct {
	pool *pgxpool.Pool
}

// NewImportQueueRepository instantiates the postgres-backed queue.
func NewImportQueueRepository(pool *pgxpool.Pool) ImportQueueRepository {
	return &importQueueRepository{pool: pool}
}

func (r *importQueueRepository) AddUsers(ctx context.Context, app domain.AppIdentifier, users []domain.ImportUser) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const query = `
        INSERT INTO bulk_import_users (app_id, id, status, raw_payload, created_at)
        VALUES ($1, $2, 'NEW', $3, (EXTRACT(EPOCH FROM clock_timestamp()) * 1000)::BIGINT)
        ON CONFLICT (app_id, id) DO NOTHING`

	for i := range users {
		user := users[i]
		if user.ID == "" {
			user.ID = uuid.NewString()
		}
		raw := user.RawPayload
		if raw == nil {
			raw, err = user.RawData()
			if err != nil {
				return fmt.Errorf("serialize import user: %w", err)
			}
		}
		for {
			cmd, err := tx.Exec(ctx, query, app.AppID, user.ID, raw)
			if err != nil {
				return err
			}
			if cmd.RowsAffected() == 1 {
				break
			}
			// id collision: reassign and retry, the stored payload keeps the
			// original fields untouched.
			user.ID = uuid.NewString()
			var patched map[string]json.RawMessage
			if err := json.Unmarshal(raw, &patched); err != nil {
				return err
			}
			patched["id"], _ = json.Marshal(user.ID)
			raw, err = json.Marshal(patched)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func (r *importQueueRepository) GetUsers(ctx context.Context, app domain.AppIdentifier, limit int, status *domain.ImportStatus, paginationToken *string) (*domain.ImportUserPage, error) {
	if limit <= 0 {
		limit = 100
	}

	base := `SELECT id, status, raw_payload, error_msg, created_at FROM bulk_import_users`
	clauses := []string{"app_id = $1"}
	args := []any{app.AppID}

	if status != nil {
		args = append(args, *status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if paginationToken != nil {
		token, err := domain.DecodePaginationToken(*paginationToken)
		if err != nil {
			return nil, err
		}
		args = append(args, token.CreatedAt, token.ID)
		clauses = append(clauses, fmt.Sprintf(
			"(created_at < $%d OR (created_at = $%d AND id < $%d))", len(args)-1, len(args)-1, len(args)))
	}

	// Fetch one extra row to decide whether a next cursor exists.
	query := fmt.Sprintf(`%s WHERE %s ORDER BY created_at DESC, id DESC LIMIT %d`,
		base, strings.Join(clauses, " AND "), limit+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanImportUsers(rows)
	if err != nil {
		return nil, err
	}

	page := &domain.ImportUserPage{Users: records}
	if len(records) > limit {
		page.Users = records[:limit]
		last := page.Users[limit-1]
		token := domain.PaginationToken{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
		page.NextPaginationToken = &token
	}
	return page, nil
}

func (r *importQueueRepository) GetCount(ctx context.Context, app domain.AppIdentifier, status *domain.ImportStatus) (int64, error) {
	query := `SELECT COUNT(*) FROM bulk_import_users WHERE app_id = $1`
	args := []any{app.AppID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}

	var count int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *importQueueRepository) ClaimBatch(ctx context.Context, app domain.AppIdentifier, limit int) ([]domain.ImportUser, error) {
	const query = `
        UPDATE bulk_import_users SET status = 'PROCESSING', error_msg = NULL
        WHERE (app_id, id) IN (
            SELECT app_id, id FROM bulk_import_users
            WHERE app_id = $1 AND status = 'NEW'
            ORDER BY created_at ASC, id ASC
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, status, raw_payload, error_msg, created_at`

	rows, err := r.pool.Query(ctx, query, app.AppID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanImportUsers(rows)
}

func (r *importQueueRepository) UpdateStatus(ctx context.Context, app domain.AppIdentifier, id string, status domain.ImportStatus, errorMessage *string) error {
	const query = `UPDATE bulk_import_users SET status = $1, error_msg = $2 WHERE app_id = $3 AND id = $4`
	cmd, err := r.pool.Exec(ctx, query, status, errorMessage, app.AppID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *importQueueRepository) Delete(ctx context.Context, app domain.AppIdentifier, id string) error {
	const query = `DELETE FROM bulk_import_users WHERE app_id = $1 AND id = $2`
	cmd, err := r.pool.Exec(ctx, query, app.AppID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanImportUsers(rows pgx.Rows) ([]domain.ImportUser, error) {
	var result []domain.ImportUser
	for rows.Next() {
		var (
			id        string
			status    domain.ImportStatus
			raw       []byte
			errMsg    *string
			createdAt int64
		)
		if err := rows.Scan(&id, &status, &raw, &errMsg, &createdAt); err != nil {
			return nil, err
		}
		user, err := decodeImportUser(id, status, raw, errMsg, createdAt)
		if err != nil {
			return nil, err
		}
		result = append(result, user)
	}
	return result, rows.Err()
}

func decodeImportUser(id string, status domain.ImportStatus, raw []byte, errMsg *string, createdAt int64) (domain.ImportUser, error) {
	var user domain.ImportUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return domain.ImportUser{}, fmt.Errorf("decode import user %s: %w", id, err)
	}
	user.ID = id
	user.Status = status
	user.ErrorMessage = errMsg
	user.CreatedAt = createdAt
	user.RawPayload = append([]byte(nil), raw...)
	return user, nil
}
