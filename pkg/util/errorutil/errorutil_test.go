package errorutil

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	err := NewConflict("E027", "email already primary", nil)
	assert.True(t, HasCode(err, "E027"))
	assert.False(t, HasCode(err, "E003"))

	// Matches through wrapping.
	wrapped := fmt.Errorf("import user u1: %w", err)
	assert.True(t, HasCode(wrapped, "E027"))

	// Works for non-conflict codes too.
	assert.True(t, HasCode(NewValidationError("bad record", nil), "VALIDATION_FAILED"))
	assert.False(t, HasCode(assert.AnError, "E027"))
	assert.False(t, HasCode(nil, "E027"))
}

func TestIsDomainError(t *testing.T) {
	assert.True(t, IsDomainError(NewValidationError("bad", nil)))
	assert.True(t, IsDomainError(NewConflict("E003", "dup", nil)))
	assert.False(t, IsDomainError(assert.AnError))
	assert.False(t, IsDomainError(nil))
}

func TestToDomainError(t *testing.T) {
	assert.Nil(t, ToDomainError(nil))

	domainErr := ToDomainError(NewUnauthorized("no token"))
	require.NotNil(t, domainErr)
	assert.Equal(t, "UNAUTHORIZED", domainErr.Code)

	domainErr = ToDomainError(pgx.ErrNoRows)
	require.NotNil(t, domainErr)
	assert.Equal(t, "NOT_FOUND", domainErr.Code)
	assert.Equal(t, http.StatusNotFound, domainErr.HTTPStatus)

	domainErr = ToDomainError(assert.AnError)
	require.NotNil(t, domainErr)
	assert.Equal(t, "INTERNAL_ERROR", domainErr.Code)
}
