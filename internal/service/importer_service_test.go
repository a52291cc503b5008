package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/identity-import/internal/domain"
	"github.com/spec-kit/identity-import/internal/repository"
	apperrors "github.com/spec-kit/identity-import/pkg/util/errorutil"
)

func newImporter(t *testing.T, maxUsers int) (*ImporterService, repository.ImportQueueRepository) {
	t.Helper()
	queue := repository.NewMemoryImportQueue()
	validator := NewValidator(testTenants(), testRecipes())
	return NewImporterService(queue, validator, maxUsers, zap.NewNop()), queue
}

func TestImporterAdmitsValidBatch(t *testing.T) {
	importer, queue := newImporter(t, 100)
	app := domain.NewAppIdentifier("")
	ctx := context.Background()

	err := importer.AddUsers(ctx, app, []domain.ImportUser{
		validImportUser("a@example.com"),
		validImportUser("b@example.com"),
	})
	require.NoError(t, err)

	count, err := queue.GetCount(ctx, app, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestImporterRejectsEmptyAndOversizedBatches(t *testing.T) {
	importer, _ := newImporter(t, 2)
	app := domain.NewAppIdentifier("")
	ctx := context.Background()

	err := importer.AddUsers(ctx, app, nil)
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_FAILED", apperrors.ToDomainError(err).Code)

	err = importer.AddUsers(ctx, app, []domain.ImportUser{
		validImportUser("a@example.com"),
		validImportUser("b@example.com"),
		validImportUser("c@example.com"),
	})
	require.Error(t, err)
	assert.Contains(t, apperrors.ToDomainError(err).Message, "at most 2 users")
}

func TestImporterRejectsWholeBatchOnOneBadRecord(t *testing.T) {
	importer, queue := newImporter(t, 100)
	app := domain.NewAppIdentifier("")
	ctx := context.Background()

	bad := validImportUser("bad@example.com")
	bad.LoginMethods[0].TenantIDs = []string{"no-such-tenant"}

	err := importer.AddUsers(ctx, app, []domain.ImportUser{
		validImportUser("good@example.com"),
		bad,
	})
	require.Error(t, err)

	domainErr := apperrors.ToDomainError(err)
	assert.Equal(t, "VALIDATION_FAILED", domainErr.Code)
	msgs, ok := domainErr.Details["errors"].([]string)
	require.True(t, ok)
	assert.Contains(t, msgs, `users[1]: loginMethods[0]: tenant "no-such-tenant" does not exist`)

	// Nothing is queued on a rejected batch.
	count, err := queue.GetCount(ctx, app, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestImporterRequeueResetsFailedRecord(t *testing.T) {
	importer, queue := newImporter(t, 100)
	app := domain.NewAppIdentifier("")
	ctx := context.Background()

	user := validImportUser("a@example.com")
	user.ID = "u1"
	require.NoError(t, importer.AddUsers(ctx, app, []domain.ImportUser{user}))

	msg := "conflict"
	require.NoError(t, queue.UpdateStatus(ctx, app, "u1", domain.ImportStatusFailed, &msg))

	require.NoError(t, importer.Requeue(ctx, app, "u1"))

	statusNew := domain.ImportStatusNew
	page, err := importer.GetUsers(ctx, app, 10, &statusNew, nil)
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, "u1", page.Users[0].ID)
	assert.Nil(t, page.Users[0].ErrorMessage)
}

func TestImporterRequeueMissingRecord(t *testing.T) {
	importer, _ := newImporter(t, 100)
	assert.Error(t, importer.Requeue(context.Background(), domain.NewAppIdentifier(""), "ghost"))
}
