package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/identity-import/internal/auth"
	"github.com/spec-kit/identity-import/internal/config"
	"github.com/spec-kit/identity-import/internal/domain"
	"github.com/spec-kit/identity-import/internal/observability"
	"github.com/spec-kit/identity-import/internal/recipe"
	"github.com/spec-kit/identity-import/internal/repository"
	"github.com/spec-kit/identity-import/internal/service"
)

func strPtr(s string) *string { return &s }

type processorFixture struct {
	queue     repository.ImportQueueRepository
	accounts  repository.AccountRepository
	processor *BatchProcessor
	metrics   *observability.Metrics
}

func newProcessorFixture(t *testing.T, accounts repository.AccountRepository) processorFixture {
	t.Helper()

	queue := repository.NewMemoryImportQueue()
	tenants := repository.NewMemoryTenantRegistry()
	tenants.AddTenant(domain.NewAppIdentifier(""), "t1", "pool-0")

	recipes := recipe.NewRegistry(
		recipe.NewEmailPasswordEngine(auth.NewBcryptHasher(4)),
		recipe.NewThirdPartyEngine(),
		recipe.NewPasswordlessEngine(),
		recipe.NewWebauthnEngine(),
	)
	engine := service.NewLinkEngine(accounts, tenants, recipes,
		config.Capabilities{MultiTenancy: true, AccountLinking: true}, zap.NewNop())

	metrics := observability.NewMetrics()
	processor := NewBatchProcessor(queue, engine, nil, metrics, zap.NewNop(), BatchProcessorConfig{
		App:       domain.NewAppIdentifier(""),
		BatchSize: 100,
		Workers:   4,
	})
	return processorFixture{queue: queue, accounts: accounts, processor: processor, metrics: metrics}
}

func importUserRecord(id, email string) domain.ImportUser {
	return domain.ImportUser{
		ID: id,
		LoginMethods: []domain.LoginMethod{{
			RecipeID:          domain.RecipeEmailPassword,
			TenantIDs:         []string{domain.PublicTenantID},
			Email:             strPtr(email),
			PlainTextPassword: strPtr("s3cret!"),
		}},
	}
}

func TestProcessorImportsAndDeletesRecords(t *testing.T) {
	fx := newProcessorFixture(t, repository.NewMemoryAccountStore())
	ctx := context.Background()
	app := domain.NewAppIdentifier("")

	require.NoError(t, fx.queue.AddUsers(ctx, app, []domain.ImportUser{
		importUserRecord("u1", "a@example.com"),
		importUserRecord("u2", "b@example.com"),
	}))

	require.NoError(t, fx.processor.Run(ctx))

	count, err := fx.queue.GetCount(ctx, app, nil)
	require.NoError(t, err)
	assert.Zero(t, count, "imported records are removed from the queue")

	found, err := fx.accounts.FindPrimaryByEmail(ctx, "pool-0", "a@example.com")
	require.NoError(t, err)
	assert.NotNil(t, found)

	firings, processed, failed := fx.metrics.FiringStats()
	assert.EqualValues(t, 1, firings)
	assert.EqualValues(t, 2, processed)
	assert.EqualValues(t, 0, failed)
}

func TestProcessorMarksLogicalRejectionsFailed(t *testing.T) {
	fx := newProcessorFixture(t, repository.NewMemoryAccountStore())
	ctx := context.Background()
	app := domain.NewAppIdentifier("")

	bad := importUserRecord("u1", "a@example.com")
	// Unknown tenant: the engine rejects this with a domain error.
	bad.LoginMethods[0].TenantIDs = []string{"no-such-tenant"}

	require.NoError(t, fx.queue.AddUsers(ctx, app, []domain.ImportUser{
		bad,
		importUserRecord("u2", "b@example.com"),
	}))

	require.NoError(t, fx.processor.Run(ctx))

	statusFailed := domain.ImportStatusFailed
	page, err := fx.queue.GetUsers(ctx, app, 10, &statusFailed, nil)
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, "u1", page.Users[0].ID)
	require.NotNil(t, page.Users[0].ErrorMessage)
	assert.NotEmpty(t, *page.Users[0].ErrorMessage)

	// The sibling record is unaffected by the failure.
	count, err := fx.queue.GetCount(ctx, app, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	found, err := fx.accounts.FindPrimaryByEmail(ctx, "pool-0", "b@example.com")
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestProcessorSurfacesConflictCodes(t *testing.T) {
	fx := newProcessorFixture(t, repository.NewMemoryAccountStore())
	ctx := context.Background()
	app := domain.NewAppIdentifier("")

	require.NoError(t, fx.queue.AddUsers(ctx, app, []domain.ImportUser{
		importUserRecord("u1", "jane@example.com"),
	}))
	require.NoError(t, fx.processor.Run(ctx))

	// The second record collides with the primary created by the first run.
	require.NoError(t, fx.queue.AddUsers(ctx, app, []domain.ImportUser{
		importUserRecord("u2", "jane@example.com"),
	}))
	require.NoError(t, fx.processor.Run(ctx))

	statusFailed := domain.ImportStatusFailed
	page, err := fx.queue.GetUsers(ctx, app, 10, &statusFailed, nil)
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	require.NotNil(t, page.Users[0].ErrorMessage)
	assert.Contains(t, *page.Users[0].ErrorMessage, domain.ErrCodeDuplicateEmail)
}

type flakyAccountStore struct {
	repository.AccountRepository
}

func (s *flakyAccountStore) CreateAccount(ctx context.Context, poolID string, account *domain.AuthAccount) error {
	return errors.New("connection reset by peer")
}

func TestProcessorLeavesTransientFailuresInProcessing(t *testing.T) {
	fx := newProcessorFixture(t, &flakyAccountStore{AccountRepository: repository.NewMemoryAccountStore()})
	ctx := context.Background()
	app := domain.NewAppIdentifier("")

	require.NoError(t, fx.queue.AddUsers(ctx, app, []domain.ImportUser{
		importUserRecord("u1", "a@example.com"),
	}))
	require.NoError(t, fx.processor.Run(ctx))

	// Not FAILED, not deleted: the record stays claimed for operator review.
	statusProcessing := domain.ImportStatusProcessing
	page, err := fx.queue.GetUsers(ctx, app, 10, &statusProcessing, nil)
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, "u1", page.Users[0].ID)
	assert.Nil(t, page.Users[0].ErrorMessage)

	_, _, failed := fx.metrics.FiringStats()
	assert.EqualValues(t, 1, failed)
}

type tamperedQueue struct {
	repository.ImportQueueRepository
}

func (q *tamperedQueue) ClaimBatch(ctx context.Context, app domain.AppIdentifier, limit int) ([]domain.ImportUser, error) {
	claimed, err := q.ImportQueueRepository.ClaimBatch(ctx, app, limit)
	for i := range claimed {
		claimed[i].RawPayload = []byte(`{"id":"someone-else","loginMethods":[]}`)
	}
	return claimed, err
}

func TestProcessorSkipsRecordsWithDriftedPayload(t *testing.T) {
	fx := newProcessorFixture(t, repository.NewMemoryAccountStore())
	ctx := context.Background()
	app := domain.NewAppIdentifier("")

	require.NoError(t, fx.queue.AddUsers(ctx, app, []domain.ImportUser{
		importUserRecord("u1", "a@example.com"),
	}))

	fx.processor.queue = &tamperedQueue{ImportQueueRepository: fx.queue}
	require.NoError(t, fx.processor.Run(ctx))

	// No account is created from a payload that fails the round-trip check.
	found, err := fx.accounts.FindPrimaryByEmail(ctx, "pool-0", "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, found)

	count, err := fx.queue.GetCount(ctx, app, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestProcessorRunWithEmptyQueue(t *testing.T) {
	fx := newProcessorFixture(t, repository.NewMemoryAccountStore())
	require.NoError(t, fx.processor.Run(context.Background()))

	firings, _, _ := fx.metrics.FiringStats()
	assert.Zero(t, firings, "empty claims do not count as firings")
}
