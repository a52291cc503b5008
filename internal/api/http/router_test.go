package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/identity-import/internal/api/http"
	"github.com/spec-kit/identity-import/internal/api/http/handlers"
	"github.com/spec-kit/identity-import/internal/auth"
	"github.com/spec-kit/identity-import/internal/domain"
	"github.com/spec-kit/identity-import/internal/observability"
	"github.com/spec-kit/identity-import/internal/recipe"
	"github.com/spec-kit/identity-import/internal/repository"
	"github.com/spec-kit/identity-import/internal/service"
)

type apiFixture struct {
	app   *fiber.App
	token string
	queue repository.ImportQueueRepository
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()
	logger := zap.NewNop()

	queue := repository.NewMemoryImportQueue()
	tenants := repository.NewMemoryTenantRegistry()
	recipes := recipe.NewRegistry(
		recipe.NewEmailPasswordEngine(auth.NewBcryptHasher(4)),
		recipe.NewThirdPartyEngine(),
		recipe.NewPasswordlessEngine(),
		recipe.NewWebauthnEngine(),
	)
	validator := service.NewValidator(tenants, recipes)
	importer := service.NewImporterService(queue, validator, 100, logger)

	tokens := auth.NewTokenManager("test-secret", 60)
	tokenStr, _, err := tokens.GenerateToken("operator-1", "public")
	require.NoError(t, err)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, observability.NewMetrics(), 5*time.Second)
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler("test", "dev", nil, nil),
		Import:         handlers.NewImportHandler(importer),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	return apiFixture{app: app, token: tokenStr, queue: queue}
}

func (f apiFixture) request(t *testing.T, method, target string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+f.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func addUsersBody(emails ...string) map[string]any {
	users := make([]map[string]any, 0, len(emails))
	for _, email := range emails {
		users = append(users, map[string]any{
			"loginMethods": []map[string]any{{
				"recipeId":          "emailpassword",
				"tenantIds":         []string{"public"},
				"email":             email,
				"plainTextPassword": "s3cret!",
			}},
		})
	}
	return map[string]any{"users": users}
}

func TestBulkImportRoutesRequireAuth(t *testing.T) {
	fx := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/bulk-import/users", nil)
	resp, err := fx.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = fx.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAddListCountRoundTrip(t *testing.T) {
	fx := newAPIFixture(t)

	resp := fx.request(t, http.MethodPost, "/bulk-import/users", addUsersBody("a@example.com", "b@example.com"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = fx.request(t, http.MethodGet, "/bulk-import/users", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := decodeBody(t, resp)["data"].(map[string]any)
	users := data["users"].([]any)
	assert.Len(t, users, 2)
	_, hasNext := data["nextPaginationToken"]
	assert.False(t, hasNext)
	for _, entry := range users {
		record := entry.(map[string]any)
		assert.Equal(t, "NEW", record["status"])
		assert.NotEmpty(t, record["id"])
		assert.NotNil(t, record["user"])
	}

	resp = fx.request(t, http.MethodGet, "/bulk-import/users/count?status=NEW", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	count := decodeBody(t, resp)["data"].(map[string]any)["count"]
	assert.EqualValues(t, 2, count)
}

func TestListUsersPaginatesWithCursor(t *testing.T) {
	fx := newAPIFixture(t)

	emails := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		emails = append(emails, fmt.Sprintf("user%d@example.com", i))
	}
	resp := fx.request(t, http.MethodPost, "/bulk-import/users", addUsersBody(emails...))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	seen := make(map[string]bool)
	target := "/bulk-import/users?limit=2"
	for {
		resp := fx.request(t, http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		data := decodeBody(t, resp)["data"].(map[string]any)
		for _, entry := range data["users"].([]any) {
			id := entry.(map[string]any)["id"].(string)
			assert.False(t, seen[id], "record %s returned twice", id)
			seen[id] = true
		}
		next, ok := data["nextPaginationToken"].(string)
		if !ok {
			break
		}
		target = "/bulk-import/users?limit=2&paginationToken=" + next
	}
	assert.Len(t, seen, 5)
}

func TestAddUsersRejectsInvalidBatch(t *testing.T) {
	fx := newAPIFixture(t)

	body := map[string]any{"users": []map[string]any{{
		"loginMethods": []map[string]any{{
			"recipeId":  "emailpassword",
			"tenantIds": []string{"no-such-tenant"},
			"email":     "a@example.com",
		}},
	}}}
	resp := fx.request(t, http.MethodPost, "/bulk-import/users", body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	payload := decodeBody(t, resp)["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_FAILED", payload["code"])

	resp = fx.request(t, http.MethodGet, "/bulk-import/users/count", nil)
	count := decodeBody(t, resp)["data"].(map[string]any)["count"]
	assert.EqualValues(t, 0, count)
}

func TestListUsersRejectsBadQueryParams(t *testing.T) {
	fx := newAPIFixture(t)

	resp := fx.request(t, http.MethodGet, "/bulk-import/users?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = fx.request(t, http.MethodGet, "/bulk-import/users?status=DONE", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = fx.request(t, http.MethodGet, "/bulk-import/users?paginationToken=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRequeueRoute(t *testing.T) {
	fx := newAPIFixture(t)
	ctx := context.Background()
	app := domain.NewAppIdentifier("")

	user := domain.ImportUser{
		ID: "u1",
		LoginMethods: []domain.LoginMethod{{
			RecipeID:  domain.RecipeEmailPassword,
			TenantIDs: []string{domain.PublicTenantID},
		}},
	}
	require.NoError(t, fx.queue.AddUsers(ctx, app, []domain.ImportUser{user}))
	msg := "conflict"
	require.NoError(t, fx.queue.UpdateStatus(ctx, app, "u1", domain.ImportStatusFailed, &msg))

	resp := fx.request(t, http.MethodPost, "/bulk-import/users/u1/requeue", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := decodeBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "NEW", data["status"])

	resp = fx.request(t, http.MethodPost, "/bulk-import/users/ghost/requeue", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthLiveIsPublic(t *testing.T) {
	fx := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	resp, err := fx.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
