package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/identity-import/internal/domain"
	"github.com/spec-kit/identity-import/internal/service"
	apperrors "github.com/spec-kit/identity-import/pkg/util/errorutil"
)

// ImportHandler exposes the operator surface over the import queue.
type ImportHandler struct {
	importer *service.ImporterService
}

// NewImportHandler constructs handler.
func NewImportHandler(importer *service.ImporterService) *ImportHandler {
	return &ImportHandler{importer: importer}
}

type addUsersRequest struct {
	Users []domain.ImportUser `json:"users"`
}

// AddUsers handles POST /bulk-import/users.
func (h *ImportHandler) AddUsers(c *fiber.Ctx) error {
	var req addUsersRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("request body is not valid JSON", nil)
	}

	app := appFromQuery(c)
	if err := h.importer.AddUsers(c.UserContext(), app, req.Users); err != nil {
		return err
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"data": fiber.Map{"count": len(req.Users)},
	})
}

// ListUsers handles GET /bulk-import/users.
func (h *ImportHandler) ListUsers(c *fiber.Ctx) error {
	app := appFromQuery(c)

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			return apperrors.NewValidationError("limit must be between 1 and 500", nil)
		}
		limit = parsed
	}

	status, err := statusFromQuery(c)
	if err != nil {
		return err
	}

	var token *string
	if raw := c.Query("paginationToken"); raw != "" {
		token = &raw
	}

	page, err := h.importer.GetUsers(c.UserContext(), app, limit, status, token)
	if errors.Is(err, domain.ErrInvalidPaginationToken) {
		return apperrors.NewValidationError("paginationToken is not a valid cursor", nil)
	}
	if err != nil {
		return err
	}

	users := make([]fiber.Map, 0, len(page.Users))
	for _, user := range page.Users {
		entry := fiber.Map{
			"id":        user.ID,
			"status":    user.Status,
			"createdAt": user.CreatedAt,
			"user":      user.RawPayload,
		}
		if user.ErrorMessage != nil {
			entry["error"] = *user.ErrorMessage
		}
		users = append(users, entry)
	}

	response := fiber.Map{"users": users}
	if page.NextPaginationToken != nil {
		response["nextPaginationToken"] = *page.NextPaginationToken
	}
	return c.JSON(fiber.Map{"data": response})
}

// Count handles GET /bulk-import/users/count.
func (h *ImportHandler) Count(c *fiber.Ctx) error {
	app := appFromQuery(c)

	status, err := statusFromQuery(c)
	if err != nil {
		return err
	}

	count, err := h.importer.GetCount(c.UserContext(), app, status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"count": count}})
}

// Requeue handles POST /bulk-import/users/:id/requeue.
func (h *ImportHandler) Requeue(c *fiber.Ctx) error {
	app := appFromQuery(c)
	id := c.Params("id")

	if err := h.importer.Requeue(c.UserContext(), app, id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "status": domain.ImportStatusNew}})
}

func appFromQuery(c *fiber.Ctx) domain.AppIdentifier {
	return domain.NewAppIdentifier(c.Query("appId"))
}

func statusFromQuery(c *fiber.Ctx) (*domain.ImportStatus, error) {
	raw := c.Query("status")
	if raw == "" {
		return nil, nil
	}
	status := domain.ImportStatus(raw)
	switch status {
	case domain.ImportStatusNew, domain.ImportStatusProcessing, domain.ImportStatusFailed:
		return &status, nil
	default:
		return nil, apperrors.NewValidationError("status must be NEW, PROCESSING or FAILED", nil)
	}
}
