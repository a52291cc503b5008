package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/identity-import/internal/domain"
	"github.com/spec-kit/identity-import/internal/repository"
	apperrors "github.com/spec-kit/identity-import/pkg/util/errorutil"
)

// ImporterService is the admission and read surface over the import queue:
// validator-gated AddUsers, cursor-paginated listing, counts, and the
// operator requeue path for FAILED records.
type ImporterService struct {
	queue     repository.ImportQueueRepository
	validator *Validator
	maxUsers  int
	logger    *zap.Logger
}

// NewImporterService builds the service.
func NewImporterService(queue repository.ImportQueueRepository, validator *Validator, maxUsersPerRequest int, logger *zap.Logger) *ImporterService {
	if maxUsersPerRequest <= 0 {
		maxUsersPerRequest = 10000
	}
	return &ImporterService{queue: queue, validator: validator, maxUsers: maxUsersPerRequest, logger: logger}
}

// AddUsers validates every record and admits the whole batch. A single
// invalid record rejects the request; nothing is queued in that case.
func (s *ImporterService) AddUsers(ctx context.Context, app domain.AppIdentifier, users []domain.ImportUser) error {
	if len(users) == 0 {
		return apperrors.NewValidationError("no users provided", nil)
	}
	if len(users) > s.maxUsers {
		return apperrors.NewValidationError(
			fmt.Sprintf("at most %d users can be added per request", s.maxUsers), nil)
	}

	var violations []string
	for i := range users {
		if err := s.validator.Validate(ctx, app, users[i]); err != nil {
			domainErr := apperrors.ToDomainError(err)
			if domainErr.Code != "VALIDATION_FAILED" {
				return err
			}
			violations = append(violations, fmt.Sprintf("users[%d]: %s", i, domainErr.Message))
			if msgs, ok := domainErr.Details["errors"].([]string); ok {
				violations = append(violations[:len(violations)-1],
					prefixViolations(i, msgs)...)
			}
		}
	}
	if len(violations) > 0 {
		return apperrors.NewValidationError("bulk import validation failed", map[string]any{"errors": violations})
	}

	if err := s.queue.AddUsers(ctx, app, users); err != nil {
		return err
	}
	s.logger.Info("admitted bulk import users",
		zap.String("appId", app.AppID),
		zap.Int("count", len(users)),
	)
	return nil
}

// GetUsers returns one page of queue records.
func (s *ImporterService) GetUsers(ctx context.Context, app domain.AppIdentifier, limit int, status *domain.ImportStatus, paginationToken *string) (*domain.ImportUserPage, error) {
	return s.queue.GetUsers(ctx, app, limit, status, paginationToken)
}

// GetCount returns the queue size, optionally filtered by status.
func (s *ImporterService) GetCount(ctx context.Context, app domain.AppIdentifier, status *domain.ImportStatus) (int64, error) {
	return s.queue.GetCount(ctx, app, status)
}

// Requeue resets a FAILED record to NEW so the next processor firing retries
// it. This is the operator recovery path; the processor never does it.
func (s *ImporterService) Requeue(ctx context.Context, app domain.AppIdentifier, id string) error {
	return s.queue.UpdateStatus(ctx, app, id, domain.ImportStatusNew, nil)
}

func prefixViolations(index int, msgs []string) []string {
	prefixed := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		prefixed = append(prefixed, fmt.Sprintf("users[%d]: %s", index, msg))
	}
	return prefixed
}
