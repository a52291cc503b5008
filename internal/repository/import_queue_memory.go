package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/identity-import/internal/domain"
)

// memoryImportQueue is an in-memory ImportQueueRepository used by tests and
// single-node deployments without postgres.
type memoryImportQueue struct {
	mu     sync.Mutex
	apps   map[string]map[string]*domain.ImportUser
	lastTS map[string]int64
}

// NewMemoryImportQueue builds an empty in-memory queue.
func NewMemoryImportQueue() ImportQueueRepository {
	return &memoryImportQueue{
		apps:   make(map[string]map[string]*domain.ImportUser),
		lastTS: make(map[string]int64),
	}
}

func (q *memoryImportQueue) AddUsers(ctx context.Context, app domain.AppIdentifier, users []domain.ImportUser) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	records := q.apps[app.AppID]
	if records == nil {
		records = make(map[string]*domain.ImportUser)
		q.apps[app.AppID] = records
	}

	for i := range users {
		user := users[i]
		if user.ID == "" {
			user.ID = uuid.NewString()
		}
		for {
			if _, exists := records[user.ID]; !exists {
				break
			}
			user.ID = uuid.NewString()
		}

		user.Status = domain.ImportStatusNew
		user.ErrorMessage = nil
		user.CreatedAt = q.nextTimestamp(app.AppID)

		raw, err := user.RawData()
		if err != nil {
			return err
		}
		user.RawPayload = raw

		stored := user
		records[stored.ID] = &stored
	}
	return nil
}

// nextTimestamp hands out strictly increasing millisecond timestamps per app
// so the (createdAt, id) ordering is total even within one admission burst.
func (q *memoryImportQueue) nextTimestamp(appID string) int64 {
	ts := time.Now().UnixMilli()
	if ts <= q.lastTS[appID] {
		ts = q.lastTS[appID] + 1
	}
	q.lastTS[appID] = ts
	return ts
}

func (q *memoryImportQueue) GetUsers(ctx context.Context, app domain.AppIdentifier, limit int, status *domain.ImportStatus, paginationToken *string) (*domain.ImportUserPage, error) {
	if limit <= 0 {
		limit = 100
	}

	var token *domain.PaginationToken
	if paginationToken != nil {
		parsed, err := domain.DecodePaginationToken(*paginationToken)
		if err != nil {
			return nil, err
		}
		token = parsed
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	matched := make([]domain.ImportUser, 0)
	for _, record := range q.apps[app.AppID] {
		if status != nil && record.Status != *status {
			continue
		}
		if token != nil && !token.Before(record.CreatedAt, record.ID) {
			continue
		}
		matched = append(matched, *record)
	}

	sort.Slice(matched, func(i, j int) bool {
		return domain.LessRecent(matched[j].CreatedAt, matched[j].ID, matched[i].CreatedAt, matched[i].ID)
	})

	page := &domain.ImportUserPage{Users: matched}
	if len(matched) > limit {
		page.Users = matched[:limit]
		last := page.Users[limit-1]
		next := domain.PaginationToken{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
		page.NextPaginationToken = &next
	}
	return page, nil
}

func (q *memoryImportQueue) GetCount(ctx context.Context, app domain.AppIdentifier, status *domain.ImportStatus) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var count int64
	for _, record := range q.apps[app.AppID] {
		if status == nil || record.Status == *status {
			count++
		}
	}
	return count, nil
}

func (q *memoryImportQueue) ClaimBatch(ctx context.Context, app domain.AppIdentifier, limit int) ([]domain.ImportUser, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	candidates := make([]*domain.ImportUser, 0)
	for _, record := range q.apps[app.AppID] {
		if record.Status == domain.ImportStatusNew {
			candidates = append(candidates, record)
		}
	}
	// oldest first
	sort.Slice(candidates, func(i, j int) bool {
		return domain.LessRecent(candidates[i].CreatedAt, candidates[i].ID, candidates[j].CreatedAt, candidates[j].ID)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]domain.ImportUser, 0, len(candidates))
	for _, record := range candidates {
		record.Status = domain.ImportStatusProcessing
		record.ErrorMessage = nil
		claimed = append(claimed, *record)
	}
	return claimed, nil
}

func (q *memoryImportQueue) UpdateStatus(ctx context.Context, app domain.AppIdentifier, id string, status domain.ImportStatus, errorMessage *string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	record, ok := q.apps[app.AppID][id]
	if !ok {
		return pgx.ErrNoRows
	}
	record.Status = status
	record.ErrorMessage = errorMessage
	return nil
}

func (q *memoryImportQueue) Delete(ctx context.Context, app domain.AppIdentifier, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.apps[app.AppID][id]; !ok {
		return pgx.ErrNoRows
	}
	delete(q.apps[app.AppID], id)
	return nil
}
