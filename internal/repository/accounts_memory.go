package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/spec-kit/identity-import/internal/domain"
)

// memoryAccountStore is an in-memory AccountRepository. Each pool is guarded
// by the store mutex, giving the same atomic check-and-create semantics the
// postgres implementation gets from row locks.
type memoryAccountStore struct {
	mu    sync.Mutex
	pools map[string]map[string]*domain.AuthAccount
	roles map[string]map[string][]string
}

// NewMemoryAccountStore builds an empty in-memory account store.
func NewMemoryAccountStore() AccountRepository {
	return &memoryAccountStore{
		pools: make(map[string]map[string]*domain.AuthAccount),
		roles: make(map[string]map[string][]string),
	}
}

func (s *memoryAccountStore) pool(poolID string) map[string]*domain.AuthAccount {
	accounts := s.pools[poolID]
	if accounts == nil {
		accounts = make(map[string]*domain.AuthAccount)
		s.pools[poolID] = accounts
	}
	return accounts
}

func (s *memoryAccountStore) CreateAccount(ctx context.Context, poolID string, account *domain.AuthAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := s.pool(poolID)
	for _, existing := range accounts {
		if existing.RecipeID != account.RecipeID || !existing.SharesTenantWith(account) {
			continue
		}
		if sameIdentityKey(existing, account) {
			return duplicateAccountError(account)
		}
	}

	stored := cloneAccount(account)
	stored.PoolID = poolID
	accounts[stored.ID] = stored
	account.PoolID = poolID
	return nil
}

func (s *memoryAccountStore) GetByID(ctx context.Context, poolID, id string) (*domain.AuthAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.pool(poolID)[id]
	if !ok {
		return nil, errAccountNotFound
	}
	return cloneAccount(account), nil
}

func (s *memoryAccountStore) FindPrimaryByEmail(ctx context.Context, poolID, email string) (*domain.AuthAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account := s.findPrimaryLocked(poolID, email); account != nil {
		return cloneAccount(account), nil
	}
	return nil, nil
}

func (s *memoryAccountStore) findPrimaryLocked(poolID, email string) *domain.AuthAccount {
	for _, account := range s.pool(poolID) {
		if account.IsPrimary && account.Email != nil && *account.Email == email {
			return account
		}
	}
	return nil
}

func (s *memoryAccountStore) MakePrimary(ctx context.Context, poolID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.pool(poolID)[accountID]
	if !ok {
		return errAccountNotFound
	}
	if account.Email != nil {
		if conflict := s.findPrimaryLocked(poolID, *account.Email); conflict != nil && conflict.ID != accountID {
			return primaryConflictError(*account.Email)
		}
	}
	account.IsPrimary = true
	id := account.ID
	account.PrimaryUserID = &id
	return nil
}

func (s *memoryAccountStore) LinkAccounts(ctx context.Context, poolID, primaryID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := s.pool(poolID)
	primary, ok := accounts[primaryID]
	if !ok {
		return errAccountNotFound
	}
	if !primary.IsPrimary {
		return primaryConflictError("")
	}
	account, ok := accounts[accountID]
	if !ok {
		return errAccountNotFound
	}
	if account.Email != nil {
		if conflict := s.findPrimaryLocked(poolID, *account.Email); conflict != nil && conflict.ID != primaryID {
			return primaryConflictError(*account.Email)
		}
	}
	account.PrimaryUserID = &primary.ID
	return nil
}

func (s *memoryAccountStore) ListLinked(ctx context.Context, poolID, primaryUserID string) ([]domain.AuthAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.AuthAccount
	for _, account := range s.pool(poolID) {
		if account.PrimaryUserID != nil && *account.PrimaryUserID == primaryUserID {
			result = append(result, *cloneAccount(account))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TimeJoined < result[j].TimeJoined })
	return result, nil
}

func (s *memoryAccountStore) DeleteAccount(ctx context.Context, poolID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pool(poolID), id)
	return nil
}

func (s *memoryAccountStore) AssignRoles(ctx context.Context, poolID, primaryUserID string, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser := s.roles[poolID]
	if byUser == nil {
		byUser = make(map[string][]string)
		s.roles[poolID] = byUser
	}
	for _, role := range roles {
		if !containsString(byUser[primaryUserID], role) {
			byUser[primaryUserID] = append(byUser[primaryUserID], role)
		}
	}
	return nil
}

func sameIdentityKey(a, b *domain.AuthAccount) bool {
	if a.Email != nil && b.Email != nil && *a.Email == *b.Email {
		return true
	}
	if a.PhoneNumber != nil && b.PhoneNumber != nil && *a.PhoneNumber == *b.PhoneNumber {
		return true
	}
	if a.ThirdParty != nil && b.ThirdParty != nil &&
		a.ThirdParty.ID == b.ThirdParty.ID && a.ThirdParty.UserID == b.ThirdParty.UserID {
		return true
	}
	return false
}

func cloneAccount(account *domain.AuthAccount) *domain.AuthAccount {
	clone := *account
	clone.TenantIDs = append([]string(nil), account.TenantIDs...)
	if account.Email != nil {
		email := *account.Email
		clone.Email = &email
	}
	if account.PhoneNumber != nil {
		phone := *account.PhoneNumber
		clone.PhoneNumber = &phone
	}
	if account.PrimaryUserID != nil {
		id := *account.PrimaryUserID
		clone.PrimaryUserID = &id
	}
	if account.ThirdParty != nil {
		tp := *account.ThirdParty
		clone.ThirdParty = &tp
	}
	if account.Webauthn != nil {
		wa := *account.Webauthn
		clone.Webauthn = &wa
	}
	return &clone
}

func containsString(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
