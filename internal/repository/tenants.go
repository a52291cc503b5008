package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/identity-import/internal/domain"
	apperrors "github.com/spec-kit/identity-import/pkg/util/errorutil"
)

// TenantRegistry resolves tenants and roles of an app, and maps each tenant
// to the storage pool backing it. Tenants of one app may or may not share a
// pool.
type TenantRegistry interface {
	TenantExists(ctx context.Context, app domain.AppIdentifier, tenantID string) (bool, error)
	RoleExists(ctx context.Context, app domain.AppIdentifier, role string) (bool, error)
	PoolFor(ctx context.Context, app domain.AppIdentifier, tenantID string) (string, error)
}

// ErrUnknownTenant is returned by PoolFor for tenants not registered under
// the app.
var ErrUnknownTenant = apperrors.NewNotFound("tenant", nil)

type tenantRegistry struct {
	pool *pgxpool.Pool
}

// NewTenantRegistry instantiates the postgres-backed registry.
func NewTenantRegistry(pool *pgxpool.Pool) TenantRegistry {
	return &tenantRegistry{pool: pool}
}

func (r *tenantRegistry) TenantExists(ctx context.Context, app domain.AppIdentifier, tenantID string) (bool, error) {
	const query = `SELECT 1 FROM tenants WHERE app_id = $1 AND tenant_id = $2`
	var one int
	err := r.pool.QueryRow(ctx, query, app.AppID, tenantID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *tenantRegistry) RoleExists(ctx context.Context, app domain.AppIdentifier, role string) (bool, error) {
	const query = `SELECT 1 FROM roles WHERE app_id = $1 AND role = $2`
	var one int
	err := r.pool.QueryRow(ctx, query, app.AppID, role).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *tenantRegistry) PoolFor(ctx context.Context, app domain.AppIdentifier, tenantID string) (string, error) {
	const query = `SELECT pool_id FROM tenants WHERE app_id = $1 AND tenant_id = $2`
	var poolID string
	err := r.pool.QueryRow(ctx, query, app.AppID, tenantID).Scan(&poolID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUnknownTenant
	}
	return poolID, err
}

// MemoryTenantRegistry is a map-backed TenantRegistry for tests and
// single-node setups.
type MemoryTenantRegistry struct {
	mu      sync.RWMutex
	tenants map[string]map[string]string
	roles   map[string]map[string]bool
}

// NewMemoryTenantRegistry builds a registry preloaded with the public tenant
// of the default app on the default pool.
func NewMemoryTenantRegistry() *MemoryTenantRegistry {
	r := &MemoryTenantRegistry{
		tenants: make(map[string]map[string]string),
		roles:   make(map[string]map[string]bool),
	}
	r.AddTenant(domain.NewAppIdentifier(""), domain.PublicTenantID, "pool-0")
	return r
}

// AddTenant registers a tenant under the app, backed by the given pool.
func (r *MemoryTenantRegistry) AddTenant(app domain.AppIdentifier, tenantID, poolID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tenants[app.AppID] == nil {
		r.tenants[app.AppID] = make(map[string]string)
	}
	r.tenants[app.AppID][tenantID] = poolID
}

// AddRole registers a role under the app.
func (r *MemoryTenantRegistry) AddRole(app domain.AppIdentifier, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roles[app.AppID] == nil {
		r.roles[app.AppID] = make(map[string]bool)
	}
	r.roles[app.AppID][role] = true
}

func (r *MemoryTenantRegistry) TenantExists(ctx context.Context, app domain.AppIdentifier, tenantID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tenants[app.AppID][tenantID]
	return ok, nil
}

func (r *MemoryTenantRegistry) RoleExists(ctx context.Context, app domain.AppIdentifier, role string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[app.AppID][role], nil
}

func (r *MemoryTenantRegistry) PoolFor(ctx context.Context, app domain.AppIdentifier, tenantID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	poolID, ok := r.tenants[app.AppID][tenantID]
	if !ok {
		return "", ErrUnknownTenant
	}
	return poolID, nil
}
