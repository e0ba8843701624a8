package tenantdirmock

import (
	"context"
	"sync"

	"github.com/openkcm/auth-relay/internal/serviceerr"
	"github.com/openkcm/auth-relay/internal/tenantdir"
)

type RepositoryOption func(*Repository)

type Repository struct {
	mu      sync.Mutex
	tenants map[string]tenantdir.Tenant
	gets    int

	getErr, createErr, deleteErr, updateErr error
}

func WithTenant(tenant tenantdir.Tenant) RepositoryOption {
	return func(r *Repository) { r.tenants[tenant.ID] = tenant }
}
func WithGetError(err error) RepositoryOption {
	return func(r *Repository) { r.getErr = err }
}
func WithCreateError(err error) RepositoryOption {
	return func(r *Repository) { r.createErr = err }
}
func WithDeleteError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteErr = err }
}
func WithUpdateError(err error) RepositoryOption {
	return func(r *Repository) { r.updateErr = err }
}

var _ = tenantdir.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		tenants: make(map[string]tenantdir.Tenant),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// TGet is a helper method for tests to read a stored tenant.
func (r *Repository) TGet(tenantID string) (tenantdir.Tenant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	return t, ok
}

// TGets is a helper method for tests to count Get calls.
func (r *Repository) TGets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}

func (r *Repository) Get(_ context.Context, tenantID string) (tenantdir.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.getErr != nil {
		return tenantdir.Tenant{}, r.getErr
	}
	if t, ok := r.tenants[tenantID]; ok {
		return t, nil
	}
	return tenantdir.Tenant{}, serviceerr.ErrNotFound
}

func (r *Repository) Create(_ context.Context, tenant tenantdir.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.tenants[tenant.ID]; ok {
		return serviceerr.ErrConflict
	}
	r.tenants[tenant.ID] = tenant
	return nil
}

func (r *Repository) Update(_ context.Context, tenant tenantdir.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.tenants[tenant.ID]; !ok {
		return serviceerr.ErrNotFound
	}
	r.tenants[tenant.ID] = tenant
	return nil
}

func (r *Repository) Delete(_ context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.tenants[tenantID]; !ok {
		return serviceerr.ErrNotFound
	}
	delete(r.tenants, tenantID)
	return nil
}
