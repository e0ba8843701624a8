package tenantdir

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/serviceerr"
)

const defaultCacheTTL = time.Minute

type Service struct {
	repository Repository
	cache      *cache.Cache
}

type Option func(*Service)

// WithCacheTTL sets how long lookups are served from memory. Zero disables
// the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl <= 0 {
			s.cache = nil
			return
		}
		s.cache = cache.New(ttl, 2*ttl)
	}
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repository: repo,
		cache:      cache.New(defaultCacheTTL, 2*defaultCacheTTL),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Check returns nil if the tenant may be served, serviceerr.ErrTenantBlocked
// or serviceerr.ErrUnknownTenant if it may not, and any other error if the
// directory could not be read.
func (s *Service) Check(ctx context.Context, tenantID string) error {
	tenant, err := s.lookup(ctx, tenantID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return serviceerr.ErrUnknownTenant
		}
		return fmt.Errorf("looking up tenant: %w", err)
	}

	if tenant.Blocked {
		return serviceerr.ErrTenantBlocked
	}

	return nil
}

func (s *Service) lookup(ctx context.Context, tenantID string) (Tenant, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(tenantID); ok {
			return v.(Tenant), nil
		}
	}

	tenant, err := s.repository.Get(ctx, tenantID)
	if err != nil {
		return Tenant{}, err
	}

	if s.cache != nil {
		s.cache.SetDefault(tenantID, tenant)
	}

	return tenant, nil
}

// Add creates the tenant or updates its display name if it exists.
func (s *Service) Add(ctx context.Context, tenant Tenant) error {
	existing, err := s.repository.Get(ctx, tenant.ID)
	switch {
	case errors.Is(err, serviceerr.ErrNotFound):
		err = s.repository.Create(ctx, tenant)
		if err != nil {
			return fmt.Errorf("creating tenant: %w", err)
		}
	case err != nil:
		return fmt.Errorf("getting tenant: %w", err)
	default:
		existing.DisplayName = tenant.DisplayName
		err = s.repository.Update(ctx, existing)
		if err != nil {
			return fmt.Errorf("updating tenant: %w", err)
		}
	}

	s.forget(tenant.ID)
	slogctx.Info(ctx, "Tenant added", "tenant", tenant.ID)

	return nil
}

// Block marks the tenant as blocked. Blocking an unknown or blocked tenant
// does nothing.
func (s *Service) Block(ctx context.Context, tenantID string) error {
	return s.setBlocked(ctx, tenantID, true)
}

// Unblock clears the blocked flag. Unblocking an unknown or unblocked
// tenant does nothing.
func (s *Service) Unblock(ctx context.Context, tenantID string) error {
	return s.setBlocked(ctx, tenantID, false)
}

func (s *Service) setBlocked(ctx context.Context, tenantID string, blocked bool) error {
	defer s.forget(tenantID)

	tenant, err := s.repository.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("getting tenant: %w", err)
	}
	if tenant.Blocked == blocked {
		return nil
	}

	tenant.Blocked = blocked
	err = s.repository.Update(ctx, tenant)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("updating tenant: %w", err)
	}

	slogctx.Info(ctx, "Tenant updated", "tenant", tenantID, "blocked", blocked)

	return nil
}

func (s *Service) Remove(ctx context.Context, tenantID string) error {
	defer s.forget(tenantID)

	err := s.repository.Delete(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("deleting tenant: %w", err)
	}

	return nil
}

func (s *Service) forget(tenantID string) {
	if s.cache != nil {
		s.cache.Delete(tenantID)
	}
}
