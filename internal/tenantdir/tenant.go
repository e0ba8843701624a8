// Package tenantdir keeps the directory of tenants the relay serves. A
// tenant missing from the directory, or marked blocked, is turned away at
// the gatekeeper.
package tenantdir

import "context"

type Tenant struct {
	ID          string
	DisplayName string
	Blocked     bool
}

// Repository persists tenants.
type Repository interface {
	Get(ctx context.Context, tenantID string) (Tenant, error)
	Create(ctx context.Context, tenant Tenant) error
	Update(ctx context.Context, tenant Tenant) error
	Delete(ctx context.Context, tenantID string) error
}
