package business

import (
	"context"
	"fmt"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/tenantdir"
)

// TenantAction changes one entry of the tenant directory.
type TenantAction func(ctx context.Context, dir *tenantdir.Service) error

func AddTenant(id, displayName string) TenantAction {
	return func(ctx context.Context, dir *tenantdir.Service) error {
		return dir.Add(ctx, tenantdir.Tenant{ID: id, DisplayName: displayName})
	}
}

func BlockTenant(id string) TenantAction {
	return func(ctx context.Context, dir *tenantdir.Service) error {
		return dir.Block(ctx, id)
	}
}

func UnblockTenant(id string) TenantAction {
	return func(ctx context.Context, dir *tenantdir.Service) error {
		return dir.Unblock(ctx, id)
	}
}

func RemoveTenant(id string) TenantAction {
	return func(ctx context.Context, dir *tenantdir.Service) error {
		return dir.Remove(ctx, id)
	}
}

// TenantsMain applies action to the tenant directory in the configured
// database.
func TenantsMain(ctx context.Context, cfg *config.Config, action TenantAction) error {
	dir, closeFn, err := tenantDirectoryFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening the tenant directory: %w", err)
	}
	defer closeFn()

	if err := action(ctx, dir); err != nil {
		return fmt.Errorf("updating the tenant directory: %w", err)
	}

	slogctx.Info(ctx, "Tenant directory updated")

	return nil
}
