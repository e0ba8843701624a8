package tenantsql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/openkcm/auth-relay/internal/serviceerr"
	"github.com/openkcm/auth-relay/internal/tenantdir"
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type Repository struct {
	db DB
}

var _ tenantdir.Repository = (*Repository)(nil)

func NewRepository(db DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) Get(ctx context.Context, tenantID string) (tenantdir.Tenant, error) {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "get_tenant_sql")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		span.RecordError(err)
		return tenantdir.Tenant{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tenant := tenantdir.Tenant{ID: tenantID}
	err = tx.QueryRow(ctx,
		`SELECT display_name, blocked FROM tenants WHERE tenant_id = $1;`, tenantID,
	).Scan(&tenant.DisplayName, &tenant.Blocked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tenantdir.Tenant{}, serviceerr.ErrNotFound
		}
		span.RecordError(err)
		return tenantdir.Tenant{}, fmt.Errorf("scanning rows: %w", err)
	}

	err = tx.Commit(ctx)
	if err != nil {
		span.RecordError(err)
		return tenantdir.Tenant{}, fmt.Errorf("committing tx: %w", err)
	}

	return tenant, nil
}

func (r *Repository) Create(ctx context.Context, tenant tenantdir.Tenant) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "create_tenant_sql")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO tenants (tenant_id, display_name, blocked) VALUES ($1, $2, $3);`,
		tenant.ID, tenant.DisplayName, tenant.Blocked,
	)
	if err != nil {
		span.RecordError(err)
		if err, ok := handlePgError(err); ok {
			return err
		}

		return fmt.Errorf("inserting into tenants: %w", err)
	}

	err = tx.Commit(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (r *Repository) Update(ctx context.Context, tenant tenantdir.Tenant) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "update_tenant_sql")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx,
		`UPDATE tenants SET display_name = $1, blocked = $2, updated_at = now() WHERE tenant_id = $3;`,
		tenant.DisplayName, tenant.Blocked, tenant.ID,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("updating tenants: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return serviceerr.ErrNotFound
	}

	err = tx.Commit(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("committing tx: %w", err)
	}

	return nil
}

func (r *Repository) Delete(ctx context.Context, tenantID string) error {
	ctx, span := otel.GetTracerProvider().Tracer("").Start(ctx, "delete_tenant_sql")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `DELETE FROM tenants WHERE tenant_id = $1;`, tenantID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("executing sql query: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return serviceerr.ErrNotFound
	}

	err = tx.Commit(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("committing tx: %w", err)
	}

	return nil
}
