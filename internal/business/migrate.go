package business

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/pressly/goose/v3"
	"github.com/samber/oops"

	// Register pgx driver
	_ "github.com/jackc/pgx/v5/stdlib"

	slogctx "github.com/veqryn/slog-context"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/openkcm/auth-relay/internal/config"
	migrations "github.com/openkcm/auth-relay/sql"
)

const migrationDialect = "pgx"

// MigrateMain brings the tenant directory schema up to date.
func MigrateMain(ctx context.Context, cfg *config.Config) error {
	db, closeDB, err := openMigrationDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeDB()

	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect(migrationDialect); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("applying tenant directory migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("reading tenant directory schema version: %w", err)
	}

	slogctx.Info(ctx, "Tenant directory schema is up to date", "version", version)

	return nil
}

// openMigrationDB opens an instrumented database/sql handle, which is what
// goose drives. The returned func unregisters the stats metrics and closes
// the handle.
func openMigrationDB(ctx context.Context, dbCfg config.Database) (*sql.DB, func(), error) {
	attrs := otelsql.WithAttributes(semconv.DBSystemNamePostgreSQL)

	connStr, err := config.MakeConnStr(dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("making connection string from config: %w", err)
	}

	db, err := otelsql.Open(migrationDialect, connStr, attrs)
	if err != nil {
		return nil, nil, oops.In("main").Wrapf(err, "opening DB connection")
	}

	reg, err := otelsql.RegisterDBStatsMetrics(db, attrs)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("registering db stats metrics: %w", err)
	}

	closeDB := func() {
		if err := reg.Unregister(); err != nil {
			slogctx.Error(ctx, "failed to unregister db stats metrics", "error", err)
		}

		if err := db.Close(); err != nil {
			slogctx.Error(ctx, "failed to close the migration DB", "error", err)
		}
	}

	return db, closeDB, nil
}
