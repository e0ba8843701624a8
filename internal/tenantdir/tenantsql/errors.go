package tenantsql

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openkcm/auth-relay/internal/serviceerr"
)

const uniqueViolation = "23505"

func handlePgError(err error) (error, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return serviceerr.ErrConflict, true
	}

	return err, false
}
