package pg

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

var (
	ErrFailedToConnect       = errors.New("failed to open db connection")
	ErrEmptyConnectionString = errors.New("empty postgres connection string, use PG_CONN_URL env var")
	ErrHealthcheckFailed     = errors.New("healthcheck failed, connection is not available")
	ErrFailedToParseConfig   = errors.New("failed to parse db config")
)

// IsNotFoundError detects pgx.ErrNoRows for consistent "not found" handling.
func IsNotFoundError(err error) bool {
	return err != nil && errors.Is(err, pgx.ErrNoRows)
}
