package postgres

import (
	"context"
	"errors"
	"time"

	"ubi/pkg/config"
	pkgerrors "ubi/pkg/errors"
	"ubi/pkg/logger"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/ssgreg/repeat"
)

const uniqueViolation = "23505"

// Connect opens the database pool, retrying with jittered backoff while the
// server is still coming up.
func Connect(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*sqlx.DB, error) {
	tries := cfg.ConnectRetries
	if tries < 1 {
		tries = 1
	}

	var db *sqlx.DB
	err := repeat.Repeat(
		repeat.Fn(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var err error
			db, err = sqlx.ConnectContext(ctx, "postgres", cfg.URL)
			if err != nil {
				return repeat.HintTemporary(err)
			}
			return nil
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(tries),
		repeat.FnOnError(func(err error) error {
			log.Warn("Database not reachable, retrying", map[string]interface{}{
				"error": err.Error(),
			})
			return err
		}),
		repeat.WithDelay(
			repeat.SetContextHintStop(),
			(&repeat.FullJitterBackoffBuilder{
				BaseDelay: 500 * time.Millisecond,
				MaxDelay:  5 * time.Second,
			}).Set(),
		),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// constraintViolated reports whether err is a unique violation of the named
// constraint.
func constraintViolated(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == uniqueViolation && pqErr.Constraint == constraint
}
