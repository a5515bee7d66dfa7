package db

import (
	"context"
	"time"

	"backend-skatespots/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

var (
	newPoolFn  = pgxpool.New
	pingPoolFn = func(ctx context.Context, pool *pgxpool.Pool) error { return pool.Ping(ctx) }
)

// ConnectPostgres opens the audit database pool. The pool is verified with a
// ping before it is returned.
func ConnectPostgres(cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := newPoolFn(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, eris.Wrap(err, "db: parse postgres url")
	}
	if err := pingPoolFn(ctx, pool); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "db: ping postgres")
	}
	return pool, nil
}
