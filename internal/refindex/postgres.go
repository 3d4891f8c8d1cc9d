package refindex

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool used here, so pgxmock can stand in.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresSource reads the reference table over a pgx connection pool.
type PostgresSource struct {
	pool Pool
}

// NewPostgresSource wraps an existing pool.
func NewPostgresSource(pool Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// OpenPostgres creates a small pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresSource, error) {
	pgxCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	// One select per run; keep the footprint minimal.
	pgxCfg.MaxConns = 2
	pgxCfg.MinConns = 0
	pgxCfg.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresSource{pool: pool}, nil
}

// Rows implements Source.
func (s *PostgresSource) Rows(ctx context.Context, cols Columns) ([]Row, error) {
	rows, err := s.pool.Query(ctx, cols.SelectSQL())
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: select from %s", cols.Table)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", cols.Table)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgres: iterate %s", cols.Table)
	}
	return out, nil
}

// Close releases the pool.
func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}
