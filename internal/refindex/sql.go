package refindex

import (
	"context"
	"database/sql"

	_ "github.com/microsoft/go-mssqldb" // registers "sqlserver"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // registers "sqlite"
)

// SQLSource reads the reference table through database/sql. It serves the
// SQL Server and SQLite drivers.
type SQLSource struct {
	db     *sql.DB
	driver string
}

// OpenSQL opens a database/sql handle for driver and pings it.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLSource, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: open", driver)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, eris.Wrapf(err, "%s: ping", driver)
	}
	return &SQLSource{db: db, driver: driver}, nil
}

// NewSQLSource wraps an already open handle.
func NewSQLSource(db *sql.DB, driver string) *SQLSource {
	return &SQLSource{db: db, driver: driver}
}

// Rows implements Source.
func (s *SQLSource) Rows(ctx context.Context, cols Columns) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, cols.SelectSQL())
	if err != nil {
		return nil, eris.Wrapf(err, "%s: select from %s", s.driver, cols.Table)
	}
	defer rows.Close() //nolint:errcheck

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, eris.Wrapf(err, "%s: scan %s", s.driver, cols.Table)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "%s: iterate %s", s.driver, cols.Table)
	}
	return out, nil
}

// Close closes the handle.
func (s *SQLSource) Close() error {
	return s.db.Close()
}
