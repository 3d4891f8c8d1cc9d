package refindex

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteRef(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "systems.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
CREATE TABLE systems (
	system_id   INTEGER PRIMARY KEY,
	system_name TEXT
);
INSERT INTO systems (system_id, system_name) VALUES
	(1, 'Sol'),
	(2, 'Wolf 359'),
	(3, NULL),
	(4, 'SOL');
`)
	require.NoError(t, err)
	return path
}

var sqliteColumns = Columns{Table: "systems", IDColumn: "system_id", NameColumn: "system_name"}

func TestSQLSource_SQLite(t *testing.T) {
	path := newSQLiteRef(t)

	src, err := OpenSQL(context.Background(), "sqlite", path)
	require.NoError(t, err)
	defer src.Close()

	rows, err := src.Rows(context.Background(), sqliteColumns)
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	idx, err := Load(context.Background(), src, sqliteColumns)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	id, ok := idx.Resolve("sol")
	assert.True(t, ok)
	assert.Equal(t, int64(1), id)
}

func TestSQLSource_MissingColumn(t *testing.T) {
	path := newSQLiteRef(t)

	src, err := OpenSQL(context.Background(), "sqlite", path)
	require.NoError(t, err)
	defer src.Close()

	cols := Columns{Table: "systems", IDColumn: "system_id", NameColumn: "name"}
	_, err = Load(context.Background(), src, cols)
	require.Error(t, err)

	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, StageQuery, ue.Stage)
	assert.Contains(t, err.Error(), "sqlite: select from systems")
}

func TestOpen_SQLite(t *testing.T) {
	path := newSQLiteRef(t)

	src, err := Open(context.Background(), Config{Driver: "sqlite", DSN: path})
	require.NoError(t, err)
	defer src.Close()

	_, ok := src.(*SQLSource)
	assert.True(t, ok)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReferenceUnavailable))

	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, StageConnect, ue.Stage)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestOpen_ConnectFailure(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "missing", "dir", "systems.db")

	_, err := Open(context.Background(), Config{Driver: "sqlite", DSN: dsn})
	require.Error(t, err)

	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, StageConnect, ue.Stage)
}

func TestOpen_PostgresBadDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "postgres", DSN: "postgres://%zz"})
	require.Error(t, err)

	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, StageConnect, ue.Stage)
	assert.Contains(t, err.Error(), "postgres: parse config")
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "connect", StageConnect.String())
	assert.Equal(t, "query", StageQuery.String())
	assert.Equal(t, "unknown", Stage(9).String())
}
