// Package refindex loads the reference table of star systems into an
// in-memory, case- and whitespace-insensitive name index.
package refindex

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrReferenceUnavailable matches every failure to reach or read the
// reference store.
var ErrReferenceUnavailable = errors.New("reference store unavailable")

// Stage identifies where loading the reference index failed.
type Stage int

const (
	// StageConnect covers opening and pinging the store.
	StageConnect Stage = iota
	// StageQuery covers running the select and scanning rows.
	StageQuery
)

func (s Stage) String() string {
	switch s {
	case StageConnect:
		return "connect"
	case StageQuery:
		return "query"
	default:
		return "unknown"
	}
}

// UnavailableError reports a reference store failure at a given stage.
type UnavailableError struct {
	Stage Stage
	Err   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("reference %s: %v", e.Stage, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrReferenceUnavailable) hold for any stage.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrReferenceUnavailable
}

// Columns names the table and columns holding system IDs and names.
type Columns struct {
	Table      string
	IDColumn   string
	NameColumn string
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Validate rejects identifiers that cannot be interpolated safely.
func (c Columns) Validate() error {
	for _, ident := range []string{c.Table, c.IDColumn, c.NameColumn} {
		if !identRe.MatchString(ident) {
			return eris.Errorf("refindex: invalid identifier %q", ident)
		}
	}
	return nil
}

// SelectSQL returns the portable select statement for the columns. NULL
// names come back as empty strings and are skipped by New.
func (c Columns) SelectSQL() string {
	return fmt.Sprintf("SELECT %s, COALESCE(%s, '') FROM %s", c.IDColumn, c.NameColumn, c.Table)
}

// Source is a reachable reference store.
type Source interface {
	// Rows returns every (ID, name) pair in the configured table.
	Rows(ctx context.Context, cols Columns) ([]Row, error)
	Close() error
}

// Load reads all rows from src and builds the Index.
func Load(ctx context.Context, src Source, cols Columns) (*Index, error) {
	if err := cols.Validate(); err != nil {
		return nil, &UnavailableError{Stage: StageQuery, Err: err}
	}

	rows, err := src.Rows(ctx, cols)
	if err != nil {
		return nil, &UnavailableError{Stage: StageQuery, Err: err}
	}

	idx, dupes := New(rows)
	if dupes > 0 {
		zap.L().Warn("refindex: duplicate system names after normalization, first row kept",
			zap.Int("duplicates", dupes),
			zap.String("table", cols.Table),
		)
	}
	zap.L().Info("refindex: loaded reference index",
		zap.String("table", cols.Table),
		zap.Int("rows", len(rows)),
		zap.Int("names", idx.Len()),
	)
	return idx, nil
}
