package refindex

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/falconcharade/nativesys/internal/resilience"
)

// Config selects and reaches the reference store.
type Config struct {
	Driver string
	DSN    string
	Retry  resilience.Policy
}

// Open connects to the configured store, retrying transient connection
// failures. Any failure is returned as an UnavailableError at StageConnect.
func Open(ctx context.Context, cfg Config) (Source, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	var open func(ctx context.Context) (Source, error)
	switch driver {
	case "postgres", "pgx":
		open = func(ctx context.Context) (Source, error) { return OpenPostgres(ctx, cfg.DSN) }
	case "sqlite":
		open = func(ctx context.Context) (Source, error) { return OpenSQL(ctx, "sqlite", cfg.DSN) }
	case "sqlserver", "mssql":
		open = func(ctx context.Context) (Source, error) { return OpenSQL(ctx, "sqlserver", cfg.DSN) }
	default:
		return nil, &UnavailableError{
			Stage: StageConnect,
			Err:   eris.Errorf("refindex: unsupported driver %q", cfg.Driver),
		}
	}

	retry := cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.LogRetry("reference", "connect")
	}

	src, err := resilience.Retry(ctx, retry, open)
	if err != nil {
		return nil, &UnavailableError{Stage: StageConnect, Err: err}
	}
	return src, nil
}
