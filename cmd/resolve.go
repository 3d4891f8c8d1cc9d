package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/falconcharade/nativesys/internal/applog"
	"github.com/falconcharade/nativesys/internal/config"
	"github.com/falconcharade/nativesys/internal/lookup"
	"github.com/falconcharade/nativesys/internal/names"
	"github.com/falconcharade/nativesys/internal/refindex"
	"github.com/falconcharade/nativesys/internal/resilience"
	"github.com/falconcharade/nativesys/internal/resolver"
	"github.com/falconcharade/nativesys/internal/runner"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <input>",
	Short: "Resolve native systems for a list of factions",
	Long: "Reads faction names (one per line, or a CSV/XLSX column), looks each one up and appends " +
		"an UPDATE or MISS entry to the output script. Re-running resumes where the last run stopped; " +
		"--retry-misses revisits only the factions recorded as misses.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("run_id", uuid.NewString()))

		list, err := names.Read(args[0], inputOptions(cmd))
		if err != nil {
			return err
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		src, err := lookup.Select(cfg.Lookup.Source, cfg.Lookup.SourceFile)
		if err != nil {
			return err
		}
		if cfg, err = config.WithDefaults(v, src.Pacing.Settings()); err != nil {
			return err
		}

		idx, err := loadIndex(cmd, cfg.Reference)
		if err != nil {
			return err
		}

		client, err := lookup.NewClient(src, lookup.Options{
			UserAgent:         cfg.Lookup.UserAgent,
			SearchTimeout:     cfg.Lookup.SearchTimeout,
			DetailsTimeout:    cfg.Lookup.DetailsTimeout,
			SearchRetries:     cfg.Lookup.SearchRetries,
			SearchBackoff:     time.Duration(cfg.Lookup.SearchBackoffMs) * time.Millisecond,
			RequestsPerSecond: cfg.Lookup.RequestsPerSecond,
		})
		if err != nil {
			return err
		}

		out := applog.New(cfg.Output.Path, outputFormat(cfg.Output, src))
		res := resolver.FromClient(client, idx, resolver.WithLogger(log))
		r := runner.New(out, res, runner.WithLogger(log))

		log.Info("resolve: starting",
			zap.String("source", src.Name),
			zap.String("input", args[0]),
			zap.String("output", out.Path()),
			zap.Int("names", len(list)),
			zap.Bool("retry_misses", cfg.Run.RetryMisses),
		)

		sum, err := r.Run(ctx, list, runner.Options{
			Policy: resolver.Policy{
				MaxRetries:   cfg.Resolve.MaxRetries,
				HardDeadline: cfg.Resolve.HardDeadline,
				RetryBackoff: cfg.Resolve.RetryBackoff,
			},
			Delay:       cfg.Run.Delay,
			RetryMisses: cfg.Run.RetryMisses,
			NoCommit:    cfg.Run.NoCommit,
		})
		if err != nil {
			return eris.Wrap(err, "resolve")
		}

		switch {
		case sum.NothingToRetry:
			fmt.Fprintf(cmd.OutOrStdout(), "No prior MISS entries found in %s. Nothing to retry.\n", out.Path())
		case sum.Interrupted:
			fmt.Fprintf(cmd.OutOrStdout(), "Interrupted. Appended %d updates, %d misses; re-run to resume.\n", sum.Updates, sum.Misses)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "Run complete. Appended %d updates, %d misses.\n", sum.Updates, sum.Misses)
		}
		return nil
	},
}

// inputOptions reads the input selection flags of cmd.
func inputOptions(cmd *cobra.Command) names.Options {
	column, _ := cmd.Flags().GetString("column")
	sheet, _ := cmd.Flags().GetString("sheet")
	return names.Options{Column: column, SheetName: sheet}
}

// loadIndex connects to the reference store, reads the system table and
// closes the connection again.
func loadIndex(cmd *cobra.Command, rc config.ReferenceConfig) (*refindex.Index, error) {
	ctx := cmd.Context()
	src, err := refindex.Open(ctx, refindex.Config{
		Driver: rc.Driver,
		DSN:    rc.DSN,
		Retry:  resilience.ConnectPolicy(rc.ConnectAttempts, rc.ConnectBackoffMs),
	})
	if err != nil {
		return nil, err
	}
	defer src.Close() //nolint:errcheck

	return refindex.Load(ctx, src, refindex.Columns{
		Table:      rc.Table,
		IDColumn:   rc.IDColumn,
		NameColumn: rc.NameColumn,
	})
}

func outputFormat(oc config.OutputConfig, src lookup.Source) applog.Format {
	return applog.Format{
		Table:       oc.Table,
		KeyColumn:   oc.KeyColumn,
		IDColumn:    oc.IDColumn,
		FlagColumn:  oc.FlagColumn,
		LocationTag: src.LocationTag,
		Generator:   src.Generator,
		Note:        src.Note,
	}
}

func init() {
	f := resolveCmd.Flags()
	f.StringP("output", "o", "update_native_system_ids.sql", "output .sql file (appended incrementally)")
	f.String("source", "inara", "faction site to query (inara, edsm or a name from --source-file)")
	f.String("source-file", "", "YAML file with custom source definitions")
	f.String("driver", "sqlserver", "reference store driver (sqlserver, postgres, sqlite)")
	f.String("dsn", "", "reference store connection string")
	f.String("system-table", "ref.System", "table holding star systems")
	f.String("system-id-col", "SystemID", "system ID column")
	f.String("system-name-col", "SystemName", "system name column")
	f.Duration("sleep", 2*time.Second, "delay between factions")
	f.Duration("search-timeout", 25*time.Second, "search request timeout")
	f.Duration("details-timeout", 60*time.Second, "details request timeout")
	f.Int("retries", 3, "max attempts for the details page")
	f.Duration("hard-timeout", 120*time.Second, "per-faction hard deadline")
	f.Bool("no-commit", false, "do not append COMMIT even if all names are processed")
	f.Bool("retry-misses", false, "only retry factions previously recorded as MISS")
	f.String("column", "", "CSV/XLSX header of the column holding faction names")
	f.String("sheet", "", "XLSX sheet name (default: first sheet)")

	rootCmd.AddCommand(resolveCmd)
}
