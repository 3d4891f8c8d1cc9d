package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/falconcharade/nativesys/internal/config"
	"github.com/falconcharade/nativesys/internal/names"
	"github.com/falconcharade/nativesys/internal/refindex"
)

// Process exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitEmptyInput = 2
	exitRefConnect = 3
	exitRefQuery   = 4
)

var (
	cfg *config.Config
	// v is rebuilt for every execution so config.yaml is looked up in the
	// working directory of that run.
	v *viper.Viper
)

// flagKeys maps command flags to the config keys they override. A flag is
// bound only on the command that defines it.
var flagKeys = map[string]string{
	"output":          "output.path",
	"source":          "lookup.source",
	"source-file":     "lookup.source_file",
	"driver":          "reference.driver",
	"dsn":             "reference.dsn",
	"system-table":    "reference.table",
	"system-id-col":   "reference.id_column",
	"system-name-col": "reference.name_column",
	"sleep":           "run.delay",
	"search-timeout":  "lookup.search_timeout",
	"details-timeout": "lookup.details_timeout",
	"retries":         "resolve.max_retries",
	"hard-timeout":    "resolve.hard_deadline",
	"no-commit":       "run.no_commit",
	"retry-misses":    "run.retry_misses",
}

var rootCmd = &cobra.Command{
	Use:   "nativesys",
	Short: "Map factions to their native star system",
	Long: "Looks factions up on a public faction site, resolves the home system through the " +
		"reference system table and appends resumable UPDATE statements to an output script.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v = config.New()
		if err := bindFlags(v, cmd); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}

		c, err := config.LoadFrom(v)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// bindFlags ties the command's flags to their config keys so flags
// override file and environment values.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, names.ErrEmptyInput) {
		return exitEmptyInput
	}
	var ue *refindex.UnavailableError
	if errors.As(err, &ue) {
		if ue.Stage == refindex.StageConnect {
			return exitRefConnect
		}
		return exitRefQuery
	}
	return exitFailure
}

func execute(ctx context.Context, args []string) int {
	// Cobra hands the root context to a subcommand only while the
	// subcommand has none, so a second execution would inherit the first.
	for _, c := range rootCmd.Commands() {
		c.SetContext(ctx)
	}
	rootCmd.SetArgs(args)
	return exitCode(rootCmd.ExecuteContext(ctx))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
