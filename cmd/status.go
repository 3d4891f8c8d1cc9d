package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/falconcharade/nativesys/internal/applog"
	"github.com/falconcharade/nativesys/internal/names"
	"github.com/falconcharade/nativesys/internal/runner"
)

var statusCmd = &cobra.Command{
	Use:   "status <input>",
	Short: "Show how much of an input list the output script already covers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := names.Read(args[0], inputOptions(cmd))
		if err != nil {
			return err
		}

		out := applog.New(cfg.Output.Path, applog.Format{KeyColumn: cfg.Output.KeyColumn})
		st, err := out.Scan()
		if err != nil {
			return err
		}

		printStatus(cmd.OutOrStdout(), out.Path(), list, st)
		return nil
	},
}

type statusCounts struct {
	Total        int
	Updated      int
	Missed       int
	Pending      int
	RetryPending int
}

func countStatus(list []string, st *applog.State) statusCounts {
	c := statusCounts{Total: len(list)}
	for _, n := range list {
		switch {
		case st.Updated.Has(n):
			c.Updated++
		case st.Missed.Has(n):
			c.Missed++
		default:
			c.Pending++
		}
	}
	work, _ := runner.Plan(st, list, true)
	c.RetryPending = len(work)
	return c
}

func printStatus(w io.Writer, path string, list []string, st *applog.State) {
	c := countStatus(list, st)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Output:\t%s\n", path)
	_, _ = fmt.Fprintf(tw, "Names:\t%d\n", c.Total)
	_, _ = fmt.Fprintf(tw, "Updated:\t%d\n", c.Updated)
	_, _ = fmt.Fprintf(tw, "Missed:\t%d\n", c.Missed)
	_, _ = fmt.Fprintf(tw, "Pending:\t%d\n", c.Pending)
	_, _ = fmt.Fprintf(tw, "Retryable misses:\t%d\n", c.RetryPending)
	_, _ = fmt.Fprintf(tw, "Committed:\t%t\n", st.Committed)
	_ = tw.Flush()
}

func init() {
	statusCmd.Flags().StringP("output", "o", "update_native_system_ids.sql", "output .sql file to inspect")
	statusCmd.Flags().String("column", "", "CSV/XLSX header of the column holding faction names")
	statusCmd.Flags().String("sheet", "", "XLSX sheet name (default: first sheet)")
	rootCmd.AddCommand(statusCmd)
}
