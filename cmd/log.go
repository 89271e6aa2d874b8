package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/utils"
)

var logOpts struct {
	Identity string
	Since    time.Duration
	Limit    int
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recorded attendance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		f, err := visitFilter(logOpts.Identity, logOpts.Since, logOpts.Limit, time.Now())
		if err != nil {
			return err
		}
		return runLog(cmd.Context(), Cfg, f, os.Stdout)
	},
}

func init() {
	logCmd.Flags().StringVarP(&logOpts.Identity, "identity", "i", "", "Only show this identity")
	logCmd.Flags().DurationVar(&logOpts.Since, "since", 0, "Only show records newer than this, e.g. 24h")
	logCmd.Flags().IntVarP(&logOpts.Limit, "limit", "l", 50, "Maximum rows (0 for all)")
	rootCmd.AddCommand(logCmd)
}

func visitFilter(identity string, since time.Duration, limit int, now time.Time) (store.VisitFilter, error) {
	if since < 0 {
		return store.VisitFilter{}, fmt.Errorf("--since must be >= 0, got %s", since)
	}
	if limit < 0 {
		return store.VisitFilter{}, fmt.Errorf("--limit must be >= 0, got %d", limit)
	}
	f := store.VisitFilter{Identity: identity, Limit: limit}
	if since > 0 {
		f.Since = now.Add(-since)
	}
	return f, nil
}

func runLog(ctx context.Context, cfg *config.Config, f store.VisitFilter, out io.Writer) error {
	s, err := openStore(ctx, cfg, true)
	if err != nil {
		utils.ShowError("Database unavailable", err, nil)
		return err
	}
	defer closeStore(s)

	visits, err := s.ListAttendance(ctx, f)
	if err != nil {
		utils.ShowError("Failed to read attendance", err, nil)
		return err
	}
	printVisits(out, visits)
	return nil
}

func printVisits(out io.Writer, visits []store.Visit) {
	if len(visits) == 0 {
		fmt.Fprintln(out, "No attendance recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SEEN\tIDENTITY\tCONFIDENCE\tSESSION")
	fmt.Fprintln(w, "----\t--------\t----------\t-------")
	for _, v := range visits {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n",
			v.SeenAt.Local().Format("2006-01-02 15:04:05"),
			v.Identity,
			1-v.Distance,
			v.Session.String()[:8],
		)
	}
	w.Flush()
}
