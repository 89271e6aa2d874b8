package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/rollcall/internal/utils"
)

var (
	resetDB        bool
	resetSnapshots bool
	resetYes       bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Database, Snapshots)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetSnapshots {
			resetDB = true
			resetSnapshots = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB && (resetYes || confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP all database tables?")) {
			fmt.Println("🗑️  Clearing Database...")
			s, err := openStore(cmd.Context(), Cfg, true)
			if err != nil {
				utils.ShowError("Database unavailable", err, nil)
				return err
			}
			err = s.Reset(cmd.Context())
			closeStore(s)
			if err != nil {
				utils.ShowError("Failed to reset database", err, nil)
				return err
			}
		}

		if resetSnapshots && Cfg.Stream.SnapshotDir != "" &&
			(resetYes || confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Are you sure you want to delete all snapshots in %s?", Cfg.Stream.SnapshotDir))) {
			fmt.Println("🗑️  Clearing Snapshots...")
			removeDir(Cfg.Stream.SnapshotDir)
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear PostgreSQL database")
	resetCmd.Flags().BoolVar(&resetSnapshots, "snapshots", false, "Clear saved snapshots (stream.snapshot_dir)")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
