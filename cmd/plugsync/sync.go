package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/obentoo/plugsync/internal/common/logger"
	"github.com/obentoo/plugsync/internal/common/output"
)

// syncJSON prints {"refreshNeeded": bool} instead of a message
var syncJSON bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Remove recently updated plugins from the host's update index",
	Long: `Run a reconciliation sweep: every plugin applied in the last 24 hours is
removed again from the host's needs-update set. Plugins applied earlier are
left alone.`,
	Run: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) {
	a := mustLoadApp()
	defer a.Close()

	res := a.svc.SyncCache(cmd.Context())
	if syncJSON {
		if err := writeJSON(os.Stdout, res); err != nil {
			logger.Error("%v", err)
			os.Exit(1)
		}
		return
	}

	if res.RefreshNeeded {
		output.PrintInfo("update index cleaned, refresh the host's update view")
	} else {
		output.PrintSuccess("update index already in sync")
	}
}
