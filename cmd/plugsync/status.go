package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/obentoo/plugsync/internal/autoupdate"
	"github.com/obentoo/plugsync/internal/common/logger"
	"github.com/obentoo/plugsync/internal/common/output"
)

var (
	// statusActor is the identity whose pending count is shown
	statusActor  string
	statusFilter string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracked plugins and their update state",
	Long: `Display every plugin the tracker knows about with its lifecycle state,
the plugins protected by recent updates, and the pending-update count the
host would show.`,
	Run: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusActor, "actor", os.Getenv("USER"), "Actor whose pending count is shown")
	statusCmd.Flags().StringVar(&statusFilter, "filter", "", "Only show plugins in this state (discovered, applying, protected, released, failed, ...)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	if statusFilter != "" && !autoupdate.IsValidStatus(autoupdate.UpdateStatus(statusFilter)) {
		logger.Error("unknown state %q", statusFilter)
		os.Exit(1)
	}

	a := mustLoadApp()
	defer a.Close()

	snap, err := a.svc.Snapshot()
	if err != nil {
		logger.Warn("last check unreadable: %v", err)
		snap = &autoupdate.Snapshot{}
	}

	pending, err := a.svc.PendingCount(cmd.Context(), statusActor)
	if err != nil {
		logger.Warn("failed to read update index: %v", err)
	}

	tracked := a.svc.Tracker().List()
	if statusFilter != "" {
		tracked = a.svc.Tracker().ListByStatus(autoupdate.UpdateStatus(statusFilter))
	}

	displayStatus(os.Stdout, tracked, a.svc.Ledger().Active(), snap, pending)
}

// displayStatus formats and displays the tracker, ledger and counts
func displayStatus(w io.Writer, tracked []autoupdate.TrackedUpdate, protected []string, snap *autoupdate.Snapshot, pending int) {
	fmt.Fprintln(w)
	output.Header.Fprintln(w, "Tracked Plugins")
	fmt.Fprintln(w)

	if len(tracked) == 0 {
		output.Dim.Fprintln(w, "  nothing tracked yet, run 'plugsync check'")
	}
	for _, u := range tracked {
		fmt.Fprintf(w, "  %s %s\n", output.FormatPackage(u.Name, u.Package), output.FormatStatus(string(u.Status)))
		if u.CurrentVersion != "" || u.NewVersion != "" {
			fmt.Fprintf(w, "    Version: %s\n", output.FormatVersionChange(u.CurrentVersion, u.NewVersion))
		}
		if u.Error != "" {
			output.Error.Fprintf(w, "    Error:   %s\n", u.Error)
		}
		fmt.Fprintf(w, "    Updated: %s\n", u.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}

	fmt.Fprintln(w)
	if len(protected) > 0 {
		output.Protected.Fprintf(w, "Protected by recent updates: %d\n", len(protected))
		for _, id := range protected {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}

	if snap.LastChecked.IsZero() {
		output.Info.Fprintln(w, "Last check: never")
	} else {
		output.Info.Fprintf(w, "Last check: %s (%d update(s))\n",
			snap.LastChecked.Local().Format(time.RFC1123), snap.Count)
	}
	output.Info.Fprintf(w, "Pending in host index: %d\n", pending)
}
