package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/obentoo/plugsync/internal/common/logger"
	"github.com/obentoo/plugsync/internal/common/output"
	"github.com/obentoo/plugsync/internal/host"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect the host's update index",
}

var indexShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the needs-update and up-to-date sets",
	Run:   runIndexShow,
}

func init() {
	indexCmd.AddCommand(indexShowCmd)
	rootCmd.AddCommand(indexCmd)
}

func runIndexShow(cmd *cobra.Command, args []string) {
	a := mustLoadApp()
	defer a.Close()

	ix, err := a.index.Load(cmd.Context())
	if errors.Is(err, host.ErrIndexAbsent) {
		output.PrintInfo("the host has not written an update index yet")
		return
	}
	if err != nil {
		logger.Error("failed to read update index: %v", err)
		os.Exit(1)
	}
	displayIndex(os.Stdout, ix)
}

// displayIndex formats and displays both sets of the update index
func displayIndex(w io.Writer, ix *host.Index) {
	fmt.Fprintln(w)
	output.Header.Fprintf(w, "Needs Update (%d)\n", len(ix.Response))
	for _, id := range ix.PendingIDs() {
		e := ix.Response[id]
		fmt.Fprintf(w, "  %s %s\n", output.Package.Sprint(id), output.Dim.Sprintf("→ %s", e.NewVersion))
	}

	fmt.Fprintln(w)
	output.Header.Fprintf(w, "Up To Date (%d)\n", len(ix.NoUpdate))
	for _, id := range ix.UpToDateIDs() {
		e := ix.NoUpdate[id]
		fmt.Fprintf(w, "  %s %s\n", id, output.Dim.Sprintf("%s", e.NewVersion))
	}

	if !ix.LastChecked.IsZero() {
		fmt.Fprintln(w)
		output.Info.Fprintf(w, "Host last checked: %s\n", ix.LastChecked.Local().Format("2006-01-02 15:04:05"))
	}
}
