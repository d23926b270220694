package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/obentoo/plugsync/internal/autoupdate"
	"github.com/obentoo/plugsync/internal/common/logger"
	"github.com/obentoo/plugsync/internal/common/output"
)

var (
	// applyAll applies every available update
	applyAll bool
	// applyStrategy restricts the strategies tried
	applyStrategy string
)

var applyCmd = &cobra.Command{
	Use:   "apply [plugin]",
	Short: "Install the repository version of a plugin",
	Long: `Replace an installed plugin with the newer version found in the repository.
The plugin may be given by id (dir/main.php) or by slug (dir).

Strategies:
  auto       copy the files directly, then fall back to the upgrade engine
  direct     only copy the files directly
  delegated  only use the upgrade engine

Examples:
  plugsync apply acme-tool                      Update one plugin
  plugsync apply acme-tool/acme-tool.php        Same, addressed by id
  plugsync apply acme-tool --strategy delegated Use the upgrade engine only
  plugsync apply --all                          Update every plugin with a newer version`,
	Args: cobra.MaximumNArgs(1),
	Run:  runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAll, "all", false, "Apply every available update")
	applyCmd.Flags().StringVar(&applyStrategy, "strategy", string(autoupdate.ModeAuto), "Apply strategy: auto, direct or delegated")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) {
	mode, err := autoupdate.ParseStrategyMode(applyStrategy)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	if applyAll == (len(args) == 1) {
		cmd.Help()
		os.Exit(1)
	}

	a := mustLoadApp()
	defer a.Close()
	ctx := cmd.Context()

	if !applyAll {
		output.Info.Printf("Applying update for %s...\n", args[0])
		outcome := a.svc.ApplyUpdateWith(ctx, args[0], mode)
		displayOutcomes(os.Stdout, []autoupdate.ApplyOutcome{outcome})
		if !outcome.Success {
			os.Exit(1)
		}
		return
	}

	res, err := a.svc.CheckUpdates(ctx)
	if err != nil {
		reportCheckError(err)
		os.Exit(1)
	}
	if res.Count == 0 {
		output.Success.Println("All plugins are up to date")
		return
	}

	output.Info.Printf("Applying %d update(s)...\n", res.Count)
	outcomes, err := a.svc.ApplyAll(ctx, res.Updates, mode)
	displayOutcomes(os.Stdout, outcomes)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

// displayOutcomes formats and displays apply outcomes
func displayOutcomes(w io.Writer, outcomes []autoupdate.ApplyOutcome) {
	fmt.Fprintln(w)
	output.Header.Fprintln(w, "Apply Result")
	fmt.Fprintln(w)

	applied := 0
	for _, o := range outcomes {
		output.Package.Fprintf(w, "  %s\n", o.Package)
		if o.Success {
			applied++
			fmt.Fprintf(w, "    Version:  %s\n", o.Version)
			fmt.Fprintf(w, "    Strategy: %s\n", o.Strategy)
			output.Success.Fprintf(w, "    %s\n", o.Message)
		} else {
			output.Error.Fprintf(w, "    %s\n", o.Message)
		}
		for _, warning := range o.Warnings {
			output.Warning.Fprintf(w, "    warning: %s\n", warning)
		}
	}

	if len(outcomes) > 1 {
		fmt.Fprintln(w)
		output.Info.Fprintf(w, "Applied %d of %d update(s)\n", applied, len(outcomes))
	}
}
