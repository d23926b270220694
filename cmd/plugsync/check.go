package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/obentoo/plugsync/internal/autoupdate"
	"github.com/obentoo/plugsync/internal/common/config"
	"github.com/obentoo/plugsync/internal/common/logger"
	"github.com/obentoo/plugsync/internal/common/output"
)

// checkJSON prints the result as JSON instead of a table
var checkJSON bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check installed plugins against the repository",
	Long: `Scan every installed plugin and report those with a newer version in the
configured repository. The result is saved as the last-check snapshot.

Examples:
  plugsync check          Show available updates
  plugsync check --json   Print the result as JSON`,
	Run: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) {
	a := mustLoadApp()
	defer a.Close()

	res, err := a.svc.CheckUpdates(cmd.Context())
	if err != nil {
		reportCheckError(err)
		os.Exit(1)
	}

	if checkJSON {
		if err := writeJSON(os.Stdout, res); err != nil {
			logger.Error("%v", err)
			os.Exit(1)
		}
		return
	}
	displayUpdates(os.Stdout, res.Updates)
}

// reportCheckError explains repository path problems in user terms.
func reportCheckError(err error) {
	if kind, ok := repoErrorKind(err); ok {
		switch kind {
		case config.RepoPathEmpty:
			logger.Error("repository path is not configured; run 'plugsync config set repo_path <dir>'")
		default:
			logger.Error("%v", err)
		}
		return
	}
	if errors.Is(err, context.Canceled) {
		logger.Warn("check cancelled")
		return
	}
	logger.Error("failed to check for updates: %v", err)
}

func repoErrorKind(err error) (config.RepoErrorKind, bool) {
	var repoErr *config.RepositoryConfigError
	if errors.As(err, &repoErr) {
		return repoErr.Kind, true
	}
	return 0, false
}

// displayUpdates formats and displays available updates
func displayUpdates(w io.Writer, updates []autoupdate.UpdateDescriptor) {
	if len(updates) == 0 {
		output.Success.Fprintln(w, "All plugins are up to date")
		return
	}

	fmt.Fprintln(w)
	output.Header.Fprintln(w, "Available Updates")
	fmt.Fprintln(w)

	for _, u := range updates {
		fmt.Fprintf(w, "  %s: %s\n", output.FormatPackage(u.Name, u.PackageID),
			output.FormatVersionChange(u.CurrentVersion, u.NewVersion))
	}

	fmt.Fprintln(w)
	output.Info.Fprintf(w, "Found %d update(s) available\n", len(updates))
	output.Info.Fprintln(w, "Use 'plugsync apply <plugin>' or 'plugsync apply --all' to install them")
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
