package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/obentoo/plugsync/internal/common/config"
	"github.com/obentoo/plugsync/internal/common/logger"
	"github.com/obentoo/plugsync/internal/common/output"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run:   runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long: `Change one setting and save the config file.

Keys:
  repo_path, auto_check, check_frequency, auto_update, debug_mode,
  host.plugins_dir, host.upgrade_dir, host.state_dir, host.index_backend,
  host.main_ext, host.header_marker, host.lease_wait

An unknown check_frequency is stored as daily.`,
	Args: cobra.ExactArgs(2),
	Run:  runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, path, err := loadConfig()
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	if err := showConfig(os.Stdout, cfg, path); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func showConfig(w io.Writer, cfg *config.Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	output.Dim.Fprintf(w, "# %s\n", path)
	_, err = w.Write(data)
	return err
}

func runConfigSet(cmd *cobra.Command, args []string) {
	cfg, path, err := loadConfig()
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	stored, err := setConfigValue(cfg, args[0], args[1])
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	if err := cfg.SaveTo(path); err != nil {
		logger.Error("saving config: %v", err)
		os.Exit(1)
	}
	output.PrintSuccess("%s = %s", args[0], stored)
}

// setConfigValue applies key=value to cfg and returns the value stored.
func setConfigValue(cfg *config.Config, key, value string) (string, error) {
	parseBool := func(dst *bool) (string, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("%s expects true or false, got %q", key, value)
		}
		*dst = b
		return strconv.FormatBool(b), nil
	}

	switch key {
	case "repo_path":
		cfg.RepoPath = value
	case "auto_check":
		return parseBool(&cfg.AutoCheck)
	case "check_frequency":
		return string(cfg.SetCheckFrequency(value)), nil
	case "auto_update":
		return parseBool(&cfg.AutoUpdate)
	case "debug_mode":
		return parseBool(&cfg.DebugMode)
	case "host.plugins_dir":
		cfg.Host.PluginsDir = value
	case "host.upgrade_dir":
		cfg.Host.UpgradeDir = value
	case "host.state_dir":
		cfg.Host.StateDir = value
	case "host.index_backend":
		if value != config.BackendFile && value != config.BackendSQLite {
			return "", fmt.Errorf("index_backend must be %q or %q", config.BackendFile, config.BackendSQLite)
		}
		cfg.Host.IndexBackend = value
	case "host.main_ext":
		cfg.Host.MainExt = value
	case "host.header_marker":
		cfg.Host.HeaderMarker = value
	case "host.lease_wait":
		d, err := time.ParseDuration(value)
		if err != nil {
			return "", fmt.Errorf("lease_wait: %w", err)
		}
		cfg.Host.LeaseWait = d
	default:
		return "", fmt.Errorf("unknown setting %q", key)
	}

	cfg.Sanitize()
	return value, nil
}
