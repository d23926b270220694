package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func findCommand(parent *cobra.Command, name string) *cobra.Command {
	for _, cmd := range parent.Commands() {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

// TestCommandsRegistered tests that every command is attached to the root
func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"check", "apply", "sync", "status", "config", "index", "watch", "version", "completion"} {
		if findCommand(rootCmd, name) == nil {
			t.Errorf("root command should have %q subcommand", name)
		}
	}

	if findCommand(configCmd, "show") == nil || findCommand(configCmd, "set") == nil {
		t.Error("config should have show and set subcommands")
	}
	if findCommand(indexCmd, "show") == nil {
		t.Error("index should have a show subcommand")
	}
}

// TestCommandFlags tests that flags exist with the right types
func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd      *cobra.Command
		flag     string
		flagType string
	}{
		{checkCmd, "json", "bool"},
		{applyCmd, "all", "bool"},
		{applyCmd, "strategy", "string"},
		{syncCmd, "json", "bool"},
		{statusCmd, "actor", "string"},
		{statusCmd, "filter", "string"},
		{watchCmd, "interval", "duration"},
		{watchCmd, "debounce", "duration"},
		{versionCmd, "short", "bool"},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.Name()+"/"+tt.flag, func(t *testing.T) {
			flag := tt.cmd.Flags().Lookup(tt.flag)
			if flag == nil {
				t.Fatalf("%s should have --%s flag", tt.cmd.Name(), tt.flag)
			}
			if flag.Value.Type() != tt.flagType {
				t.Errorf("--%s type = %s, want %s", tt.flag, flag.Value.Type(), tt.flagType)
			}
		})
	}

	for _, name := range []string{"verbose", "quiet", "no-color", "config"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("root should have persistent --%s flag", name)
		}
	}
	if applyCmd.Flags().Lookup("strategy").DefValue != "auto" {
		t.Error("--strategy should default to auto")
	}
}

// TestApplyUsageContainsExamples tests that usage documents every strategy
func TestApplyUsageContainsExamples(t *testing.T) {
	for _, want := range []string{"--all", "--strategy", "auto", "direct", "delegated"} {
		if !strings.Contains(applyCmd.Long, want) {
			t.Errorf("apply long description should mention %s", want)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version", "--short"})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		versionShort = false
	}()

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.TrimSpace(buf.String()) == "" {
		t.Error("version --short printed nothing")
	}
}

func TestCompletionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"completion", "bash"})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(buf.String(), "plugsync") {
		t.Error("bash completion should reference plugsync")
	}
}
