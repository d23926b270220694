package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/obentoo/plugsync/internal/autoupdate"
	"github.com/obentoo/plugsync/internal/common/output"
	"github.com/obentoo/plugsync/internal/host"
)

func init() {
	output.NoColor()
}

func assertContains(t *testing.T, got string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestDisplayUpdates(t *testing.T) {
	var buf bytes.Buffer
	displayUpdates(&buf, nil)
	assertContains(t, buf.String(), "All plugins are up to date")

	buf.Reset()
	displayUpdates(&buf, []autoupdate.UpdateDescriptor{
		{PackageID: "acme-tool/acme-tool.php", Slug: "acme-tool", Name: "Acme Tool", CurrentVersion: "1.0", NewVersion: "2.0"},
	})
	assertContains(t, buf.String(), "Available Updates", "Acme Tool (acme-tool/acme-tool.php)", "1.0 → 2.0", "Found 1 update(s)")
}

func TestDisplayOutcomes(t *testing.T) {
	var buf bytes.Buffer
	displayOutcomes(&buf, []autoupdate.ApplyOutcome{
		{Success: true, Message: autoupdate.SuccessMessage, Package: "a/a.php", Version: "2.0", Strategy: "direct",
			Warnings: []string{"version unchanged"}},
		{Success: false, Message: "The plugin directory is not writable.", Package: "b/b.php"},
	})
	assertContains(t, buf.String(),
		"a/a.php", "Version:  2.0", "Strategy: direct", autoupdate.SuccessMessage, "warning: version unchanged",
		"b/b.php", "The plugin directory is not writable.", "Applied 1 of 2 update(s)")
}

func TestDisplayIndex(t *testing.T) {
	ix := host.NewIndex()
	ix.SetNeedsUpdate(host.IndexEntry{ID: "b/b.php", NewVersion: "3.0"})
	ix.SetUpToDate(host.IndexEntry{ID: "a/a.php", NewVersion: "2.0"})

	var buf bytes.Buffer
	displayIndex(&buf, ix)
	out := buf.String()
	assertContains(t, out, "Needs Update (1)", "b/b.php → 3.0", "Up To Date (1)", "a/a.php 2.0")
	if strings.Contains(out, "Host last checked") {
		t.Error("zero LastChecked should not be printed")
	}
}

func TestDisplayStatus(t *testing.T) {
	tracked := []autoupdate.TrackedUpdate{
		{Package: "a/a.php", Name: "Alpha", CurrentVersion: "1.0", NewVersion: "2.0", Status: autoupdate.StatusProtected, UpdatedAt: time.Now()},
		{Package: "b/b.php", Status: autoupdate.StatusFailed, Error: "interrupted", UpdatedAt: time.Now()},
	}
	snap := &autoupdate.Snapshot{Count: 3, LastChecked: time.Now()}

	var buf bytes.Buffer
	displayStatus(&buf, tracked, []string{"a/a.php"}, snap, 4)
	assertContains(t, buf.String(),
		"Alpha (a/a.php) [protected]", "b/b.php [failed]", "Error:   interrupted",
		"Protected by recent updates: 1", "(3 update(s))", "Pending in host index: 4")

	buf.Reset()
	displayStatus(&buf, nil, nil, &autoupdate.Snapshot{}, 0)
	assertContains(t, buf.String(), "nothing tracked yet", "Last check: never")
}
