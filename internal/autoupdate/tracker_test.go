package autoupdate

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func newTestTracker(t *testing.T, fs afero.Fs) *Tracker {
	t.Helper()
	tr, err := NewTracker(fs, testState, WithTrackerNowFunc(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tr
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to UpdateStatus
		want     bool
	}{
		{StatusDiscovered, StatusApplying, true},
		{StatusFailed, StatusApplying, true},
		{StatusProtected, StatusApplying, true},
		{StatusApplying, StatusApplying, false},
		{StatusReconciling, StatusApplying, false},
		{StatusApplying, StatusApplied, true},
		{StatusApplying, StatusFailed, true},
		{StatusDiscovered, StatusApplied, false},
		{StatusApplied, StatusReconciling, true},
		{StatusApplying, StatusReconciling, false},
		{StatusReconciling, StatusProtected, true},
		{StatusApplied, StatusProtected, false},
		{StatusProtected, StatusReleased, true},
		{StatusReconciling, StatusReleased, false},
		{StatusAbsent, StatusDiscovered, true},
		{StatusReleased, StatusDiscovered, true},
		{StatusApplied, StatusDiscovered, false},
		{StatusApplying, StatusDiscovered, false},
		{StatusProtected, StatusAbsent, true},
		{StatusApplying, StatusAbsent, false},
		{StatusDiscovered, UpdateStatus("bogus"), false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTrackerApplyLifecycle(t *testing.T) {
	fs := afero.NewMemMapFs()
	tr := newTestTracker(t, fs)
	id := "acme/acme.php"

	steps := []UpdateStatus{StatusApplying, StatusApplied, StatusReconciling, StatusProtected, StatusReleased}
	for _, s := range steps {
		if err := tr.Transition(id, s, ""); err != nil {
			t.Fatalf("Transition(%s) error = %v", s, err)
		}
	}

	u, ok := tr.Get(id)
	if !ok || u.Status != StatusReleased {
		t.Errorf("Get() = %+v, %v", u, ok)
	}

	if err := tr.Transition(id, StatusApplied, ""); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Errorf("Transition(released -> applied) error = %v, want ErrInvalidStatusTransition", err)
	}

	reloaded := newTestTracker(t, fs)
	if u, _ := reloaded.Get(id); u.Status != StatusReleased {
		t.Errorf("reloaded status = %s, want released", u.Status)
	}
}

func TestTrackerFailedKeepsMessage(t *testing.T) {
	tr := newTestTracker(t, afero.NewMemMapFs())
	_ = tr.Transition("a/a.php", StatusApplying, "")
	_ = tr.Transition("a/a.php", StatusFailed, "disk full")

	u, _ := tr.Get("a/a.php")
	if u.Status != StatusFailed || u.Error != "disk full" {
		t.Errorf("record = %+v", u)
	}

	_ = tr.Transition("a/a.php", StatusApplying, "ignored")
	if u, _ := tr.Get("a/a.php"); u.Error != "" {
		t.Errorf("Error = %q, want cleared", u.Error)
	}
}

func TestTrackerUntracked(t *testing.T) {
	tr := newTestTracker(t, afero.NewMemMapFs())
	if err := tr.Transition("x/x.php", StatusApplied, ""); !errors.Is(err, ErrPackageNotTracked) {
		t.Errorf("Transition() error = %v, want ErrPackageNotTracked", err)
	}
	if err := tr.Transition("x/x.php", UpdateStatus("weird"), ""); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Errorf("Transition() error = %v, want ErrInvalidStatusTransition", err)
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}

func TestTrackerObserve(t *testing.T) {
	tr := newTestTracker(t, afero.NewMemMapFs())

	// protected: applied earlier and held by the ledger
	for _, s := range []UpdateStatus{StatusApplying, StatusApplied, StatusReconciling, StatusProtected} {
		_ = tr.Transition("p/p.php", s, "")
	}
	_ = tr.Transition("busy/busy.php", StatusApplying, "")
	_ = tr.Transition("gone/gone.php", StatusDiscovered, "")

	err := tr.Observe([]UpdateDescriptor{
		{PackageID: "new/new.php", Name: "New", CurrentVersion: "1.0", NewVersion: "1.1"},
		{PackageID: "busy/busy.php", Name: "Busy", CurrentVersion: "1.0", NewVersion: "2.0"},
	})
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	want := map[string]UpdateStatus{
		"new/new.php":   StatusDiscovered,
		"busy/busy.php": StatusApplying,
		"gone/gone.php": StatusAbsent,
		"p/p.php":       StatusProtected,
	}
	for id, status := range want {
		if u, _ := tr.Get(id); u.Status != status {
			t.Errorf("%s status = %s, want %s", id, u.Status, status)
		}
	}

	if u, _ := tr.Get("new/new.php"); u.NewVersion != "1.1" || u.Name != "New" {
		t.Errorf("new record = %+v", u)
	}
	if got := tr.ListByStatus(StatusDiscovered); len(got) != 1 || got[0].Package != "new/new.php" {
		t.Errorf("ListByStatus(discovered) = %+v", got)
	}

	// versions of an already discovered package are refreshed
	_ = tr.Observe([]UpdateDescriptor{{PackageID: "new/new.php", Name: "New", CurrentVersion: "1.0", NewVersion: "1.2"}})
	if u, _ := tr.Get("new/new.php"); u.NewVersion != "1.2" {
		t.Errorf("NewVersion = %q, want 1.2", u.NewVersion)
	}
}

func TestTrackerReleaseAndInterrupt(t *testing.T) {
	tr := newTestTracker(t, afero.NewMemMapFs())
	for _, s := range []UpdateStatus{StatusApplying, StatusApplied, StatusReconciling, StatusProtected} {
		_ = tr.Transition("p/p.php", s, "")
	}
	_ = tr.Transition("d/d.php", StatusDiscovered, "")
	_ = tr.Transition("stuck/stuck.php", StatusApplying, "")

	if err := tr.Release([]string{"p/p.php", "d/d.php", "missing"}); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if u, _ := tr.Get("p/p.php"); u.Status != StatusReleased {
		t.Errorf("p status = %s, want released", u.Status)
	}
	if u, _ := tr.Get("d/d.php"); u.Status != StatusDiscovered {
		t.Errorf("d status = %s, want discovered", u.Status)
	}

	if err := tr.Interrupt("stuck/stuck.php"); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}
	if u, _ := tr.Get("stuck/stuck.php"); u.Status != StatusFailed || u.Error != "interrupted" {
		t.Errorf("stuck record = %+v", u)
	}
	if err := tr.Interrupt("d/d.php"); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}
	if u, _ := tr.Get("d/d.php"); u.Status != StatusDiscovered {
		t.Errorf("Interrupt changed a settled record to %s", u.Status)
	}
}

func TestTrackerSharedFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	first := newTestTracker(t, fs)
	second := newTestTracker(t, fs)

	if err := second.Observe([]UpdateDescriptor{{PackageID: "a/a.php"}, {PackageID: "b/b.php"}}); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	for _, status := range []UpdateStatus{StatusApplying, StatusApplied, StatusReconciling, StatusProtected} {
		if err := first.Transition("a/a.php", status, ""); err != nil {
			t.Fatalf("Transition(%s): %v", status, err)
		}
	}

	// a later scan by the other tracker keeps the protected record
	if err := second.Observe([]UpdateDescriptor{{PackageID: "b/b.php"}}); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if u, _ := second.Get("a/a.php"); u.Status != StatusProtected {
		t.Errorf("a status = %s, want protected", u.Status)
	}

	fresh := newTestTracker(t, fs)
	if u, _ := fresh.Get("a/a.php"); u.Status != StatusProtected {
		t.Errorf("a status on disk = %s, want protected", u.Status)
	}
	if u, _ := fresh.Get("b/b.php"); u.Status != StatusDiscovered {
		t.Errorf("b status on disk = %s, want discovered", u.Status)
	}
}

func TestTrackerCorruptedFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, filepath.Join(testState, "tracker.json"), "][")
	if tr := newTestTracker(t, fs); tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}
