package host

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/obentoo/plugsync/internal/common/archive"
)

var (
	ErrIncompatibleArchive = errors.New("the package could not be installed: incompatible archive")
	ErrDestinationExists   = errors.New("destination folder already exists")
	ErrRemoveOldFailed     = errors.New("could not remove the old package")
	ErrInstallFailed       = errors.New("could not copy the new package into place")
)

// UpgradeHook describes the operation to the upgrade engine
type UpgradeHook struct {
	Package string // package id
	Type    string // always "plugin"
	Action  string // "update" or "install"
}

// UpgradeRequest asks the engine to install Source into Destination
type UpgradeRequest struct {
	Source           string // archive path
	Destination      string // package directory
	ClearDestination bool   // replace an existing destination
	Hook             UpgradeHook
}

// UpgradeResult is returned by a finished upgrade. Feedback holds the
// progress lines emitted by the engine.
type UpgradeResult struct {
	Destination string
	Feedback    []string
}

// Upgrader is the host's own package upgrade engine.
// A nil result with a nil error means the engine finished without
// reporting an outcome.
type Upgrader interface {
	Upgrade(ctx context.Context, req UpgradeRequest) (*UpgradeResult, error)
}

// ArchiveUpgrader installs packages by unpacking the archive into a working
// directory, locating the package root and copying it over the destination.
type ArchiveUpgrader struct {
	fs      afero.Fs
	workDir string
	nowFunc func() time.Time
}

// UpgraderOption is a functional option for configuring ArchiveUpgrader
type UpgraderOption func(*ArchiveUpgrader)

// WithUpgraderNowFunc sets a custom time function for testing
func WithUpgraderNowFunc(fn func() time.Time) UpgraderOption {
	return func(u *ArchiveUpgrader) {
		u.nowFunc = fn
	}
}

// NewArchiveUpgrader creates an upgrader that unpacks below workDir.
func NewArchiveUpgrader(fs afero.Fs, workDir string, opts ...UpgraderOption) *ArchiveUpgrader {
	u := &ArchiveUpgrader{
		fs:      fs,
		workDir: workDir,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upgrade installs req.Source into req.Destination.
func (u *ArchiveUpgrader) Upgrade(ctx context.Context, req UpgradeRequest) (*UpgradeResult, error) {
	result := &UpgradeResult{Destination: req.Destination}
	feedback := func(format string, args ...interface{}) {
		result.Feedback = append(result.Feedback, fmt.Sprintf(format, args...))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := strings.TrimSuffix(filepath.Base(req.Source), filepath.Ext(req.Source))
	work := filepath.Join(u.workDir, fmt.Sprintf("%s-%d", name, u.nowFunc().UnixNano()))
	defer u.fs.RemoveAll(work)

	feedback("Unpacking the package…")
	if err := archive.ExtractAll(u.fs, req.Source, work); err != nil {
		return result, fmt.Errorf("%w: %v", ErrIncompatibleArchive, err)
	}

	root, err := archive.FindRoot(u.fs, work)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrIncompatibleArchive, err)
	}

	feedback("Installing the %s…", req.Hook.Type)
	exists, err := afero.DirExists(u.fs, req.Destination)
	if err != nil {
		return result, err
	}
	if exists {
		if !req.ClearDestination {
			return result, fmt.Errorf("%w: %s", ErrDestinationExists, req.Destination)
		}
		feedback("Removing the old version of the %s…", req.Hook.Type)
		if err := u.fs.RemoveAll(req.Destination); err != nil {
			return result, fmt.Errorf("%w: %v", ErrRemoveOldFailed, err)
		}
	}

	if err := archive.CopyTree(u.fs, root, req.Destination); err != nil {
		return result, fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}

	if req.Hook.Action == "update" {
		feedback("%s updated successfully.", titleCase(req.Hook.Type))
	} else {
		feedback("%s installed successfully.", titleCase(req.Hook.Type))
	}
	return result, nil
}

func titleCase(s string) string {
	if s == "" {
		return "Package"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
