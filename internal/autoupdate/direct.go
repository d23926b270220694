package autoupdate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/obentoo/plugsync/internal/common/archive"
	"github.com/obentoo/plugsync/internal/common/logger"
	"github.com/obentoo/plugsync/internal/host"
)

// DirectStrategy unpacks the repository archive itself and swaps the new
// tree into the plugins directory.
type DirectStrategy struct {
	fs         afero.Fs
	resolver   *Resolver
	registry   host.Registry
	upgradeDir string
	nowFunc    func() time.Time
	log        *logger.Logger
}

// DirectOption is a functional option for configuring DirectStrategy
type DirectOption func(*DirectStrategy)

// WithDirectNowFunc sets a custom time function for testing
func WithDirectNowFunc(fn func() time.Time) DirectOption {
	return func(d *DirectStrategy) {
		d.nowFunc = fn
	}
}

// WithDirectLogger sets the logger
func WithDirectLogger(log *logger.Logger) DirectOption {
	return func(d *DirectStrategy) {
		if log != nil {
			d.log = log
		}
	}
}

// NewDirectStrategy creates a direct strategy unpacking below upgradeDir.
func NewDirectStrategy(fs afero.Fs, resolver *Resolver, registry host.Registry, upgradeDir string, opts ...DirectOption) *DirectStrategy {
	d := &DirectStrategy{
		fs:         fs,
		resolver:   resolver,
		registry:   registry,
		upgradeDir: upgradeDir,
		nowFunc:    time.Now,
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns "direct"
func (d *DirectStrategy) Name() string {
	return string(ModeDirect)
}

// Apply replaces the installed package with the repository version.
func (d *DirectStrategy) Apply(ctx context.Context, pkg host.Package) (*ApplyResult, error) {
	log := d.log.WithField("strategy", d.Name())

	entry, err := resolveEntry(d.resolver, pkg)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, newApplyError(ApplyUnknownFailure, pkg.ID, err)
	}

	stamp := d.nowFunc().UnixNano()
	scratch := filepath.Join(d.upgradeDir, fmt.Sprintf("%s_%d", filepath.Base(entry.Slug), stamp))
	defer d.fs.RemoveAll(scratch)

	log.Debug("extracting %s to %s", entry.ArchivePath, scratch)
	if err := archive.ExtractAll(d.fs, entry.ArchivePath, scratch); err != nil {
		return nil, newApplyError(ApplyInvalidPackage, pkg.ID,
			&ArchiveError{Kind: ArchiveExtractFailed, Archive: entry.ArchivePath, Err: err})
	}

	root, err := archive.FindRoot(d.fs, scratch)
	if err != nil {
		return nil, newApplyError(ApplyInvalidPackage, pkg.ID, err)
	}

	mainName := filepath.Base(filepath.FromSlash(pkg.ID))
	if !isFile(d.fs, filepath.Join(root, mainName)) {
		return nil, newApplyError(ApplyInvalidPackage, pkg.ID, fmt.Errorf("%s missing from archive", mainName))
	}

	dest := filepath.Join(d.registry.Root(), filepath.FromSlash(host.SlugOf(pkg.ID)))
	installedMain := filepath.Join(dest, mainName)

	result := &ApplyResult{
		PackageID:       pkg.ID,
		Strategy:        d.Name(),
		PreviousVersion: readVersion(d.fs, installedMain),
	}
	log.Debug("current version %s, new version %s", result.PreviousVersion, readVersion(d.fs, filepath.Join(root, mainName)))

	if err := checkWritable(d.fs, dest); err != nil {
		return nil, newApplyError(ApplyDestinationNotWritable, pkg.ID, err)
	}

	wasActive, err := d.registry.IsActive(ctx, pkg.ID)
	if err != nil {
		log.Warn("could not read active state: %v", err)
	}
	if wasActive {
		if err := d.registry.Deactivate(ctx, pkg.ID); err != nil {
			return nil, newApplyError(ApplyUnknownFailure, pkg.ID, fmt.Errorf("deactivate: %w", err))
		}
		log.Debug("deactivated before update")
		// Reactivate on every exit path so a failed swap never leaves the package disabled
		defer func() {
			if err := d.registry.Activate(context.WithoutCancel(ctx), pkg.ID); err != nil {
				log.Error("failed to reactivate %s: %v", pkg.ID, err)
				return
			}
			log.Debug("reactivated")
		}()
	}

	parent := filepath.Dir(dest)
	base := filepath.Base(dest)
	staged := filepath.Join(parent, fmt.Sprintf(".%s.plugsync-new-%d", base, stamp))
	backup := filepath.Join(parent, fmt.Sprintf(".%s.plugsync-old-%d", base, stamp))

	if err := archive.CopyTree(d.fs, root, staged); err != nil {
		d.fs.RemoveAll(staged)
		return nil, newApplyError(ApplyCopyFailed, pkg.ID, err)
	}

	if err := d.swap(staged, dest, backup, log); err != nil {
		return nil, newApplyError(ApplyCopyFailed, pkg.ID, err)
	}

	result.AppliedVersion = readVersion(d.fs, installedMain)
	if result.AppliedVersion == result.PreviousVersion {
		msg := fmt.Sprintf("version did not change after update (still %s)", result.AppliedVersion)
		log.Warn("%s", msg)
		result.Warnings = append(result.Warnings, msg)
	}

	log.Debug("direct update completed")
	return result, nil
}

// swap moves staged into dest through two renames, keeping the old tree at
// backup until the new one is in place. Only when dest cannot be renamed
// across devices does it fall back to removing dest and copying staged over
// it; any other rename failure leaves dest untouched.
func (d *DirectStrategy) swap(staged, dest, backup string, log *logger.Logger) error {
	if err := d.fs.Rename(dest, backup); err != nil {
		if !crossDevice(err) {
			d.fs.RemoveAll(staged)
			return fmt.Errorf("move old tree aside: %w", err)
		}
		log.Debug("rename across devices (%v), replacing in place", err)
		defer d.fs.RemoveAll(staged)
		if err := d.fs.RemoveAll(dest); err != nil {
			return fmt.Errorf("remove old tree: %w", err)
		}
		if err := archive.CopyTree(d.fs, staged, dest); err != nil {
			return fmt.Errorf("copy new tree: %w", err)
		}
		return nil
	}

	if err := d.fs.Rename(staged, dest); err != nil {
		if rerr := d.fs.Rename(backup, dest); rerr != nil {
			log.Error("failed to restore %s from %s: %v", dest, backup, rerr)
		}
		d.fs.RemoveAll(staged)
		return fmt.Errorf("install new tree: %w", err)
	}

	if err := d.fs.RemoveAll(backup); err != nil {
		log.Warn("failed to remove backup %s: %v", backup, err)
	}
	return nil
}

func crossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}

// checkWritable verifies the process can create files in dir.
func checkWritable(fs afero.Fs, dir string) error {
	info, err := fs.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	testFile := filepath.Join(dir, ".plugsync-write-test")
	f, err := fs.Create(testFile)
	if err != nil {
		return err
	}
	_ = f.Close()
	_ = fs.Remove(testFile)
	return nil
}
