package autoupdate

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/obentoo/plugsync/internal/common/logger"
	"github.com/obentoo/plugsync/internal/host"
)

// DelegatedStrategy hands a copy of the repository archive to the host's
// own upgrade engine.
type DelegatedStrategy struct {
	fs       afero.Fs
	resolver *Resolver
	registry host.Registry
	upgrader host.Upgrader
	tempDir  string
	log      *logger.Logger
}

// NewDelegatedStrategy creates a delegated strategy. Archive copies are
// written to tempDir, or the system temp directory when empty.
func NewDelegatedStrategy(fs afero.Fs, resolver *Resolver, registry host.Registry, upgrader host.Upgrader, tempDir string, log *logger.Logger) *DelegatedStrategy {
	if log == nil {
		log = logger.Discard()
	}
	return &DelegatedStrategy{
		fs:       fs,
		resolver: resolver,
		registry: registry,
		upgrader: upgrader,
		tempDir:  tempDir,
		log:      log,
	}
}

// Name returns "delegated"
func (d *DelegatedStrategy) Name() string {
	return string(ModeDelegated)
}

// Apply runs the host upgrade engine against a temporary copy of the archive.
func (d *DelegatedStrategy) Apply(ctx context.Context, pkg host.Package) (*ApplyResult, error) {
	log := d.log.WithField("strategy", d.Name())

	entry, err := resolveEntry(d.resolver, pkg)
	if err != nil {
		return nil, err
	}

	tmp, err := d.copyArchive(entry)
	if err != nil {
		return nil, newApplyError(ApplyCopyFailed, pkg.ID, err)
	}
	defer d.fs.Remove(tmp)

	dest := filepath.Join(d.registry.Root(), filepath.FromSlash(host.SlugOf(pkg.ID)))
	mainPath := filepath.Join(d.registry.Root(), filepath.FromSlash(pkg.ID))

	result := &ApplyResult{
		PackageID:       pkg.ID,
		Strategy:        d.Name(),
		PreviousVersion: readVersion(d.fs, mainPath),
	}
	before, _ := d.fs.Stat(mainPath)

	log.Debug("handing %s to the upgrade engine", tmp)
	res, err := d.upgrader.Upgrade(ctx, host.UpgradeRequest{
		Source:           tmp,
		Destination:      dest,
		ClearDestination: true,
		Hook:             host.UpgradeHook{Package: pkg.ID, Type: "plugin", Action: "update"},
	})
	if res != nil {
		for _, line := range res.Feedback {
			log.Debug("engine: %s", line)
		}
		result.Feedback = res.Feedback
	}
	if err != nil {
		return nil, newApplyError(ApplyUpgradeEngineFailure, pkg.ID, err)
	}
	if res == nil {
		return nil, newApplyError(ApplyUnknownFailure, pkg.ID, nil)
	}

	after, err := d.fs.Stat(mainPath)
	if err == nil && before != nil && !after.ModTime().After(before.ModTime()) {
		msg := "main file modification time did not change after update"
		log.Warn("%s", msg)
		result.Warnings = append(result.Warnings, msg)
	}

	result.AppliedVersion = readVersion(d.fs, mainPath)
	log.Debug("delegated update completed, version %s", result.AppliedVersion)
	return result, nil
}

// copyArchive copies the repository archive to a uniquely named temp file
func (d *DelegatedStrategy) copyArchive(entry RepositoryEntry) (string, error) {
	if d.tempDir != "" {
		if err := d.fs.MkdirAll(d.tempDir, 0755); err != nil {
			return "", err
		}
	}

	src, err := d.fs.Open(entry.ArchivePath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer src.Close()

	dst, err := afero.TempFile(d.fs, d.tempDir, filepath.Base(entry.Slug)+"-*.zip")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := dst.Name()

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		d.fs.Remove(name)
		return "", fmt.Errorf("copy archive: %w", err)
	}
	if err := dst.Close(); err != nil {
		d.fs.Remove(name)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return name, nil
}
