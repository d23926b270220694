package autoupdate

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/obentoo/plugsync/internal/common/header"
	"github.com/obentoo/plugsync/internal/common/logger"
	"github.com/obentoo/plugsync/internal/host"
)

// StrategyMode selects which strategies an apply uses
type StrategyMode string

const (
	// ModeAuto tries the direct strategy and falls back to the delegated one
	ModeAuto      StrategyMode = "auto"
	ModeDirect    StrategyMode = "direct"
	ModeDelegated StrategyMode = "delegated"
)

// ParseStrategyMode validates a mode name. Empty means ModeAuto.
func ParseStrategyMode(s string) (StrategyMode, error) {
	switch StrategyMode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeDirect, ModeDelegated:
		return StrategyMode(s), nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want auto, direct or delegated)", s)
	}
}

// ApplyResult is returned by every strategy on success
type ApplyResult struct {
	PackageID       string
	Strategy        string
	PreviousVersion string
	AppliedVersion  string
	// Warnings are soft verification failures; the apply still succeeded
	Warnings []string
	// Feedback holds progress lines from the host upgrade engine
	Feedback []string
}

// Strategy applies an update to one installed package.
// Errors are always *ApplyError.
type Strategy interface {
	Name() string
	Apply(ctx context.Context, pkg host.Package) (*ApplyResult, error)
}

// Applier runs a primary strategy and, when it fails in a way another
// strategy might not, the fallback strategies in order. It never retries a
// strategy.
type Applier struct {
	strategies []Strategy
	log        *logger.Logger
}

// NewApplier creates an applier.
func NewApplier(log *logger.Logger, primary Strategy, fallbacks ...Strategy) *Applier {
	if log == nil {
		log = logger.Discard()
	}
	return &Applier{
		strategies: append([]Strategy{primary}, fallbacks...),
		log:        log,
	}
}

// Apply updates pkg and returns the result of the first strategy that succeeds.
func (a *Applier) Apply(ctx context.Context, pkg host.Package) (*ApplyResult, error) {
	var lastErr error
	for i, s := range a.strategies {
		res, err := s.Apply(ctx, pkg)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if i == len(a.strategies)-1 {
			break
		}
		if !fallbackUseful(err) {
			a.log.Debug("%s update of %s failed, not falling back: %v", s.Name(), pkg.ID, err)
			break
		}
		a.log.Debug("%s update of %s failed, falling back to %s: %v", s.Name(), pkg.ID, a.strategies[i+1].Name(), err)
	}
	return nil, lastErr
}

// fallbackUseful reports whether another strategy could succeed where this
// error occurred. Missing packages and unwritable destinations fail the same
// way for every strategy.
func fallbackUseful(err error) bool {
	kind, ok := ApplyKindOf(err)
	if !ok {
		return true
	}
	switch kind {
	case ApplyNotFound, ApplyPackageMissing, ApplyDestinationNotWritable, ApplyBusy:
		return false
	default:
		return true
	}
}

// resolveEntry maps a package to its repository archive
func resolveEntry(resolver *Resolver, pkg host.Package) (RepositoryEntry, error) {
	slug := pkg.Slug
	if slug == "" {
		slug = host.SlugOf(pkg.ID)
	}

	entry, ok := resolver.Find(slug)
	if !ok {
		return RepositoryEntry{}, newApplyError(ApplyNotFound, pkg.ID, nil)
	}
	if !entry.HasArchive() {
		return RepositoryEntry{}, newApplyError(ApplyPackageMissing, pkg.ID, fmt.Errorf("no archive in %s", entry.Dir))
	}
	return entry, nil
}

// readVersion returns the Version header of a file, or "" when unreadable
func readVersion(fs afero.Fs, path string) string {
	f, err := fs.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h, err := header.Parse(f)
	if err != nil {
		return ""
	}
	return h.Version
}
