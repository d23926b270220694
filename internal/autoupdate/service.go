package autoupdate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/obentoo/plugsync/internal/common/config"
	"github.com/obentoo/plugsync/internal/common/logger"
	"github.com/obentoo/plugsync/internal/host"
)

// SuccessMessage is reported by ApplyUpdate when an update went through
const SuccessMessage = "Plugin updated successfully!"

// CheckResult is returned by CheckUpdates
type CheckResult struct {
	Updates []UpdateDescriptor `json:"updates"`
	Count   int                `json:"count"`
}

// ApplyOutcome is the per-package result of ApplyUpdate. It never carries
// an error value; failures are described by Message.
type ApplyOutcome struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Package  string   `json:"package"`
	Version  string   `json:"version,omitempty"`
	Strategy string   `json:"strategy,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// SyncResult is returned by SyncCache
type SyncResult struct {
	RefreshNeeded bool `json:"refreshNeeded"`
}

// AutoCheckResult describes what a scheduled tick did.
type AutoCheckResult struct {
	// Skipped is true when auto-check is off or the last check is recent
	Skipped bool
	// Reason explains a skip
	Reason string
	// Updates are the updates still available after the tick
	Updates []UpdateDescriptor
	// Applied holds one outcome per attempted update when auto-update is on
	Applied []ApplyOutcome
}

// Service is the action surface used by the CLI and scheduled triggers.
type Service struct {
	cfg      *config.Config
	fs       afero.Fs
	registry host.Registry
	index    host.UpdateIndex
	upgrader host.Upgrader
	counts   *host.CountCache
	log      *logger.Logger
	nowFunc  func() time.Time

	stateDir   string
	upgradeDir string

	leases     *Leases
	ledger     *Ledger
	tracker    *Tracker
	snapshots  *SnapshotStore
	reconciler *Reconciler
}

// ServiceOption is a functional option for configuring Service
type ServiceOption func(*Service)

// WithUpgrader sets the host upgrade engine used by the delegated strategy
func WithUpgrader(u host.Upgrader) ServiceOption {
	return func(s *Service) {
		s.upgrader = u
	}
}

// WithCountCache sets the per-actor count cache
func WithCountCache(cc *host.CountCache) ServiceOption {
	return func(s *Service) {
		s.counts = cc
	}
}

// WithLogger sets the logger
func WithLogger(log *logger.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithServiceNowFunc sets a custom time function for testing. It is shared
// with the ledger, tracker and direct strategy.
func WithServiceNowFunc(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = fn
	}
}

// NewService wires the core components. Persistent state goes to the
// configured state directory.
func NewService(cfg *config.Config, fs afero.Fs, registry host.Registry, index host.UpdateIndex, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		fs:       fs,
		registry: registry,
		index:    index,
		log:      logger.Discard(),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	stateDir, err := cfg.StateDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state directory: %w", err)
	}
	s.stateDir = stateDir

	s.upgradeDir, err = cfg.UpgradeDir()
	if err != nil {
		s.upgradeDir = filepath.Join(filepath.Dir(registry.Root()), "upgrade")
	}

	if s.upgrader == nil {
		s.upgrader = host.NewArchiveUpgrader(fs, s.upgradeDir)
	}
	if s.counts == nil {
		s.counts = host.NewCountCache()
	}

	s.ledger, err = NewLedger(fs, stateDir, WithLedgerNowFunc(s.nowFunc))
	if err != nil {
		return nil, err
	}
	s.tracker, err = NewTracker(fs, stateDir, WithTrackerNowFunc(s.nowFunc))
	if err != nil {
		return nil, err
	}
	s.snapshots = NewSnapshotStore(fs, stateDir)
	s.leases = NewLeases(cfg.Host.LeaseWait)
	s.reconciler = NewReconciler(index, s.ledger, s.counts, s.log)

	return s, nil
}

// Tracker returns the status tracker
func (s *Service) Tracker() *Tracker {
	return s.tracker
}

// Ledger returns the ledger of recently applied packages
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// Snapshot returns the result of the last check
func (s *Service) Snapshot() (*Snapshot, error) {
	return s.snapshots.Load()
}

func (s *Service) resolver(repo string) *Resolver {
	return NewResolver(s.fs, repo, s.log)
}

func (s *Service) inspector() *Inspector {
	return NewInspector(s.fs, s.upgradeDir,
		WithInspectorMarker(s.cfg.Host.HeaderMarker),
		WithInspectorMainExt(s.cfg.Host.MainExt),
		WithInspectorLogger(s.log),
	)
}

func (s *Service) scanner(repo string) *Scanner {
	return NewScanner(s.resolver(repo), s.inspector(), s.log)
}

// repositoryVersion reads the version of pkg's repository archive, or ""
// when it cannot be determined.
func (s *Service) repositoryVersion(repo string, pkg host.Package) string {
	entry, err := resolveEntry(s.resolver(repo), pkg)
	if err != nil {
		return ""
	}
	version, _ := s.inspector().VersionOf(entry)
	return version
}

func (s *Service) applier(repo string, mode StrategyMode) *Applier {
	resolver := s.resolver(repo)
	direct := NewDirectStrategy(s.fs, resolver, s.registry, s.upgradeDir,
		WithDirectNowFunc(s.nowFunc), WithDirectLogger(s.log))
	delegated := NewDelegatedStrategy(s.fs, resolver, s.registry, s.upgrader, s.upgradeDir, s.log)

	switch mode {
	case ModeDirect:
		return NewApplier(s.log, direct)
	case ModeDelegated:
		return NewApplier(s.log, delegated)
	default:
		return NewApplier(s.log, direct, delegated)
	}
}

// CheckUpdates scans every installed package against the repository. It
// fails only with a *config.RepositoryConfigError, a registry error or ctx
// cancellation. The result is saved as the last-check snapshot.
func (s *Service) CheckUpdates(ctx context.Context) (*CheckResult, error) {
	repo, err := s.cfg.ValidatedRepoPath(s.fs)
	if err != nil {
		return nil, err
	}

	installed, err := s.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list installed packages: %w", err)
	}
	s.log.Debug("checking %d installed packages against %s", len(installed), repo)

	updates, err := s.scanner(repo).Scan(ctx, installed)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Updates: updates, LastChecked: s.nowFunc()}
	if err := s.snapshots.Save(snap); err != nil {
		s.log.Warn("failed to save snapshot: %v", err)
	}
	if err := s.tracker.Observe(updates); err != nil {
		s.log.Warn("failed to update tracker: %v", err)
	}

	s.log.Debug("found %d updates", len(updates))
	return &CheckResult{Updates: updates, Count: len(updates)}, nil
}

// Apply updates one installed package, addressed by id or slug, holding the
// package's lease across apply and reconcile. Errors are
// *config.RepositoryConfigError, *ApplyError or ctx errors.
func (s *Service) Apply(ctx context.Context, ref string, mode StrategyMode) (*ApplyResult, error) {
	repo, err := s.cfg.ValidatedRepoPath(s.fs)
	if err != nil {
		return nil, err
	}

	pkg, err := s.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}

	log := s.log.WithFields(map[string]interface{}{
		"op":      uuid.NewString(),
		"package": pkg.ID,
	})

	release, err := s.leases.Acquire(ctx, pkg.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	s.track(log, pkg.ID, StatusApplying, "")

	result, err := s.applier(repo, mode).Apply(ctx, pkg)
	if err != nil {
		log.Debug("update failed: %v", err)
		s.track(log, pkg.ID, StatusFailed, err.Error())
		return nil, err
	}
	log.Debug("updated %s to %s via %s", pkg.ID, result.AppliedVersion, result.Strategy)

	s.track(log, pkg.ID, StatusApplied, "")
	s.track(log, pkg.ID, StatusReconciling, "")

	version := result.AppliedVersion
	if version == "" {
		version = s.repositoryVersion(repo, pkg)
		log.Debug("installed version unreadable, using repository version %q", version)
	}
	s.reconciler.Reconcile(ctx, pkg.ID, pkg.Slug, version)
	s.track(log, pkg.ID, StatusProtected, "")

	s.dropFromSnapshot(log, pkg.ID)
	return result, nil
}

// ApplyUpdate applies one update with the default strategy order and never
// returns an error value.
func (s *Service) ApplyUpdate(ctx context.Context, ref string) ApplyOutcome {
	return s.ApplyUpdateWith(ctx, ref, ModeAuto)
}

// ApplyUpdateWith is ApplyUpdate restricted to the strategies of mode.
func (s *Service) ApplyUpdateWith(ctx context.Context, ref string, mode StrategyMode) ApplyOutcome {
	result, err := s.Apply(ctx, ref, mode)
	if err != nil {
		return ApplyOutcome{Success: false, Message: outcomeMessage(err), Package: ref}
	}
	return ApplyOutcome{
		Success:  true,
		Message:  SuccessMessage,
		Package:  result.PackageID,
		Version:  result.AppliedVersion,
		Strategy: result.Strategy,
		Warnings: result.Warnings,
	}
}

// ApplyAll applies every update in order. A failure never stops the batch;
// all failures are returned together.
func (s *Service) ApplyAll(ctx context.Context, updates []UpdateDescriptor, mode StrategyMode) ([]ApplyOutcome, error) {
	outcomes := make([]ApplyOutcome, 0, len(updates))
	var errs *multierror.Error

	for _, u := range updates {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		outcome := s.ApplyUpdateWith(ctx, u.PackageID, mode)
		if !outcome.Success {
			errs = multierror.Append(errs, fmt.Errorf("%s: %s", u.PackageID, outcome.Message))
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, formatErrorOrNil(errs)
}

// SyncCache runs a reconciliation sweep.
func (s *Service) SyncCache(ctx context.Context) SyncResult {
	res := s.reconciler.Sweep(ctx)
	if err := s.tracker.Release(res.Released); err != nil {
		s.log.Warn("failed to update tracker: %v", err)
	}
	return SyncResult{RefreshNeeded: res.RefreshNeeded}
}

// AutoCheck is the scheduled tick. It checks for updates when auto-check
// is on and the last check is older than the configured frequency, and
// applies them when auto-update is on.
func (s *Service) AutoCheck(ctx context.Context) (*AutoCheckResult, error) {
	if !s.cfg.AutoCheck {
		return &AutoCheckResult{Skipped: true, Reason: "automatic checks are disabled"}, nil
	}

	snap, err := s.snapshots.Load()
	if err != nil {
		s.log.Debug("unreadable snapshot, checking now: %v", err)
		snap = &Snapshot{}
	}
	threshold := s.cfg.CheckFrequency.Threshold()
	if age := snap.Age(s.nowFunc()); age < threshold {
		s.log.Debug("not time to check yet, last check %s ago", age.Round(time.Second))
		return &AutoCheckResult{Skipped: true, Reason: "checked recently", Updates: snap.Updates}, nil
	}

	checked, err := s.CheckUpdates(ctx)
	if err != nil {
		return nil, err
	}
	result := &AutoCheckResult{Updates: checked.Updates}

	if !s.cfg.AutoUpdate || checked.Count == 0 {
		return result, nil
	}

	s.log.Debug("auto-updating %d packages", checked.Count)
	outcomes, applyErr := s.ApplyAll(ctx, checked.Updates, ModeAuto)
	result.Applied = outcomes

	rechecked, err := s.CheckUpdates(ctx)
	if err != nil {
		return result, multierror.Append(applyErr, err).ErrorOrNil()
	}
	result.Updates = rechecked.Updates
	return result, applyErr
}

// PendingCount returns how many packages the update index reports as
// needing an update, cached per actor. A missing index counts as zero.
func (s *Service) PendingCount(ctx context.Context, actor string) (int, error) {
	return s.counts.Count(actor, func() (int, error) {
		ix, err := s.index.Load(ctx)
		if errors.Is(err, host.ErrIndexAbsent) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return len(ix.Response), nil
	})
}

// lookup finds an installed package by id, then by slug.
func (s *Service) lookup(ctx context.Context, ref string) (host.Package, error) {
	pkg, err := s.registry.Get(ctx, ref)
	if err == nil {
		return pkg, nil
	}
	if !errors.Is(err, host.ErrPackageNotFound) {
		return host.Package{}, newApplyError(ApplyUnknownFailure, ref, err)
	}

	installed, err := s.registry.List(ctx)
	if err != nil {
		return host.Package{}, newApplyError(ApplyUnknownFailure, ref, err)
	}
	for _, p := range installed {
		if p.Slug == ref {
			return p, nil
		}
	}
	return host.Package{}, newApplyError(ApplyNotFound, ref, host.ErrPackageNotFound)
}

// track records a status change. Tracker failures never fail an apply.
func (s *Service) track(log *logger.Logger, id string, status UpdateStatus, errMsg string) {
	err := s.tracker.Transition(id, status, errMsg)
	if errors.Is(err, ErrInvalidStatusTransition) && status == StatusApplying {
		// The lease is held, so an in-flight record is left over from an
		// interrupted run
		if ierr := s.tracker.Interrupt(id); ierr == nil {
			err = s.tracker.Transition(id, status, errMsg)
		}
	}
	if err != nil {
		log.Debug("tracker: %v", err)
	}
}

func (s *Service) dropFromSnapshot(log *logger.Logger, id string) {
	snap, err := s.snapshots.Load()
	if err != nil {
		return
	}
	if snap.Remove(id) {
		if err := s.snapshots.Save(snap); err != nil {
			log.Warn("failed to save snapshot: %v", err)
		}
	}
}

// outcomeMessage turns an apply error into user-facing text.
func outcomeMessage(err error) string {
	var applyErr *ApplyError
	if errors.As(err, &applyErr) {
		return applyErr.Message()
	}
	return err.Error()
}

func formatError(es []error) string {
	if len(es) == 1 {
		return fmt.Sprintf("1 update failed:\n\t* %s", es[0])
	}

	points := make([]string, len(es))
	for i, err := range es {
		points[i] = fmt.Sprintf("* %s", err)
	}
	return fmt.Sprintf("%d updates failed:\n\t%s", len(es), strings.Join(points, "\n\t"))
}

func formatErrorOrNil(err *multierror.Error) error {
	if err != nil {
		err.ErrorFormat = formatError
	}
	return err.ErrorOrNil()
}
