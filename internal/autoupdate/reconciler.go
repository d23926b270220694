package autoupdate

import (
	"context"
	"errors"

	"github.com/obentoo/plugsync/internal/common/logger"
	"github.com/obentoo/plugsync/internal/host"
)

// SweepResult reports what a sweep changed.
type SweepResult struct {
	// RefreshNeeded is true when the update index was modified
	RefreshNeeded bool
	// Removed are the ids dropped again from the needs-update set
	Removed []string
	// Released are the ids whose ledger entry expired during this sweep
	Released []string
}

// Reconciler keeps the host update index from reporting packages this
// system already updated. Every failure is logged and swallowed.
type Reconciler struct {
	index  host.UpdateIndex
	ledger *Ledger
	counts *host.CountCache
	log    *logger.Logger
}

// NewReconciler creates a reconciler. counts may be nil.
func NewReconciler(index host.UpdateIndex, ledger *Ledger, counts *host.CountCache, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Discard()
	}
	return &Reconciler{index: index, ledger: ledger, counts: counts, log: log}
}

// Reconcile records a successful apply of id at version: the ledger
// protects it, the index lists it as up to date, and cached counts are
// dropped. An empty version only removes id from the needs-update set.
// Safe to run more than once.
func (r *Reconciler) Reconcile(ctx context.Context, id, slug, version string) {
	log := r.log.WithField("package", id)

	if _, err := r.ledger.Prune(); err != nil {
		log.Warn("failed to prune ledger: %v", err)
	}
	if err := r.ledger.Add(id, version); err != nil {
		log.Warn("failed to record %s in ledger: %v", id, err)
	}

	err := r.index.Update(ctx, func(ix *host.Index) (bool, error) {
		ix.RemoveNeedsUpdate(id)
		if version == "" {
			return true, nil
		}
		ix.SetUpToDate(host.IndexEntry{
			ID:         id,
			Slug:       slug,
			Plugin:     id,
			NewVersion: version,
		})
		ix.SetChecked(id, version)
		return true, nil
	})
	switch {
	case errors.Is(err, host.ErrIndexAbsent):
		log.Debug("no update index yet, nothing to reconcile")
	case err != nil:
		log.Warn("failed to reconcile update index: %v", err)
	default:
		log.Debug("update index reconciled at version %s", version)
	}

	if r.counts != nil {
		r.counts.InvalidateAll()
	}
}

// Sweep prunes expired ledger entries and removes every id still in the
// ledger from the index's needs-update set. Ids outside the ledger are
// never touched.
func (r *Reconciler) Sweep(ctx context.Context) SweepResult {
	var result SweepResult

	released, err := r.ledger.Prune()
	if err != nil {
		r.log.Warn("failed to prune ledger: %v", err)
	}
	result.Released = released

	active := r.ledger.Active()
	if len(active) == 0 {
		return result
	}

	err = r.index.Update(ctx, func(ix *host.Index) (bool, error) {
		// The closure may be retried; start from scratch each time
		result.Removed = nil
		for _, id := range active {
			if ix.RemoveNeedsUpdate(id) {
				result.Removed = append(result.Removed, id)
			}
		}
		return len(result.Removed) > 0, nil
	})
	switch {
	case errors.Is(err, host.ErrIndexAbsent):
		r.log.Debug("no update index yet, nothing to sweep")
		result.Removed = nil
	case err != nil:
		r.log.Warn("failed to sweep update index: %v", err)
		result.Removed = nil
	}

	if len(result.Removed) > 0 {
		r.log.Debug("removed %d recently updated packages from the update index", len(result.Removed))
		result.RefreshNeeded = true
		if r.counts != nil {
			r.counts.InvalidateAll()
		}
	}
	return result
}
