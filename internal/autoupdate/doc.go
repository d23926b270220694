// Package autoupdate keeps installed plugins in step with a local
// repository of plugin archives.
//
// The package implements:
//   - Repository resolution and archive inspection (Resolver, Inspector)
//   - Update discovery against the host registry (Scanner)
//   - Update application through two strategies with fallback (Applier)
//   - Post-apply reconciliation of the host update index (Reconciler, Ledger)
//   - Per-package status tracking and the last scan snapshot (Tracker, SnapshotStore)
//
// The repository is laid out as <repo>/<slug>/<slug>.zip. Local state
// (ledger, tracker and snapshot) lives in the configured state directory.
//
// Usage:
//
//	svc := autoupdate.NewService(cfg, fs, registry, index)
//	result, err := svc.CheckUpdates(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, u := range result.Updates {
//	    svc.ApplyUpdate(ctx, u.PackageID)
//	}
package autoupdate
