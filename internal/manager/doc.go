// Package manager is the resource cache manager: it owns loaded model
// handles, cached decoded images and cached analysis results, and keeps
// their combined size within a memory budget. It is structured into small
// files by concern:
//
//   - manager.go: core Manager type and constructor.
//   - config.go: ManagerConfig, Limits and package defaults.
//   - types.go: LoadedModel, CachedImage, CachedAnalysis and Stats.
//   - errors.go: error types and helpers (IsInsufficientMemory, ...).
//   - ensure.go: LoadModel, the admission check and loader invocation.
//   - unload.go: UnloadModel and Clear.
//   - images.go, analyses.go: the two result caches.
//   - evict.go: the freeing cascade and fraction-based eviction.
//   - pressure.go: HandleMemoryPressure.
//   - limits.go: SetLimits and budget enforcement.
//   - status_report.go: Stats.
//   - helpers.go: sizing and ranking arithmetic.
//   - events.go: lifecycle events for observers.
//
// Every public method runs inside one exclusive section covering the whole
// manager, so check-then-insert and evict-then-insert sequences are atomic
// and operations are linearizable. The model loader passed to LoadModel
// also runs inside that section; loaders must be fast or honour their
// context.
package manager
