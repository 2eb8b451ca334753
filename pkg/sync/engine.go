package sync

import (
	"context"
	"fmt"
	goSync "sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/destacey/calsync/pkg/errors"
	"github.com/destacey/calsync/pkg/event"
	"github.com/destacey/calsync/pkg/store"
)

// Config wires the engine's collaborators.
type Config struct {
	Store  store.Store
	Source Source

	// Clock defaults to the real clock. Tests swap in a fake one.
	Clock clockwork.Clock

	// Online reports whether the remote source is reachable. The engine
	// trusts the signal and never checks the network itself. Nil means
	// always online.
	Online func() bool
}

// Engine orchestrates sync runs. A single run is active at a time; starting
// another while one is running fails rather than queuing.
type Engine struct {
	store  store.Store
	source Source
	clock  clockwork.Clock
	online func() bool

	mu         goSync.Mutex
	running    bool
	cancelled  bool
	onProgress ProgressFunc
	onResult   ResultFunc
}

// New creates an engine from the given collaborators.
func New(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		store:  cfg.Store,
		source: cfg.Source,
		clock:  clock,
		online: cfg.Online,
	}
}

// SetCallbacks registers the observer pair for progress and result delivery.
// There is exactly one active pair; registering again replaces the previous
// one. Pass nils to unsubscribe.
func (e *Engine) SetCallbacks(onProgress ProgressFunc, onResult ResultFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onProgress = onProgress
	e.onResult = onResult
}

// IsSyncing returns whether a run is active.
func (e *Engine) IsSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// GetSyncStatus returns the persisted sync status.
func (e *Engine) GetSyncStatus() (store.SyncStatus, error) {
	return e.store.GetSyncStatus()
}

// GetCurrentSyncConfig returns the persisted sync window.
func (e *Engine) GetCurrentSyncConfig() (store.SyncConfig, error) {
	return e.store.GetSyncConfig()
}

// SetSyncConfig validates and persists the sync window.
func (e *Engine) SetSyncConfig(cfg store.SyncConfig) error {
	return e.store.SetSyncConfig(cfg)
}

// Start begins a sync run. It fails synchronously with ErrAlreadyRunning if
// a run is active, and with ErrOffline if the connectivity signal reports no
// network. The run itself proceeds on its own goroutine; its outcome is
// delivered through the result callback.
//
// The mode is differential if forceFullSync is false and a continuation
// token exists; full otherwise (first sync, forced, or no token).
func (e *Engine) Start(forceFullSync bool) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.ErrAlreadyRunning
	}
	if e.online != nil && !e.online() {
		e.mu.Unlock()
		return errors.ErrOffline
	}
	e.mu.Unlock()

	status, err := e.store.GetSyncStatus()
	if err != nil {
		return errors.WithContext(err, "load sync status")
	}

	mode := ModeFull
	if !forceFullSync && status.ContinuationToken != "" {
		mode = ModeDifferential
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.ErrAlreadyRunning
	}
	e.running = true
	e.cancelled = false
	e.mu.Unlock()

	log.WithField("mode", mode).Info("Starting calendar sync")
	go e.run(mode, status.ContinuationToken)
	return nil
}

// Cancel requests that the active run stop at the next page boundary. Pages
// are always applied as a unit, and changes already applied are not rolled
// back.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return errors.ErrNotRunning
	}
	e.cancelled = true
	return nil
}

func (e *Engine) run(mode Mode, token string) {
	var result Result
	if mode == ModeFull {
		result = e.runFull()
	} else {
		result = e.runDifferential(token)
	}
	result.Mode = mode

	e.mu.Lock()
	e.running = false
	e.cancelled = false
	onResult := e.onResult
	e.mu.Unlock()

	entry := log.WithField("mode", mode).WithField("stats", fmt.Sprintf("%+v", result.Stats))
	switch {
	case result.Cancelled:
		entry.Info("Sync cancelled")
	case result.Success:
		entry.Info("Sync completed")
	default:
		entry.WithField("errors", result.Errors).Warn("Sync failed")
	}

	if onResult != nil {
		onResult(result)
	}
}

func (e *Engine) runFull() Result {
	ctx := context.Background()
	var stats Stats

	cfg, err := e.store.GetSyncConfig()
	if err != nil {
		return failed(stats, errors.WithContext(err, "load sync config"))
	}
	if err := cfg.Validate(); err != nil {
		return failed(stats, errors.WithContext(err, "sync config"))
	}

	e.emit(Progress{Stage: StageFetching, Message: "Fetching events from calendar"})

	pager, err := e.source.FetchRange(ctx, cfg.StartDate, cfg.EndDate)
	if err != nil {
		return failed(stats, errors.WithContext(err, "fetch events"))
	}

	var remote []event.Remote
	var nextToken string
	for {
		page, err := pager.Next(ctx)
		if err != nil {
			return failed(stats, errors.WithContext(err, "fetch events"))
		}

		// The page boundary: a cancelled run discards the page it was
		// waiting on and requests no more.
		if e.isCancelled() {
			return cancelled(stats)
		}

		remote = append(remote, page.Events...)
		stats.Fetched = len(remote)
		if page.NextToken != "" {
			nextToken = page.NextToken
		}

		e.emit(Progress{
			Stage:     StageFetching,
			Message:   fmt.Sprintf("Fetched %d events", stats.Fetched),
			Completed: stats.Fetched,
			Stats:     stats,
		})

		if page.Done {
			break
		}
	}

	if e.isCancelled() {
		return cancelled(stats)
	}

	e.emit(Progress{Stage: StageProcessing, Message: "Computing changes", Stats: stats})

	local, err := e.store.ListSynced()
	if err != nil {
		return failed(stats, errors.WithContext(err, "load synced events"))
	}

	cs := ResolveFull(local, remote)
	log.WithFields(log.Fields{
		"creates": len(cs.Creates),
		"updates": len(cs.Updates),
		"deletes": len(cs.Deletes),
	}).Debug("Resolved full sync changeset")

	var errs []string
	e.emit(Progress{
		Stage:   StageSaving,
		Message: fmt.Sprintf("Applying %d changes", cs.Size()),
		Total:   cs.Size(),
		Stats:   stats,
	})
	e.applyUpserts(cs, &stats, &errs)

	if len(cs.Deletes) > 0 {
		e.emit(Progress{
			Stage:     StageCleaning,
			Message:   fmt.Sprintf("Removing %d events deleted upstream", len(cs.Deletes)),
			Completed: stats.Created + stats.Updated,
			Total:     cs.Size(),
			Stats:     stats,
		})
	}
	e.applyDeletes(cs.Deletes, &stats, &errs)
	stats.Total = stats.Created + stats.Updated + stats.Deleted

	if len(errs) > 0 {
		return Result{
			Message: "Sync finished with errors",
			Stats:   stats,
			Errors:  errs,
		}
	}

	if err := e.persistStatus(nextToken, latestModified(remote)); err != nil {
		return failed(stats, err)
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("Synced %d events (%d created, %d updated, %d deleted)",
			stats.Fetched, stats.Created, stats.Updated, stats.Deleted),
		Stats: stats,
	}
}

func (e *Engine) runDifferential(token string) Result {
	ctx := context.Background()
	var stats Stats

	e.emit(Progress{Stage: StageFetching, Message: "Fetching calendar changes"})

	pager, err := e.source.FetchDelta(ctx, token)
	if err != nil {
		return failed(stats, errors.WithContext(err, "fetch changes"))
	}

	nextToken := token
	var errs []string
	var latest time.Time
	for {
		page, err := pager.Next(ctx)
		if err != nil {
			return failed(stats, errors.WithContext(err, "fetch changes"))
		}

		// A page is applied as a unit: once it's past this check it's fully
		// applied before the flag is looked at again.
		if e.isCancelled() {
			return cancelled(stats)
		}

		stats.Fetched += len(page.Events)
		e.emit(Progress{
			Stage:     StageFetching,
			Message:   fmt.Sprintf("Fetched %d changes", stats.Fetched),
			Completed: stats.Fetched,
			Stats:     stats,
		})

		// Each page is resolved and applied immediately so that memory stays
		// bounded no matter how large the delta is.
		e.emit(Progress{Stage: StageProcessing, Message: "Computing changes", Stats: stats})
		local, err := e.store.GetByExternalIDs(externalIDs(page.Events))
		if err != nil {
			return failed(stats, errors.WithContext(err, "load matching events"))
		}

		cs := ResolveDelta(local, page.Events)
		e.emit(Progress{
			Stage:   StageSaving,
			Message: fmt.Sprintf("Applying %d changes", cs.Size()),
			Total:   cs.Size(),
			Stats:   stats,
		})
		e.applyUpserts(cs, &stats, &errs)
		e.applyDeletes(cs.Deletes, &stats, &errs)
		if pageLatest := latestModified(page.Events); pageLatest.After(latest) {
			latest = pageLatest
		}

		if page.NextToken != "" {
			nextToken = page.NextToken
		}
		if page.Done {
			break
		}
	}
	stats.Total = stats.Created + stats.Updated + stats.Deleted

	if len(errs) > 0 {
		return Result{
			Message: "Sync finished with errors",
			Stats:   stats,
			Errors:  errs,
		}
	}

	if err := e.persistStatus(nextToken, latest); err != nil {
		return failed(stats, err)
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("Applied %d changes (%d created, %d updated, %d deleted)",
			stats.Total, stats.Created, stats.Updated, stats.Deleted),
		Stats: stats,
	}
}

// applyUpserts applies the creates and updates of a changeset. Failures are
// recorded and don't stop the remaining operations.
func (e *Engine) applyUpserts(cs Changeset, stats *Stats, errs *[]string) {
	for _, r := range cs.Creates {
		now := e.clock.Now().UTC()
		l := event.Local{}.ApplyRemote(r)
		l.SyncedAt = &now
		if _, err := e.store.CreateEvent(l); err != nil {
			*errs = append(*errs, fmt.Sprintf("create %q: %s", r.ExternalID, err))
			continue
		}
		stats.Created++
	}

	for _, u := range cs.Updates {
		now := e.clock.Now().UTC()
		l := u.Local.ApplyRemote(u.Remote)
		l.SyncedAt = &now
		if err := e.store.UpdateEvent(u.Local.ID, l); err != nil {
			*errs = append(*errs, fmt.Sprintf("update %q: %s", u.Remote.ExternalID, err))
			continue
		}
		stats.Updated++
	}
}

// applyDeletes removes events deleted upstream. Deleting an event that's
// already gone is a no-op, not an error, keeping delta replays idempotent;
// it isn't counted, so the stats only report rows actually removed.
func (e *Engine) applyDeletes(ids []string, stats *Stats, errs *[]string) {
	for _, id := range ids {
		removed, err := e.store.DeleteEvent(id)
		if err != nil {
			*errs = append(*errs, fmt.Sprintf("delete %q: %s", id, err))
			continue
		}
		if removed {
			stats.Deleted++
		}
	}
}

// persistStatus atomically replaces the sync status at the end of a
// successful run. Failed and cancelled runs never reach this point, so their
// status stays exactly as it was before the run.
func (e *Engine) persistStatus(token string, latest time.Time) error {
	now := e.clock.Now().UTC()
	status := store.SyncStatus{
		LastSyncTime:      &now,
		ContinuationToken: token,
	}
	if !latest.IsZero() {
		status.LastEventModified = &latest
	}
	if err := e.store.SetSyncStatus(status); err != nil {
		return errors.WithContext(err, "persist sync status")
	}
	return nil
}

func latestModified(remote []event.Remote) time.Time {
	var latest time.Time
	for _, r := range remote {
		if r.Modified.After(latest) {
			latest = r.Modified
		}
	}
	return latest
}

func (e *Engine) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

func (e *Engine) emit(p Progress) {
	e.mu.Lock()
	onProgress := e.onProgress
	e.mu.Unlock()
	if onProgress != nil {
		onProgress(p)
	}
}

func cancelled(stats Stats) Result {
	stats.Total = stats.Created + stats.Updated + stats.Deleted
	return Result{
		Cancelled: true,
		Message:   errors.ErrCancelled.Error(),
		Stats:     stats,
	}
}

func failed(stats Stats, err error) Result {
	stats.Total = stats.Created + stats.Updated + stats.Deleted
	return Result{
		Message: errors.GetPrintableMessage(err),
		Stats:   stats,
		Errors:  []string{err.Error()},
	}
}
