package sync

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/destacey/calsync/pkg/errors"
	"github.com/destacey/calsync/pkg/event"
	"github.com/destacey/calsync/pkg/store"
)

// fakeStore is an in-memory store.Store for engine tests.
type fakeStore struct {
	events map[string]event.Local // keyed by local ID
	nextID int

	config store.SyncConfig
	status store.SyncStatus

	// applied receives a signal for every applied operation, so tests can
	// wait for a page to land before acting.
	applied chan string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:  map[string]event.Local{},
		applied: make(chan string, 64),
	}
}

func (f *fakeStore) ListEvents(start, end time.Time) ([]event.Local, error) {
	var out []event.Local
	for _, e := range f.events {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) ListSynced() ([]event.Local, error) {
	var out []event.Local
	for _, e := range f.events {
		if e.ExternalID != "" {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) GetByExternalIDs(ids []string) (map[string]event.Local, error) {
	out := map[string]event.Local{}
	for _, e := range f.events {
		for _, id := range ids {
			if e.ExternalID == id {
				out[id] = e
			}
		}
	}
	return out, nil
}

func (f *fakeStore) CreateEvent(e event.Local) (event.Local, error) {
	f.nextID++
	e.ID = string(rune('a' + f.nextID - 1))
	f.events[e.ID] = e
	f.applied <- "create:" + e.ExternalID
	return e, nil
}

func (f *fakeStore) UpdateEvent(id string, e event.Local) error {
	e.ID = id
	f.events[id] = e
	f.applied <- "update:" + e.ExternalID
	return nil
}

func (f *fakeStore) DeleteEvent(id string) (bool, error) {
	_, ok := f.events[id]
	delete(f.events, id)
	f.applied <- "delete:" + id
	return ok, nil
}

func (f *fakeStore) GetSyncConfig() (store.SyncConfig, error)  { return f.config, nil }
func (f *fakeStore) SetSyncConfig(c store.SyncConfig) error    { f.config = c; return nil }
func (f *fakeStore) GetSyncStatus() (store.SyncStatus, error)  { return f.status, nil }
func (f *fakeStore) SetSyncStatus(s store.SyncStatus) error    { f.status = s; return nil }
func (f *fakeStore) ClearSyncData() error                      { f.status = store.SyncStatus{}; return nil }
func (f *fakeStore) ClearAllData() error                       { f.events = map[string]event.Local{}; return f.ClearSyncData() }
func (f *fakeStore) Close() error                              { return nil }

// fakePager returns its pages in order, optionally gated so that tests can
// control when each page is released.
type fakePager struct {
	pages []Page
	errs  []error
	gate  chan struct{}
	index int
}

func (p *fakePager) Next(ctx context.Context) (Page, error) {
	if p.gate != nil {
		<-p.gate
	}
	i := p.index
	p.index++
	if i < len(p.errs) && p.errs[i] != nil {
		return Page{}, p.errs[i]
	}
	return p.pages[i], nil
}

type fakeSource struct {
	rangePager *fakePager
	deltaPager *fakePager
	rangeErr   error
	deltaErr   error

	gotToken string
}

func (s *fakeSource) FetchRange(ctx context.Context, start, end time.Time) (Pager, error) {
	if s.rangeErr != nil {
		return nil, s.rangeErr
	}
	return s.rangePager, nil
}

func (s *fakeSource) FetchDelta(ctx context.Context, token string) (Pager, error) {
	s.gotToken = token
	if s.deltaErr != nil {
		return nil, s.deltaErr
	}
	return s.deltaPager, nil
}

var testWindow = store.SyncConfig{
	StartDate: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	EndDate:   time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC),
}

func newTestEngine(st store.Store, src Source) (*Engine, chan Result, clockwork.Clock) {
	clock := clockwork.NewFakeClockAt(
		time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC))
	engine := New(Config{Store: st, Source: src, Clock: clock})

	results := make(chan Result, 1)
	engine.SetCallbacks(nil, func(r Result) { results <- r })
	return engine, results, clock
}

func waitResult(t *testing.T, results chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sync result")
		return Result{}
	}
}

func TestFullSyncEmptyStore(t *testing.T) {
	st := newFakeStore()
	st.config = testWindow

	start := time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{rangePager: &fakePager{pages: []Page{{
		Events: []event.Remote{
			remoteEvent("g1", "One", start),
			remoteEvent("g2", "Two", start),
			remoteEvent("g3", "Three", start),
		},
		NextToken: "fresh-token",
		Done:      true,
	}}}}

	engine, results, clock := newTestEngine(st, src)
	require.NoError(t, engine.Start(false))

	result := waitResult(t, results)
	assert.True(t, result.Success)
	assert.Equal(t, ModeFull, result.Mode)
	assert.Equal(t, 3, result.Stats.Created)
	assert.Equal(t, 0, result.Stats.Updated)
	assert.Equal(t, 0, result.Stats.Deleted)
	assert.Equal(t, 3, result.Stats.Total)
	assert.False(t, engine.IsSyncing())

	// The status is replaced at the end of the run.
	assert.Equal(t, "fresh-token", st.status.ContinuationToken)
	require.NotNil(t, st.status.LastSyncTime)
	assert.True(t, st.status.LastSyncTime.Equal(clock.Now().UTC()))

	// Every written event was stamped by the engine.
	for _, e := range st.events {
		require.NotNil(t, e.SyncedAt)
	}
}

func TestFullSyncDeletesRemoved(t *testing.T) {
	st := newFakeStore()
	st.config = testWindow
	start := time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)
	existing, err := st.CreateEvent(localEvent("", "g1", "Gone upstream", start))
	require.NoError(t, err)
	<-st.applied

	src := &fakeSource{rangePager: &fakePager{pages: []Page{{Done: true}}}}

	engine, results, _ := newTestEngine(st, src)
	require.NoError(t, engine.Start(true))

	result := waitResult(t, results)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Stats.Deleted)
	assert.NotContains(t, st.events, existing.ID)
}

func TestDeleteRacingManualRemoval(t *testing.T) {
	st := newFakeStore()
	st.config = testWindow
	start := time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)
	_, err := st.CreateEvent(localEvent("", "g1", "Gone upstream", start))
	require.NoError(t, err)
	<-st.applied

	src := &fakeSource{rangePager: &fakePager{pages: []Page{{Done: true}}}}

	// The row disappears between the resolve and the engine's delete, as if
	// the user removed it by hand mid run. The run still succeeds, but the
	// stats only count rows the engine actually removed.
	engine, results, _ := newTestEngine(&racingDeleteStore{st}, src)
	require.NoError(t, engine.Start(true))

	result := waitResult(t, results)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.Stats.Deleted)
	assert.Equal(t, 0, result.Stats.Total)
}

// racingDeleteStore reports every delete as already gone.
type racingDeleteStore struct {
	*fakeStore
}

func (r *racingDeleteStore) DeleteEvent(id string) (bool, error) {
	delete(r.fakeStore.events, id)
	return false, nil
}

func TestFullSyncPreservesLocalOnly(t *testing.T) {
	st := newFakeStore()
	st.config = testWindow
	start := time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)
	manual, err := st.CreateEvent(localEvent("", "", "Manual entry", start))
	require.NoError(t, err)
	<-st.applied

	src := &fakeSource{rangePager: &fakePager{pages: []Page{{Done: true}}}}

	engine, results, _ := newTestEngine(st, src)
	require.NoError(t, engine.Start(true))

	result := waitResult(t, results)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.Stats.Deleted)
	assert.Contains(t, st.events, manual.ID)
}

func TestDifferentialSync(t *testing.T) {
	st := newFakeStore()
	st.status = store.SyncStatus{ContinuationToken: "stored-token"}
	start := time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)
	existing, err := st.CreateEvent(localEvent("", "g3", "To delete", start))
	require.NoError(t, err)
	<-st.applied

	src := &fakeSource{deltaPager: &fakePager{pages: []Page{{
		Events: []event.Remote{
			remoteEvent("g2", "New event", start),
			{ExternalID: "g3", Deleted: true},
		},
		NextToken: "next-token",
		Done:      true,
	}}}}

	engine, results, _ := newTestEngine(st, src)
	require.NoError(t, engine.Start(false))

	result := waitResult(t, results)
	assert.True(t, result.Success)
	assert.Equal(t, ModeDifferential, result.Mode)
	assert.Equal(t, 1, result.Stats.Created)
	assert.Equal(t, 1, result.Stats.Deleted)

	// The stored token was handed to the source, and the fresh one
	// persisted.
	assert.Equal(t, "stored-token", src.gotToken)
	assert.Equal(t, "next-token", st.status.ContinuationToken)
	assert.NotContains(t, st.events, existing.ID)
}

func TestForceFullIgnoresToken(t *testing.T) {
	st := newFakeStore()
	st.config = testWindow
	st.status = store.SyncStatus{ContinuationToken: "stored-token"}

	src := &fakeSource{rangePager: &fakePager{pages: []Page{{Done: true}}}}

	engine, results, _ := newTestEngine(st, src)
	require.NoError(t, engine.Start(true))

	result := waitResult(t, results)
	assert.Equal(t, ModeFull, result.Mode)
}

func TestTokenExpired(t *testing.T) {
	st := newFakeStore()
	before := store.SyncStatus{ContinuationToken: "expired-token"}
	st.status = before

	src := &fakeSource{deltaErr: errors.TokenExpiredError{}}

	engine, results, _ := newTestEngine(st, src)
	require.NoError(t, engine.Start(false))

	result := waitResult(t, results)
	assert.False(t, result.Success)
	assert.False(t, result.Cancelled)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "token expired")

	// No silent fallback to full: the status is untouched so the user can
	// decide to force a full sync.
	assert.Equal(t, before, st.status)
}

func TestFetchErrorPreservesStatus(t *testing.T) {
	st := newFakeStore()
	before := store.SyncStatus{ContinuationToken: "stored-token"}
	st.status = before

	src := &fakeSource{deltaPager: &fakePager{
		errs: []error{errors.New("connection reset")},
	}}

	engine, results, _ := newTestEngine(st, src)
	require.NoError(t, engine.Start(false))

	result := waitResult(t, results)
	assert.False(t, result.Success)
	assert.Contains(t, result.Errors[0], "connection reset")
	assert.Equal(t, before, st.status)
}

func TestAlreadyRunning(t *testing.T) {
	st := newFakeStore()
	st.config = testWindow

	gate := make(chan struct{})
	src := &fakeSource{rangePager: &fakePager{
		pages: []Page{{Done: true}},
		gate:  gate,
	}}

	engine, results, _ := newTestEngine(st, src)
	require.NoError(t, engine.Start(true))
	assert.True(t, engine.IsSyncing())

	assert.Equal(t, errors.ErrAlreadyRunning, engine.Start(true))

	gate <- struct{}{}
	waitResult(t, results)
	assert.False(t, engine.IsSyncing())

	// Once the run finished, a new one can start.
	src.rangePager = &fakePager{pages: []Page{{Done: true}}}
	require.NoError(t, engine.Start(true))
	waitResult(t, results)
}

func TestOffline(t *testing.T) {
	engine := New(Config{
		Store:  newFakeStore(),
		Source: &fakeSource{},
		Online: func() bool { return false },
	})
	assert.Equal(t, errors.ErrOffline, engine.Start(false))
}

func TestCancelWithoutRun(t *testing.T) {
	engine, _, _ := newTestEngine(newFakeStore(), &fakeSource{})
	assert.Equal(t, errors.ErrNotRunning, engine.Cancel())
}

func TestCancelBetweenPages(t *testing.T) {
	st := newFakeStore()
	before := store.SyncStatus{ContinuationToken: "stored-token"}
	st.status = before
	start := time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)

	gate := make(chan struct{}, 2)
	src := &fakeSource{deltaPager: &fakePager{
		pages: []Page{
			{Events: []event.Remote{remoteEvent("g1", "Page one", start)}},
			{Events: []event.Remote{remoteEvent("g2", "Page two", start)}, Done: true},
		},
		gate: gate,
	}}

	engine, results, _ := newTestEngine(st, src)
	require.NoError(t, engine.Start(false))

	// Release page one and wait for it to be applied.
	gate <- struct{}{}
	assert.Equal(t, "create:g1", <-st.applied)

	// Cancel while the engine is waiting on page two, then release it. The
	// page's results are discarded.
	require.NoError(t, engine.Cancel())
	gate <- struct{}{}

	result := waitResult(t, results)
	assert.True(t, result.Cancelled)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Stats.Created)

	// Exactly the effects of page one remain, and the persisted status is
	// unchanged from before the run.
	require.Len(t, st.events, 1)
	for _, e := range st.events {
		assert.Equal(t, "g1", e.ExternalID)
	}
	assert.Equal(t, before, st.status)
}

func TestSetCallbacksReplaces(t *testing.T) {
	st := newFakeStore()
	st.config = testWindow
	src := &fakeSource{rangePager: &fakePager{pages: []Page{{Done: true}}}}

	engine, _, _ := newTestEngine(st, src)

	stale := make(chan Result, 1)
	engine.SetCallbacks(nil, func(r Result) { stale <- r })

	fresh := make(chan Result, 1)
	engine.SetCallbacks(nil, func(r Result) { fresh <- r })

	require.NoError(t, engine.Start(true))
	waitResult(t, fresh)
	assert.Empty(t, stale)
}

func TestProgressStages(t *testing.T) {
	st := newFakeStore()
	st.config = testWindow
	start := time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)

	src := &fakeSource{rangePager: &fakePager{pages: []Page{{
		Events: []event.Remote{remoteEvent("g1", "One", start)},
		Done:   true,
	}}}}

	engine, _, _ := newTestEngine(st, src)

	var stages []Stage
	results := make(chan Result, 1)
	engine.SetCallbacks(
		func(p Progress) { stages = append(stages, p.Stage) },
		func(r Result) { results <- r })

	require.NoError(t, engine.Start(true))
	waitResult(t, results)

	assert.Contains(t, stages, StageFetching)
	assert.Contains(t, stages, StageProcessing)
	assert.Contains(t, stages, StageSaving)
	assert.Equal(t, StageFetching, stages[0])
}

func TestSetSyncConfigInvalidRange(t *testing.T) {
	st := openValidatingStore()
	engine, _, _ := newTestEngine(st, &fakeSource{})

	err := engine.SetSyncConfig(store.SyncConfig{
		StartDate: time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.IsType(t, errors.InvalidRangeError{}, err)
}

// openValidatingStore wraps fakeStore with the same range validation the
// real store performs.
func openValidatingStore() store.Store {
	return &validatingStore{newFakeStore()}
}

type validatingStore struct {
	*fakeStore
}

func (v *validatingStore) SetSyncConfig(c store.SyncConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return v.fakeStore.SetSyncConfig(c)
}
