package sync

// Mode identifies how a run reconciles the remote source with the local
// store.
type Mode string

const (
	// ModeFull fetches the whole configured window and treats absence from
	// the remote set as deletion.
	ModeFull Mode = "full"

	// ModeDifferential fetches only the changes since the stored
	// continuation token.
	ModeDifferential Mode = "differential"
)

// Stage identifies what the engine is currently doing within a run.
type Stage string

const (
	StageFetching   Stage = "fetching"
	StageProcessing Stage = "processing"
	StageSaving     Stage = "saving"
	StageCleaning   Stage = "cleaning"
)

// Stats counts the work done by a run so far.
type Stats struct {
	Fetched int
	Created int
	Updated int
	Deleted int

	// Total is the number of applied operations (creates + updates +
	// deletes).
	Total int
}

// Progress is a transient snapshot of a running sync, delivered through the
// progress callback and discarded at completion.
type Progress struct {
	Stage     Stage
	Message   string
	Completed int
	Total     int
	Stats     Stats
}

// Result is the final outcome of a run, delivered once through the result
// callback.
type Result struct {
	Success   bool
	Cancelled bool
	Message   string
	Mode      Mode
	Stats     Stats
	Errors    []string
}

// ProgressFunc receives progress snapshots during a run.
type ProgressFunc func(Progress)

// ResultFunc receives the final result of a run.
type ResultFunc func(Result)
