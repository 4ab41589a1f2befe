package scheduler

// EventKind discriminates scheduler events.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventBatchDone EventKind = "batch_done"
)

// Event is one observation from a running batch. ItemID is zero for
// batch-level events.
type Event struct {
	Kind     EventKind
	ItemID   int64
	Percent  int
	Message  string
	Artifact string
}

// BatchSummary reports the outcome of one Run call.
type BatchSummary struct {
	Total     int
	Completed int
	Failed    int
	Cancelled int
}
