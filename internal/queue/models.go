package queue

import "time"

// Status represents the lifecycle of a queue item. The happy path walks the
// stage statuses in order; Failed and Cancelled are reachable as documented
// by isValidTransition.
type Status string

const (
	StatusPending      Status = "pending"
	StatusExtracting   Status = "extracting"
	StatusChunking     Status = "chunking"
	StatusTranscribing Status = "transcribing"
	StatusMerging      Status = "merging"
	StatusSegmenting   Status = "segmenting"
	StatusCaching      Status = "caching"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusExtracting,
	StatusChunking,
	StatusTranscribing,
	StatusMerging,
	StatusSegmenting,
	StatusCaching,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// stageOrder maps each non-terminal status to its successor on the happy path.
var stageOrder = map[Status]Status{
	StatusPending:      StatusExtracting,
	StatusExtracting:   StatusChunking,
	StatusChunking:     StatusTranscribing,
	StatusTranscribing: StatusMerging,
	StatusMerging:      StatusSegmenting,
	StatusSegmenting:   StatusCaching,
	StatusCaching:      StatusCompleted,
}

var processingStatuses = map[Status]struct{}{
	StatusExtracting:   {},
	StatusChunking:     {},
	StatusTranscribing: {},
	StatusMerging:      {},
	StatusSegmenting:   {},
	StatusCaching:      {},
}

// IsTerminal reports whether no further transition out of the status is legal.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsProcessing reports whether the status is an in-flight pipeline stage.
func (s Status) IsProcessing() bool {
	_, ok := processingStatuses[s]
	return ok
}

// isValidTransition enforces the job state machine: the happy path advances
// one stage at a time, any non-terminal state may fail, and cancellation is
// only legal before transcription starts.
func isValidTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	if to == StatusCancelled {
		switch from {
		case StatusPending, StatusExtracting, StatusChunking:
			return true
		}
		return false
	}
	return stageOrder[from] == to
}

// Item represents a queue item persisted in SQLite.
type Item struct {
	ID              int64
	SourcePath      string
	Language        string
	Status          Status
	Progress        int
	ProgressMessage string
	ArtifactPath    string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}
