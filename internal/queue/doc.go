// Package queue persists transcription jobs in SQLite so interrupted runs
// can be inspected, retried, or cleared. Each item tracks one source file
// through the pipeline's stage statuses to a terminal state.
package queue
