// Package scheduler runs batches of queued jobs with bounded concurrency.
// Admission is gated twice: a counting semaphore caps parallel jobs, and a
// memory probe defers new work while the process footprint sits above the configured
// ceiling. The scheduler is the sole publisher on its event channel.
package scheduler
