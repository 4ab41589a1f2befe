// Package services defines the shared error taxonomy for pipeline
// components. Errors are tagged with sentinel markers so callers can decide
// whether to retry, fail the single job, or abort the whole run, without
// string matching.
package services
