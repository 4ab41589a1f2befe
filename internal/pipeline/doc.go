// Package pipeline drives a single queued job through extraction, chunking,
// transcription, merging, segmentation, and caching. The runner persists every
// stage transition through the queue store so interrupted jobs can be reset
// and resumed, and it consults the artifact cache before doing any work.
package pipeline
