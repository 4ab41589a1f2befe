// Package whisper talks to a hosted Whisper inference endpoint. The client
// retries transient failures with capped exponential backoff and jitter, and
// normalizes the several response shapes the endpoint is known to return
// (plain text, chunk lists, segment lists) into a single Transcription value.
package whisper
