// Package media wraps the ffmpeg and ffprobe binaries used to pull a
// transcription-ready audio track out of a source file, and plans how that
// track is cut into bounded, overlapping chunks for upload.
package media
