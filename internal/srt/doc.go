// Package srt renders subtitle cues as SubRip text and provides the parsing
// helpers used to validate generated files.
package srt
