// Package segmentation turns timed transcript segments into subtitle cues.
// It is pure: sentence splitting, greedy line packing against per-language
// character budgets, and reading-speed based cue timing, with no I/O.
package segmentation
