// Package language normalizes language identifiers used throughout the
// pipeline. It maps ISO 639-1/639-2 codes and full language names to the
// canonical 2-letter form, reports text direction for right-to-left scripts,
// and resolves human-readable display names.
package language
