// Package cache persists finished subtitle artifacts keyed by the source
// media path plus the parameters that produced them. Entries are addressed by
// SHA-256, recorded in a JSON index that is rewritten atomically, and bounded
// by total size and age through a background sweep. A file lock keeps
// concurrent processes from fighting over the directory, and writes are
// refused when the volume drops below a free-space floor.
package cache
