// Package probecache persists scan results in SQLite so unchanged files skip
// the atom scan and ffprobe when they are dropped again.
//
// Rows are keyed by the registry key and stamped with the file size and
// modification time seen when the probe ran; a lookup only hits when both
// still match. The cache is an accelerator, never the registry: entries
// themselves are not persisted.
package probecache
