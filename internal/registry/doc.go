// Package registry holds the ordered, in-memory set of tracked video files and
// the status state machine that governs them.
//
// The registry is the single source of truth for presentation. Coordinators
// mutate it only through Upsert, whose mutator always runs against the latest
// stored entry, so results from concurrent scans and optimizations merge
// without overwriting each other's unrelated fields. Admit performs the
// dedup-and-insert step atomically, and ClearAll starts a new generation so
// work dispatched before a clear can never touch entries admitted after it.
//
// Entries are values. Metadata is replaced wholesale, never mutated in place,
// which lets snapshots share the pointer safely.
package registry
