// Package pipeline runs the per-file scan and optimize workflows.
//
// Coordinators never hold state of their own beyond in-flight bookkeeping:
// every outcome is written back through registry.Upsert with a generation
// guard, so a clear-all invalidates work that is still running and a removed
// entry is never resurrected. Collaborators (analysis, optimization, playback,
// notifications) are consumed through the small interfaces in this package.
package pipeline
