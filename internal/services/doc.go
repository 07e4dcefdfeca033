// Package services defines shared utilities consumed by the pipeline
// coordinators and the external tool integrations.
//
// Key responsibilities:
//   - Context helpers that stamp registry keys, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so per-file failures can
//     be classified (probe, optimize, degraded ingestion, connectivity) without
//     string matching.
//
// Collaborators should wrap their failures with a marker; coordinators turn
// them into registry state and never let them cross file boundaries.
package services
