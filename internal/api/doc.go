// Package api serves the daemon over HTTP and defines the wire-format types
// shared with the IPC layer.
//
// # Routes
//
//	GET    /api/files            ordered registry view (?status= filters)
//	POST   /api/files            admit {paths}
//	DELETE /api/files            clear all
//	POST   /api/files/scan       rescan {path}
//	POST   /api/files/optimize   optimize {path}
//	POST   /api/optimize-all     optimize every unoptimized file
//	GET    /api/status           daemon, bridge, and dependency status
//	GET    /api/events           WebSocket: snapshot, then registry changes
//	GET    /video/*path          stream a tracked file under a playback hold
//
// Scan and optimize requests return 202 once work is queued; progress is
// observed through /api/events or by polling /api/files.
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
package api
