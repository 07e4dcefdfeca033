// Package daemon wires the ingestion pipeline into a long-running process.
//
// A Daemon owns the in-memory file registry, the ingestion gateway, the scan
// and optimization coordinators, the optional probe cache, playback holds,
// event bridges, and notifications. It enforces single-instance execution
// with a lock file, exposes the HTTP/WebSocket API, and on shutdown drains
// in-flight work before removing leftover optimizer temp files from every
// folder it visited.
package daemon
