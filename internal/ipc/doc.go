// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// File entries and status travel as the api package DTOs so the CLI renders
// the same shapes the HTTP API returns. Per-file failures are reported inside
// the returned entry; RPC errors are reserved for bad requests and unknown
// paths.
package ipc
