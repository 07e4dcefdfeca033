// Package main hosts the faststart CLI entrypoint and command graph.
//
// Commands translate terminal invocations into JSON-RPC calls against the
// daemon over its Unix socket: admitting files, listing the registry,
// triggering scans and optimizations, and controlling the daemon process.
// The check command is the exception and inspects files locally without a
// daemon.
package main
