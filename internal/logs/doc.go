// Package logs reads the daemon log file for `faststart logs`.
//
// Last returns the final lines with bounded memory; Follow streams lines
// appended after an offset, waking on fsnotify write events and restarting
// from the top when the file is truncated or replaced.
package logs
