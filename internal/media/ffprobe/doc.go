// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Only the fields needed to describe a video file are decoded: the container
// duration and size, and the dimensions and codec of the primary video
// stream. Parse is split from Inspect so callers and tests can decode
// captured output without running the binary.
package ffprobe
