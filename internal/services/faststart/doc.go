// Package faststart is the local analysis and optimization service.
//
// CheckOptimized and Validate scan top-level MP4 boxes without reading media
// payloads. Metadata prefers ffprobe when it is installed and falls back to
// the movie header boxes. Optimize moves the moov box in front of the media
// data by rewriting the file into a sibling temp file and renaming it over
// the original, so a failed run never leaves a half-written video behind.
package faststart
