// Package mp4 reads and rearranges ISO base media (MP4/MOV) box structure.
//
// It scans top-level boxes without loading media data, reports whether the
// movie box precedes the media data ("fast start"), extracts basic movie
// information from mvhd/tkhd/hdlr/stsd, and plans the fast-start layout used
// by the optimizer, including translation of stco/co64 chunk offsets.
package mp4
