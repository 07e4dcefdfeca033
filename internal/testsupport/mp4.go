package testsupport

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// MP4Options describes a synthetic MP4 file for analyzer and optimizer tests.
type MP4Options struct {
	FastStart bool
	Width     int
	Height    int
	Codec     string
	Timescale uint32
	Duration  uint32
	// Payload is the mdat data; defaults to 64 patterned bytes.
	Payload []byte
	// ChunkOffsets are positions inside Payload referenced by the video
	// track's chunk offset table. Defaults to {0, len(Payload)/2}.
	ChunkOffsets []int
	// Co64 stores the chunk table as 64-bit offsets.
	Co64 bool
}

// DefaultMP4 returns a small 1920x1080 avc1 movie laid out as requested.
func DefaultMP4(fastStart bool) MP4Options {
	return MP4Options{
		FastStart: fastStart,
		Width:     1920,
		Height:    1080,
		Codec:     "avc1",
		Timescale: 1000,
		Duration:  12500,
	}
}

// BuildMP4 assembles the file bytes described by opts.
func BuildMP4(opts MP4Options) []byte {
	if len(opts.Payload) == 0 {
		opts.Payload = make([]byte, 64)
		for i := range opts.Payload {
			opts.Payload[i] = byte(i)
		}
	}
	if len(opts.ChunkOffsets) == 0 {
		opts.ChunkOffsets = []int{0, len(opts.Payload) / 2}
	}
	if opts.Codec == "" {
		opts.Codec = "avc1"
	}

	ftyp := Box("ftyp", []byte("isom"), U32(512), []byte("isomavc1"))
	mdat := Box("mdat", opts.Payload)

	// moov size does not depend on the offset values, so build once to learn it.
	moovLen := len(buildMoov(opts, 0))
	dataStart := len(ftyp) + 8
	if opts.FastStart {
		dataStart = len(ftyp) + moovLen + 8
	}
	moov := buildMoov(opts, dataStart)

	var out bytes.Buffer
	out.Write(ftyp)
	if opts.FastStart {
		out.Write(moov)
		out.Write(mdat)
	} else {
		out.Write(mdat)
		out.Write(moov)
	}
	return out.Bytes()
}

// WriteMP4 writes a synthetic MP4 into dir and returns its path.
func WriteMP4(t testing.TB, dir, name string, opts MP4Options) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, BuildMP4(opts), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func buildMoov(opts MP4Options, dataStart int) []byte {
	mvhd := FullBox("mvhd", 0, U32(0), U32(0), U32(opts.Timescale), U32(opts.Duration), make([]byte, 80))

	audio := Box("trak",
		FullBox("tkhd", 0, make([]byte, 80)),
		Box("mdia",
			FullBox("hdlr", 0, U32(0), []byte("soun"), make([]byte, 13)),
			Box("minf", Box("stbl",
				FullBox("stsd", 0, U32(1), U32(16), []byte("mp4a"), make([]byte, 8)),
				chunkTable(opts.Co64, []int{dataStart}),
			)),
		),
	)

	offsets := make([]int, len(opts.ChunkOffsets))
	for i, rel := range opts.ChunkOffsets {
		offsets[i] = dataStart + rel
	}
	tkhd := FullBox("tkhd", 0, make([]byte, 72), U32(uint32(opts.Width)<<16), U32(uint32(opts.Height)<<16))
	video := Box("trak",
		tkhd,
		Box("mdia",
			FullBox("hdlr", 0, U32(0), []byte("vide"), make([]byte, 13)),
			Box("minf", Box("stbl",
				FullBox("stsd", 0, U32(1), U32(16), []byte(opts.Codec), make([]byte, 8)),
				chunkTable(opts.Co64, offsets),
			)),
		),
	)
	return Box("moov", mvhd, audio, video)
}

func chunkTable(co64 bool, offsets []int) []byte {
	entries := [][]byte{U32(uint32(len(offsets)))}
	for _, off := range offsets {
		if co64 {
			entries = append(entries, U64(uint64(off)))
		} else {
			entries = append(entries, U32(uint32(off)))
		}
	}
	if co64 {
		return FullBox("co64", 0, entries...)
	}
	return FullBox("stco", 0, entries...)
}

// Box encodes a compact box with the given payload parts.
func Box(typ string, parts ...[]byte) []byte {
	size := 8
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	out = append(out, U32(uint32(size))...)
	out = append(out, typ[:4]...)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// FullBox encodes a box whose payload starts with version and zero flags.
func FullBox(typ string, version byte, parts ...[]byte) []byte {
	return Box(typ, append([][]byte{{version, 0, 0, 0}}, parts...)...)
}

// U32 encodes v big-endian.
func U32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

// U64 encodes v big-endian.
func U64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}
