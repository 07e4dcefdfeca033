package mp4

import (
	"encoding/binary"
	"errors"
	"io"
	"strings"
)

// Movie holds the presentation details stored in the moov box.
type Movie struct {
	DurationSeconds float64
	Width           int
	Height          int
	Codec           string
}

// ReadMovie loads the moov box described by box and parses it.
func ReadMovie(r io.ReaderAt, box Box) (Movie, error) {
	buf := make([]byte, box.Size)
	if _, err := r.ReadAt(buf, box.Offset); err != nil {
		return Movie{}, err
	}
	return ParseMovie(buf)
}

// ParseMovie extracts duration and the first video track's dimensions and
// codec from a complete moov box.
func ParseMovie(moov []byte) (Movie, error) {
	body, err := bodyOf(moov)
	if err != nil {
		return Movie{}, err
	}
	var movie Movie
	haveVideo := false
	err = forEachChild(body, func(c child) error {
		switch c.typ {
		case "mvhd":
			movie.DurationSeconds = parseMvhd(c.body)
		case "trak":
			if haveVideo {
				return nil
			}
			track, err := parseTrak(c.body)
			if err != nil {
				return err
			}
			if track.video {
				haveVideo = true
				movie.Width = track.width
				movie.Height = track.height
				movie.Codec = track.codec
			}
		}
		return nil
	})
	return movie, err
}

func parseMvhd(body []byte) float64 {
	if len(body) < 20 {
		return 0
	}
	var timescale uint32
	var duration uint64
	if body[0] == 1 {
		if len(body) < 32 {
			return 0
		}
		timescale = binary.BigEndian.Uint32(body[20:24])
		duration = binary.BigEndian.Uint64(body[24:32])
	} else {
		timescale = binary.BigEndian.Uint32(body[12:16])
		duration = uint64(binary.BigEndian.Uint32(body[16:20]))
	}
	if timescale == 0 {
		return 0
	}
	return float64(duration) / float64(timescale)
}

type track struct {
	video  bool
	width  int
	height int
	codec  string
}

func parseTrak(body []byte) (track, error) {
	var t track
	handler := ""
	err := forEachChild(body, func(c child) error {
		switch c.typ {
		case "tkhd":
			t.width, t.height = parseTkhd(c.body)
		case "mdia":
			return forEachChild(c.body, func(m child) error {
				switch m.typ {
				case "hdlr":
					if len(m.body) >= 12 {
						handler = string(m.body[8:12])
					}
				case "minf":
					t.codec = findCodec(m.body)
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return t, err
	}
	t.video = handler == "vide" || (handler == "" && t.width > 0 && t.height > 0)
	return t, nil
}

// parseTkhd returns the 16.16 fixed-point track dimensions as integers.
func parseTkhd(body []byte) (int, int) {
	offset := 76
	if len(body) > 0 && body[0] == 1 {
		offset = 88
	}
	if len(body) < offset+8 {
		return 0, 0
	}
	w := binary.BigEndian.Uint32(body[offset : offset+4])
	h := binary.BigEndian.Uint32(body[offset+4 : offset+8])
	return int(w >> 16), int(h >> 16)
}

var errFound = errors.New("found")

func findCodec(minf []byte) string {
	codec := ""
	_ = forEachChild(minf, func(c child) error {
		if c.typ != "stbl" {
			return nil
		}
		return forEachChild(c.body, func(s child) error {
			if s.typ != "stsd" || len(s.body) < 16 {
				return nil
			}
			codec = strings.TrimRight(string(s.body[12:16]), "\x00 ")
			return errFound
		})
	})
	return codec
}
