package mp4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	TypeFtyp = "ftyp"
	TypeMoov = "moov"
	TypeMdat = "mdat"
)

var (
	// ErrNoMovie is returned when a file has no moov box.
	ErrNoMovie = errors.New("no moov atom found")
	// ErrTruncated is returned when a top-level box extends past the end of the file.
	ErrTruncated = errors.New("file truncated")
	// ErrMalformed is returned for box headers that cannot be valid.
	ErrMalformed = errors.New("malformed box")
)

// Box is a top-level box header and its position in the file.
type Box struct {
	Offset     int64
	Size       int64
	HeaderSize int64
	Type       string
	// ToEnd is set when the header declared size 0 ("runs to end of file").
	// Size then holds the resolved length.
	ToEnd bool
}

// End returns the offset one past the last byte of the box.
func (b Box) End() int64 {
	return b.Offset + b.Size
}

// Contains reports whether the absolute offset falls inside the box.
func (b Box) Contains(offset int64) bool {
	return offset >= b.Offset && offset < b.End()
}

// ReadHeader reads one box header. Size is 0 when the box runs to the end of
// the file; callers resolve it against the file length.
func ReadHeader(r io.Reader) (Box, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Box{}, err
	}
	box := Box{
		Size:       int64(binary.BigEndian.Uint32(header[0:4])),
		Type:       string(header[4:8]),
		HeaderSize: 8,
	}
	if box.Size == 1 {
		var extended [8]byte
		if _, err := io.ReadFull(r, extended[:]); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return box, err
		}
		box.Size = int64(binary.BigEndian.Uint64(extended[:]))
		box.HeaderSize = 16
		if box.Size < 0 {
			return box, fmt.Errorf("%w: %s size overflows", ErrMalformed, box.Type)
		}
	}
	return box, nil
}

// TopLevel scans the top-level boxes of a file of the given length. Media
// payloads are skipped, never read. A box extending past length yields the
// boxes scanned so far plus ErrTruncated.
func TopLevel(rs io.ReadSeeker, length int64) ([]Box, error) {
	var boxes []Box
	var offset int64
	for offset < length {
		if _, err := rs.Seek(offset, io.SeekStart); err != nil {
			return boxes, err
		}
		box, err := ReadHeader(rs)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return boxes, fmt.Errorf("%w: partial box header at offset %d", ErrTruncated, offset)
			}
			return boxes, err
		}
		box.Offset = offset
		if box.Size == 0 {
			box.Size = length - offset
			box.ToEnd = true
		}
		if box.Size < box.HeaderSize {
			return boxes, fmt.Errorf("%w: %q has size %d at offset %d", ErrMalformed, box.Type, box.Size, offset)
		}
		if box.End() > length {
			return boxes, fmt.Errorf("%w: %q at offset %d needs %d bytes, file has %d", ErrTruncated, box.Type, offset, box.Size, length-offset)
		}
		boxes = append(boxes, box)
		offset = box.End()
	}
	return boxes, nil
}

// Find returns the first box of the given type.
func Find(boxes []Box, typ string) (Box, bool) {
	for _, box := range boxes {
		if box.Type == typ {
			return box, true
		}
	}
	return Box{}, false
}

// IsFastStart reports whether moov precedes the first mdat. A file with a
// movie box and no media data counts as fast start.
func IsFastStart(boxes []Box) (bool, error) {
	moovIndex, mdatIndex := -1, -1
	for i, box := range boxes {
		switch box.Type {
		case TypeMoov:
			if moovIndex == -1 {
				moovIndex = i
			}
		case TypeMdat:
			if mdatIndex == -1 {
				mdatIndex = i
			}
		}
	}
	if moovIndex == -1 {
		return false, ErrNoMovie
	}
	if mdatIndex == -1 {
		return true, nil
	}
	return moovIndex < mdatIndex, nil
}

// child is a box nested inside an in-memory parent payload.
type child struct {
	typ  string
	box  []byte
	body []byte
}

// forEachChild walks the boxes packed inside payload.
func forEachChild(payload []byte, fn func(child) error) error {
	for i := 0; i < len(payload); {
		if len(payload)-i < 8 {
			return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(payload)-i)
		}
		size := int64(binary.BigEndian.Uint32(payload[i : i+4]))
		typ := string(payload[i+4 : i+8])
		header := int64(8)
		switch size {
		case 0:
			size = int64(len(payload) - i)
		case 1:
			if len(payload)-i < 16 {
				return fmt.Errorf("%w: %q extended header cut short", ErrMalformed, typ)
			}
			size = int64(binary.BigEndian.Uint64(payload[i+8 : i+16]))
			header = 16
		}
		if size < header || size > int64(len(payload)-i) {
			return fmt.Errorf("%w: %q has size %d with %d bytes left", ErrMalformed, typ, size, len(payload)-i)
		}
		box := payload[i : i+int(size)]
		if err := fn(child{typ: typ, box: box, body: box[header:]}); err != nil {
			return err
		}
		i += int(size)
	}
	return nil
}

// bodyOf strips the header from a complete in-memory box.
// SetSize writes size into the 32-bit size field of an 8-byte box header.
// It seals a box that declared size 0 before the box is moved away from the
// end of the file.
func SetSize(header []byte, size int64) error {
	if len(header) < 8 {
		return fmt.Errorf("%w: box shorter than header", ErrMalformed)
	}
	if size < 8 || size > math.MaxUint32 {
		return fmt.Errorf("%w: size %d does not fit a compact %q header", ErrMalformed, size, header[4:8])
	}
	binary.BigEndian.PutUint32(header[0:4], uint32(size))
	return nil
}

func bodyOf(box []byte) ([]byte, error) {
	if len(box) < 8 {
		return nil, fmt.Errorf("%w: box shorter than header", ErrMalformed)
	}
	if binary.BigEndian.Uint32(box[0:4]) == 1 {
		if len(box) < 16 {
			return nil, fmt.Errorf("%w: extended header cut short", ErrMalformed)
		}
		return box[16:], nil
	}
	return box[8:], nil
}
