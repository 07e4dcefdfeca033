package mp4

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Layout is the fast-start arrangement of a file's top-level boxes: file type
// boxes first, then the movie box, then everything else in original order.
type Layout struct {
	Movie  Box
	Order  []Box
	starts map[int64]int64
}

// PlanFastStart computes the fast-start layout for boxes.
func PlanFastStart(boxes []Box) (Layout, error) {
	moov, ok := Find(boxes, TypeMoov)
	if !ok {
		return Layout{}, ErrNoMovie
	}
	order := make([]Box, 0, len(boxes))
	for _, box := range boxes {
		if box.Type == TypeFtyp {
			order = append(order, box)
		}
	}
	order = append(order, moov)
	for _, box := range boxes {
		if box.Type == TypeFtyp || box.Offset == moov.Offset {
			continue
		}
		order = append(order, box)
	}

	starts := make(map[int64]int64, len(order))
	var cursor int64
	for _, box := range order {
		starts[box.Offset] = cursor
		cursor += box.Size
	}
	return Layout{Movie: moov, Order: order, starts: starts}, nil
}

// NeedsSize reports whether box declared size 0 and no longer ends the file
// in the new order, so its header must carry the real size.
func (l Layout) NeedsSize(box Box) bool {
	if !box.ToEnd || len(l.Order) == 0 {
		return false
	}
	return l.Order[len(l.Order)-1].Offset != box.Offset
}

// Translate maps an absolute offset in the original file to its position in
// the rewritten file.
func (l Layout) Translate(offset int64) (int64, error) {
	for _, box := range l.Order {
		if box.Contains(offset) {
			return l.starts[box.Offset] + (offset - box.Offset), nil
		}
	}
	return 0, fmt.Errorf("%w: chunk offset %d points outside every box", ErrMalformed, offset)
}

// PatchChunkOffsets rewrites every stco and co64 table inside moov in place
// using the layout's offset translation.
func (l Layout) PatchChunkOffsets(moov []byte) error {
	body, err := bodyOf(moov)
	if err != nil {
		return err
	}
	return l.patchContainer(body)
}

var chunkContainers = map[string]bool{
	"trak": true,
	"mdia": true,
	"minf": true,
	"stbl": true,
}

func (l Layout) patchContainer(payload []byte) error {
	return forEachChild(payload, func(c child) error {
		switch {
		case chunkContainers[c.typ]:
			return l.patchContainer(c.body)
		case c.typ == "stco":
			return l.patchStco(c.body)
		case c.typ == "co64":
			return l.patchCo64(c.body)
		}
		return nil
	})
}

func (l Layout) patchStco(body []byte) error {
	entries, err := tableEntries(body, 4, "stco")
	if err != nil {
		return err
	}
	for j := 0; j < entries; j++ {
		pos := 8 + j*4
		next, err := l.Translate(int64(binary.BigEndian.Uint32(body[pos : pos+4])))
		if err != nil {
			return err
		}
		if next > math.MaxUint32 {
			return fmt.Errorf("relocated chunk offset %d overflows stco; file needs co64", next)
		}
		binary.BigEndian.PutUint32(body[pos:pos+4], uint32(next))
	}
	return nil
}

func (l Layout) patchCo64(body []byte) error {
	entries, err := tableEntries(body, 8, "co64")
	if err != nil {
		return err
	}
	for j := 0; j < entries; j++ {
		pos := 8 + j*8
		next, err := l.Translate(int64(binary.BigEndian.Uint64(body[pos : pos+8])))
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint64(body[pos:pos+8], uint64(next))
	}
	return nil
}

// tableEntries validates a full box (version, flags, count) followed by
// count fixed-width entries.
func tableEntries(body []byte, width int, typ string) (int, error) {
	if len(body) < 8 {
		return 0, fmt.Errorf("%w: %s box too small", ErrMalformed, typ)
	}
	count := int(binary.BigEndian.Uint32(body[4:8]))
	if count < 0 || len(body) < 8+count*width {
		return 0, fmt.Errorf("%w: %s table truncated", ErrMalformed, typ)
	}
	return count, nil
}
