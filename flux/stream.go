package flux

import "fmt"

// Capture stream byte format. Interval values 1-249 are encoded directly
// in one byte; 250-1524 as a two-byte extended range; anything longer as
// a SPACE opcode followed by a 1-tick terminating transition. 0xFF starts
// an opcode, 0x00 terminates the stream.
const (
	streamEnd = 0x00
	opEscape  = 0xFF

	opIndex = 1 // index mark: N28 offset from the current position
	opSpace = 2 // time gap with no transition: N28 ticks

	directMax   = 249
	extendedMax = 1524

	n28Max = 1<<28 - 1
)

// Capture is one decoded flux capture: transition intervals in ticks plus
// index mark positions in absolute stream time.
type Capture struct {
	Intervals []uint32
	Index     []uint64
}

// Ticks returns the total stream duration.
func (c *Capture) Ticks() uint64 {
	total := uint64(0)
	for _, v := range c.Intervals {
		total += uint64(v)
	}
	return total
}

// readN28 decodes a 28-bit value packed across 4 bytes, 7 bits per byte
// with bit 0 of each byte set to 1 so no payload byte can be mistaken for
// the stream terminator.
func readN28(data []byte, offset int) (uint32, error) {
	if offset+4 > len(data) {
		return 0, fmt.Errorf("truncated N28 value at offset %d", offset)
	}
	return ((uint32(data[offset]) & 0xfe) >> 1) |
		((uint32(data[offset+1]) & 0xfe) << 6) |
		((uint32(data[offset+2]) & 0xfe) << 13) |
		((uint32(data[offset+3]) & 0xfe) << 20), nil
}

// encodeN28 packs a 28-bit value into 4 bytes with bit 0 of each set.
func encodeN28(value uint32) [4]byte {
	return [4]byte{
		byte(1 | ((value & 0x7F) << 1)),
		byte(1 | (((value >> 7) & 0x7F) << 1)),
		byte(1 | (((value >> 14) & 0x7F) << 1)),
		byte(1 | (((value >> 21) & 0x7F) << 1)),
	}
}

// DecodeStream decodes a capture stream. Pending SPACE time folds into the
// next transition's interval, saturating at MaxInterval. A stream that
// runs out of bytes before the terminator is an error.
func DecodeStream(data []byte) (*Capture, error) {
	cap := &Capture{}
	pos := uint64(0)     // absolute time of the last transition
	pending := uint64(0) // accumulated SPACE time

	push := func(ticks uint64) {
		total := pending + ticks
		pending = 0
		pos += total
		if total > uint64(MaxInterval) {
			total = uint64(MaxInterval)
		}
		cap.Intervals = append(cap.Intervals, uint32(total))
	}

	i := 0
	for i < len(data) {
		b := data[i]
		switch {
		case b == streamEnd:
			return cap, nil

		case b == opEscape:
			if i+1 >= len(data) {
				return nil, fmt.Errorf("truncated opcode at offset %d", i)
			}
			op := data[i+1]
			i += 2
			switch op {
			case opIndex:
				n28, err := readN28(data, i)
				if err != nil {
					return nil, err
				}
				i += 4
				cap.Index = append(cap.Index, pos+pending+uint64(n28))
			case opSpace:
				n28, err := readN28(data, i)
				if err != nil {
					return nil, err
				}
				i += 4
				pending += uint64(n28)
			default:
				return nil, fmt.Errorf("unknown opcode 0x%02x at offset %d", op, i-1)
			}

		case b <= directMax:
			push(uint64(b))
			i++

		default:
			// Extended two-byte interval, 250-1524.
			if i+1 >= len(data) {
				return nil, fmt.Errorf("truncated extended interval at offset %d", i)
			}
			push(uint64(250 + (uint32(b)-250)*255 + uint32(data[i+1]) - 1))
			i += 2
		}
	}
	return nil, fmt.Errorf("stream ends without terminator after %d bytes", len(data))
}

// StreamWriter encodes transition intervals and index marks into the
// capture stream byte format.
type StreamWriter struct {
	buf []byte
}

// Interval appends one transition interval. Zero clamps to one tick, the
// minimum the format can express.
func (w *StreamWriter) Interval(ticks uint32) {
	if ticks == 0 {
		ticks = 1
	}
	switch {
	case ticks <= directMax:
		w.buf = append(w.buf, byte(ticks))

	case ticks <= extendedMax:
		base := byte(250)
		offset := ticks + 1 - 250
		for offset > 255 {
			base++
			offset -= 255
		}
		w.buf = append(w.buf, base, byte(offset))

	default:
		// SPACE for all but the final tick, then a 1-tick transition.
		space := uint64(ticks - 1)
		for space > 0 {
			chunk := space
			if chunk > n28Max {
				chunk = n28Max
			}
			n28 := encodeN28(uint32(chunk))
			w.buf = append(w.buf, opEscape, opSpace)
			w.buf = append(w.buf, n28[:]...)
			space -= chunk
		}
		w.buf = append(w.buf, 1)
	}
}

// Index appends an index mark at the current stream position.
func (w *StreamWriter) Index() {
	n28 := encodeN28(0)
	w.buf = append(w.buf, opEscape, opIndex)
	w.buf = append(w.buf, n28[:]...)
}

// Bytes terminates the stream and returns it. The writer must not be used
// afterwards.
func (w *StreamWriter) Bytes() []byte {
	return append(w.buf, streamEnd)
}
