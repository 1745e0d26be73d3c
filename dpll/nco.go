// Package dpll implements the digital phase-locked loop of a disk read
// channel: a numerically controlled oscillator, a phase detector, a
// proportional-integral loop filter, a statistical lock detector, a
// windowed data sampler and a zone calculator, wired together one pipeline
// per read channel. All components advance in fixed discrete ticks and
// keep their state in explicit structs, so a capture can be replayed
// deterministically.
package dpll

import "fmt"

// Phase accumulator geometry. The accumulator is a wrapping 32-bit value;
// one full turn is one bit cell. The high 16 bits are the "phase unit"
// used by the detector and the loop filter.
const (
	accumHalf = 0x80000000 // mid-cell sample point

	// Sample window: +/-45 degrees around the mid-cell point.
	windowLow  = 0x60000000
	windowHigh = 0xA0000000

	// MaxFrequencyWord caps the bit rate at half the tick rate. Above
	// that the sampler has no room to collect window samples.
	MaxFrequencyWord = FrequencyWord(0x80000000)
)

// FrequencyWord is the per-tick phase increment: (bit_rate << 32) / tick_rate.
// A zero word would stall the oscillator and is rejected everywhere.
type FrequencyWord uint32

// NewFrequencyWord derives the accumulator increment for a target bit rate
// sampled at tickHz ticks per second.
func NewFrequencyWord(bitRateHz, tickHz uint64) (FrequencyWord, error) {
	if tickHz == 0 {
		return 0, fmt.Errorf("tick rate must be positive")
	}
	if bitRateHz == 0 {
		return 0, fmt.Errorf("bit rate must be positive")
	}
	if bitRateHz*2 > tickHz {
		return 0, fmt.Errorf("bit rate %d exceeds half the tick rate %d", bitRateHz, tickHz)
	}
	w := (bitRateHz << 32) / tickHz
	if w == 0 {
		return 0, fmt.Errorf("bit rate %d too low for tick rate %d", bitRateHz, tickHz)
	}
	return FrequencyWord(w), nil
}

// RateWords builds a frequency word table from bit rates in kbps, indexed
// by rate selector.
func RateWords(ratesKbps []int, tickHz uint64) ([]FrequencyWord, error) {
	if len(ratesKbps) == 0 {
		return nil, fmt.Errorf("empty rate table")
	}
	words := make([]FrequencyWord, len(ratesKbps))
	for i, kbps := range ratesKbps {
		if kbps <= 0 {
			return nil, fmt.Errorf("rate %d in table entry %d must be positive", kbps, i)
		}
		w, err := NewFrequencyWord(uint64(kbps)*1000, tickHz)
		if err != nil {
			return nil, fmt.Errorf("table entry %d: %w", i, err)
		}
		words[i] = w
	}
	return words, nil
}

// ScaleWord rescales a frequency word by num/den. Used for RPM
// compensation: when the platter spins slow by some ratio, every bit cell
// stretches by the same ratio and the word shrinks to match.
func ScaleWord(w FrequencyWord, num, den uint64) (FrequencyWord, error) {
	if num == 0 || den == 0 {
		return 0, fmt.Errorf("scale ratio %d/%d must be positive", num, den)
	}
	scaled := uint64(w) * num / den
	if scaled == 0 {
		return 0, fmt.Errorf("scaled frequency word is zero")
	}
	if scaled > uint64(MaxFrequencyWord) {
		return 0, fmt.Errorf("scaled frequency word 0x%x out of range", scaled)
	}
	return FrequencyWord(scaled), nil
}

// NCO is the numerically controlled oscillator: a 32-bit phase accumulator
// advanced by the selected frequency word once per tick. Overflow marks a
// bit-cell boundary and toggles the recovered bit clock; crossing the
// mid-cell point raises the sample pulse.
type NCO struct {
	words  []FrequencyWord // one word per rate selector
	offset FrequencyWord   // per-zone word increment, zero when not zoned
	zones  int             // zone count, zero when not zoned

	sel  int
	zone int
	word FrequencyWord // resolved from sel and zone

	accum    uint32
	bitClock bool
}

// NCOTick reports what the oscillator did during one tick.
type NCOTick struct {
	Accum        uint32 // accumulator after the advance
	CellBoundary bool   // accumulator wrapped: a bit cell ended
	BitClock     bool   // recovered bit clock line
	SamplePulse  bool   // accumulator crossed the mid-cell point
	InWindow     bool   // accumulator inside the sample window
}

// NewNCO validates the whole rate table up front, including every zone
// combination, so that rate and zone reselection never fails on the tick
// path. A zones count of zero disables zoned operation.
func NewNCO(words []FrequencyWord, offset FrequencyWord, zones int) (*NCO, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("empty frequency word table")
	}
	if zones < 0 {
		return nil, fmt.Errorf("zone count %d must not be negative", zones)
	}
	maxZone := 0
	if zones > 0 {
		maxZone = zones - 1
	}
	for i, w := range words {
		if w == 0 {
			return nil, fmt.Errorf("frequency word %d is zero", i)
		}
		top := uint64(w) + uint64(maxZone)*uint64(offset)
		if top > uint64(MaxFrequencyWord) {
			return nil, fmt.Errorf("frequency word %d with zone offset 0x%x exceeds 0x%x",
				i, offset, uint32(MaxFrequencyWord))
		}
	}
	n := &NCO{words: words, offset: offset, zones: zones}
	n.word = n.resolve()
	return n, nil
}

// resolve recomputes the effective word from the rate selector and zone.
// All combinations were validated at construction.
func (n *NCO) resolve() FrequencyWord {
	w := uint64(n.words[n.sel])
	if n.zones > 0 {
		w += uint64(n.zone) * uint64(n.offset)
	}
	return FrequencyWord(w)
}

// SetRate selects a frequency word from the table.
func (n *NCO) SetRate(sel int) error {
	if sel < 0 || sel >= len(n.words) {
		return fmt.Errorf("rate selector %d out of range [0,%d)", sel, len(n.words))
	}
	n.sel = sel
	n.word = n.resolve()
	return nil
}

// setZone switches the per-zone word increment. The caller guarantees the
// index is within the zone count given at construction.
func (n *NCO) setZone(zone int) {
	if n.zones == 0 {
		return
	}
	if zone < 0 {
		zone = 0
	}
	if zone >= n.zones {
		zone = n.zones - 1
	}
	n.zone = zone
	n.word = n.resolve()
}

// Word returns the effective frequency word.
func (n *NCO) Word() FrequencyWord { return n.word }

// Phase returns the accumulator as of the last completed tick.
func (n *NCO) Phase() uint32 { return n.accum }

// Step advances the accumulator by the frequency word plus the phase
// adjustment computed by the loop filter on the previous tick. The
// adjustment is in phase units (the high half of the accumulator), so it
// is sign-extended and shifted up before the add. Wrapping in either
// direction is ordinary arithmetic; only a forward wrap is a cell
// boundary, and a backward wrap is neither a boundary nor a sample pulse.
func (n *NCO) Step(adjust int16) NCOTick {
	prev := n.accum
	total := int64(prev) + int64(n.word) + int64(adjust)<<16
	wrapped := total >= 1<<32
	under := total < 0
	n.accum = uint32(total)
	if wrapped {
		n.bitClock = !n.bitClock
	}
	return NCOTick{
		Accum:        n.accum,
		CellBoundary: wrapped,
		BitClock:     n.bitClock,
		SamplePulse:  !under && prev < accumHalf && (wrapped || n.accum >= accumHalf),
		InWindow:     n.accum >= windowLow && n.accum < windowHigh,
	}
}

// Reset returns the oscillator to its construction state.
func (n *NCO) Reset() {
	n.accum = 0
	n.bitClock = false
	n.sel = 0
	n.zone = 0
	n.word = n.resolve()
}
