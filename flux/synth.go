package flux

import (
	"fmt"
	"math/rand"
)

// Synth generates flux interval streams from bitcell patterns: one cell
// per bit, a transition at the cell boundary iff the bit is set. Speed
// error and jitter model a real drive; both default to zero for exact
// streams.
type Synth struct {
	// CellTicks is the nominal bit-cell length.
	CellTicks uint32
	// SpeedPPM stretches (positive) or shrinks (negative) every cell by
	// parts per million, modeling drive speed error.
	SpeedPPM int
	// JitterTicks shifts each transition by up to +/- this many ticks
	// without accumulating, modeling media noise.
	JitterTicks uint32
	// Seed makes the jitter reproducible.
	Seed int64
}

// cellLength returns the effective cell length in 32.32 fixed point, so
// fractional speed error accumulates instead of rounding away.
func (s *Synth) cellLength() (uint64, error) {
	if s.CellTicks == 0 {
		return 0, fmt.Errorf("cell length must be positive")
	}
	if s.SpeedPPM <= -1000000 {
		return 0, fmt.Errorf("speed error %d ppm out of range", s.SpeedPPM)
	}
	num := uint64(s.CellTicks) * uint64(1000000+s.SpeedPPM)
	cell := (num/1000000)<<32 + (num%1000000<<32)/1000000
	if cell == 0 {
		return 0, fmt.Errorf("cell length underflows at %d ppm", s.SpeedPPM)
	}
	return cell, nil
}

// Intervals converts one run of bitcells into transition intervals.
func (s *Synth) Intervals(cells []bool) ([]uint32, error) {
	cell, err := s.cellLength()
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(s.Seed))

	var intervals []uint32
	frac := uint64(0)   // fixed-point position within the pending gap
	carry := int64(0)   // jitter borrowed from the previous interval
	pending := int64(0) // whole ticks since the last transition
	for _, bit := range cells {
		frac += cell
		pending += int64(frac >> 32)
		frac &= 0xFFFFFFFF
		if !bit {
			continue
		}
		jitter := int64(0)
		if s.JitterTicks > 0 {
			jitter = rng.Int63n(2*int64(s.JitterTicks)+1) - int64(s.JitterTicks)
		}
		ticks := pending + jitter - carry
		if ticks < 1 {
			ticks = 1
		}
		intervals = append(intervals, saturate(ticks))
		carry = jitter
		pending = 0
	}
	return intervals, nil
}

// WriteRevolutions synthesizes the same cell pattern for several
// revolutions into a capture stream, with an index mark at the start of
// each revolution.
func (s *Synth) WriteRevolutions(w *StreamWriter, cells []bool, revolutions int) error {
	if revolutions < 1 {
		return fmt.Errorf("revolution count %d must be positive", revolutions)
	}
	if len(cells) == 0 {
		return fmt.Errorf("empty cell pattern")
	}
	for rev := 0; rev < revolutions; rev++ {
		w.Index()
		intervals, err := s.Intervals(cells)
		if err != nil {
			return err
		}
		if len(intervals) == 0 {
			return fmt.Errorf("cell pattern has no transitions")
		}
		for _, v := range intervals {
			w.Interval(v)
		}
	}
	return nil
}

// RandomCells generates a reproducible cell pattern with the given
// transition density in (0,1].
func RandomCells(n int, density float64, seed int64) []bool {
	rng := rand.New(rand.NewSource(seed))
	cells := make([]bool, n)
	run := 0
	for i := range cells {
		// Cap gaps so the pattern never starves the loop of edges.
		if run >= 3 || rng.Float64() < density {
			cells[i] = true
			run = 0
		} else {
			run++
		}
	}
	return cells
}

// PatternCells expands a pattern string of '0' and '1' characters,
// repeated to fill n cells.
func PatternCells(pattern string, n int) ([]bool, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	for _, c := range pattern {
		if c != '0' && c != '1' {
			return nil, fmt.Errorf("pattern %q: only '0' and '1' allowed", pattern)
		}
	}
	cells := make([]bool, n)
	for i := range cells {
		cells[i] = pattern[i%len(pattern)] == '1'
	}
	return cells, nil
}

func saturate(v int64) uint32 {
	if v >= int64(MaxInterval) {
		return MaxInterval
	}
	return uint32(v)
}
