package dpll

import "math/bits"

// SampledBit is one recovered data bit. Ready is set on the single tick
// the bit-cell vote completes; consumers must latch it then.
type SampledBit struct {
	Value bool
	Ready bool
}

// DataSampler recovers one bit per cell by majority vote. It shifts the
// raw flux line into a 4-deep history, but only on ticks inside the
// oscillator's sample window, so noise far from the sample point never
// votes. The vote is taken when the mid-cell sample pulse fires.
type DataSampler struct {
	history uint8 // last four window samples, newest in bit 0
	taken   uint8
	lastRaw bool
}

// Step feeds the sampler one tick. line is the raw flux line level; nt is
// the oscillator's report for the same tick.
func (s *DataSampler) Step(line bool, nt NCOTick) SampledBit {
	if nt.InWindow {
		s.history = (s.history << 1) & 0xF
		if line {
			s.history |= 1
		}
		if s.taken < 4 {
			s.taken++
		}
		s.lastRaw = line
	}
	if !nt.SamplePulse || s.taken == 0 {
		return SampledBit{}
	}

	var value bool
	switch ones := bits.OnesCount8(s.history); {
	case ones <= 1:
		value = false
	case ones == 2:
		// Split vote: trust the sample nearest the ideal point.
		value = s.lastRaw
	default:
		value = true
	}
	s.history = 0
	s.taken = 0
	return SampledBit{Value: value, Ready: true}
}

// Reset clears the window history.
func (s *DataSampler) Reset() {
	s.history = 0
	s.taken = 0
	s.lastRaw = false
}

// MFMPair is one clock/data cell pair. MFM assigns two flux cells to each
// data bit; whether each cell carried a transition is the recovered
// information, and its meaning is decided by the downstream framing layer.
type MFMPair struct {
	Clock bool
	Data  bool
	Ready bool
}

// MFMSampler pairs up consecutive bit cells keyed to the bit-clock
// boundary instead of voting on line levels. The first cell after a reset
// is treated as a clock cell; framing downstream resolves the actual
// alignment.
type MFMSampler struct {
	dataCell bool
	clock    bool
}

// EndCell records whether the cell that just ended carried an edge, and
// emits a pair once per two cells.
func (m *MFMSampler) EndCell(hadEdge bool) MFMPair {
	if !m.dataCell {
		m.clock = hadEdge
		m.dataCell = true
		return MFMPair{}
	}
	m.dataCell = false
	return MFMPair{Clock: m.clock, Data: hadEdge, Ready: true}
}

// Reset realigns the pair phase to a clock cell.
func (m *MFMSampler) Reset() {
	m.dataCell = false
	m.clock = false
}
