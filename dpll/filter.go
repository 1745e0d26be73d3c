package dpll

import "fmt"

// BandwidthLevel selects a proportional/integral gain pair, narrowest to
// widest. Acquisition is the widest and is forced after a rate change.
type BandwidthLevel uint8

const (
	BandwidthNarrow BandwidthLevel = iota
	BandwidthMedium
	BandwidthWide
	BandwidthAcquisition
)

func (b BandwidthLevel) String() string {
	switch b {
	case BandwidthNarrow:
		return "narrow"
	case BandwidthMedium:
		return "medium"
	case BandwidthWide:
		return "wide"
	case BandwidthAcquisition:
		return "acquisition"
	}
	return "unknown"
}

// Gains is one proportional/integral pair. Kp is 8.8 fixed point: the
// proportional term is (err*Kp)>>8. Ki multiplies the error directly into
// the integrator, so it must stay small or the integral path dominates
// and the loop rings.
type Gains struct {
	Kp int32
	Ki int32
}

// DefaultGains is the stock gain schedule, indexed by BandwidthLevel.
var DefaultGains = [4]Gains{
	BandwidthNarrow:      {Kp: 0x20, Ki: 1},
	BandwidthMedium:      {Kp: 0x40, Ki: 1},
	BandwidthWide:        {Kp: 0x80, Ki: 2},
	BandwidthAcquisition: {Kp: 0xC0, Ki: 2},
}

// Loop filter limits and adaptation thresholds.
const (
	integratorMax = 0x3FFFFF // signed 24-bit integrator bound
	outputMax     = 0x7FFF   // signed 16-bit output bound

	widenAfterPoor  = 8  // consecutive poor samples before widening one level
	narrowAfterGood = 64 // consecutive good samples before narrowing one level
	rateHoldoff     = 20 // valid samples pinned at Acquisition after a rate change

	runMax = 255
)

// LoopFilter is the PI controller converting phase error into an
// oscillator correction. With auto enabled it also adapts its own
// bandwidth from the margin statistics of recent samples.
type LoopFilter struct {
	gains [4]Gains
	auto  bool

	level      BandwidthLevel
	integrator int32
	goodRun    uint8
	poorRun    uint8
	holdoff    uint8
}

// NewLoopFilter builds a filter starting at the given bandwidth. A zero
// Gains table entry means "use the default schedule" for that level.
func NewLoopFilter(gains [4]Gains, level BandwidthLevel, auto bool) (*LoopFilter, error) {
	for i := range gains {
		if gains[i] == (Gains{}) {
			gains[i] = DefaultGains[i]
		}
		if gains[i].Kp <= 0 || gains[i].Ki <= 0 {
			return nil, fmt.Errorf("gain pair %d must be positive: %+v", i, gains[i])
		}
	}
	if level > BandwidthAcquisition {
		return nil, fmt.Errorf("bandwidth level %d out of range", level)
	}
	return &LoopFilter{gains: gains, auto: auto, level: level}, nil
}

// Step runs the controller for one valid phase sample and returns the
// correction, in phase units, to hand to the oscillator.
func (f *LoopFilter) Step(err int16, margin MarginZone) int16 {
	f.adapt(margin)
	g := f.gains[f.level]
	prop := (int32(err) * g.Kp) >> 8
	f.integrator = clamp32(f.integrator+int32(err)*g.Ki, -integratorMax, integratorMax)
	return int16(clamp32(prop+f.integrator, -outputMax, outputMax))
}

// adapt moves the bandwidth one level at a time from margin statistics.
// During the rate-change holdoff the statistics are ignored entirely.
func (f *LoopFilter) adapt(margin MarginZone) {
	if f.holdoff > 0 {
		f.holdoff--
		return
	}
	if !f.auto {
		return
	}
	if margin == MarginOnTime {
		if f.goodRun < runMax {
			f.goodRun++
		}
		f.poorRun = 0
		if f.goodRun >= narrowAfterGood && f.level > BandwidthNarrow {
			f.level--
			f.goodRun = 0
		}
		return
	}
	if f.poorRun < runMax {
		f.poorRun++
	}
	f.goodRun = 0
	if f.poorRun >= widenAfterPoor && f.level < BandwidthAcquisition {
		f.level++
		f.poorRun = 0
	}
}

// RateChange forces Acquisition bandwidth immediately and pins it there
// for the next rateHoldoff valid samples.
func (f *LoopFilter) RateChange() {
	f.level = BandwidthAcquisition
	f.holdoff = rateHoldoff
	f.goodRun = 0
	f.poorRun = 0
}

// SetBandwidth selects a level manually. Useful only with auto disabled;
// the auto controller will move it again otherwise.
func (f *LoopFilter) SetBandwidth(level BandwidthLevel) error {
	if level > BandwidthAcquisition {
		return fmt.Errorf("bandwidth level %d out of range", level)
	}
	f.level = level
	return nil
}

// Bandwidth returns the current level.
func (f *LoopFilter) Bandwidth() BandwidthLevel { return f.level }

// Integrator returns the integrator value, for diagnostics.
func (f *LoopFilter) Integrator() int32 { return f.integrator }

// Reset clears the integrator, the margin statistics and the holdoff, and
// puts the bandwidth back to the given starting level.
func (f *LoopFilter) Reset(level BandwidthLevel) {
	f.level = level
	f.integrator = 0
	f.goodRun = 0
	f.poorRun = 0
	f.holdoff = 0
}

func clamp32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
