package dpll

// MarginZone is a qualitative bucket for how far an observed edge lies
// from the ideal bit-cell boundary. It is a pure function of the
// accumulator value at edge time.
type MarginZone uint8

const (
	MarginEarly MarginZone = iota
	MarginOnTime
	MarginLate
	MarginWayOff
)

// Margin band thresholds, in accumulator units. OnTime covers +/-45
// degrees around the cell boundary; WayOff straddles the mid-cell region
// and does not encode direction.
const (
	onTimeLow  = 0x20000000
	onTimeHigh = 0xE0000000
	earlyHigh  = 0x40000000
	lateLow    = 0xC0000000
)

func (z MarginZone) String() string {
	switch z {
	case MarginEarly:
		return "early"
	case MarginOnTime:
		return "on-time"
	case MarginLate:
		return "late"
	case MarginWayOff:
		return "way-off"
	}
	return "unknown"
}

// ClassifyMargin buckets an accumulator value captured at edge time.
func ClassifyMargin(accum uint32) MarginZone {
	switch {
	case accum < onTimeLow || accum >= onTimeHigh:
		return MarginOnTime
	case accum < earlyHigh:
		return MarginEarly
	case accum >= lateLow:
		return MarginLate
	}
	return MarginWayOff
}

// missRunMax caps the consecutive missing-pulse counter.
const missRunMax = 15

// PhaseSample is the detector's verdict on one tick. Valid is set only on
// ticks that carried a usable edge.
type PhaseSample struct {
	Valid  bool
	Glitch bool // edge rejected by the minimum-spacing filter
	Err    int16
	Margin MarginZone
	Accum  uint32 // accumulator captured at edge time
}

// CellReport summarizes the bit cell that just ended.
type CellReport struct {
	HadEdge bool
	Missing bool  // robust capability only
	MissRun uint8 // consecutive cells without an edge, saturates at 15
}

// PhaseDetector measures the timing error between observed flux edges and
// the oscillator's phase. The robust capability also watches for bit cells
// that pass with no edge at all; the spacing filter rejects edges packed
// closer together than the medium can legitimately produce.
type PhaseDetector struct {
	robust     bool
	minSpacing uint32 // minimum ticks between edges, zero disables

	edgeInCell bool
	missRun    uint8
}

// NewPhaseDetector builds a detector. minSpacing is in ticks; zero
// disables the glitch filter.
func NewPhaseDetector(robust bool, minSpacing uint32) *PhaseDetector {
	return &PhaseDetector{robust: robust, minSpacing: minSpacing}
}

// Observe classifies the edge seen this tick against the accumulator value
// captured before the oscillator advances. interval is the ticks since the
// previous edge (zero when unknown). Ticks without an edge return a zero
// sample.
func (d *PhaseDetector) Observe(edge bool, interval uint32, accum uint32) PhaseSample {
	if !edge {
		return PhaseSample{}
	}
	if d.minSpacing > 0 && interval > 0 && interval < d.minSpacing {
		// Too close to the previous edge to be a recorded transition.
		// Do not mark the cell as serviced: a cell holding nothing but
		// noise still counts as missing its pulse.
		return PhaseSample{Glitch: true}
	}
	d.edgeInCell = true
	return PhaseSample{
		Valid:  true,
		Err:    int16(accum >> 16),
		Margin: ClassifyMargin(accum),
		Accum:  accum,
	}
}

// EndCell closes out the bit cell at a boundary tick and reports whether
// the cell contained an edge. Missing-pulse tracking is a robust-only
// capability; the basic detector always reports a clean cell.
func (d *PhaseDetector) EndCell() CellReport {
	had := d.edgeInCell
	d.edgeInCell = false
	if !d.robust {
		return CellReport{HadEdge: had}
	}
	if had {
		d.missRun = 0
		return CellReport{HadEdge: true, MissRun: 0}
	}
	if d.missRun < missRunMax {
		d.missRun++
	}
	return CellReport{Missing: true, MissRun: d.missRun}
}

// MissRun returns the current consecutive missing-pulse count.
func (d *PhaseDetector) MissRun() uint8 { return d.missRun }

// Reset clears per-cell tracking state.
func (d *PhaseDetector) Reset() {
	d.edgeInCell = false
	d.missRun = 0
}
