package dpll

import "fmt"

// Config carries everything needed to build one read channel.
type Config struct {
	// Words is the frequency word table, indexed by rate selector.
	Words []FrequencyWord
	// ZoneWord is the per-zone word increment, used only when Zoned.
	ZoneWord FrequencyWord
	// RateSelector picks the initial table entry.
	RateSelector int

	// Zoned enables variable-rate (CAV) operation under Scheme.
	Zoned  bool
	Scheme ZoneScheme

	// LockThreshold is the |phase error| bound for a good sample.
	LockThreshold uint16

	// Gains overrides the gain schedule; zero entries keep the default.
	Gains [4]Gains
	// AutoBandwidth lets the filter adapt its own bandwidth. When off,
	// the filter stays at Bandwidth until told otherwise.
	AutoBandwidth bool
	// Bandwidth is the starting level for manual operation. Ignored
	// with AutoBandwidth, which always starts wide open.
	Bandwidth BandwidthLevel

	// Robust enables missing-pulse tracking.
	Robust bool
	// MinEdgeSpacing rejects edges closer together than this many
	// ticks; zero disables the glitch filter.
	MinEdgeSpacing uint32

	// MFM selects the clock/data pair sampler instead of majority vote.
	MFM bool
}

// Input is everything a channel consumes on one tick.
type Input struct {
	// Edge is set when a flux transition was detected this tick.
	Edge bool
	// Polarity is the line level after the transition.
	Polarity bool
	// Interval is ticks since the previous transition, saturating;
	// zero when unknown.
	Interval uint32
	// Track is the physical head position.
	Track int
	// RateStrobe requests a rate-change holdoff without a zone change,
	// for externally driven rate switches.
	RateStrobe bool
}

// Output is the consolidated per-tick bundle: the recovered bit (or MFM
// cell pair), the recovered clock, and the status fields diagnostics poll.
type Output struct {
	Bit SampledBit
	MFM MFMPair

	BitClock     bool
	CellBoundary bool

	// EdgeValid marks ticks whose edge produced a phase sample;
	// PhaseErr and Margin are refreshed on those ticks and latched
	// in between.
	EdgeValid bool
	Glitch    bool
	PhaseErr  int16
	Margin    MarginZone

	PhaseAccum  uint32
	Locked      bool
	LockState   LockState
	LockQuality uint8
	Bandwidth   BandwidthLevel

	MissingPulse bool
	MissRun      uint8

	Zone        int
	ZoneChanged bool

	Tick uint64
}

// Channel is one independent read-channel pipeline. Channels share
// nothing; run one per drive.
type Channel struct {
	cfg Config

	zone   *ZoneCalculator
	nco    *NCO
	det    *PhaseDetector
	filter *LoopFilter
	lock   *LockDetector
	samp   DataSampler
	mfm    MFMSampler

	line       bool  // latched flux line level
	pending    int16 // correction applied on the next tick
	lastErr    int16
	lastMargin MarginZone
	tick       uint64
}

// New validates the configuration and builds a channel. Everything that
// can fail does so here; Tick never returns an error.
func New(cfg Config) (*Channel, error) {
	zones := 0
	if cfg.Zoned {
		zones = cfg.Scheme.Zones()
	}
	nco, err := NewNCO(cfg.Words, cfg.ZoneWord, zones)
	if err != nil {
		return nil, fmt.Errorf("invalid rate table: %w", err)
	}
	if err := nco.SetRate(cfg.RateSelector); err != nil {
		return nil, err
	}
	filter, err := NewLoopFilter(cfg.Gains, startupBandwidth(cfg), cfg.AutoBandwidth)
	if err != nil {
		return nil, err
	}
	lock, err := NewLockDetector(cfg.LockThreshold)
	if err != nil {
		return nil, err
	}
	return &Channel{
		cfg:        cfg,
		zone:       NewZoneCalculator(cfg.Scheme, cfg.Zoned),
		nco:        nco,
		det:        NewPhaseDetector(cfg.Robust, cfg.MinEdgeSpacing),
		filter:     filter,
		lock:       lock,
		lastMargin: MarginWayOff,
	}, nil
}

// startupBandwidth: an adaptive loop always begins wide open; a manual
// loop begins where the caller put it.
func startupBandwidth(cfg Config) BandwidthLevel {
	if cfg.AutoBandwidth {
		return BandwidthAcquisition
	}
	return cfg.Bandwidth
}

// Tick advances the whole pipeline by one time quantum. Components run in
// dependency order: zone, detector, filter, oscillator, then the samplers
// and the lock bookkeeping. The filter's correction is double-buffered so
// the oscillator only sees it on the following tick.
func (c *Channel) Tick(in Input) Output {
	c.tick++

	zc := c.zone.Step(in.Track)
	if zc.Changed {
		c.nco.setZone(zc.Zone)
		c.filter.RateChange()
	}
	if in.RateStrobe {
		c.filter.RateChange()
	}

	sample := c.det.Observe(in.Edge, in.Interval, c.nco.Phase())
	if in.Edge {
		c.line = in.Polarity
	}

	var adjust int16
	if sample.Valid {
		// Negative feedback: a late edge (positive error) means the
		// oscillator wrapped early, so the correction retards it.
		adjust = -c.filter.Step(sample.Err, sample.Margin)
		c.lock.Step(sample.Err, sample.Margin)
		c.lastErr = sample.Err
		c.lastMargin = sample.Margin
	}

	nt := c.nco.Step(c.pending)
	c.pending = adjust

	var report CellReport
	if nt.CellBoundary {
		report = c.det.EndCell()
	}

	out := Output{
		BitClock:     nt.BitClock,
		CellBoundary: nt.CellBoundary,
		EdgeValid:    sample.Valid,
		Glitch:       sample.Glitch,
		PhaseErr:     c.lastErr,
		Margin:       c.lastMargin,
		PhaseAccum:   nt.Accum,
		Locked:       c.lock.Locked(),
		LockState:    c.lock.State(),
		LockQuality:  c.lock.Quality(),
		Bandwidth:    c.filter.Bandwidth(),
		MissingPulse: report.Missing,
		MissRun:      c.det.MissRun(),
		Zone:         zc.Zone,
		ZoneChanged:  zc.Changed,
		Tick:         c.tick,
	}

	if c.cfg.MFM {
		if nt.CellBoundary {
			out.MFM = c.mfm.EndCell(report.HadEdge)
		}
	} else {
		out.Bit = c.samp.Step(c.line, nt)
	}
	return out
}

// LockState returns the lock detector's position.
func (c *Channel) LockState() LockState { return c.lock.State() }

// LockQuality returns the current quality figure.
func (c *Channel) LockQuality() uint8 { return c.lock.Quality() }

// SetRate reselects the frequency word table entry and arms the
// rate-change holdoff. Call between ticks.
func (c *Channel) SetRate(sel int) error {
	if err := c.nco.SetRate(sel); err != nil {
		return err
	}
	c.filter.RateChange()
	return nil
}

// Reset atomically restores every stateful value to its initial state.
// Call between ticks, never mid-tick.
func (c *Channel) Reset() {
	c.zone.Reset()
	c.nco.Reset()
	// The selector was validated in New and the table has not changed.
	_ = c.nco.SetRate(c.cfg.RateSelector)
	c.det.Reset()
	c.filter.Reset(startupBandwidth(c.cfg))
	c.lock.Reset()
	c.samp.Reset()
	c.mfm.Reset()
	c.line = false
	c.pending = 0
	c.lastErr = 0
	c.lastMargin = MarginWayOff
	c.tick = 0
}
