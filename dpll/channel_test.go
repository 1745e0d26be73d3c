package dpll

import "testing"

// testWord gives exactly 1024 ticks per bit cell.
const testWord = FrequencyWord(0x00400000)

const testCell = 1024

func newTestChannel(t *testing.T, cfg Config) *Channel {
	t.Helper()
	if cfg.Words == nil {
		cfg.Words = []FrequencyWord{testWord}
	}
	if cfg.LockThreshold == 0 {
		cfg.LockThreshold = 4096
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// runLevels drives the channel with an NRZ level sequence, one level per
// bit cell: a transition at the start of every cell whose level differs
// from the previous one. Edges land one tick after the cell boundary, so
// the captured phase is exactly zero. Returns the recovered bits.
func runLevels(c *Channel, levels []bool, collect func(Output)) []bool {
	var bits []bool
	prev := false
	for k, level := range levels {
		for i := 1; i <= testCell; i++ {
			in := Input{}
			if i == 1 && level != prev {
				in.Edge = true
				in.Polarity = level
			}
			out := c.Tick(in)
			if out.Bit.Ready {
				bits = append(bits, out.Bit.Value)
			}
			if collect != nil {
				collect(out)
			}
		}
		prev = levels[k]
	}
	return bits
}

// A periodic edge stream matching the frequency word must lock the
// channel within 40 bit cells and recover an alternating level stream
// with zero errors.
func TestChannelLocksOnCleanStream(t *testing.T) {
	c := newTestChannel(t, Config{AutoBandwidth: true})

	levels := make([]bool, 100)
	for i := range levels {
		levels[i] = i%2 == 0 // transition every cell
	}

	cells := 0
	lockedAtCell := -1
	bits := runLevels(c, levels, func(out Output) {
		if out.CellBoundary {
			cells++
		}
		if out.Locked && lockedAtCell < 0 {
			lockedAtCell = cells
		}
	})

	if lockedAtCell < 0 {
		t.Fatal("channel never locked")
	}
	if lockedAtCell > 40 {
		t.Fatalf("locked only after %d cells", lockedAtCell)
	}
	if len(bits) != len(levels) {
		t.Fatalf("recovered %d bits for %d cells", len(bits), len(levels))
	}
	for i, b := range bits {
		if b != levels[i] {
			t.Fatalf("bit %d = %v, want %v", i, b, levels[i])
		}
	}
	if q := c.LockQuality(); q != 0xFF {
		t.Errorf("clean-stream quality 0x%02X, want 0xFF", q)
	}
}

// An arbitrary level pattern with bounded zero runs is recovered exactly.
func TestChannelRecoversLevelPattern(t *testing.T) {
	c := newTestChannel(t, Config{AutoBandwidth: true})

	pattern := []bool{
		true, true, false, true, false, false, true, true, true, false,
		true, false, true, true, false, false, false, true, false, true,
	}
	bits := runLevels(c, pattern, nil)
	if len(bits) != len(pattern) {
		t.Fatalf("recovered %d bits for %d cells", len(bits), len(pattern))
	}
	for i, b := range bits {
		if b != pattern[i] {
			t.Fatalf("bit %d = %v, want %v", i, b, pattern[i])
		}
	}
}

// The loop filter's correction must reach the oscillator on the tick
// after the edge, never the same tick.
func TestOneTickFeedbackLatency(t *testing.T) {
	c := newTestChannel(t, Config{Bandwidth: BandwidthNarrow})

	// 100 ticks without edges: accumulator runs open loop.
	for i := 0; i < 100; i++ {
		out := c.Tick(Input{})
		if want := uint32(i+1) * uint32(testWord); out.PhaseAccum != want {
			t.Fatalf("tick %d: accum 0x%08x, want 0x%08x", i+1, out.PhaseAccum, want)
		}
	}

	// Edge captured at accum 100*W: err 0x1900, Narrow gains Kp=0x20,
	// Ki=1 give prop 800 + integrator 6400 = 7200, negated.
	out := c.Tick(Input{Edge: true, Polarity: true})
	if out.PhaseErr != 0x1900 {
		t.Fatalf("phase error %#x, want 0x1900", out.PhaseErr)
	}
	// Same tick: no correction yet.
	if want := uint32(101) * uint32(testWord); out.PhaseAccum != want {
		t.Errorf("edge tick accum 0x%08x, want uncorrected 0x%08x", out.PhaseAccum, want)
	}
	// Next tick: correction applied.
	out = c.Tick(Input{})
	corr := int32(-7200) << 16
	if want := uint32(102)*uint32(testWord) + uint32(corr); out.PhaseAccum != want {
		t.Errorf("post-edge accum 0x%08x, want corrected 0x%08x", out.PhaseAccum, want)
	}
}

func TestZoneChangeForcesAcquisition(t *testing.T) {
	c := newTestChannel(t, Config{
		Words:         []FrequencyWord{testWord},
		ZoneWord:      0x00100000,
		Zoned:         true,
		Scheme:        ZoneSchemeMac,
		AutoBandwidth: true,
	})

	// Narrow one level with 64 clean edges in zone 0.
	levels := make([]bool, 64)
	for i := range levels {
		levels[i] = i%2 == 0
	}
	runLevels(c, levels, nil)
	if c.filter.Bandwidth() != BandwidthWide {
		t.Fatalf("setup: bandwidth %s, want wide", c.filter.Bandwidth())
	}

	out := c.Tick(Input{Track: 16})
	if !out.ZoneChanged || out.Zone != 1 {
		t.Fatalf("zone change not reported: %+v", out)
	}
	if out.Bandwidth != BandwidthAcquisition {
		t.Errorf("bandwidth %s after zone change, want acquisition", out.Bandwidth)
	}
	// One-shot signal.
	if out = c.Tick(Input{Track: 16}); out.ZoneChanged {
		t.Error("zone change held past one tick")
	}
}

func TestRateStrobeForcesAcquisition(t *testing.T) {
	c := newTestChannel(t, Config{Bandwidth: BandwidthNarrow})
	out := c.Tick(Input{RateStrobe: true})
	if out.Bandwidth != BandwidthAcquisition {
		t.Errorf("bandwidth %s after rate strobe, want acquisition", out.Bandwidth)
	}
}

func TestMissingPulseSurfaced(t *testing.T) {
	c := newTestChannel(t, Config{Robust: true})

	var misses int
	var lastRun uint8
	for i := 0; i < 5*testCell; i++ {
		out := c.Tick(Input{})
		if out.MissingPulse {
			misses++
			lastRun = out.MissRun
		}
	}
	if misses != 5 {
		t.Fatalf("%d missing pulses over 5 empty cells", misses)
	}
	if lastRun != 5 {
		t.Errorf("miss run %d, want 5", lastRun)
	}
}

func TestGlitchSurfaced(t *testing.T) {
	c := newTestChannel(t, Config{MinEdgeSpacing: 100})
	out := c.Tick(Input{Edge: true, Interval: 3, Polarity: true})
	if !out.Glitch || out.EdgeValid {
		t.Errorf("glitch not surfaced: %+v", out)
	}
}

func TestMFMChannel(t *testing.T) {
	c := newTestChannel(t, Config{MFM: true})

	cells := []bool{true, false, true, true, false, false}
	var pairs []MFMPair
	for k, edge := range cells {
		for i := 1; i <= testCell; i++ {
			in := Input{}
			if i == 1 && edge {
				in.Edge = true
				in.Polarity = k%2 == 0
			}
			out := c.Tick(in)
			if out.MFM.Ready {
				pairs = append(pairs, out.MFM)
			}
			if out.Bit.Ready {
				t.Fatal("MFM channel emitted a majority-vote bit")
			}
		}
	}

	want := []MFMPair{
		{Clock: true, Data: false, Ready: true},
		{Clock: true, Data: true, Ready: true},
		{Clock: false, Data: false, Ready: true},
	}
	if len(pairs) != len(want) {
		t.Fatalf("got %d pairs, want %d", len(pairs), len(want))
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Errorf("pair %d = %+v, want %+v", i, pairs[i], want[i])
		}
	}
}

// Reset must make the channel replay identically.
func TestChannelResetDeterminism(t *testing.T) {
	run := func(c *Channel) []Output {
		var outs []Output
		levels := []bool{true, false, true, true, false, true, false, false, true, true}
		runLevels(c, levels, func(out Output) { outs = append(outs, out) })
		return outs
	}

	c := newTestChannel(t, Config{AutoBandwidth: true, Robust: true})
	first := run(c)
	c.Reset()
	second := run(c)

	if len(first) != len(second) {
		t.Fatalf("run lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("tick %d differs after reset:\n  %+v\n  %+v", i, first[i], second[i])
		}
	}
}

func TestSetRate(t *testing.T) {
	c := newTestChannel(t, Config{
		Words:     []FrequencyWord{testWord, 2 * testWord},
		Bandwidth: BandwidthNarrow,
	})
	if err := c.SetRate(1); err != nil {
		t.Fatal(err)
	}
	out := c.Tick(Input{})
	if out.Bandwidth != BandwidthAcquisition {
		t.Errorf("rate reselection did not arm the holdoff: %s", out.Bandwidth)
	}
	if err := c.SetRate(5); err == nil {
		t.Error("out-of-range selector accepted")
	}
}

func TestNewChannelValidation(t *testing.T) {
	if _, err := New(Config{LockThreshold: 4096}); err == nil {
		t.Error("empty word table accepted")
	}
	if _, err := New(Config{Words: []FrequencyWord{testWord}}); err == nil {
		t.Error("zero lock threshold accepted")
	}
	if _, err := New(Config{
		Words:         []FrequencyWord{testWord},
		LockThreshold: 4096,
		RateSelector:  3,
	}); err == nil {
		t.Error("out-of-range rate selector accepted")
	}
}
