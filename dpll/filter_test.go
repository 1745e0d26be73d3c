package dpll

import "testing"

func newManualFilter(t *testing.T, level BandwidthLevel) *LoopFilter {
	t.Helper()
	f, err := NewLoopFilter([4]Gains{}, level, false)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func newAutoFilter(t *testing.T) *LoopFilter {
	t.Helper()
	f, err := NewLoopFilter([4]Gains{}, BandwidthAcquisition, true)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestProportionalIntegralArithmetic(t *testing.T) {
	f := newManualFilter(t, BandwidthNarrow) // Kp=0x20, Ki=1

	// prop = (256*0x20)>>8 = 32, integrator = 256.
	if out := f.Step(256, MarginOnTime); out != 288 {
		t.Errorf("first step output %d, want 288", out)
	}
	// prop = 32 again, integrator = 512.
	if out := f.Step(256, MarginOnTime); out != 544 {
		t.Errorf("second step output %d, want 544", out)
	}
	if f.Integrator() != 512 {
		t.Errorf("integrator %d, want 512", f.Integrator())
	}
}

func TestNegativeErrorArithmetic(t *testing.T) {
	f := newManualFilter(t, BandwidthNarrow)
	// Arithmetic shift: (-256*0x20)>>8 = -32, integrator = -256.
	if out := f.Step(-256, MarginOnTime); out != -288 {
		t.Errorf("output %d, want -288", out)
	}
}

func TestIntegratorSaturation(t *testing.T) {
	f := newManualFilter(t, BandwidthAcquisition) // Ki=2

	// 0x3FFFFF / (0x7FFF*2) = 32 steps to rail, with margin.
	for i := 0; i < 100; i++ {
		f.Step(0x7FFF, MarginLate)
	}
	if f.Integrator() != integratorMax {
		t.Errorf("integrator %#x, want %#x", f.Integrator(), integratorMax)
	}

	for i := 0; i < 200; i++ {
		f.Step(-0x8000, MarginEarly)
	}
	if f.Integrator() != -integratorMax {
		t.Errorf("integrator %#x, want %#x", f.Integrator(), -integratorMax)
	}
}

func TestOutputSaturation(t *testing.T) {
	f := newManualFilter(t, BandwidthAcquisition)
	var out int16
	for i := 0; i < 100; i++ {
		out = f.Step(0x7FFF, MarginLate)
	}
	if out != outputMax {
		t.Errorf("positive rail %#x, want %#x", out, outputMax)
	}
	f.Reset(BandwidthAcquisition)
	for i := 0; i < 100; i++ {
		out = f.Step(-0x8000, MarginEarly)
	}
	if out != -outputMax {
		t.Errorf("negative rail %#x, want %#x", out, -outputMax)
	}
}

// Widening takes exactly 8 consecutive poor samples and moves one level,
// never two.
func TestWidenOneLevelAtATime(t *testing.T) {
	f := newAutoFilter(t)
	f.SetBandwidth(BandwidthNarrow)

	for i := 0; i < 7; i++ {
		f.Step(100, MarginWayOff)
	}
	if f.Bandwidth() != BandwidthNarrow {
		t.Fatalf("widened after only 7 poor samples: %s", f.Bandwidth())
	}
	f.Step(100, MarginWayOff)
	if f.Bandwidth() != BandwidthMedium {
		t.Fatalf("after 8 poor samples: %s, want medium", f.Bandwidth())
	}

	// Each further widening needs its own run of 8.
	for i := 0; i < 8; i++ {
		f.Step(100, MarginLate)
	}
	if f.Bandwidth() != BandwidthWide {
		t.Fatalf("after 16 poor samples: %s, want wide", f.Bandwidth())
	}
	for i := 0; i < 8; i++ {
		f.Step(100, MarginEarly)
	}
	if f.Bandwidth() != BandwidthAcquisition {
		t.Fatalf("after 24 poor samples: %s, want acquisition", f.Bandwidth())
	}
	// Already at the widest: stays put.
	for i := 0; i < 8; i++ {
		f.Step(100, MarginWayOff)
	}
	if f.Bandwidth() != BandwidthAcquisition {
		t.Errorf("widened past acquisition: %s", f.Bandwidth())
	}
}

func TestNarrowAfterSixtyFourGood(t *testing.T) {
	f := newAutoFilter(t)

	for i := 0; i < 63; i++ {
		f.Step(0, MarginOnTime)
	}
	if f.Bandwidth() != BandwidthAcquisition {
		t.Fatalf("narrowed after only 63 good samples: %s", f.Bandwidth())
	}
	f.Step(0, MarginOnTime)
	if f.Bandwidth() != BandwidthWide {
		t.Fatalf("after 64 good samples: %s, want wide", f.Bandwidth())
	}

	// A poor sample restarts the count.
	for i := 0; i < 63; i++ {
		f.Step(0, MarginOnTime)
	}
	f.Step(100, MarginWayOff)
	for i := 0; i < 63; i++ {
		f.Step(0, MarginOnTime)
	}
	if f.Bandwidth() != BandwidthWide {
		t.Fatalf("good run not restarted by poor sample: %s", f.Bandwidth())
	}
	f.Step(0, MarginOnTime)
	if f.Bandwidth() != BandwidthMedium {
		t.Errorf("after second run of 64: %s, want medium", f.Bandwidth())
	}
}

// A rate change forces Acquisition and pins it for exactly 20 valid
// samples, regardless of margin statistics.
func TestRateChangeHoldoff(t *testing.T) {
	f := newAutoFilter(t)

	// Narrow all the way down first.
	for f.Bandwidth() != BandwidthNarrow {
		for i := 0; i < 64; i++ {
			f.Step(0, MarginOnTime)
		}
	}

	f.RateChange()
	if f.Bandwidth() != BandwidthAcquisition {
		t.Fatalf("rate change did not force acquisition: %s", f.Bandwidth())
	}

	// 20 holdoff samples plus 63 counted good samples: still pinned.
	for i := 0; i < 20+63; i++ {
		f.Step(0, MarginOnTime)
		if f.Bandwidth() != BandwidthAcquisition {
			t.Fatalf("left acquisition after %d good samples", i+1)
		}
	}
	// The 64th counted good sample narrows one level.
	f.Step(0, MarginOnTime)
	if f.Bandwidth() != BandwidthWide {
		t.Errorf("after holdoff and 64 good samples: %s, want wide", f.Bandwidth())
	}
}

func TestManualFilterKeepsLevel(t *testing.T) {
	f := newManualFilter(t, BandwidthMedium)
	for i := 0; i < 100; i++ {
		f.Step(100, MarginWayOff)
	}
	if f.Bandwidth() != BandwidthMedium {
		t.Errorf("manual filter moved to %s", f.Bandwidth())
	}
}

func TestFilterReset(t *testing.T) {
	f := newAutoFilter(t)
	f.Step(0x7FFF, MarginLate)
	f.RateChange()
	f.Reset(BandwidthAcquisition)
	if f.Integrator() != 0 {
		t.Errorf("integrator %d after reset", f.Integrator())
	}
	if f.Bandwidth() != BandwidthAcquisition {
		t.Errorf("bandwidth %s after reset", f.Bandwidth())
	}
}

func TestLoopFilterRejectsBadConfig(t *testing.T) {
	if _, err := NewLoopFilter([4]Gains{{Kp: -1, Ki: 1}}, BandwidthNarrow, false); err == nil {
		t.Error("negative Kp accepted")
	}
	if _, err := NewLoopFilter([4]Gains{}, BandwidthLevel(9), false); err == nil {
		t.Error("out-of-range level accepted")
	}
}
