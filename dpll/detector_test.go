package dpll

import (
	"testing"

	"pgregory.net/rapid"
)

func TestClassifyMargin(t *testing.T) {
	cases := []struct {
		accum uint32
		want  MarginZone
	}{
		{0x00000000, MarginOnTime},
		{0x1FFFFFFF, MarginOnTime},
		{0x20000000, MarginEarly},
		{0x3FFFFFFF, MarginEarly},
		{0x40000000, MarginWayOff},
		{0x80000000, MarginWayOff},
		{0xBFFFFFFF, MarginWayOff},
		{0xC0000000, MarginLate},
		{0xDFFFFFFF, MarginLate},
		{0xE0000000, MarginOnTime},
		{0xFFFFFFFF, MarginOnTime},
	}
	for _, c := range cases {
		if got := ClassifyMargin(c.accum); got != c.want {
			t.Errorf("ClassifyMargin(0x%08x) = %s, want %s", c.accum, got, c.want)
		}
	}
}

// The phase error is the sign-extended high 16 bits of the accumulator,
// and OnTime covers exactly +/-45 degrees around the boundary.
func TestPhaseSampleProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		accum := rapid.Uint32().Draw(t, "accum")
		d := NewPhaseDetector(false, 0)
		s := d.Observe(true, 0, accum)

		if !s.Valid {
			t.Fatalf("edge at 0x%08x not valid", accum)
		}
		if want := int16(accum >> 16); s.Err != want {
			t.Errorf("err %d, want %d", s.Err, want)
		}
		onTime := accum < 0x20000000 || accum >= 0xE0000000
		if (s.Margin == MarginOnTime) != onTime {
			t.Errorf("accum 0x%08x: margin %s, onTime should be %v", accum, s.Margin, onTime)
		}
	})
}

func TestNoEdgeNoSample(t *testing.T) {
	d := NewPhaseDetector(true, 0)
	s := d.Observe(false, 0, 0x12345678)
	if s.Valid || s.Glitch {
		t.Errorf("tick without edge produced a sample: %+v", s)
	}
}

func TestMissingPulseTracking(t *testing.T) {
	d := NewPhaseDetector(true, 0)

	// A cell with an edge is clean.
	d.Observe(true, 0, 0)
	r := d.EndCell()
	if !r.HadEdge || r.Missing || r.MissRun != 0 {
		t.Fatalf("serviced cell reported %+v", r)
	}

	// Empty cells raise MissingPulse with a run counter saturating at 15.
	for i := 1; i <= 20; i++ {
		r = d.EndCell()
		if !r.Missing {
			t.Fatalf("empty cell %d not reported missing", i)
		}
		want := uint8(i)
		if want > 15 {
			want = 15
		}
		if r.MissRun != want {
			t.Fatalf("empty cell %d: run %d, want %d", i, r.MissRun, want)
		}
	}

	// One edge clears the run.
	d.Observe(true, 0, 0)
	if r = d.EndCell(); r.Missing || r.MissRun != 0 {
		t.Errorf("run not cleared by edge: %+v", r)
	}
}

func TestBasicDetectorIgnoresMissingPulses(t *testing.T) {
	d := NewPhaseDetector(false, 0)
	for i := 0; i < 5; i++ {
		if r := d.EndCell(); r.Missing || r.MissRun != 0 {
			t.Fatalf("basic detector reported missing pulse: %+v", r)
		}
	}
}

func TestGlitchFilter(t *testing.T) {
	d := NewPhaseDetector(true, 10)

	s := d.Observe(true, 5, 0x10000000)
	if s.Valid || !s.Glitch {
		t.Errorf("close edge not rejected: %+v", s)
	}
	// A rejected edge does not service the cell.
	if r := d.EndCell(); !r.Missing {
		t.Errorf("glitch-only cell not reported missing: %+v", r)
	}

	// At or above the minimum spacing the edge counts.
	if s = d.Observe(true, 10, 0x10000000); !s.Valid {
		t.Errorf("edge at minimum spacing rejected: %+v", s)
	}
	// Unknown interval passes the filter.
	if s = d.Observe(true, 0, 0x10000000); !s.Valid {
		t.Errorf("edge with unknown interval rejected: %+v", s)
	}
}

func TestDetectorReset(t *testing.T) {
	d := NewPhaseDetector(true, 0)
	d.EndCell()
	d.EndCell()
	if d.MissRun() == 0 {
		t.Fatal("setup failed to raise the miss run")
	}
	d.Reset()
	if d.MissRun() != 0 {
		t.Error("reset did not clear the miss run")
	}
}
