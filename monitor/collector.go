// Package monitor aggregates read-channel status for diagnostics: a
// collector that accumulates per-channel counters while a replay loop
// runs, and an HTTP/WebSocket server exposing them.
package monitor

import (
	"sort"
	"sync"

	"github.com/sergev/readchan/dpll"
)

// Snapshot is the latest consolidated channel output, in JSON form for
// the diagnostics API.
type Snapshot struct {
	Tick        uint64 `json:"tick"`
	Locked      bool   `json:"locked"`
	LockState   string `json:"lock_state"`
	LockQuality uint8  `json:"lock_quality"`
	Margin      string `json:"margin_zone"`
	PhaseError  int16  `json:"phase_error"`
	PhaseAccum  uint32 `json:"phase_accum"`
	Bandwidth   string `json:"bandwidth"`
	MissRun     uint8  `json:"miss_run"`
	Zone        int    `json:"zone"`
}

// Stats are the counters accumulated over a whole replay.
type Stats struct {
	Ticks           uint64    `json:"ticks"`
	Cells           uint64    `json:"cells"`
	Bits            uint64    `json:"bits"`
	Ones            uint64    `json:"ones"`
	MissingPulses   uint64    `json:"missing_pulses"`
	Glitches        uint64    `json:"glitches"`
	LockTransitions uint64    `json:"lock_transitions"`
	Margins         [4]uint64 `json:"margins"` // indexed by MarginZone
	QualityMin      uint8     `json:"quality_min"`
	QualityMax      uint8     `json:"quality_max"`
}

// ChannelStatus is one channel's full diagnostics view.
type ChannelStatus struct {
	Name   string   `json:"name"`
	Last   Snapshot `json:"last"`
	Totals Stats    `json:"totals"`
}

type channelState struct {
	last      Snapshot
	totals    Stats
	lastState dpll.LockState
	sawSample bool
}

// Collector accumulates channel output under a mutex so the HTTP layer
// can read while the replay loop writes.
type Collector struct {
	mu       sync.Mutex
	channels map[string]*channelState
}

// NewCollector builds an empty collector.
func NewCollector() *Collector {
	return &Collector{channels: make(map[string]*channelState)}
}

// Record folds one tick of channel output into the counters.
func (c *Collector) Record(channel string, out dpll.Output) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.channels[channel]
	if st == nil {
		st = &channelState{}
		st.totals.QualityMin = 0xFF
		c.channels[channel] = st
	}

	st.last = Snapshot{
		Tick:        out.Tick,
		Locked:      out.Locked,
		LockState:   out.LockState.String(),
		LockQuality: out.LockQuality,
		Margin:      out.Margin.String(),
		PhaseError:  out.PhaseErr,
		PhaseAccum:  out.PhaseAccum,
		Bandwidth:   out.Bandwidth.String(),
		MissRun:     out.MissRun,
		Zone:        out.Zone,
	}

	t := &st.totals
	t.Ticks++
	if out.CellBoundary {
		t.Cells++
	}
	if out.Bit.Ready {
		t.Bits++
		if out.Bit.Value {
			t.Ones++
		}
	}
	if out.MFM.Ready {
		t.Bits++
		if out.MFM.Data {
			t.Ones++
		}
	}
	if out.MissingPulse {
		t.MissingPulses++
	}
	if out.Glitch {
		t.Glitches++
	}
	if out.EdgeValid {
		t.Margins[out.Margin]++
	}
	if out.LockState != st.lastState {
		t.LockTransitions++
		st.lastState = out.LockState
	}
	if out.Locked {
		if out.LockQuality < t.QualityMin {
			t.QualityMin = out.LockQuality
		}
		if out.LockQuality > t.QualityMax {
			t.QualityMax = out.LockQuality
		}
		st.sawSample = true
	}
}

// Channel returns one channel's status.
func (c *Collector) Channel(name string) (ChannelStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.channels[name]
	if !ok {
		return ChannelStatus{}, false
	}
	return c.status(name, st), true
}

// Status returns every channel's status, sorted by name.
func (c *Collector) Status() []ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChannelStatus, 0, len(c.channels))
	for name, st := range c.channels {
		out = append(out, c.status(name, st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Collector) status(name string, st *channelState) ChannelStatus {
	cs := ChannelStatus{Name: name, Last: st.last, Totals: st.totals}
	if !st.sawSample {
		// Never locked: the min sentinel would read as perfect quality.
		cs.Totals.QualityMin = 0
	}
	return cs
}
