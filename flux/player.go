package flux

// PlayerTick is what the replayer feeds the read channel on one tick.
type PlayerTick struct {
	// Edge is set on the tick a transition lands.
	Edge bool
	// Polarity is the line level after the transition; it toggles on
	// every edge, starting low.
	Polarity bool
	// Interval is ticks since the previous transition, valid on edge
	// ticks only.
	Interval uint32
	// Revolution is set on the tick an index mark passes.
	Revolution bool
}

// Player replays an interval stream tick by tick, turning it back into
// the edge/polarity feed a read channel consumes.
type Player struct {
	src   IntervalSource
	index []uint64

	ticks     uint64
	countdown uint32
	interval  uint32
	polarity  bool
	nextIndex int
	done      bool
}

// NewPlayer builds a replayer over an interval source, with optional
// index mark positions in absolute stream time, ascending.
func NewPlayer(src IntervalSource, index []uint64) *Player {
	return &Player{src: src, index: index}
}

// PlayCapture builds a replayer over a decoded capture.
func PlayCapture(c *Capture) *Player {
	return NewPlayer(NewIntervals(c.Intervals), c.Index)
}

// Tick advances stream time by one tick. It returns false once the
// stream is exhausted and the final transition has been delivered.
func (p *Player) Tick() (PlayerTick, bool) {
	if p.countdown == 0 {
		if p.done {
			return PlayerTick{}, false
		}
		interval, ok := p.src.NextInterval()
		if !ok {
			p.done = true
			return PlayerTick{}, false
		}
		if interval == 0 {
			interval = 1
		}
		p.countdown = interval
		p.interval = interval
	}

	p.ticks++
	p.countdown--

	var t PlayerTick
	for p.nextIndex < len(p.index) && p.index[p.nextIndex] < p.ticks {
		t.Revolution = true
		p.nextIndex++
	}
	if p.countdown == 0 {
		p.polarity = !p.polarity
		t.Edge = true
		t.Interval = p.interval
	}
	t.Polarity = p.polarity
	return t, true
}

// Ticks returns how many ticks have been played.
func (p *Player) Ticks() uint64 { return p.ticks }
