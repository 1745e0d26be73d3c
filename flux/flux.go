// Package flux models streams of magnetic flux transitions: the event
// type handed to the read channel, interval sources, a capture stream
// codec, a synthesizer for generating test streams and a replayer that
// turns interval streams back into per-tick edge signals.
package flux

// MaxInterval is the saturating bound for interval bookkeeping. A gap
// longer than this reports as exactly this.
const MaxInterval = ^uint32(0)

// Event is one observed flux transition.
type Event struct {
	// Ticks is the monotonic tick count at the transition.
	Ticks uint64
	// Polarity is the line level after the transition.
	Polarity bool
	// Interval is ticks since the previous transition, saturating.
	Interval uint32
}

// IntervalSource yields successive transition intervals in ticks.
// Different capture formats implement this to feed the replayer.
type IntervalSource interface {
	// NextInterval returns the ticks until the next transition, and
	// false when the stream is exhausted.
	NextInterval() (uint32, bool)
}

// Intervals is a slice-backed IntervalSource.
type Intervals struct {
	intervals []uint32
	index     int
}

// NewIntervals wraps a slice of transition intervals.
func NewIntervals(intervals []uint32) *Intervals {
	return &Intervals{intervals: intervals}
}

// NextInterval implements IntervalSource.
func (s *Intervals) NextInterval() (uint32, bool) {
	if s.index >= len(s.intervals) {
		return 0, false
	}
	v := s.intervals[s.index]
	s.index++
	return v, true
}

// Remaining returns how many intervals are left.
func (s *Intervals) Remaining() int {
	return len(s.intervals) - s.index
}

// Collect drains a source into a list of events with absolute timestamps
// and alternating polarity, starting low.
func Collect(src IntervalSource) []Event {
	var events []Event
	ticks := uint64(0)
	polarity := false
	for {
		interval, ok := src.NextInterval()
		if !ok {
			return events
		}
		ticks += uint64(interval)
		polarity = !polarity
		events = append(events, Event{Ticks: ticks, Polarity: polarity, Interval: interval})
	}
}
