package dpll

import "fmt"

// LockState is the lock detector's state machine position. Locked and
// Holding both report lock to the outside; Holding is the grace period
// after a burst of bad samples.
type LockState uint8

const (
	LockUnlocked LockState = iota
	LockAcquiring
	LockLocked
	LockHolding
)

func (s LockState) String() string {
	switch s {
	case LockUnlocked:
		return "unlocked"
	case LockAcquiring:
		return "acquiring"
	case LockLocked:
		return "locked"
	case LockHolding:
		return "holding"
	}
	return "unknown"
}

// Lock state machine thresholds, in consecutive samples.
const (
	goodToAcquire = 4  // Unlocked -> Acquiring
	goodToLock    = 32 // Acquiring -> Locked
	badToDrop     = 4  // Acquiring -> Unlocked
	badToHold     = 8  // Locked -> Holding
	goodToRelock  = 8  // Holding -> Locked
	badToUnlock   = 16 // Holding -> Unlocked

	avgWindow = 255 // running |error| average window
)

// LockDetector grades the loop statistically: a sample is good when its
// error magnitude is under the configured threshold and its margin is
// on-time. The running average of |error| feeds the quality figure.
type LockDetector struct {
	threshold uint16

	state   LockState
	sum     uint32
	count   uint16
	goodRun uint8
	badRun  uint8
}

// NewLockDetector builds a detector. The threshold is in phase units and
// must leave room for the four quality bands.
func NewLockDetector(threshold uint16) (*LockDetector, error) {
	if threshold < 4 {
		return nil, fmt.Errorf("lock threshold %d too small", threshold)
	}
	return &LockDetector{threshold: threshold}, nil
}

// Step feeds one valid phase sample through the state machine.
func (d *LockDetector) Step(err int16, margin MarginZone) LockState {
	mag := errMagnitude(err)

	// Straight accumulation until the window fills, then a rolling
	// subtract-the-average, add-the-sample scheme.
	if d.count < avgWindow {
		d.sum += uint32(mag)
		d.count++
	} else {
		d.sum -= d.average()
		d.sum += uint32(mag)
	}

	if mag < uint32(d.threshold) && margin == MarginOnTime {
		if d.goodRun < runMax {
			d.goodRun++
		}
		d.badRun = 0
	} else {
		if d.badRun < runMax {
			d.badRun++
		}
		d.goodRun = 0
	}

	switch d.state {
	case LockUnlocked:
		if d.goodRun >= goodToAcquire {
			d.state = LockAcquiring
		}
	case LockAcquiring:
		if d.goodRun >= goodToLock {
			d.state = LockLocked
		} else if d.badRun >= badToDrop {
			d.state = LockUnlocked
		}
	case LockLocked:
		if d.badRun >= badToHold {
			d.state = LockHolding
		}
	case LockHolding:
		if d.goodRun >= goodToRelock {
			d.state = LockLocked
		} else if d.badRun >= badToUnlock {
			d.state = LockUnlocked
		}
	}
	return d.state
}

// State returns the machine position.
func (d *LockDetector) State() LockState { return d.state }

// Locked reports whether the detector claims lock. Holding still counts:
// it is a grace period, not a loss.
func (d *LockDetector) Locked() bool {
	return d.state == LockLocked || d.state == LockHolding
}

// Quality grades the running error average into four bands while locked:
// 0xFF for the tightest quarter of the threshold, then 0xC0, 0x80 and
// 0x40. Zero whenever lock is not reported.
func (d *LockDetector) Quality() uint8 {
	if !d.Locked() {
		return 0
	}
	avg := d.average()
	t := uint32(d.threshold)
	switch {
	case avg < t/4:
		return 0xFF
	case avg < t/2:
		return 0xC0
	case avg < t:
		return 0x80
	}
	return 0x40
}

// average returns the running |error| mean, zero before any sample.
func (d *LockDetector) average() uint32 {
	if d.count == 0 {
		return 0
	}
	return d.sum / uint32(d.count)
}

// Reset drops back to Unlocked and clears the statistics.
func (d *LockDetector) Reset() {
	d.state = LockUnlocked
	d.sum = 0
	d.count = 0
	d.goodRun = 0
	d.badRun = 0
}

// errMagnitude widens before negating so that the minimum int16 value
// does not overflow.
func errMagnitude(err int16) uint32 {
	v := int32(err)
	if v < 0 {
		v = -v
	}
	return uint32(v)
}
