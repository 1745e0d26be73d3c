package flux

import "fmt"

// RevolutionTicks estimates the actual revolution period from a capture's
// index marks: the mean spacing between consecutive marks. At least two
// marks are needed to measure one full revolution.
func RevolutionTicks(index []uint64) (uint64, error) {
	if len(index) < 2 {
		return 0, fmt.Errorf("need at least 2 index marks to measure a revolution, have %d", len(index))
	}
	first, last := index[0], index[len(index)-1]
	if last <= first {
		return 0, fmt.Errorf("index marks not ascending: %d then %d", first, last)
	}
	return (last - first) / uint64(len(index)-1), nil
}

// NominalRevolutionTicks converts a drive speed in RPM to the expected
// revolution period at the given tick rate.
func NominalRevolutionTicks(rpm int, tickHz uint64) (uint64, error) {
	if rpm <= 0 {
		return 0, fmt.Errorf("rpm %d must be positive", rpm)
	}
	if tickHz == 0 {
		return 0, fmt.Errorf("tick rate must be positive")
	}
	return tickHz * 60 / uint64(rpm), nil
}
