package dpll

import "fmt"

// ZoneScheme is a fixed partition of tracks into constant-angular-velocity
// zones. Zone 0 is the outermost band.
type ZoneScheme uint8

const (
	// ZoneSchemeMac is the Macintosh CAV layout: 16 tracks per zone,
	// 5 zones.
	ZoneSchemeMac ZoneScheme = iota
	// ZoneSchemeESDI is the high-rate layout: 8 tracks per zone,
	// 10 zones.
	ZoneSchemeESDI
)

func (s ZoneScheme) String() string {
	switch s {
	case ZoneSchemeMac:
		return "mac16x5"
	case ZoneSchemeESDI:
		return "esdi8x10"
	}
	return "unknown"
}

// ParseZoneScheme maps a configuration string to a scheme.
func ParseZoneScheme(name string) (ZoneScheme, error) {
	switch name {
	case "mac16x5":
		return ZoneSchemeMac, nil
	case "esdi8x10":
		return ZoneSchemeESDI, nil
	}
	return 0, fmt.Errorf("unknown zone scheme %q", name)
}

// geometry returns tracks-per-zone and the zone count.
func (s ZoneScheme) geometry() (perZone, zones int) {
	switch s {
	case ZoneSchemeESDI:
		return 8, 10
	default:
		return 16, 5
	}
}

// Zones returns the zone count of the scheme.
func (s ZoneScheme) Zones() int {
	_, zones := s.geometry()
	return zones
}

// ZoneIndex maps a head position to its zone. Positions past the last
// zone clamp to the last zone; negative positions clamp to zero.
func (s ZoneScheme) ZoneIndex(track int) int {
	if track < 0 {
		return 0
	}
	perZone, zones := s.geometry()
	zone := track / perZone
	if zone >= zones {
		zone = zones - 1
	}
	return zone
}

// ZoneChange reports the zone for one tick and whether it differs from the
// previous tick's.
type ZoneChange struct {
	Zone    int
	Changed bool
}

// ZoneCalculator tracks the head position's zone and raises a one-shot
// signal on the tick the zone changes. With variable-rate mode disabled it
// pins everything to zone 0.
type ZoneCalculator struct {
	scheme  ZoneScheme
	enabled bool
	last    int
}

// NewZoneCalculator builds a calculator; enabled gates variable-rate mode.
func NewZoneCalculator(scheme ZoneScheme, enabled bool) *ZoneCalculator {
	return &ZoneCalculator{scheme: scheme, enabled: enabled}
}

// Step evaluates one tick of head position.
func (c *ZoneCalculator) Step(track int) ZoneChange {
	zone := 0
	if c.enabled {
		zone = c.scheme.ZoneIndex(track)
	}
	changed := zone != c.last
	c.last = zone
	return ZoneChange{Zone: zone, Changed: changed}
}

// Reset forgets the previous zone.
func (c *ZoneCalculator) Reset() {
	c.last = 0
}
