// Package config loads the read-channel profile store: a TOML file
// materialized from an embedded default on first run, holding one named
// profile per drive format. The selected profile is published as package
// state the way the command layer expects.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"

	"github.com/sergev/readchan/dpll"
)

//go:embed readchan.toml
var defaultConfigData []byte

// Selected profile, published after Initialize.
var (
	ProfileName string
	Active      *Profile
	Profiles    map[string]*Profile
)

// File is the whole TOML configuration.
type File struct {
	Default string    `toml:"default"`
	Profile []Profile `toml:"profile"`
}

// Profile is one named read-channel configuration.
type Profile struct {
	Name string `toml:"name"`

	// TickMHz is the sampling clock in MHz; one tick per cycle.
	TickMHz int `toml:"tickmhz"`
	// Rates is the bit-rate table in kbps, indexed by rate selector.
	Rates []int `toml:"rates"`
	// Rate is the initial rate selector.
	Rate int `toml:"rate"`

	RPM     int  `toml:"rpm"`
	RPMComp bool `toml:"rpmcomp"`

	Zoned      bool   `toml:"zoned"`
	ZoneScheme string `toml:"zonescheme"`
	// ZoneKbps is the per-zone bit-rate increment in kbps.
	ZoneKbps int `toml:"zonekbps"`

	// LockThreshold is the |phase error| bound for a good sample, in
	// phase units (65536 per bit cell).
	LockThreshold int  `toml:"lockthreshold"`
	AutoBandwidth bool `toml:"autobandwidth"`

	// Robust enables missing-pulse tracking; MinSpacing (ticks) arms the
	// glitch filter, zero disables it.
	Robust     bool `toml:"robust"`
	MinSpacing int  `toml:"minspacing"`

	// Sampler is "majority" or "mfm".
	Sampler string `toml:"sampler"`
}

// configPath determines the config file path based on the operating system.
func configPath() (string, error) {
	var configDir string
	var err error

	switch runtime.GOOS {
	case "windows":
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "readchan")
	default:
		configDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
	}

	return filepath.Join(configDir, ".readchan"), nil
}

// Initialize loads and validates the configuration file, creating it from
// the embedded default when it does not exist yet.
func Initialize() error {
	path, err := configPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", dir, err)
		}
		if err := os.WriteFile(path, defaultConfigData, 0644); err != nil {
			return fmt.Errorf("failed to create default config file at %s: %w", path, err)
		}
	}

	return loadFrom(path)
}

// loadFrom parses one config file and publishes the default profile.
func loadFrom(path string) error {
	var conf File
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return fmt.Errorf("failed to parse TOML config at %s: %w", path, err)
	}

	if conf.Default == "" {
		return errors.New("`default` key is missing or empty in config")
	}
	if len(conf.Profile) == 0 {
		return errors.New("no profiles defined in config")
	}

	profiles := make(map[string]*Profile, len(conf.Profile))
	for i := range conf.Profile {
		p := &conf.Profile[i]
		if p.Name == "" {
			return fmt.Errorf("profile %d has no name", i)
		}
		if _, ok := profiles[p.Name]; ok {
			return fmt.Errorf("duplicate profile name %q", p.Name)
		}
		if err := p.validate(); err != nil {
			return fmt.Errorf("profile %q: %w", p.Name, err)
		}
		profiles[p.Name] = p
	}

	Profiles = profiles
	return SelectProfile(conf.Default)
}

// SelectProfile switches the active profile by name.
func SelectProfile(name string) error {
	p, ok := Profiles[name]
	if !ok {
		return fmt.Errorf("profile %q not found in config", name)
	}
	ProfileName = name
	Active = p
	return nil
}

// validate checks every field the channel construction depends on.
func (p *Profile) validate() error {
	if p.TickMHz <= 0 {
		return fmt.Errorf("invalid tickmhz: %d (must be positive)", p.TickMHz)
	}
	if len(p.Rates) == 0 {
		return errors.New("empty rate table")
	}
	for i, kbps := range p.Rates {
		if kbps <= 0 {
			return fmt.Errorf("invalid rate %d in table entry %d (must be positive)", kbps, i)
		}
	}
	if p.Rate < 0 || p.Rate >= len(p.Rates) {
		return fmt.Errorf("rate selector %d out of range [0,%d)", p.Rate, len(p.Rates))
	}
	if p.RPM <= 0 {
		return fmt.Errorf("invalid rpm: %d (must be positive)", p.RPM)
	}
	if p.Zoned {
		if _, err := dpll.ParseZoneScheme(p.ZoneScheme); err != nil {
			return err
		}
		if p.ZoneKbps <= 0 {
			return fmt.Errorf("invalid zonekbps: %d (must be positive when zoned)", p.ZoneKbps)
		}
	}
	if p.LockThreshold <= 0 || p.LockThreshold > 0x7FFF {
		return fmt.Errorf("invalid lockthreshold: %d (must be in (0,32767])", p.LockThreshold)
	}
	if p.MinSpacing < 0 {
		return fmt.Errorf("invalid minspacing: %d (must not be negative)", p.MinSpacing)
	}
	switch p.Sampler {
	case "majority", "mfm":
	default:
		return fmt.Errorf("invalid sampler %q (must be \"majority\" or \"mfm\")", p.Sampler)
	}
	return nil
}

// TickHz returns the sampling clock in Hz.
func (p *Profile) TickHz() uint64 {
	return uint64(p.TickMHz) * 1000000
}

// ChannelConfig builds the read-channel configuration for this profile.
func (p *Profile) ChannelConfig() (dpll.Config, error) {
	words, err := dpll.RateWords(p.Rates, p.TickHz())
	if err != nil {
		return dpll.Config{}, fmt.Errorf("profile %q: %w", p.Name, err)
	}

	cfg := dpll.Config{
		Words:          words,
		RateSelector:   p.Rate,
		LockThreshold:  uint16(p.LockThreshold),
		AutoBandwidth:  p.AutoBandwidth,
		Robust:         p.Robust,
		MinEdgeSpacing: uint32(p.MinSpacing),
		MFM:            p.Sampler == "mfm",
	}
	if !p.AutoBandwidth {
		cfg.Bandwidth = dpll.BandwidthMedium
	}
	if p.Zoned {
		scheme, err := dpll.ParseZoneScheme(p.ZoneScheme)
		if err != nil {
			return dpll.Config{}, fmt.Errorf("profile %q: %w", p.Name, err)
		}
		zoneWord, err := dpll.NewFrequencyWord(uint64(p.ZoneKbps)*1000, p.TickHz())
		if err != nil {
			return dpll.Config{}, fmt.Errorf("profile %q: zone offset: %w", p.Name, err)
		}
		cfg.Zoned = true
		cfg.Scheme = scheme
		cfg.ZoneWord = zoneWord
	}
	return cfg, nil
}
