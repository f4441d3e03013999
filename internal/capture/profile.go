package capture

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier is a fixed quality setting. Tiers are configuration, never
// negotiated with the device.
type Tier struct {
	Name               string `yaml:"name"`
	Label              string `yaml:"label"`
	Width              int    `yaml:"width"`
	Height             int    `yaml:"height"`
	VideoBitsPerSecond int    `yaml:"video_bitrate"`
}

// Profile carries everything a session is parameterized by.
type Profile struct {
	Tiers              []Tier        `yaml:"tiers"`
	DefaultTier        string        `yaml:"default_tier"`
	Preferences        []string      `yaml:"preferences"`
	Facing             string        `yaml:"facing"`
	AudioBitsPerSecond int           `yaml:"audio_bitrate"`
	Interval           time.Duration `yaml:"interval"`
}

func DefaultProfile() Profile {
	return Profile{
		Tiers: []Tier{
			{Name: "low", Label: "360p", Width: 640, Height: 360, VideoBitsPerSecond: 400_000},
			{Name: "standard", Label: "480p", Width: 854, Height: 480, VideoBitsPerSecond: 800_000},
			{Name: "high", Label: "720p", Width: 1280, Height: 720, VideoBitsPerSecond: 1_500_000},
		},
		DefaultTier:        "high",
		Preferences:        append([]string(nil), DefaultPreferences...),
		Facing:             "environment",
		AudioBitsPerSecond: 128_000,
		Interval:           100 * time.Millisecond,
	}
}

// LoadProfile reads a YAML profile. Fields left out keep their defaults.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read capture profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse capture profile: %w", err)
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (p *Profile) applyDefaults() {
	def := DefaultProfile()
	if len(p.Tiers) == 0 {
		p.Tiers = def.Tiers
	}
	if p.DefaultTier == "" {
		p.DefaultTier = p.Tiers[len(p.Tiers)-1].Name
	}
	if len(p.Preferences) == 0 {
		p.Preferences = def.Preferences
	}
	if p.Facing == "" {
		p.Facing = def.Facing
	}
	if p.AudioBitsPerSecond <= 0 {
		p.AudioBitsPerSecond = def.AudioBitsPerSecond
	}
	if p.Interval <= 0 {
		p.Interval = def.Interval
	}
}

// Validate reports the first inconsistency in the profile.
func (p Profile) Validate() error {
	seen := make(map[string]bool, len(p.Tiers))
	for _, t := range p.Tiers {
		if t.Name == "" {
			return fmt.Errorf("capture profile: tier without a name")
		}
		if seen[t.Name] {
			return fmt.Errorf("capture profile: duplicate tier %q", t.Name)
		}
		if t.Width <= 0 || t.Height <= 0 {
			return fmt.Errorf("capture profile: tier %q needs a positive resolution", t.Name)
		}
		seen[t.Name] = true
	}
	if !seen[p.DefaultTier] {
		return fmt.Errorf("capture profile: default tier %q is not defined", p.DefaultTier)
	}
	return nil
}

// Tier looks a tier up by name.
func (p Profile) Tier(name string) (Tier, bool) {
	for _, t := range p.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}
