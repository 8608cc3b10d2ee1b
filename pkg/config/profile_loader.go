package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeviceProfile represents a deployment-specific configuration profile.
// Profiles tune capture behavior per installation (a roadside pole camera
// debounces differently than a handheld unit) without code changes.
type DeviceProfile struct {
	Name     string         `yaml:"name" json:"name"`
	Code     string         `yaml:"code" json:"code"`
	Capture  CaptureConfig  `yaml:"capture" json:"capture"`
	Signing  SigningConfig  `yaml:"signing" json:"signing"`
	Triggers TriggersConfig `yaml:"triggers" json:"triggers"`
}

// CaptureConfig holds artifact capture settings per profile.
type CaptureConfig struct {
	Encoding     string `yaml:"encoding" json:"encoding"` // "jpeg" | "png"
	MaxSizeBytes int64  `yaml:"max_size_bytes,omitempty" json:"max_size_bytes,omitempty"`
}

// SigningConfig constrains the signer for this profile.
type SigningConfig struct {
	Mode            string `yaml:"mode" json:"mode"` // "auto" | "hardware" | "software"
	RequireHardware bool   `yaml:"require_hardware,omitempty" json:"require_hardware,omitempty"`
}

// TriggersConfig holds motion trigger tuning per profile.
type TriggersConfig struct {
	DebouncePerSec float64 `yaml:"debounce_per_sec" json:"debounce_per_sec"`
	DebounceBurst  int     `yaml:"debounce_burst" json:"debounce_burst"`
	MinAccelG      float64 `yaml:"min_accel_g,omitempty" json:"min_accel_g,omitempty"`
}

// LoadProfile loads a device profile YAML by code. It searches the profiles
// directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*DeviceProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile DeviceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*DeviceProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*DeviceProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile DeviceProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_trailcam.yaml -> trailcam
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}

// Apply overlays profile settings onto an environment-derived Config.
// Environment variables win only where the profile is silent.
func (p *DeviceProfile) Apply(cfg *Config) {
	if p.Signing.Mode != "" {
		cfg.SignerMode = p.Signing.Mode
	}
	if p.Triggers.DebouncePerSec > 0 {
		cfg.DebouncePerSec = p.Triggers.DebouncePerSec
	}
	if p.Triggers.DebounceBurst > 0 {
		cfg.DebounceBurst = p.Triggers.DebounceBurst
	}
}
