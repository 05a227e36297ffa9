package cleanup

import (
	"encoding/json"
	"fmt"
	"os"
)

// ChannelPolicy tunes retention for a single channel. A zero MaxVersions
// keeps every version; a zero MaxAgeDays falls back to the policy-wide
// pre-release age limit.
type ChannelPolicy struct {
	KeepPrereleases bool `json:"keep_prereleases"`
	MaxVersions     int  `json:"max_versions"`
	MaxAgeDays      int  `json:"max_age_days,omitempty"`
}

// Policy describes which published packages may be removed.
type Policy struct {
	PrereleaseMaxAgeDays  int                      `json:"prerelease_max_age_days"`
	MaxVersionsPerPackage int                      `json:"max_versions_per_package"`
	ChannelPolicies       map[string]ChannelPolicy `json:"channel_policies"`
	ProtectedComponents   []string                 `json:"protected_components"`
	ProtectedPackages     []string                 `json:"protected_packages"`
}

// DefaultPolicy keeps stable untouched, trims testing to five versions and
// expires pr packages after 30 days or three versions.
func DefaultPolicy() Policy {
	return Policy{
		PrereleaseMaxAgeDays:  90,
		MaxVersionsPerPackage: 0,
		ChannelPolicies: map[string]ChannelPolicy{
			"stable":  {KeepPrereleases: true, MaxVersions: 0},
			"testing": {KeepPrereleases: false, MaxVersions: 5},
			"pr":      {KeepPrereleases: false, MaxVersions: 3, MaxAgeDays: 30},
		},
		ProtectedComponents: []string{},
		ProtectedPackages:   []string{},
	}
}

// FlagPolicy builds a policy from CLI flags. Flag values override the
// defaults where set; includeStablePrereleases opts the stable channel
// into pre-release cleanup.
func FlagPolicy(maxAgeDays, maxVersions int, includeStablePrereleases bool) Policy {
	testingVersions, prVersions := 5, 3
	if maxVersions > 0 {
		testingVersions, prVersions = maxVersions, maxVersions
	}
	return Policy{
		PrereleaseMaxAgeDays:  maxAgeDays,
		MaxVersionsPerPackage: maxVersions,
		ChannelPolicies: map[string]ChannelPolicy{
			"stable":  {KeepPrereleases: !includeStablePrereleases, MaxVersions: 0},
			"testing": {KeepPrereleases: false, MaxVersions: testingVersions},
			"pr":      {KeepPrereleases: false, MaxVersions: prVersions, MaxAgeDays: 30},
		},
		ProtectedComponents: []string{},
		ProtectedPackages:   []string{},
	}
}

// LoadPolicy reads a JSON policy file. Fields absent from the file keep
// their default values.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read retention policy: %w", err)
	}
	p := DefaultPolicy()
	if err := json.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse retention policy %s: %w", path, err)
	}
	return p, nil
}

// Save writes the policy as indented JSON.
func (p Policy) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode retention policy: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write retention policy: %w", err)
	}
	return nil
}

// channelPolicy resolves the effective limits for a channel. Channels
// without an explicit policy keep pre-releases and inherit the global
// version limit.
func (p Policy) channelPolicy(channel string) (keepPrereleases bool, maxVersions, maxAgeDays int) {
	cp, ok := p.ChannelPolicies[channel]
	if !ok {
		cp = ChannelPolicy{KeepPrereleases: true, MaxVersions: p.MaxVersionsPerPackage}
	}
	maxAgeDays = cp.MaxAgeDays
	if maxAgeDays == 0 {
		maxAgeDays = p.PrereleaseMaxAgeDays
	}
	return cp.KeepPrereleases, cp.MaxVersions, maxAgeDays
}
