package model

import (
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
)

// CapabilityImages is the capability tag for providers that return imagery.
const CapabilityImages = "images"

// RateLimits holds the optional sliding-window limits for a provider.
// A nil field means no limit for that window.
type RateLimits struct {
	PerSecond *int `json:"per_second,omitempty" yaml:"per_second,omitempty"`
	PerMinute *int `json:"per_minute,omitempty" yaml:"per_minute,omitempty"`
	PerHour   *int `json:"per_hour,omitempty" yaml:"per_hour,omitempty"`
}

// Empty reports whether no window is limited.
func (r RateLimits) Empty() bool {
	return r.PerSecond == nil && r.PerMinute == nil && r.PerHour == nil
}

// ProviderMetadata is the loosely-shaped metadata block of a provider record,
// parsed into explicit fields.
type ProviderMetadata struct {
	RateLimits   RateLimits `json:"rate_limits" yaml:"rate_limits"`
	CostPerImage float64    `json:"cost_per_image" yaml:"cost_per_image"`
}

// Provider is a configured third-party data source.
type Provider struct {
	Name         string           `json:"name" yaml:"name"`
	IsActive     bool             `json:"is_active" yaml:"is_active"`
	Capabilities map[string]bool  `json:"capabilities" yaml:"capabilities"`
	Priorities   map[string]int   `json:"priorities" yaml:"priorities"`
	Metadata     ProviderMetadata `json:"metadata" yaml:"metadata"`
}

// Can reports whether the provider advertises the capability.
func (p Provider) Can(capability string) bool {
	return p.Capabilities[capability]
}

// Priority returns the provider's priority for a capability. Providers without
// an explicit priority sort last.
func (p Provider) Priority(capability string) int {
	if v, ok := p.Priorities[capability]; ok {
		return v
	}
	return int(^uint(0) >> 1)
}

// Validate checks a single provider record.
func (p Provider) Validate() error {
	if p.Name == "" {
		return eris.New("provider: name is required")
	}
	if p.Metadata.CostPerImage < 0 {
		return eris.Errorf("provider %s: cost_per_image must be >= 0", p.Name)
	}
	for window, v := range map[string]*int{
		"per_second": p.Metadata.RateLimits.PerSecond,
		"per_minute": p.Metadata.RateLimits.PerMinute,
		"per_hour":   p.Metadata.RateLimits.PerHour,
	} {
		if v != nil && *v <= 0 {
			return eris.Errorf("provider %s: rate limit %s must be > 0", p.Name, window)
		}
	}
	return nil
}

// JSONColumns encodes the JSON-valued columns of a providers row.
func (p Provider) JSONColumns() (caps, priorities, meta []byte, err error) {
	if caps, err = json.Marshal(p.Capabilities); err != nil {
		return nil, nil, nil, eris.Wrapf(err, "provider %s: capabilities", p.Name)
	}
	if priorities, err = json.Marshal(p.Priorities); err != nil {
		return nil, nil, nil, eris.Wrapf(err, "provider %s: priorities", p.Name)
	}
	if meta, err = json.Marshal(p.Metadata); err != nil {
		return nil, nil, nil, eris.Wrapf(err, "provider %s: metadata", p.Name)
	}
	return caps, priorities, meta, nil
}

// ValidateProviders checks every record and rejects duplicate names.
func ValidateProviders(providers []Provider) error {
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return eris.Errorf("provider %s: duplicate name", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// SortByPriority orders providers ascending by capability priority; ties
// break on name so the order is deterministic.
func SortByPriority(providers []Provider, capability string) {
	sort.SliceStable(providers, func(i, j int) bool {
		pi, pj := providers[i].Priority(capability), providers[j].Priority(capability)
		if pi != pj {
			return pi < pj
		}
		return providers[i].Name < providers[j].Name
	})
}

// IntPtr is a small helper for building RateLimits literals.
func IntPtr(v int) *int {
	return &v
}
