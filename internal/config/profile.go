package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"hydrobloom-server/internal/alarm"
)

// FarmProfile describes the monitored farm. It is loaded from YAML:
//
//	name: GreenGrow NFT Farm
//	ec_unit: mS/cm
//	ec_range:
//	  min: 1.2
//	  max: 2.0
//	water:
//	  low_pct: 20
//	  critical_pct: 10
//	  mm_per_pct: 3.2
type FarmProfile struct {
	Name    string       `yaml:"name"`
	ECUnit  string       `yaml:"ec_unit"`
	ECRange alarm.Range  `yaml:"ec_range"`
	Water   WaterProfile `yaml:"water"`
}

type WaterProfile struct {
	alarm.WaterThresholds `yaml:",inline"`
	// MMPerPct converts the fill percentage to an approximate height in mm.
	MMPerPct float64 `yaml:"mm_per_pct"`
}

func DefaultFarmProfile() FarmProfile {
	return FarmProfile{
		Name:    "GreenGrow NFT Farm",
		ECUnit:  "mS/cm",
		ECRange: alarm.DefaultRange,
		Water: WaterProfile{
			WaterThresholds: alarm.DefaultWaterThresholds,
			MMPerPct:        3.2,
		},
	}
}

func LoadFarmProfile(path string) (FarmProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FarmProfile{}, err
	}

	// Keys missing from the file keep their default values.
	p := DefaultFarmProfile()
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return FarmProfile{}, fmt.Errorf("parse farm profile: %w", err)
	}

	p.applyDefaults()
	if err := p.validate(); err != nil {
		return FarmProfile{}, err
	}
	return p, nil
}

func (p *FarmProfile) applyDefaults() {
	def := DefaultFarmProfile()
	if p.Name == "" {
		p.Name = def.Name
	}
	if p.ECUnit == "" {
		p.ECUnit = def.ECUnit
	}
	if p.Water.MMPerPct == 0 {
		p.Water.MMPerPct = def.Water.MMPerPct
	}
}

func (p FarmProfile) validate() error {
	if err := p.ECRange.Validate(); err != nil {
		return fmt.Errorf("ec_range: %w", err)
	}
	if err := p.Water.Validate(); err != nil {
		return fmt.Errorf("water: %w", err)
	}
	if math.IsNaN(p.Water.MMPerPct) || math.IsInf(p.Water.MMPerPct, 0) || p.Water.MMPerPct < 0 {
		return fmt.Errorf("water.mm_per_pct must be a non-negative number, got %v", p.Water.MMPerPct)
	}
	return nil
}
