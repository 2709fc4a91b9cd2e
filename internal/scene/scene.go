// Package scene resolves curated scene identifiers into pixel data and
// acquisition metadata.
package scene

import (
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/reefcomp/internal/raster"
)

// Tier is the manual quality review label attached to a scene.
type Tier string

const (
	TierExcellent Tier = "Excellent"
	TierGood      Tier = "Good"
	TierOK        Tier = "OK"
	TierMaybe     Tier = "Maybe"
)

// Tiers lists every tier from best to worst.
var Tiers = []Tier{TierExcellent, TierGood, TierOK, TierMaybe}

// ParseTier accepts tier labels case-insensitively.
func ParseTier(value string) (Tier, error) {
	trimmed := strings.TrimSpace(value)
	for _, tier := range Tiers {
		if strings.EqualFold(trimmed, string(tier)) {
			return tier, nil
		}
	}
	return "", fmt.Errorf("scene: unknown quality tier %q", value)
}

// Rank orders tiers so that a lower rank is better. Unknown tiers sort last.
func (t Tier) Rank() int {
	for idx, tier := range Tiers {
		if tier == t {
			return idx
		}
	}
	return len(Tiers)
}

// DefaultWeight is the compositing weight used when config leaves a tier out.
func (t Tier) DefaultWeight() float64 {
	switch t {
	case TierExcellent:
		return 4
	case TierGood:
		return 3
	case TierOK:
		return 2
	case TierMaybe:
		return 1
	default:
		return 1
	}
}

// Ref is a scene identifier together with its review tier, as supplied by the
// driver.
type Ref struct {
	ID   string `yaml:"id" json:"id"`
	Tier Tier   `yaml:"tier" json:"tier"`
}

// Metadata describes an acquisition.
type Metadata struct {
	ID       string    `json:"id"`
	Tile     string    `json:"tile"`
	Acquired time.Time `json:"acquired"`
	Source   string    `json:"source,omitempty"`
}

// Scene is a resolved acquisition. It is never mutated after resolution;
// correction stages return new rasters.
type Scene struct {
	Ref      Ref
	Metadata Metadata
	Raster   *raster.Raster
	// Order is the position of the scene in the submitted identifier list.
	Order int
}

// ParseID extracts the tile and acquisition time from Sentinel-2 style ids such
// as COPERNICUS/S2/20190115T004709_20190115T004705_T55LBK. Ids that do not
// follow the pattern yield zero values without an error.
func ParseID(id string) Metadata {
	meta := Metadata{ID: id}
	base := id
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		meta.Source = base[:idx]
		base = base[idx+1:]
	}
	parts := strings.Split(base, "_")
	for _, part := range parts {
		if len(part) == 6 && part[0] == 'T' && meta.Tile == "" {
			meta.Tile = part[1:]
			continue
		}
		if meta.Acquired.IsZero() {
			if ts, err := time.Parse("20060102T150405", part); err == nil {
				meta.Acquired = ts.UTC()
			}
		}
	}
	return meta
}

// BandRoles maps the spectral roles used by masking, deglinting and grading to
// band names in the scene rasters.
type BandRoles struct {
	Coastal string `yaml:"coastal"`
	Blue    string `yaml:"blue"`
	Green   string `yaml:"green"`
	Red     string `yaml:"red"`
	NIR     string `yaml:"nir"`
	SWIR    string `yaml:"swir"`
	QA      string `yaml:"qa"`
}

// DefaultBandRoles returns the Sentinel-2 L1C band names.
func DefaultBandRoles() BandRoles {
	return BandRoles{
		Coastal: "B1",
		Blue:    "B2",
		Green:   "B3",
		Red:     "B4",
		NIR:     "B8",
		SWIR:    "B11",
		QA:      "QA60",
	}
}

// Visible returns the visible bands subject to glint correction, shortest
// wavelength first. The coastal band is included when configured.
func (b BandRoles) Visible() []string {
	out := make([]string, 0, 4)
	for _, name := range []string{b.Coastal, b.Blue, b.Green, b.Red} {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Required returns the bands every scene must carry.
func (b BandRoles) Required() []string {
	return []string{b.Blue, b.Green, b.Red, b.NIR, b.SWIR}
}

// Validate reports missing mandatory roles.
func (b BandRoles) Validate() error {
	named := map[string]string{
		"blue":  b.Blue,
		"green": b.Green,
		"red":   b.Red,
		"nir":   b.NIR,
		"swir":  b.SWIR,
	}
	for _, role := range []string{"blue", "green", "red", "nir", "swir"} {
		if strings.TrimSpace(named[role]) == "" {
			return fmt.Errorf("scene: band role %s is required", role)
		}
	}
	return nil
}
