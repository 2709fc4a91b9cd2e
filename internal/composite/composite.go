// Package composite fuses the corrected, masked scenes of one reference set
// into a single per-region raster.
package composite

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/kingrea/reefcomp/internal/mask"
	"github.com/kingrea/reefcomp/internal/raster"
	"github.com/kingrea/reefcomp/internal/scene"
)

// Reference is the tier of a reference set.
type Reference string

const (
	Primary   Reference = "Primary"
	Secondary Reference = "Secondary"
)

// ParseReference accepts the tier label case-insensitively.
func ParseReference(value string) (Reference, error) {
	switch {
	case strings.EqualFold(strings.TrimSpace(value), string(Primary)):
		return Primary, nil
	case strings.EqualFold(strings.TrimSpace(value), string(Secondary)):
		return Secondary, nil
	default:
		return "", fmt.Errorf("composite: unknown reference tier %q", value)
	}
}

// InsufficientDataError means a reference set cannot form a usable composite.
type InsufficientDataError struct {
	Region       string
	Reference    Reference
	Scenes       int
	MinScenes    int
	HoleFraction float64
	Threshold    float64
}

func (e *InsufficientDataError) Error() string {
	if e.Scenes < e.MinScenes {
		return fmt.Sprintf("composite: %s %s has %d usable scenes, need %d", e.Region, e.Reference, e.Scenes, e.MinScenes)
	}
	return fmt.Sprintf("composite: %s %s has %.1f%% pixels without data (limit %.1f%%)",
		e.Region, e.Reference, e.HoleFraction*100, e.Threshold*100)
}

// Settings configures the compositor.
type Settings struct {
	Reducer            string             `yaml:"reducer"`
	Percentile         float64            `yaml:"percentile"`
	TierWeights        map[string]float64 `yaml:"tier_weights"`
	MaxInvalidFraction float64            `yaml:"max_invalid_fraction"`
	MinScenes          int                `yaml:"min_scenes"`
}

// DefaultSettings uses the quality-weighted median.
func DefaultSettings() Settings {
	return Settings{
		Reducer:            ReducerQualityWeighted,
		Percentile:         50,
		MaxInvalidFraction: 0.5,
		MinScenes:          1,
	}
}

// Input is one scene ready for compositing.
type Input struct {
	ID     string
	Tier   scene.Tier
	Order  int
	Raster *raster.Raster
	Mask   *mask.Mask
}

// Composite is the fused result for one region and reference tier. Marine
// holds values reduced from clear-water samples only; Land holds values
// reduced from land samples and is read only by the land grade.
type Composite struct {
	ID           string
	Region       string
	Reference    Reference
	Marine       *raster.Raster
	Land         *raster.Raster
	MarineCount  []int
	LandCount    []int
	Scenes       []string
	Reducer      string
	HoleFraction float64
}

// Width and Height expose the shared grid size.
func (c *Composite) Width() int  { return c.Marine.Width }
func (c *Composite) Height() int { return c.Marine.Height }

// Fingerprint hashes both layers and count maps. Equal fingerprints mean
// bit-identical composites.
func (c *Composite) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(c.Marine.Fingerprint()))
	h.Write([]byte(c.Land.Fingerprint()))
	var buf [8]byte
	for _, counts := range [][]int{c.MarineCount, c.LandCount} {
		for _, n := range counts {
			binary.LittleEndian.PutUint64(buf[:], uint64(n))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Compositor reduces scenes pixel by pixel.
type Compositor struct {
	settings Settings
	reducer  Reducer
}

// New validates settings and builds the reducer.
func New(settings Settings) (*Compositor, error) {
	weights := make(map[scene.Tier]float64, len(settings.TierWeights))
	for label, w := range settings.TierWeights {
		tier, err := scene.ParseTier(label)
		if err != nil {
			return nil, fmt.Errorf("composite: tier_weights: %w", err)
		}
		weights[tier] = w
	}
	reducer, err := NewReducer(settings.Reducer, settings.Percentile, weights)
	if err != nil {
		return nil, err
	}
	if settings.MaxInvalidFraction < 0 || settings.MaxInvalidFraction > 1 {
		return nil, fmt.Errorf("composite: max_invalid_fraction must be within [0, 1]")
	}
	if settings.MinScenes < 1 {
		settings.MinScenes = 1
	}
	return &Compositor{settings: settings, reducer: reducer}, nil
}

// Reducer returns the configured reducer.
func (c *Compositor) Reducer() Reducer {
	return c.reducer
}

// Build fuses inputs into one Composite. Samples reach the reducer in input
// order so the result does not depend on how scenes were processed.
func (c *Compositor) Build(region string, ref Reference, inputs []Input) (*Composite, error) {
	if len(inputs) < c.settings.MinScenes {
		return nil, &InsufficientDataError{
			Region:    region,
			Reference: ref,
			Scenes:    len(inputs),
			MinScenes: c.settings.MinScenes,
			Threshold: c.settings.MaxInvalidFraction,
		}
	}
	grid := inputs[0].Raster
	for i, in := range inputs {
		if in.Raster == nil || in.Mask == nil {
			return nil, fmt.Errorf("composite: input %d is incomplete", i)
		}
		if !in.Raster.SameGrid(grid) || len(in.Mask.Classes) != grid.Len() {
			return nil, fmt.Errorf("composite: input %s is not on the shared grid", in.ID)
		}
	}
	bands := sharedBands(inputs)
	if len(bands) == 0 {
		return nil, fmt.Errorf("composite: inputs share no bands")
	}

	marine, err := raster.NewLike(grid, bands)
	if err != nil {
		return nil, err
	}
	land, err := raster.NewLike(grid, bands)
	if err != nil {
		return nil, err
	}
	out := &Composite{
		Region:      region,
		Reference:   ref,
		Marine:      marine,
		Land:        land,
		MarineCount: make([]int, grid.Len()),
		LandCount:   make([]int, grid.Len()),
		Reducer:     c.reducer.Name(),
	}
	for _, in := range inputs {
		out.Scenes = append(out.Scenes, in.ID)
	}

	bandData := make([][][]float64, len(inputs))
	for i, in := range inputs {
		bandData[i] = make([][]float64, len(bands))
		for b, name := range bands {
			bandData[i][b] = in.Raster.MustBand(name)
		}
	}

	samples := make([]Sample, 0, len(inputs))
	holes := 0
	for px := 0; px < grid.Len(); px++ {
		for _, in := range inputs {
			if in.Mask.Marine(px) {
				out.MarineCount[px]++
			} else if in.Mask.Land(px) {
				out.LandCount[px]++
			}
		}
		if out.MarineCount[px] == 0 && out.LandCount[px] == 0 {
			holes++
			continue
		}
		for b := range bands {
			if out.MarineCount[px] > 0 {
				samples = collect(samples[:0], inputs, bandData, b, px, (*mask.Mask).Marine)
				if err := c.reduceInto(marine.Data[b], px, samples); err != nil {
					return nil, err
				}
			}
			if out.LandCount[px] > 0 {
				samples = collect(samples[:0], inputs, bandData, b, px, (*mask.Mask).Land)
				if err := c.reduceInto(land.Data[b], px, samples); err != nil {
					return nil, err
				}
			}
		}
	}

	out.HoleFraction = float64(holes) / float64(grid.Len())
	if out.HoleFraction > c.settings.MaxInvalidFraction {
		return nil, &InsufficientDataError{
			Region:       region,
			Reference:    ref,
			Scenes:       len(inputs),
			MinScenes:    c.settings.MinScenes,
			HoleFraction: out.HoleFraction,
			Threshold:    c.settings.MaxInvalidFraction,
		}
	}
	return out, nil
}

func (c *Compositor) reduceInto(dst []float64, px int, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	v, err := c.reducer.Reduce(samples)
	if err != nil {
		return fmt.Errorf("composite: reduce pixel %d: %w", px, err)
	}
	dst[px] = v
	return nil
}

func collect(dst []Sample, inputs []Input, data [][][]float64, band, px int, usable func(*mask.Mask, int) bool) []Sample {
	for i, in := range inputs {
		if !usable(in.Mask, px) {
			continue
		}
		v := data[i][band][px]
		if math.IsNaN(v) {
			continue
		}
		dst = append(dst, Sample{Value: v, Tier: in.Tier, Order: in.Order})
	}
	return dst
}

func sharedBands(inputs []Input) []string {
	var out []string
	for _, name := range inputs[0].Raster.Bands {
		shared := true
		for _, in := range inputs[1:] {
			if in.Raster.Index(name) < 0 {
				shared = false
				break
			}
		}
		if shared {
			out = append(out, name)
		}
	}
	return out
}
