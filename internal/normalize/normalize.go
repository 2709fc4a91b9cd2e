// Package normalize harmonises brightness across the scenes of one reference
// set before they are composited.
package normalize

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/kingrea/reefcomp/internal/mask"
	"github.com/kingrea/reefcomp/internal/raster"
)

// Settings bounds the per-band linear adjustment.
type Settings struct {
	Bands []string `yaml:"bands"`
	// MinOverlap is the smallest shared clear-water population accepted as
	// the common reference area.
	MinOverlap int     `yaml:"min_overlap"`
	MinGain    float64 `yaml:"min_gain"`
	MaxGain    float64 `yaml:"max_gain"`
}

// DefaultSettings adjusts the Sentinel-2 visible and NIR bands.
func DefaultSettings() Settings {
	return Settings{
		Bands:      []string{"B1", "B2", "B3", "B4", "B8"},
		MinOverlap: 100,
		MinGain:    0.5,
		MaxGain:    2,
	}
}

// Adjustment is the linear transform applied to one band of one scene.
type Adjustment struct {
	Gain   float64 `json:"gain"`
	Offset float64 `json:"offset"`
}

// Report summarises a normalisation pass.
type Report struct {
	Intersection     int                     `json:"intersection"`
	UsedIntersection bool                    `json:"used_intersection"`
	ReferenceMean    map[string]float64      `json:"reference_mean"`
	ReferenceSD      map[string]float64      `json:"reference_sd"`
	Scenes           []map[string]Adjustment `json:"scenes"`
}

// Normalizer pulls every scene toward a common reference level.
type Normalizer struct {
	settings Settings
}

// New validates settings.
func New(settings Settings) (*Normalizer, error) {
	if len(settings.Bands) == 0 {
		return nil, fmt.Errorf("normalize: at least one band is required")
	}
	if settings.MinGain <= 0 || settings.MaxGain < settings.MinGain {
		return nil, fmt.Errorf("normalize: invalid gain clamp [%v, %v]", settings.MinGain, settings.MaxGain)
	}
	if settings.MinOverlap < 1 {
		settings.MinOverlap = 1
	}
	return &Normalizer{settings: settings}, nil
}

type moments struct {
	mean float64
	sd   float64
	ok   bool
}

// Normalize returns adjusted copies of rasters. The reference population is
// the set of pixels that are clear water in every scene; when that set is
// smaller than MinOverlap each scene falls back to its own clear-water
// pixels. The reference level per band is the median of the per-scene means
// and standard deviations. gain = refSD/sd (clamped), offset = refMean -
// gain*mean.
func (n *Normalizer) Normalize(rasters []*raster.Raster, masks []*mask.Mask) ([]*raster.Raster, Report, error) {
	if len(rasters) != len(masks) {
		return nil, Report{}, fmt.Errorf("normalize: %d rasters but %d masks", len(rasters), len(masks))
	}
	if len(rasters) == 0 {
		return nil, Report{}, nil
	}
	for i, r := range rasters {
		if r == nil || masks[i] == nil || len(masks[i].Classes) != r.Len() {
			return nil, Report{}, fmt.Errorf("normalize: scene %d has no matching mask", i)
		}
		if !r.SameGrid(rasters[0]) {
			return nil, Report{}, fmt.Errorf("normalize: scene %d is not on the shared grid", i)
		}
	}

	shared := intersection(masks)
	report := Report{
		Intersection:     len(shared),
		UsedIntersection: len(shared) >= n.settings.MinOverlap,
		ReferenceMean:    make(map[string]float64),
		ReferenceSD:      make(map[string]float64),
		Scenes:           make([]map[string]Adjustment, len(rasters)),
	}
	populations := make([][]int, len(rasters))
	for i := range rasters {
		if report.UsedIntersection {
			populations[i] = shared
		} else {
			populations[i] = clearWater(masks[i])
		}
		report.Scenes[i] = make(map[string]Adjustment)
	}

	out := make([]*raster.Raster, len(rasters))
	for i, r := range rasters {
		out[i] = r.Clone()
	}

	for _, band := range n.settings.Bands {
		perScene := make([]moments, len(rasters))
		var means, sds []float64
		for i, r := range rasters {
			data, ok := r.Band(band)
			if !ok {
				continue
			}
			m, err := sample(data, populations[i])
			if err != nil {
				return nil, Report{}, fmt.Errorf("normalize: band %s scene %d: %w", band, i, err)
			}
			perScene[i] = m
			if m.ok {
				means = append(means, m.mean)
				sds = append(sds, m.sd)
			}
		}
		if len(means) == 0 {
			continue
		}
		refMean, err := stats.Median(means)
		if err != nil {
			return nil, Report{}, fmt.Errorf("normalize: reference mean for %s: %w", band, err)
		}
		refSD, err := stats.Median(sds)
		if err != nil {
			return nil, Report{}, fmt.Errorf("normalize: reference sd for %s: %w", band, err)
		}
		report.ReferenceMean[band] = refMean
		report.ReferenceSD[band] = refSD

		for i, m := range perScene {
			if !m.ok {
				continue
			}
			gain := 1.0
			if m.sd > 0 && refSD > 0 {
				gain = clamp(refSD/m.sd, n.settings.MinGain, n.settings.MaxGain)
			}
			adj := Adjustment{Gain: gain, Offset: refMean - gain*m.mean}
			report.Scenes[i][band] = adj
			dst := out[i].MustBand(band)
			for px, v := range dst {
				if math.IsNaN(v) {
					continue
				}
				dst[px] = math.Max(0, adj.Gain*v+adj.Offset)
			}
		}
	}
	return out, report, nil
}

func sample(data []float64, population []int) (moments, error) {
	values := make([]float64, 0, len(population))
	for _, idx := range population {
		if v := data[idx]; !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	if len(values) < 2 {
		return moments{}, nil
	}
	mean, err := stats.Mean(values)
	if err != nil {
		return moments{}, err
	}
	sd, err := stats.StandardDeviationPopulation(values)
	if err != nil {
		return moments{}, err
	}
	return moments{mean: mean, sd: sd, ok: true}, nil
}

func intersection(masks []*mask.Mask) []int {
	var out []int
	for i := range masks[0].Classes {
		shared := true
		for _, m := range masks {
			if !m.Marine(i) {
				shared = false
				break
			}
		}
		if shared {
			out = append(out, i)
		}
	}
	return out
}

func clearWater(m *mask.Mask) []int {
	out := make([]int, 0, m.MarineCount())
	for i := range m.Classes {
		if m.Marine(i) {
			out = append(out, i)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
