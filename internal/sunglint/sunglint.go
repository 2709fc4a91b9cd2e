// Package sunglint removes specular sun glint from visible bands using a
// per-scene regression against a glint proxy band (Hedley et al. 2005).
package sunglint

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/kingrea/reefcomp/internal/mask"
	"github.com/kingrea/reefcomp/internal/raster"
)

// Settings controls sampling and the proxy band.
type Settings struct {
	// ProxyBand carries no water-leaving signal over optically deep water.
	ProxyBand  string   `yaml:"proxy_band"`
	Bands      []string `yaml:"bands"`
	MaxSamples int      `yaml:"max_samples"`
	MinSamples int      `yaml:"min_samples"`
}

// DefaultSettings corrects the Sentinel-2 visible bands against B8.
func DefaultSettings() Settings {
	return Settings{
		ProxyBand:  "B8",
		Bands:      []string{"B1", "B2", "B3", "B4"},
		MaxSamples: 5000,
		MinSamples: 25,
	}
}

// Report describes what the corrector did to one scene.
type Report struct {
	Applied  bool
	Samples  int
	MinProxy float64
	Slopes   map[string]float64
	Reason   string
}

// Corrector deglints scenes independently of each other.
type Corrector struct {
	settings Settings
}

// New validates settings.
func New(settings Settings) (*Corrector, error) {
	if settings.ProxyBand == "" {
		return nil, fmt.Errorf("sunglint: proxy band is required")
	}
	if len(settings.Bands) == 0 {
		return nil, fmt.Errorf("sunglint: at least one band to correct is required")
	}
	if settings.MaxSamples <= 0 {
		return nil, fmt.Errorf("sunglint: max_samples must be positive")
	}
	if settings.MinSamples < 2 {
		settings.MinSamples = 2
	}
	return &Corrector{settings: settings}, nil
}

// Correct returns a deglinted copy of r. The regression population is a
// deterministic stride sample of clear-water pixels in pixel order, so the
// same raster and mask always give the same output. When too few clear-water
// pixels exist the copy is returned uncorrected with Applied=false.
func (c *Corrector) Correct(r *raster.Raster, m *mask.Mask) (*raster.Raster, Report, error) {
	if r == nil || m == nil {
		return nil, Report{}, fmt.Errorf("sunglint: raster and mask are required")
	}
	if len(m.Classes) != r.Len() {
		return nil, Report{}, fmt.Errorf("sunglint: mask has %d pixels, raster %d", len(m.Classes), r.Len())
	}
	proxy, ok := r.Band(c.settings.ProxyBand)
	if !ok {
		return nil, Report{}, fmt.Errorf("sunglint: missing proxy band %s", c.settings.ProxyBand)
	}
	bands := make([]string, 0, len(c.settings.Bands))
	for _, name := range c.settings.Bands {
		if name == c.settings.ProxyBand {
			continue
		}
		if r.Index(name) >= 0 {
			bands = append(bands, name)
		}
	}

	out := r.Clone()
	samples := c.sample(r, m, proxy, bands)
	report := Report{Samples: len(samples), Slopes: make(map[string]float64, len(bands))}
	if len(samples) < c.settings.MinSamples {
		report.Reason = fmt.Sprintf("%d clear-water samples, need %d", len(samples), c.settings.MinSamples)
		return out, report, nil
	}

	x := make([]float64, len(samples))
	for i, idx := range samples {
		x[i] = proxy[idx]
	}
	minProxy, err := stats.Min(x)
	if err != nil {
		return nil, Report{}, fmt.Errorf("sunglint: proxy minimum: %w", err)
	}
	variance, err := stats.PopulationVariance(x)
	if err != nil {
		return nil, Report{}, fmt.Errorf("sunglint: proxy variance: %w", err)
	}
	report.MinProxy = minProxy
	if variance <= 0 {
		report.Reason = "glint proxy has no variance"
		return out, report, nil
	}

	y := make([]float64, len(samples))
	for _, name := range bands {
		src := r.MustBand(name)
		for i, idx := range samples {
			y[i] = src[idx]
		}
		cov, err := stats.CovariancePopulation(x, y)
		if err != nil {
			return nil, Report{}, fmt.Errorf("sunglint: covariance for %s: %w", name, err)
		}
		slope := cov / variance
		if slope < 0 {
			slope = 0
		}
		report.Slopes[name] = slope
		dst := out.MustBand(name)
		for i, v := range src {
			p := proxy[i]
			if math.IsNaN(v) || math.IsNaN(p) {
				continue
			}
			delta := p - minProxy
			if delta < 0 {
				delta = 0
			}
			dst[i] = math.Max(0, v-slope*delta)
		}
	}
	report.Applied = true
	return out, report, nil
}

func (c *Corrector) sample(r *raster.Raster, m *mask.Mask, proxy []float64, bands []string) []int {
	candidates := make([]int, 0, m.MarineCount())
	for i := range m.Classes {
		if !m.Marine(i) || math.IsNaN(proxy[i]) {
			continue
		}
		valid := true
		for _, name := range bands {
			if math.IsNaN(r.MustBand(name)[i]) {
				valid = false
				break
			}
		}
		if valid {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) <= c.settings.MaxSamples {
		return candidates
	}
	stride := (len(candidates) + c.settings.MaxSamples - 1) / c.settings.MaxSamples
	out := make([]int, 0, c.settings.MaxSamples)
	for i := 0; i < len(candidates); i += stride {
		out = append(out, candidates[i])
	}
	return out
}
