// Package mask classifies scene pixels into clear-water, cloud, land and
// no-data using band threshold tests.
package mask

import (
	"fmt"
	"math"

	"github.com/kingrea/reefcomp/internal/raster"
	"github.com/kingrea/reefcomp/internal/scene"
)

// Class is the exclusive classification of one pixel.
type Class uint8

const (
	NoData Class = iota
	ClearWater
	Cloud
	Land
)

func (c Class) String() string {
	switch c {
	case ClearWater:
		return "clear-water"
	case Cloud:
		return "cloud"
	case Land:
		return "land"
	default:
		return "no-data"
	}
}

// Sentinel-2 QA60 bits.
const (
	qaOpaqueBit = 1 << 10
	qaCirrusBit = 1 << 11
)

// Thresholds holds the reflectance tests. Values are top-of-atmosphere
// reflectance in [0, 1].
type Thresholds struct {
	// CloudVisible is the mean visible reflectance above which a pixel is
	// bright enough to be cloud.
	CloudVisible float64 `yaml:"cloud_visible"`
	// CloudSWIR separates cloud from bright shallow sand, which is dark in SWIR.
	CloudSWIR float64 `yaml:"cloud_swir"`
	// LandNDWI is the NDWI(green, nir) below which a pixel may be land.
	LandNDWI float64 `yaml:"land_ndwi"`
	// LandSWIR must also be exceeded for land. Wet reef flats and breaking
	// waves have low SWIR and stay in the marine layer.
	LandSWIR float64 `yaml:"land_swir"`
	UseQA    bool    `yaml:"use_qa"`
}

// DefaultThresholds returns the tuned defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CloudVisible: 0.2,
		CloudSWIR:    0.1,
		LandNDWI:     0,
		LandSWIR:     0.05,
		UseQA:        true,
	}
}

// Mask is the per-pixel classification of one scene.
type Mask struct {
	Width   int
	Height  int
	Classes []Class
}

// Marine reports whether pixel i may feed marine colour grades.
func (m *Mask) Marine(i int) bool {
	return m.Classes[i] == ClearWater
}

// Land reports whether pixel i may feed the land colour grade.
func (m *Mask) Land(i int) bool {
	return m.Classes[i] == Land
}

// Counts tallies pixels per class.
func (m *Mask) Counts() map[Class]int {
	counts := map[Class]int{NoData: 0, ClearWater: 0, Cloud: 0, Land: 0}
	for _, c := range m.Classes {
		counts[c]++
	}
	return counts
}

// MarineCount is the number of clear-water pixels.
func (m *Mask) MarineCount() int {
	n := 0
	for _, c := range m.Classes {
		if c == ClearWater {
			n++
		}
	}
	return n
}

// Masker applies the classification tests.
type Masker struct {
	roles      scene.BandRoles
	thresholds Thresholds
}

// New builds a masker.
func New(roles scene.BandRoles, thresholds Thresholds) (*Masker, error) {
	if err := roles.Validate(); err != nil {
		return nil, err
	}
	return &Masker{roles: roles, thresholds: thresholds}, nil
}

// Classify returns a fresh mask for r. Tests run in a fixed order so that a
// pixel lands in exactly one class: no-data, cloud, land, clear-water.
func (m *Masker) Classify(r *raster.Raster) (*Mask, error) {
	if r == nil {
		return nil, fmt.Errorf("mask: raster is required")
	}
	if err := r.HasBands(m.roles.Required()...); err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}
	blue := r.MustBand(m.roles.Blue)
	green := r.MustBand(m.roles.Green)
	red := r.MustBand(m.roles.Red)
	nir := r.MustBand(m.roles.NIR)
	swir := r.MustBand(m.roles.SWIR)
	var qa []float64
	if m.thresholds.UseQA && m.roles.QA != "" {
		qa, _ = r.Band(m.roles.QA)
	}

	out := &Mask{Width: r.Width, Height: r.Height, Classes: make([]Class, r.Len())}
	for i := range out.Classes {
		b, g, rd, n, s := blue[i], green[i], red[i], nir[i], swir[i]
		switch {
		case isNoData(b, g, rd, n, s):
			out.Classes[i] = NoData
		case m.cloudy(b, g, rd, s, qa, i):
			out.Classes[i] = Cloud
		case ndwi(g, n) < m.thresholds.LandNDWI && s > m.thresholds.LandSWIR:
			out.Classes[i] = Land
		default:
			out.Classes[i] = ClearWater
		}
	}
	return out, nil
}

func (m *Masker) cloudy(blue, green, red, swir float64, qa []float64, i int) bool {
	if qa != nil && !math.IsNaN(qa[i]) {
		bits := int64(qa[i])
		if bits&(qaOpaqueBit|qaCirrusBit) != 0 {
			return true
		}
	}
	visible := (blue + green + red) / 3
	return visible > m.thresholds.CloudVisible && swir > m.thresholds.CloudSWIR
}

func isNoData(values ...float64) bool {
	positive := false
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
		if v > 0 {
			positive = true
		}
	}
	return !positive
}

func ndwi(green, nir float64) float64 {
	sum := green + nir
	if sum == 0 {
		return 0
	}
	return (green - nir) / sum
}
