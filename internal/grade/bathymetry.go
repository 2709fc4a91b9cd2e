package grade

import (
	"math"

	"github.com/kingrea/reefcomp/internal/raster"
)

// DepthModel is the Stumpf et al. (2003) log-ratio bathymetry model:
//
//	depth = M1 * ln(N*blue) / ln(N*green) - M0
//
// The coefficients are site-tuned; the defaults suit clear Coral Sea water.
type DepthModel struct {
	M1 float64 `yaml:"m1"`
	M0 float64 `yaml:"m0"`
	N  float64 `yaml:"n"`
}

// DefaultDepthModel returns the tuned coefficients.
func DefaultDepthModel() DepthModel {
	return DepthModel{M1: 75, M0: 72, N: 1000}
}

// Depth estimates water depth in metres from blue and green reflectance.
// NaN is returned where the ratio is undefined. Negative depths clamp to 0.
func (d DepthModel) Depth(blue, green float64) float64 {
	if math.IsNaN(blue) || math.IsNaN(green) || blue <= 0 || green <= 0 {
		return math.NaN()
	}
	lb := math.Log(d.N * blue)
	lg := math.Log(d.N * green)
	if lb <= 0 || lg <= 0 {
		return math.NaN()
	}
	depth := d.M1*lb/lg - d.M0
	if depth < 0 {
		return 0
	}
	return depth
}

// DepthSurface computes depth for every pixel of the marine layer.
func (d DepthModel) DepthSurface(blue, green []float64) []float64 {
	out := make([]float64, len(blue))
	for i := range blue {
		out[i] = d.Depth(blue[i], green[i])
	}
	return out
}

// slope returns the gradient magnitude (metres of depth per metre) using
// central differences where both neighbours are valid and one-sided
// differences otherwise.
func slope(depth []float64, r *raster.Raster) []float64 {
	w, h := r.Width, r.Height
	px := r.Scale()
	if px <= 0 {
		px = 1
	}
	out := make([]float64, len(depth))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if math.IsNaN(depth[i]) {
				out[i] = math.NaN()
				continue
			}
			dx, okx := derivative(depth, i, x, w, 1, px)
			dy, oky := derivative(depth, i, y, h, w, px)
			if !okx && !oky {
				out[i] = math.NaN()
				continue
			}
			out[i] = math.Hypot(dx, dy)
		}
	}
	return out
}

func derivative(depth []float64, i, pos, size, step int, px float64) (float64, bool) {
	var prev, next float64 = math.NaN(), math.NaN()
	if pos > 0 {
		prev = depth[i-step]
	}
	if pos < size-1 {
		next = depth[i+step]
	}
	switch {
	case !math.IsNaN(prev) && !math.IsNaN(next):
		return (next - prev) / (2 * px), true
	case !math.IsNaN(next):
		return (next - depth[i]) / px, true
	case !math.IsNaN(prev):
		return (depth[i] - prev) / px, true
	default:
		return 0, false
	}
}
