package raster

import (
	"fmt"
	"math"
)

// Kernel selects the interpolation used when changing pixel size.
type Kernel string

const (
	KernelNearest  Kernel = "nearest"
	KernelBilinear Kernel = "bilinear"
)

// ParseKernel maps a config string onto a Kernel.
func ParseKernel(value string) (Kernel, error) {
	switch Kernel(value) {
	case KernelNearest:
		return KernelNearest, nil
	case KernelBilinear, "":
		return KernelBilinear, nil
	default:
		return "", fmt.Errorf("raster: unknown kernel %q", value)
	}
}

// Resample returns a copy of r at the requested pixel size. The output keeps
// the same origin and covers the same extent. A pixel whose nearest source
// pixel is no-data stays no-data under both kernels, so resampling never
// turns an invalid footprint into a valid one.
func Resample(r *Raster, scale float64, kernel Kernel) (*Raster, error) {
	if r == nil {
		return nil, fmt.Errorf("raster: resample nil raster")
	}
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("raster: invalid target scale %v", scale)
	}
	src := r.Scale()
	if src <= 0 {
		return nil, fmt.Errorf("raster: source has no pixel size")
	}
	if math.Abs(src-scale) < 1e-9 {
		return r.Clone(), nil
	}
	ratio := scale / src
	width := int(math.Round(float64(r.Width) / ratio))
	height := int(math.Round(float64(r.Height) / ratio))
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	out, err := New(width, height, r.Bands)
	if err != nil {
		return nil, err
	}
	out.EPSG = r.EPSG
	out.Projection = r.Projection
	out.Transform = r.Transform
	out.Transform[1] = math.Copysign(scale, r.Transform[1])
	out.Transform[5] = math.Copysign(scale, r.Transform[5])
	if r.Transform[5] == 0 {
		out.Transform[5] = -scale
	}
	for y := 0; y < height; y++ {
		sy := (float64(y)+0.5)*ratio - 0.5
		for x := 0; x < width; x++ {
			sx := (float64(x)+0.5)*ratio - 0.5
			dst := y*width + x
			for b, band := range r.Data {
				switch kernel {
				case KernelNearest:
					out.Data[b][dst] = nearest(band, r.Width, r.Height, sx, sy)
				default:
					out.Data[b][dst] = bilinear(band, r.Width, r.Height, sx, sy)
				}
			}
		}
	}
	return out, nil
}

func nearest(band []float64, w, h int, sx, sy float64) float64 {
	ix := clampInt(int(math.Floor(sx+0.5)), 0, w-1)
	iy := clampInt(int(math.Floor(sy+0.5)), 0, h-1)
	return band[iy*w+ix]
}

func bilinear(band []float64, w, h int, sx, sy float64) float64 {
	if math.IsNaN(nearest(band, w, h, sx, sy)) {
		return math.NaN()
	}
	x0 := int(math.Floor(sx))
	y0 := int(math.Floor(sy))
	fx := sx - float64(x0)
	fy := sy - float64(y0)
	var sum, weight float64
	for dy := 0; dy <= 1; dy++ {
		wy := 1 - fy
		if dy == 1 {
			wy = fy
		}
		iy := clampInt(y0+dy, 0, h-1)
		for dx := 0; dx <= 1; dx++ {
			wx := 1 - fx
			if dx == 1 {
				wx = fx
			}
			ix := clampInt(x0+dx, 0, w-1)
			v := band[iy*w+ix]
			if math.IsNaN(v) || wx*wy == 0 {
				continue
			}
			sum += v * wx * wy
			weight += wx * wy
		}
	}
	if weight == 0 {
		return nearest(band, w, h, sx, sy)
	}
	return sum / weight
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
