// Package preview renders colour-grade products as PNG quicklooks for the
// Preview submission mode.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/montanaflynn/stats"

	"github.com/kingrea/reefcomp/internal/export"
	"github.com/kingrea/reefcomp/internal/grade"
	"github.com/kingrea/reefcomp/internal/raster"
)

// Stretch bounds, in percent, used to scale each band to 0-255.
const (
	LowPercentile  = 2
	HighPercentile = 98
)

// Writer stores quicklooks in one directory.
type Writer struct {
	dir string
}

// NewWriter writes PNGs under dir.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("preview: directory is required")
	}
	return &Writer{dir: dir}, nil
}

// Path returns where the quicklook for a product goes.
func (w *Writer) Path(p *grade.Product) string {
	name := fmt.Sprintf("%s_%s_%s.png", export.Slug(p.Region), p.Reference, p.Grade)
	return filepath.Join(w.dir, name)
}

// Write renders p and returns the file path.
func (w *Writer) Write(p *grade.Product) (string, error) {
	if p == nil || p.Raster == nil {
		return "", fmt.Errorf("preview: product has no raster")
	}
	img, err := Image(p.Raster)
	if err != nil {
		return "", fmt.Errorf("preview: %s: %w", p.Grade, err)
	}
	path := w.Path(p)
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("preview: ensure dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("preview: create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("preview: encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("preview: close %s: %w", path, err)
	}
	return path, nil
}

// Image converts a raster to an RGBA image. Three or more bands map the
// first three to red, green and blue; fewer bands render the first as grey.
// No-data pixels are transparent.
func Image(r *raster.Raster) (*image.NRGBA, error) {
	if r == nil || len(r.Bands) == 0 {
		return nil, fmt.Errorf("raster has no bands")
	}
	channels := []int{0, 0, 0}
	if len(r.Bands) >= 3 {
		channels = []int{0, 1, 2}
	}
	stretches := make([]bounds, len(r.Bands))
	for _, b := range channels {
		if stretches[b].set {
			continue
		}
		s, err := stretchFor(r.Data[b])
		if err != nil {
			return nil, err
		}
		stretches[b] = s
	}
	img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			i := y*r.Width + x
			var px [3]uint8
			valid := true
			for c, b := range channels {
				v := r.Data[b][i]
				if math.IsNaN(v) {
					valid = false
					break
				}
				px[c] = stretches[b].scale(v)
			}
			if !valid {
				img.SetNRGBA(x, y, color.NRGBA{})
				continue
			}
			img.SetNRGBA(x, y, color.NRGBA{R: px[0], G: px[1], B: px[2], A: 255})
		}
	}
	return img, nil
}

type bounds struct {
	lo, hi float64
	set    bool
}

func (b bounds) scale(v float64) uint8 {
	if b.hi <= b.lo {
		if v > 0 {
			return 255
		}
		return 0
	}
	t := (v - b.lo) / (b.hi - b.lo)
	t = math.Max(0, math.Min(1, t))
	return uint8(math.Round(t * 255))
}

func stretchFor(band []float64) (bounds, error) {
	valid := make([]float64, 0, len(band))
	for _, v := range band {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return bounds{set: true}, nil
	}
	lo, err := stats.PercentileNearestRank(valid, LowPercentile)
	if err != nil {
		return bounds{}, err
	}
	hi, err := stats.PercentileNearestRank(valid, HighPercentile)
	if err != nil {
		return bounds{}, err
	}
	return bounds{lo: lo, hi: hi, set: true}, nil
}
