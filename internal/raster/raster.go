// Package raster holds the in-memory multi-band grid shared by every stage of
// the compositing pipeline. Band data is stored band-major as float64
// reflectance values; NaN marks no-data.
package raster

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// Raster is a georeferenced multi-band grid.
type Raster struct {
	Width  int
	Height int
	Bands  []string
	Data   [][]float64
	// Transform follows the GDAL affine layout:
	// [originX, pixelWidth, 0, originY, 0, -pixelHeight].
	Transform [6]float64
	// EPSG is the authority code of the CRS when known. Projection carries
	// the CRS as WKT and wins over EPSG when both are set.
	EPSG       int
	Projection string
}

// New allocates a raster with every pixel set to NaN.
func New(width, height int, bands []string) (*Raster, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("raster: invalid size %dx%d", width, height)
	}
	if len(bands) == 0 {
		return nil, fmt.Errorf("raster: at least one band is required")
	}
	seen := make(map[string]struct{}, len(bands))
	for _, name := range bands {
		if name == "" {
			return nil, fmt.Errorf("raster: band name is required")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("raster: duplicate band %s", name)
		}
		seen[name] = struct{}{}
	}
	r := &Raster{
		Width:     width,
		Height:    height,
		Bands:     append([]string(nil), bands...),
		Data:      make([][]float64, len(bands)),
		Transform: [6]float64{0, 1, 0, 0, 0, -1},
	}
	for i := range r.Data {
		r.Data[i] = filled(width*height, math.NaN())
	}
	return r, nil
}

// NewLike allocates a NaN raster with the same grid and georeferencing as r
// but a different band list.
func NewLike(r *Raster, bands []string) (*Raster, error) {
	out, err := New(r.Width, r.Height, bands)
	if err != nil {
		return nil, err
	}
	out.Transform = r.Transform
	out.EPSG = r.EPSG
	out.Projection = r.Projection
	return out, nil
}

// Len returns the number of pixels per band.
func (r *Raster) Len() int {
	return r.Width * r.Height
}

// Index returns the position of a band or -1.
func (r *Raster) Index(name string) int {
	for i, band := range r.Bands {
		if band == name {
			return i
		}
	}
	return -1
}

// Band returns the backing slice for a named band. Callers must not mutate
// the slice of a raster they do not own.
func (r *Raster) Band(name string) ([]float64, bool) {
	idx := r.Index(name)
	if idx < 0 {
		return nil, false
	}
	return r.Data[idx], true
}

// MustBand is Band for callers that already validated the band list.
func (r *Raster) MustBand(name string) []float64 {
	data, ok := r.Band(name)
	if !ok {
		panic(fmt.Sprintf("raster: missing band %s", name))
	}
	return data
}

// HasBands reports whether every named band is present.
func (r *Raster) HasBands(names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if r.Index(name) < 0 {
			return fmt.Errorf("raster: missing band %s", name)
		}
	}
	return nil
}

// Scale returns the pixel size in CRS units (metres for projected tiles).
func (r *Raster) Scale() float64 {
	return math.Abs(r.Transform[1])
}

// SameGrid reports whether two rasters share size and georeferencing,
// including the coordinate reference system.
func (r *Raster) SameGrid(other *Raster) bool {
	if other == nil {
		return false
	}
	return r.Width == other.Width && r.Height == other.Height &&
		r.Transform == other.Transform && r.SameCRS(other)
}

// SameCRS compares EPSG codes and projection WKT. An unset side matches
// anything.
func (r *Raster) SameCRS(other *Raster) bool {
	if r.EPSG > 0 && other.EPSG > 0 && r.EPSG != other.EPSG {
		return false
	}
	if r.Projection != "" && other.Projection != "" && r.Projection != other.Projection {
		return false
	}
	return true
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	if r == nil {
		return nil
	}
	out := &Raster{
		Width:     r.Width,
		Height:    r.Height,
		Bands:     append([]string(nil), r.Bands...),
		Data:      make([][]float64, len(r.Data)),
		Transform:  r.Transform,
		EPSG:       r.EPSG,
		Projection: r.Projection,
	}
	for i, band := range r.Data {
		out.Data[i] = append([]float64(nil), band...)
	}
	return out
}

// ValidCount returns how many pixels carry a value in every band.
func (r *Raster) ValidCount() int {
	count := 0
	for i := 0; i < r.Len(); i++ {
		if r.ValidAt(i) {
			count++
		}
	}
	return count
}

// ValidAt reports whether pixel i is non-NaN in every band.
func (r *Raster) ValidAt(i int) bool {
	for _, band := range r.Data {
		if math.IsNaN(band[i]) {
			return false
		}
	}
	return true
}

// Fingerprint hashes band names, grid and the exact IEEE-754 bits of every
// sample. Two rasters with the same fingerprint are bit-identical.
func (r *Raster) Fingerprint() string {
	h := sha256.New()
	var buf [8]byte
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	writeInt(r.Width)
	writeInt(r.Height)
	for _, v := range r.Transform {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	for i, name := range r.Bands {
		h.Write([]byte(name))
		h.Write([]byte{0})
		for _, v := range r.Data[i] {
			bits := math.Float64bits(v)
			if math.IsNaN(v) {
				bits = math.Float64bits(math.NaN())
			}
			binary.LittleEndian.PutUint64(buf[:], bits)
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
