package gdalio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"

	"github.com/kingrea/reefcomp/internal/raster"
)

// GeoTIFFEncoder writes float64 GeoTIFFs with NaN as the no-data value.
type GeoTIFFEncoder struct {
	// CreationOptions are passed to the GTiff driver, e.g. COMPRESS=DEFLATE.
	CreationOptions []string
}

// NewGeoTIFFEncoder returns an encoder producing tiled, deflate-compressed
// files.
func NewGeoTIFFEncoder() *GeoTIFFEncoder {
	registerDrivers.Do(godal.RegisterAll)
	return &GeoTIFFEncoder{CreationOptions: []string{"TILED=YES", "COMPRESS=DEFLATE"}}
}

// Extension implements export.Encoder.
func (e *GeoTIFFEncoder) Extension() string {
	return ".tif"
}

// Encode implements export.Encoder.
func (e *GeoTIFFEncoder) Encode(path string, r *raster.Raster) error {
	if r == nil {
		return fmt.Errorf("gdalio: raster is required")
	}
	registerDrivers.Do(godal.RegisterAll)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("gdalio: ensure dir: %w", err)
	}
	ds, err := godal.Create(godal.GTiff, path, len(r.Bands), godal.Float64, r.Width, r.Height,
		godal.CreationOption(e.CreationOptions...))
	if err != nil {
		return fmt.Errorf("gdalio: create %s: %w", path, err)
	}
	if err := write(ds, r); err != nil {
		_ = ds.Close()
		return fmt.Errorf("gdalio: write %s: %w", path, err)
	}
	if err := ds.Close(); err != nil {
		return fmt.Errorf("gdalio: close %s: %w", path, err)
	}
	return nil
}

func write(ds *godal.Dataset, r *raster.Raster) error {
	if err := ds.SetGeoTransform(r.Transform); err != nil {
		return err
	}
	if r.Projection != "" {
		if err := ds.SetProjection(r.Projection); err != nil {
			return err
		}
	} else if r.EPSG > 0 {
		sr, err := godal.NewSpatialRefFromEPSG(r.EPSG)
		if err != nil {
			return err
		}
		defer sr.Close()
		if err := ds.SetSpatialRef(sr); err != nil {
			return err
		}
	}
	for idx, band := range ds.Bands() {
		if err := band.SetNoData(math.NaN()); err != nil {
			return err
		}
		if err := band.SetDescription(r.Bands[idx]); err != nil {
			return err
		}
		if err := band.Write(0, 0, r.Data[idx], r.Width, r.Height); err != nil {
			return err
		}
	}
	return nil
}
