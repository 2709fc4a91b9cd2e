// Package gdalio reads scene GeoTIFFs and writes export GeoTIFFs through GDAL.
package gdalio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/kingrea/reefcomp/internal/raster"
	"github.com/kingrea/reefcomp/internal/scene"
)

var registerDrivers sync.Once

// DirectoryCatalog reads one GeoTIFF per scene from a directory. The file for
// COPERNICUS/S2/X is COPERNICUS_S2_X.tif. Band descriptions become band
// names; bands without a description are named B1, B2, ... in file order.
type DirectoryCatalog struct {
	dir string
}

// NewDirectoryCatalog validates the directory and registers GDAL drivers.
func NewDirectoryCatalog(dir string) (*DirectoryCatalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("gdalio: open catalog dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("gdalio: catalog path %s is not a directory", dir)
	}
	registerDrivers.Do(godal.RegisterAll)
	return &DirectoryCatalog{dir: dir}, nil
}

// FileName maps a scene identifier onto its file name inside the catalog.
func FileName(id string) string {
	return strings.ReplaceAll(id, "/", "_") + ".tif"
}

// Lookup implements scene.Catalog.
func (c *DirectoryCatalog) Lookup(ctx context.Context, id string) (*raster.Raster, scene.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, scene.Metadata{}, err
	}
	path := filepath.Join(c.dir, FileName(id))
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, scene.Metadata{}, scene.ErrNotFound
		}
		return nil, scene.Metadata{}, err
	}
	ds, err := godal.Open(path)
	if err != nil {
		return nil, scene.Metadata{}, fmt.Errorf("gdalio: open %s: %w", path, err)
	}
	defer ds.Close()

	structure := ds.Structure()
	bands := ds.Bands()
	names := make([]string, len(bands))
	for idx, band := range bands {
		name := strings.TrimSpace(band.Description())
		if name == "" {
			name = fmt.Sprintf("B%d", idx+1)
		}
		names[idx] = name
	}
	out, err := raster.New(structure.SizeX, structure.SizeY, names)
	if err != nil {
		return nil, scene.Metadata{}, err
	}
	if gt, err := ds.GeoTransform(); err == nil {
		out.Transform = gt
	}
	out.Projection = ds.Projection()
	out.EPSG = epsgCode(out.Projection)
	for idx, band := range bands {
		buf := out.Data[idx]
		if err := band.Read(0, 0, buf, structure.SizeX, structure.SizeY); err != nil {
			return nil, scene.Metadata{}, fmt.Errorf("gdalio: read band %s of %s: %w", names[idx], id, err)
		}
		if nodata, ok := band.NoData(); ok {
			for i, v := range buf {
				if v == nodata {
					buf[i] = math.NaN()
				}
			}
		}
	}
	meta := scene.ParseID(id)
	meta.Source = path
	return out, meta, nil
}

// epsgCode returns the authority code declared by a WKT CRS, or 0.
func epsgCode(wkt string) int {
	if wkt == "" {
		return 0
	}
	sr, err := godal.NewSpatialRefFromWKT(wkt)
	if err != nil {
		return 0
	}
	defer sr.Close()
	if !strings.EqualFold(sr.AuthorityName(""), "EPSG") {
		return 0
	}
	code, err := strconv.Atoi(sr.AuthorityCode(""))
	if err != nil {
		return 0
	}
	return code
}
