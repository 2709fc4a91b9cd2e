package gdalio

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/reefcomp/internal/raster"
)

func TestExportKeepsCoordinateSystem(t *testing.T) {
	dir := t.TempDir()
	r, err := raster.New(4, 3, []string{"B2", "B3"})
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	r.Transform = [6]float64{499980, 10, 0, 8100040, 0, -10}
	r.EPSG = 32755
	for b := range r.Data {
		for i := range r.Data[b] {
			r.Data[b][i] = 0.01 * float64(i+b)
		}
	}
	const id = "COPERNICUS/S2/20200101T000000_20200101T000000_T55KCB"
	enc := NewGeoTIFFEncoder()
	if err := enc.Encode(filepath.Join(dir, FileName(id)), r); err != nil {
		t.Fatalf("encode: %v", err)
	}
	catalog, err := NewDirectoryCatalog(dir)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	got, _, err := catalog.Lookup(context.Background(), id)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.EPSG != 32755 {
		t.Fatalf("EPSG = %d, want 32755", got.EPSG)
	}
	if !strings.Contains(got.Projection, "UTM") {
		t.Fatalf("projection = %q", got.Projection)
	}
	if got.Transform != r.Transform {
		t.Fatalf("transform = %v", got.Transform)
	}
	again := got.Clone()
	again.Projection = ""
	again.EPSG = 32755
	if err := enc.Encode(filepath.Join(dir, "epsg_only.tif"), again); err != nil {
		t.Fatalf("encode epsg only: %v", err)
	}
}
