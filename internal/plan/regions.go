package plan

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Bound converts Bounds into an orb bound.
func (r Region) Bound() (orb.Bound, error) {
	if len(r.Bounds) != 4 {
		return orb.Bound{}, fmt.Errorf("region %s: bounds need 4 values, got %d", r.Name, len(r.Bounds))
	}
	b := orb.Bound{
		Min: orb.Point{r.Bounds[0], r.Bounds[1]},
		Max: orb.Point{r.Bounds[2], r.Bounds[3]},
	}
	if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
		return orb.Bound{}, fmt.Errorf("region %s: bounds are inverted", r.Name)
	}
	if b.Min[0] < -180 || b.Max[0] > 180 || b.Min[1] < -90 || b.Max[1] > 90 {
		return orb.Bound{}, fmt.Errorf("region %s: bounds fall outside lon/lat range", r.Name)
	}
	return b, nil
}

// RegionsAt lists the regions whose bounds contain the lon/lat point.
func (p *Plan) RegionsAt(lon, lat float64) []string {
	pt := orb.Point{lon, lat}
	var out []string
	for _, r := range p.Regions {
		if len(r.Bounds) == 0 {
			continue
		}
		b, err := r.Bound()
		if err != nil {
			continue
		}
		if b.Contains(pt) {
			out = append(out, r.Name)
		}
	}
	return out
}

// Index builds a GeoJSON feature collection with one polygon per bounded
// region, carrying the region name, tile and reference tiers as properties.
func (p *Plan) Index() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range p.Regions {
		if len(r.Bounds) == 0 {
			continue
		}
		b, err := r.Bound()
		if err != nil {
			continue
		}
		f := geojson.NewFeature(b.ToPolygon())
		f.Properties["name"] = r.Name
		if r.Tile != "" {
			f.Properties["tile"] = r.Tile
		}
		refs := make([]string, 0, len(r.Sets))
		scenes := 0
		for _, set := range r.Sets {
			refs = append(refs, string(set.Reference))
			scenes += len(set.Refs())
		}
		f.Properties["references"] = refs
		f.Properties["scenes"] = scenes
		fc.Append(f)
	}
	return fc
}

// WriteIndex writes Index as GeoJSON to path.
func (p *Plan) WriteIndex(path string) error {
	data, err := p.Index().MarshalJSON()
	if err != nil {
		return fmt.Errorf("plan: encode region index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("plan: ensure dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
