// Package plan loads the declarative driver plan: option presets, reef
// regions and the curated, tier-labelled scene lists for each reference set.
package plan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/reefcomp/internal/composite"
	"github.com/kingrea/reefcomp/internal/scene"
)

// Preset is a named set of reference options shared by many regions.
type Preset struct {
	ColourGrades              []string  `yaml:"colour_grades"`
	ExportScale               []float64 `yaml:"export_scale"`
	ExportBasename            string    `yaml:"export_basename"`
	ExportFolder              string    `yaml:"export_folder"`
	ApplySunglintCorrection   bool      `yaml:"apply_sunglint_correction"`
	ApplyBrightnessAdjustment bool      `yaml:"apply_brightness_adjustment"`
}

// SceneGroup lists scene ids that share a quality tier.
type SceneGroup struct {
	Tier scene.Tier `yaml:"tier"`
	IDs  []string   `yaml:"ids"`
}

// Set is one reference set of a region.
type Set struct {
	Reference composite.Reference `yaml:"reference"`
	Preset    string              `yaml:"preset"`
	Display   bool                `yaml:"display"`
	Export    bool                `yaml:"export"`
	Scenes    []SceneGroup        `yaml:"scenes"`
}

// Refs flattens the groups in file order.
func (s Set) Refs() []scene.Ref {
	var out []scene.Ref
	for _, g := range s.Scenes {
		for _, id := range g.IDs {
			out = append(out, scene.Ref{ID: id, Tier: g.Tier})
		}
	}
	return out
}

// Region is a named reef area.
type Region struct {
	Name string `yaml:"name"`
	Tile string `yaml:"tile,omitempty"`
	// Bounds is [min lon, min lat, max lon, max lat].
	Bounds []float64 `yaml:"bounds,omitempty"`
	Notes  string    `yaml:"notes,omitempty"`
	Sets   []Set     `yaml:"sets"`
}

// Plan is the whole driver file.
type Plan struct {
	Version int               `yaml:"version"`
	Presets map[string]Preset `yaml:"presets"`
	Regions []Region          `yaml:"regions"`
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("plan: %s does not exist", path)
		}
		return nil, fmt.Errorf("plan: read %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("plan: %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates plan YAML.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	p.applyDefaults()
	if err := p.normalize(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Preset returns a named preset.
func (p *Plan) Preset(name string) (Preset, bool) {
	preset, ok := p.Presets[name]
	return preset, ok
}

// Region finds a region by name, ignoring case.
func (p *Plan) Region(name string) (Region, bool) {
	for _, r := range p.Regions {
		if strings.EqualFold(r.Name, strings.TrimSpace(name)) {
			return r, true
		}
	}
	return Region{}, false
}

// SetCount is the number of reference sets in the plan.
func (p *Plan) SetCount() int {
	n := 0
	for _, r := range p.Regions {
		n += len(r.Sets)
	}
	return n
}

func (p *Plan) applyDefaults() {
	if p.Version == 0 {
		p.Version = 1
	}
	for i := range p.Regions {
		for j := range p.Regions[i].Sets {
			if p.Regions[i].Sets[j].Reference == "" {
				p.Regions[i].Sets[j].Reference = composite.Primary
			}
		}
	}
}

func (p *Plan) normalize() error {
	for i := range p.Regions {
		r := &p.Regions[i]
		r.Name = strings.TrimSpace(r.Name)
		r.Tile = strings.TrimSpace(r.Tile)
		for j := range r.Sets {
			set := &r.Sets[j]
			ref, err := composite.ParseReference(string(set.Reference))
			if err != nil {
				return fmt.Errorf("regions[%s].sets[%d]: %w", r.Name, j, err)
			}
			set.Reference = ref
			set.Preset = strings.TrimSpace(set.Preset)
			for k := range set.Scenes {
				tier, err := scene.ParseTier(string(set.Scenes[k].Tier))
				if err != nil {
					return fmt.Errorf("regions[%s].sets[%d].scenes[%d]: %w", r.Name, j, k, err)
				}
				set.Scenes[k].Tier = tier
				for n, id := range set.Scenes[k].IDs {
					set.Scenes[k].IDs[n] = strings.TrimSpace(id)
				}
			}
		}
	}
	return nil
}

// Validate checks cross references. A Secondary set needs a Primary set
// earlier in the same region.
func (p *Plan) Validate() error {
	if len(p.Regions) == 0 {
		return fmt.Errorf("plan has no regions")
	}
	seen := map[string]bool{}
	for _, r := range p.Regions {
		if r.Name == "" {
			return fmt.Errorf("region name is required")
		}
		key := strings.ToLower(r.Name)
		if seen[key] {
			return fmt.Errorf("region %s is listed twice", r.Name)
		}
		seen[key] = true
		if len(r.Bounds) != 0 {
			if _, err := r.Bound(); err != nil {
				return err
			}
		}
		if len(r.Sets) == 0 {
			return fmt.Errorf("region %s has no reference sets", r.Name)
		}
		primary := false
		for j, set := range r.Sets {
			if _, ok := p.Presets[set.Preset]; !ok {
				return fmt.Errorf("region %s set %d: unknown preset %q", r.Name, j, set.Preset)
			}
			switch set.Reference {
			case composite.Primary:
				if primary {
					return fmt.Errorf("region %s has more than one primary set", r.Name)
				}
				primary = true
			case composite.Secondary:
				if !primary {
					return fmt.Errorf("region %s: secondary set without a preceding primary set", r.Name)
				}
			}
			for k, g := range set.Scenes {
				for _, id := range g.IDs {
					if id == "" {
						return fmt.Errorf("region %s set %d group %d: empty scene id", r.Name, j, k)
					}
				}
			}
		}
	}
	return nil
}
