package grade

import (
	"fmt"
	"math"
	"strings"

	"github.com/kingrea/reefcomp/internal/composite"
	"github.com/kingrea/reefcomp/internal/raster"
	"github.com/kingrea/reefcomp/internal/scene"
)

// Stretch maps reflectance onto [0, 1] for display.
type Stretch struct {
	Min   float64 `yaml:"min" json:"min"`
	Max   float64 `yaml:"max" json:"max"`
	Gamma float64 `yaml:"gamma,omitempty" json:"gamma,omitempty"`
}

// Apply stretches v. NaN stays NaN.
func (s Stretch) Apply(v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	t := (v - s.Min) / (s.Max - s.Min)
	t = math.Min(1, math.Max(0, t))
	if s.Gamma > 0 && s.Gamma != 1 {
		t = math.Pow(t, 1/s.Gamma)
	}
	return t
}

func (s Stretch) validate() error {
	if !(s.Max > s.Min) {
		return fmt.Errorf("stretch max %v must exceed min %v", s.Max, s.Min)
	}
	if s.Gamma < 0 {
		return fmt.Errorf("stretch gamma must not be negative")
	}
	return nil
}

// Term is one weighted band in a linear combination. Band may be a role
// (blue, green, red, nir, swir, coastal) or a literal band name.
type Term struct {
	Band        string  `yaml:"band" json:"band"`
	Coefficient float64 `yaml:"coefficient" json:"coefficient"`
}

// Output is one output band of a linear grade.
type Output struct {
	Name    string   `yaml:"name" json:"name"`
	Terms   []Term   `yaml:"terms" json:"terms"`
	Offset  float64  `yaml:"offset,omitempty" json:"offset,omitempty"`
	Stretch *Stretch `yaml:"stretch,omitempty" json:"stretch,omitempty"`
}

// LinearSpec declares a grade as per-band linear combinations with an
// optional display stretch. Plugin grades compile to this form.
type LinearSpec struct {
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Layer       Layer         `yaml:"layer,omitempty" json:"layer,omitempty"`
	Kernel      raster.Kernel `yaml:"kernel,omitempty" json:"kernel,omitempty"`
	Outputs     []Output      `yaml:"outputs" json:"outputs"`
}

// Normalize fills defaults.
func (s *LinearSpec) Normalize() {
	s.Name = strings.TrimSpace(s.Name)
	if s.Layer == "" {
		s.Layer = LayerMarine
	}
	if s.Kernel == "" {
		s.Kernel = raster.KernelBilinear
	}
}

// Validate checks the declaration.
func (s LinearSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("grade: linear grade name is required")
	}
	if len(s.Outputs) == 0 {
		return fmt.Errorf("grade: %s declares no outputs", s.Name)
	}
	seen := map[string]struct{}{}
	for idx, out := range s.Outputs {
		if out.Name == "" {
			return fmt.Errorf("grade: %s output %d has no name", s.Name, idx)
		}
		if _, dup := seen[out.Name]; dup {
			return fmt.Errorf("grade: %s output %s declared twice", s.Name, out.Name)
		}
		seen[out.Name] = struct{}{}
		if len(out.Terms) == 0 {
			return fmt.Errorf("grade: %s output %s has no terms", s.Name, out.Name)
		}
		for _, term := range out.Terms {
			if strings.TrimSpace(term.Band) == "" {
				return fmt.Errorf("grade: %s output %s has a term without band", s.Name, out.Name)
			}
		}
		if out.Stretch != nil {
			if err := out.Stretch.validate(); err != nil {
				return fmt.Errorf("grade: %s output %s: %w", s.Name, out.Name, err)
			}
		}
	}
	return nil
}

// LinearFactory returns a registry factory for spec.
func LinearFactory(spec LinearSpec) Factory {
	return func(cfg Config) (Grade, error) {
		return NewLinear(spec, cfg)
	}
}

// NewLinear validates spec and binds band roles.
func NewLinear(spec LinearSpec, cfg Config) (Grade, error) {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &linearGrade{spec: spec, roles: cfg.Roles}, nil
}

type linearGrade struct {
	spec  LinearSpec
	roles scene.BandRoles
}

func (g *linearGrade) Info() Info {
	bands := make([]string, len(g.spec.Outputs))
	for i, out := range g.spec.Outputs {
		bands[i] = out.Name
	}
	return Info{
		Name:        g.spec.Name,
		Description: g.spec.Description,
		Layer:       g.spec.Layer,
		Kernel:      g.spec.Kernel,
		Bands:       bands,
	}
}

func (g *linearGrade) Render(c *composite.Composite) (*raster.Raster, error) {
	src := layer(c, g.spec.Layer)
	out, err := raster.NewLike(src, g.Info().Bands)
	if err != nil {
		return nil, err
	}
	for b, spec := range g.spec.Outputs {
		inputs := make([][]float64, len(spec.Terms))
		for t, term := range spec.Terms {
			name := resolveBand(g.roles, term.Band)
			data, ok := src.Band(name)
			if !ok {
				return nil, fmt.Errorf("composite has no band %s", name)
			}
			inputs[t] = data
		}
		dst := out.Data[b]
		for i := range dst {
			v := spec.Offset
			for t, term := range spec.Terms {
				v += term.Coefficient * inputs[t][i]
			}
			if spec.Stretch != nil {
				v = spec.Stretch.Apply(v)
			}
			dst[i] = v
		}
	}
	return out, nil
}

func layer(c *composite.Composite, l Layer) *raster.Raster {
	if l == LayerLand {
		return c.Land
	}
	return c.Marine
}

// resolveBand maps a role name onto the configured band name; anything else
// is taken as a literal band name.
func resolveBand(roles scene.BandRoles, name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "coastal":
		if roles.Coastal != "" {
			return roles.Coastal
		}
		return roles.Blue
	case "blue":
		return roles.Blue
	case "green":
		return roles.Green
	case "red":
		return roles.Red
	case "nir":
		return roles.NIR
	case "swir":
		return roles.SWIR
	default:
		return strings.TrimSpace(name)
	}
}
