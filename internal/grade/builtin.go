package grade

import (
	"fmt"
	"math"

	"github.com/kingrea/reefcomp/internal/composite"
	"github.com/kingrea/reefcomp/internal/raster"
)

// Built-in grade names.
const (
	TrueColour = "TrueColour"
	DeepFalse  = "DeepFalse"
	Shallow    = "Shallow"
	Slope      = "Slope"
	DryReef    = "DryReef"
	Depth5m    = "Depth5m"
	Depth10m   = "Depth10m"
	Breaking   = "Breaking"
	Land       = "Land"
)

// RegisterBuiltins installs every built-in grade.
func RegisterBuiltins(r *Registry) error {
	for _, spec := range builtinLinear() {
		if err := r.Register(spec.Name, LinearFactory(spec)); err != nil {
			return err
		}
	}
	builtins := map[string]Factory{
		Slope:    slopeFactory,
		Depth5m:  depthMaskFactory(Depth5m, 5),
		Depth10m: depthMaskFactory(Depth10m, 10),
		DryReef:  dryReefFactory,
		Breaking: breakingFactory,
	}
	for _, name := range []string{Slope, Depth5m, Depth10m, DryReef, Breaking} {
		if err := r.Register(name, builtins[name]); err != nil {
			return err
		}
	}
	return nil
}

// DefaultRegistry returns a registry holding the built-in grades.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		panic(err)
	}
	return r
}

func rgb(name, description string, l Layer, red, green, blue string, stretch [3]Stretch) LinearSpec {
	outputs := make([]Output, 3)
	for i, role := range []string{red, green, blue} {
		s := stretch[i]
		outputs[i] = Output{
			Name:    []string{"red", "green", "blue"}[i],
			Terms:   []Term{{Band: role, Coefficient: 1}},
			Stretch: &s,
		}
	}
	return LinearSpec{Name: name, Description: description, Layer: l, Kernel: raster.KernelBilinear, Outputs: outputs}
}

func builtinLinear() []LinearSpec {
	return []LinearSpec{
		rgb(TrueColour, "natural colour with a contrast stretch for shallow water", LayerMarine,
			"red", "green", "blue",
			[3]Stretch{{Min: 0, Max: 0.14, Gamma: 1.6}, {Min: 0.01, Max: 0.16, Gamma: 1.6}, {Min: 0.03, Max: 0.18, Gamma: 1.6}}),
		rgb(DeepFalse, "tight stretch on the short wavelengths to reveal deep features", LayerMarine,
			"green", "blue", "coastal",
			[3]Stretch{{Min: 0.02, Max: 0.07}, {Min: 0.04, Max: 0.1}, {Min: 0.08, Max: 0.13}}),
		rgb(Shallow, "false colour emphasising intertidal and very shallow areas", LayerMarine,
			"nir", "red", "green",
			[3]Stretch{{Min: 0, Max: 0.1}, {Min: 0, Max: 0.15}, {Min: 0.02, Max: 0.2}}),
		rgb(Land, "natural colour of land pixels only", LayerLand,
			"red", "green", "blue",
			[3]Stretch{{Min: 0, Max: 0.3}, {Min: 0, Max: 0.3}, {Min: 0, Max: 0.3}}),
	}
}

// funcGrade adapts a render function to Grade.
type funcGrade struct {
	info   Info
	render func(c *composite.Composite) (*raster.Raster, error)
}

func (g funcGrade) Info() Info { return g.info }

func (g funcGrade) Render(c *composite.Composite) (*raster.Raster, error) {
	return g.render(c)
}

func slopeFactory(cfg Config) (Grade, error) {
	info := Info{
		Name:        Slope,
		Description: "seabed slope from log-ratio depth, metres per metre",
		Layer:       LayerMarine,
		Kernel:      raster.KernelBilinear,
		Bands:       []string{"slope"},
	}
	return funcGrade{info: info, render: func(c *composite.Composite) (*raster.Raster, error) {
		blue, green, err := blueGreen(c, cfg)
		if err != nil {
			return nil, err
		}
		out, err := raster.NewLike(c.Marine, info.Bands)
		if err != nil {
			return nil, err
		}
		copy(out.Data[0], slope(cfg.Depth.DepthSurface(blue, green), c.Marine))
		return out, nil
	}}, nil
}

func depthMaskFactory(name string, limit float64) Factory {
	return func(cfg Config) (Grade, error) {
		info := Info{
			Name:        name,
			Description: fmt.Sprintf("1 where estimated depth is shallower than %gm", limit),
			Layer:       LayerMarine,
			Kernel:      raster.KernelNearest,
			Bands:       []string{"mask"},
		}
		return funcGrade{info: info, render: func(c *composite.Composite) (*raster.Raster, error) {
			blue, green, err := blueGreen(c, cfg)
			if err != nil {
				return nil, err
			}
			out, err := raster.NewLike(c.Marine, info.Bands)
			if err != nil {
				return nil, err
			}
			for i := range blue {
				d := cfg.Depth.Depth(blue[i], green[i])
				out.Data[0][i] = flag(d, d <= limit)
			}
			return out, nil
		}}, nil
	}
}

func dryReefFactory(cfg Config) (Grade, error) {
	info := Info{
		Name:        DryReef,
		Description: "1 where reef is exposed at the time of capture",
		Layer:       LayerMarine,
		Kernel:      raster.KernelNearest,
		Bands:       []string{"mask"},
	}
	return funcGrade{info: info, render: func(c *composite.Composite) (*raster.Raster, error) {
		nir, ok := c.Marine.Band(cfg.Roles.NIR)
		if !ok {
			return nil, fmt.Errorf("composite has no band %s", cfg.Roles.NIR)
		}
		out, err := raster.NewLike(c.Marine, info.Bands)
		if err != nil {
			return nil, err
		}
		for i, v := range nir {
			out.Data[0][i] = flag(v, v > cfg.Thresholds.DryReefNIR)
		}
		return out, nil
	}}, nil
}

func breakingFactory(cfg Config) (Grade, error) {
	info := Info{
		Name:        Breaking,
		Description: "1 where breaking waves brighten the visible bands",
		Layer:       LayerMarine,
		Kernel:      raster.KernelNearest,
		Bands:       []string{"mask"},
	}
	return funcGrade{info: info, render: func(c *composite.Composite) (*raster.Raster, error) {
		var visible [3][]float64
		for i, name := range []string{cfg.Roles.Blue, cfg.Roles.Green, cfg.Roles.Red} {
			data, ok := c.Marine.Band(name)
			if !ok {
				return nil, fmt.Errorf("composite has no band %s", name)
			}
			visible[i] = data
		}
		out, err := raster.NewLike(c.Marine, info.Bands)
		if err != nil {
			return nil, err
		}
		for i := range out.Data[0] {
			mean := (visible[0][i] + visible[1][i] + visible[2][i]) / 3
			out.Data[0][i] = flag(mean, mean > cfg.Thresholds.BreakingVisible)
		}
		return out, nil
	}}, nil
}

func blueGreen(c *composite.Composite, cfg Config) ([]float64, []float64, error) {
	blue, ok := c.Marine.Band(cfg.Roles.Blue)
	if !ok {
		return nil, nil, fmt.Errorf("composite has no band %s", cfg.Roles.Blue)
	}
	green, ok := c.Marine.Band(cfg.Roles.Green)
	if !ok {
		return nil, nil, fmt.Errorf("composite has no band %s", cfg.Roles.Green)
	}
	return blue, green, nil
}

// flag returns NaN where the source is no-data, else 1 or 0.
func flag(source float64, set bool) float64 {
	if math.IsNaN(source) {
		return math.NaN()
	}
	if set {
		return 1
	}
	return 0
}
