package grade

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kingrea/reefcomp/internal/composite"
	"github.com/kingrea/reefcomp/internal/raster"
)

var testBands = []string{"B1", "B2", "B3", "B4", "B8", "B11"}

// testComposite is a 4x2 grid at 5 m. Pixel 7 is land only; every other
// pixel is shallow water.
func testComposite(t *testing.T) *composite.Composite {
	t.Helper()
	marine, err := raster.New(4, 2, testBands)
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	marine.Transform = [6]float64{500000, 5, 0, 8000000, 0, -5}
	land, err := raster.NewLike(marine, testBands)
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	values := map[string]float64{"B1": 0.1, "B2": 0.09, "B3": 0.07, "B4": 0.04, "B8": 0.02, "B11": 0.01}
	for b, name := range testBands {
		for i := 0; i < 7; i++ {
			marine.Data[b][i] = values[name]
		}
		land.Data[b][7] = 0.2
	}
	// Exposed reef and a breaking wave.
	marine.Data[4][1] = 0.1
	for _, b := range []int{1, 2, 3} {
		marine.Data[b][2] = 0.3
	}
	return &composite.Composite{
		ID:          "c1",
		Region:      "Boot Reef",
		Reference:   composite.Primary,
		Marine:      marine,
		Land:        land,
		MarineCount: []int{1, 1, 1, 1, 1, 1, 1, 0},
		LandCount:   []int{0, 0, 0, 0, 0, 0, 0, 1},
	}
}

func TestBuiltinsCoverDriverVocabulary(t *testing.T) {
	reg := DefaultRegistry()
	for _, name := range []string{TrueColour, DeepFalse, Shallow, Slope, DryReef, Depth5m, Depth10m, Breaking, Land} {
		if _, err := reg.Resolve(name, DefaultConfig()); err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
	}
	if err := reg.Register(TrueColour, LinearFactory(LinearSpec{})); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestLandPixelOnlyAppearsInLandGrade(t *testing.T) {
	c := testComposite(t)
	renderer, err := NewRenderer(DefaultRegistry(), DefaultConfig(), 4)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	requests := []Request{
		{Grade: DryReef, Scale: 5}, {Grade: Depth5m, Scale: 5}, {Grade: Depth10m, Scale: 5},
		{Grade: Breaking, Scale: 5}, {Grade: TrueColour, Scale: 5}, {Grade: Slope, Scale: 5},
		{Grade: Land, Scale: 5},
	}
	products, failures := renderer.Render(context.Background(), c, requests)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures[0])
	}
	for _, p := range products {
		for b := range p.Raster.Data {
			v := p.Raster.Data[b][7]
			if p.Grade == Land {
				if math.IsNaN(v) {
					t.Fatalf("land grade lost land pixel in band %s", p.Raster.Bands[b])
				}
				continue
			}
			if !math.IsNaN(v) {
				t.Fatalf("%s shows land pixel value %v", p.Grade, v)
			}
		}
	}
}

func TestMaskGradesFlagFeatures(t *testing.T) {
	c := testComposite(t)
	renderer, err := NewRenderer(DefaultRegistry(), DefaultConfig(), 1)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	products, failures := renderer.Render(context.Background(), c, []Request{
		{Grade: DryReef, Scale: 5},
		{Grade: Breaking, Scale: 5},
	})
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures[0])
	}
	dry := products[0].Raster.Data[0]
	if dry[1] != 1 || dry[0] != 0 {
		t.Fatalf("dry reef mask = %v", dry)
	}
	breaking := products[1].Raster.Data[0]
	if breaking[2] != 1 || breaking[0] != 0 {
		t.Fatalf("breaking mask = %v", breaking)
	}
}

func TestRenderResamplesToExportScale(t *testing.T) {
	c := testComposite(t)
	renderer, err := NewRenderer(DefaultRegistry(), DefaultConfig(), 2)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	products, failures := renderer.Render(context.Background(), c, []Request{{Grade: Slope, Scale: 10}})
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures[0])
	}
	r := products[0].Raster
	if r.Scale() != 10 || r.Width != 2 || r.Height != 1 {
		t.Fatalf("scale=%v size=%dx%d", r.Scale(), r.Width, r.Height)
	}
	if products[0].Region != "Boot Reef" || products[0].Composite != "c1" {
		t.Fatalf("product metadata = %+v", products[0])
	}
}

func TestFailedGradeDoesNotBlockSiblings(t *testing.T) {
	reg := DefaultRegistry()
	boom := errors.New("boom")
	reg.MustRegister("Broken", func(Config) (Grade, error) {
		return funcGrade{
			info:   Info{Name: "Broken", Layer: LayerMarine, Kernel: raster.KernelNearest, Bands: []string{"x"}},
			render: func(*composite.Composite) (*raster.Raster, error) { return nil, boom },
		}, nil
	})
	reg.MustRegister("Panics", func(Config) (Grade, error) {
		return funcGrade{
			info:   Info{Name: "Panics", Layer: LayerMarine, Kernel: raster.KernelNearest, Bands: []string{"x"}},
			render: func(*composite.Composite) (*raster.Raster, error) { panic("bad plugin") },
		}, nil
	})
	renderer, err := NewRenderer(reg, DefaultConfig(), 3)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	products, failures := renderer.Render(context.Background(), testComposite(t), []Request{
		{Grade: "Broken", Scale: 5},
		{Grade: TrueColour, Scale: 5},
		{Grade: "Panics", Scale: 5},
		{Grade: "Missing", Scale: 5},
	})
	if len(failures) != 3 {
		t.Fatalf("failures = %d, want 3", len(failures))
	}
	if !errors.Is(failures[0], boom) {
		t.Fatalf("expected wrapped boom error, got %v", failures[0])
	}
	if products[1] == nil || products[0] != nil || products[2] != nil {
		t.Fatalf("unexpected product slots: %v", products)
	}
}

func TestDepthModel(t *testing.T) {
	model := DefaultDepthModel()
	if !math.IsNaN(model.Depth(0, 0.05)) {
		t.Fatalf("expected NaN for zero blue")
	}
	shallow := model.Depth(0.09, 0.07)
	deep := model.Depth(0.06, 0.02)
	if !(deep > shallow) {
		t.Fatalf("depth ordering wrong: shallow=%v deep=%v", shallow, deep)
	}
}

func TestLinearSpecValidation(t *testing.T) {
	spec := LinearSpec{Name: "NDWI", Outputs: []Output{{Name: "ndwi", Terms: []Term{{Band: "green", Coefficient: 1}}, Stretch: &Stretch{Min: 1, Max: 0}}}}
	if _, err := NewLinear(spec, DefaultConfig()); err == nil {
		t.Fatalf("expected stretch validation error")
	}
	spec.Outputs[0].Stretch = nil
	g, err := NewLinear(spec, DefaultConfig())
	if err != nil {
		t.Fatalf("linear: %v", err)
	}
	if g.Info().Kernel != raster.KernelBilinear || g.Info().Layer != LayerMarine {
		t.Fatalf("defaults not applied: %+v", g.Info())
	}
}
