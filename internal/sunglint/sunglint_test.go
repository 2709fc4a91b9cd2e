package sunglint

import (
	"math"
	"testing"

	"github.com/kingrea/reefcomp/internal/mask"
	"github.com/kingrea/reefcomp/internal/raster"
)

// glintRaster builds a water scene where each visible band is a constant
// water-leaving signal plus a known multiple of the NIR glint.
func glintRaster(t *testing.T, n int) (*raster.Raster, *mask.Mask) {
	t.Helper()
	r, err := raster.New(n, 1, []string{"B2", "B3", "B8"})
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	m := &mask.Mask{Width: n, Height: 1, Classes: make([]mask.Class, n)}
	for i := 0; i < n; i++ {
		glint := 0.01 + float64(i%10)*0.005
		r.Data[2][i] = glint
		r.Data[0][i] = 0.08 + 0.9*(glint-0.01)
		r.Data[1][i] = 0.05 + 0.7*(glint-0.01)
		m.Classes[i] = mask.ClearWater
	}
	return r, m
}

func TestCorrectRemovesLinearGlint(t *testing.T) {
	r, m := glintRaster(t, 100)
	corrector, err := New(Settings{ProxyBand: "B8", Bands: []string{"B2", "B3"}, MaxSamples: 1000, MinSamples: 10})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, report, err := corrector.Correct(r, m)
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if !report.Applied {
		t.Fatalf("expected correction to be applied: %s", report.Reason)
	}
	if math.Abs(report.Slopes["B2"]-0.9) > 1e-9 {
		t.Fatalf("B2 slope = %v, want 0.9", report.Slopes["B2"])
	}
	for i, v := range out.MustBand("B2") {
		if math.Abs(v-0.08) > 1e-9 {
			t.Fatalf("B2[%d] = %v, want 0.08", i, v)
		}
	}
	for i, v := range out.MustBand("B3") {
		if math.Abs(v-0.05) > 1e-9 {
			t.Fatalf("B3[%d] = %v, want 0.05", i, v)
		}
	}
	if r.MustBand("B2")[5] == out.MustBand("B2")[5] {
		t.Fatalf("input raster should not be modified")
	}
}

func TestCorrectIsDeterministicWithStrideSampling(t *testing.T) {
	r, m := glintRaster(t, 500)
	corrector, err := New(Settings{ProxyBand: "B8", Bands: []string{"B2"}, MaxSamples: 37, MinSamples: 10})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	first, report, err := corrector.Correct(r, m)
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if report.Samples > 37 {
		t.Fatalf("samples = %d, want <= 37", report.Samples)
	}
	second, _, err := corrector.Correct(r, m)
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if first.Fingerprint() != second.Fingerprint() {
		t.Fatalf("correction is not deterministic")
	}
}

func TestCorrectPassesThroughWithTooFewSamples(t *testing.T) {
	r, m := glintRaster(t, 20)
	for i := range m.Classes {
		if i > 3 {
			m.Classes[i] = mask.Cloud
		}
	}
	corrector, err := New(DefaultSettings())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, report, err := corrector.Correct(r, m)
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if report.Applied {
		t.Fatalf("expected pass-through")
	}
	if out.Fingerprint() != r.Fingerprint() {
		t.Fatalf("pass-through changed pixels")
	}
}

func TestCorrectRejectsMismatchedMask(t *testing.T) {
	r, _ := glintRaster(t, 10)
	corrector, err := New(DefaultSettings())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, _, err := corrector.Correct(r, &mask.Mask{Classes: make([]mask.Class, 3)}); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}
