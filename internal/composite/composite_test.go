package composite

import (
	"errors"
	"math"
	"testing"

	"github.com/kingrea/reefcomp/internal/mask"
	"github.com/kingrea/reefcomp/internal/raster"
	"github.com/kingrea/reefcomp/internal/scene"
)

func input(t *testing.T, id string, order int, tier scene.Tier, value float64, classes ...mask.Class) Input {
	t.Helper()
	r, err := raster.New(len(classes), 1, []string{"B2", "B3"})
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	for i := range classes {
		r.Data[0][i] = value
		r.Data[1][i] = value / 2
	}
	return Input{
		ID:     id,
		Tier:   tier,
		Order:  order,
		Raster: r,
		Mask:   &mask.Mask{Width: len(classes), Height: 1, Classes: append([]mask.Class(nil), classes...)},
	}
}

func TestBuildReducesOnlyUsableSamples(t *testing.T) {
	compositor, err := New(Settings{Reducer: ReducerMedian, MaxInvalidFraction: 0.5, MinScenes: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	inputs := []Input{
		input(t, "a", 0, scene.TierMaybe, 0.125, mask.ClearWater, mask.Cloud, mask.Land),
		input(t, "b", 1, scene.TierMaybe, 0.375, mask.ClearWater, mask.ClearWater, mask.Land),
		input(t, "c", 2, scene.TierMaybe, 0.875, mask.Cloud, mask.ClearWater, mask.Land),
	}
	c, err := compositor.Build("Boot Reef", Primary, inputs)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	marine := c.Marine.MustBand("B2")
	if marine[0] != 0.25 {
		t.Fatalf("pixel 0 = %v, want 0.25", marine[0])
	}
	if marine[1] != 0.625 {
		t.Fatalf("pixel 1 = %v, want 0.625", marine[1])
	}
	if !math.IsNaN(marine[2]) {
		t.Fatalf("land-only pixel leaked into marine layer: %v", marine[2])
	}
	if got := c.Land.MustBand("B2")[2]; got != 0.375 {
		t.Fatalf("land pixel = %v, want 0.375", got)
	}
	if c.MarineCount[0] != 2 || c.MarineCount[2] != 0 || c.LandCount[2] != 3 {
		t.Fatalf("counts marine=%v land=%v", c.MarineCount, c.LandCount)
	}
	if c.HoleFraction != 0 {
		t.Fatalf("hole fraction = %v", c.HoleFraction)
	}
}

func TestBuildFailsWhenMostlyHoles(t *testing.T) {
	compositor, err := New(DefaultSettings())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	inputs := []Input{
		input(t, "a", 0, scene.TierMaybe, 0.1, mask.Cloud, mask.Cloud, mask.Cloud, mask.ClearWater),
		input(t, "b", 1, scene.TierMaybe, 0.1, mask.Cloud, mask.NoData, mask.Cloud, mask.Cloud),
	}
	_, err = compositor.Build("Calder Bank", Primary, inputs)
	var insufficient *InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
	if insufficient.HoleFraction != 0.75 {
		t.Fatalf("hole fraction = %v, want 0.75", insufficient.HoleFraction)
	}
}

func TestBuildEnforcesMinimumScenes(t *testing.T) {
	compositor, err := New(Settings{Reducer: ReducerMedian, MaxInvalidFraction: 1, MinScenes: 2})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = compositor.Build("x", Secondary, []Input{input(t, "a", 0, scene.TierGood, 0.1, mask.ClearWater)})
	var insufficient *InsufficientDataError
	if !errors.As(err, &insufficient) || insufficient.Scenes != 1 {
		t.Fatalf("expected scene-count InsufficientDataError, got %v", err)
	}
}

func TestBuildIsIndependentOfProcessingRuns(t *testing.T) {
	compositor, err := New(DefaultSettings())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	inputs := []Input{
		input(t, "a", 0, scene.TierGood, 0.1, mask.ClearWater, mask.ClearWater),
		input(t, "b", 1, scene.TierMaybe, 0.2, mask.ClearWater, mask.Land),
		input(t, "c", 2, scene.TierOK, 0.4, mask.ClearWater, mask.ClearWater),
	}
	first, err := compositor.Build("r", Primary, inputs)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := compositor.Build("r", Primary, inputs)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if first.Fingerprint() != second.Fingerprint() {
		t.Fatalf("composites differ between runs")
	}
}

func TestQualityWeightedFavoursHigherTiers(t *testing.T) {
	reducer, err := NewReducer(ReducerQualityWeighted, 0, nil)
	if err != nil {
		t.Fatalf("reducer: %v", err)
	}
	got, err := reducer.Reduce([]Sample{
		{Value: 0.1, Tier: scene.TierMaybe, Order: 0},
		{Value: 0.2, Tier: scene.TierMaybe, Order: 1},
		{Value: 0.5, Tier: scene.TierExcellent, Order: 2},
	})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	// Weights 1 + 1 + 4: the excellent sample carries the weighted median.
	if got != 0.5 {
		t.Fatalf("weighted median = %v, want 0.5", got)
	}
}

func TestPercentileReducerHandlesSingleSample(t *testing.T) {
	reducer, err := NewReducer(ReducerPercentile, 25, nil)
	if err != nil {
		t.Fatalf("reducer: %v", err)
	}
	got, err := reducer.Reduce([]Sample{{Value: 0.42}})
	if err != nil || got != 0.42 {
		t.Fatalf("reduce = %v, %v", got, err)
	}
	if _, err := NewReducer("mean", 0, nil); err == nil {
		t.Fatalf("expected unknown reducer error")
	}
}

func TestParseReference(t *testing.T) {
	if ref, err := ParseReference("secondary"); err != nil || ref != Secondary {
		t.Fatalf("ParseReference = %q, %v", ref, err)
	}
	if _, err := ParseReference("tertiary"); err == nil {
		t.Fatalf("expected error")
	}
}
