package composite

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/kingrea/reefcomp/internal/scene"
)

// Reducer names accepted in config.
const (
	ReducerMedian          = "median"
	ReducerPercentile      = "percentile"
	ReducerQualityWeighted = "quality-weighted"
)

var errNoSamples = errors.New("composite: no samples to reduce")

// Sample is one scene's contribution to one pixel of one band.
type Sample struct {
	Value float64
	Tier  scene.Tier
	Order int
}

// Reducer combines the samples of a pixel into one value. Implementations
// must be deterministic for a given sample slice regardless of the order in
// which scenes were processed; samples always arrive in input scene order.
type Reducer interface {
	Name() string
	Reduce(samples []Sample) (float64, error)
}

// NewReducer builds a reducer from config values.
func NewReducer(name string, percentile float64, weights map[scene.Tier]float64) (Reducer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ReducerMedian:
		return medianReducer{}, nil
	case ReducerPercentile:
		if percentile <= 0 || percentile > 100 {
			return nil, fmt.Errorf("composite: percentile must be in (0, 100], got %v", percentile)
		}
		return percentileReducer{percent: percentile}, nil
	case ReducerQualityWeighted, "":
		resolved := make(map[scene.Tier]float64, len(scene.Tiers))
		for _, tier := range scene.Tiers {
			w, ok := weights[tier]
			if !ok {
				w = tier.DefaultWeight()
			}
			if w <= 0 {
				return nil, fmt.Errorf("composite: weight for tier %s must be positive", tier)
			}
			resolved[tier] = w
		}
		return qualityWeightedReducer{weights: resolved}, nil
	default:
		return nil, fmt.Errorf("composite: unknown reducer %q", name)
	}
}

type medianReducer struct{}

func (medianReducer) Name() string { return ReducerMedian }

func (medianReducer) Reduce(samples []Sample) (float64, error) {
	return stats.Median(values(samples))
}

type percentileReducer struct {
	percent float64
}

func (p percentileReducer) Name() string {
	return fmt.Sprintf("%s-%g", ReducerPercentile, p.percent)
}

// Reduce uses the nearest-rank method, which always returns an observed
// sample and is defined for a single sample.
func (p percentileReducer) Reduce(samples []Sample) (float64, error) {
	return stats.PercentileNearestRank(values(samples), p.percent)
}

// qualityWeightedReducer is a weighted median: samples are ordered by value,
// then tier, then input order, and the first sample whose cumulative weight
// reaches half the total wins.
type qualityWeightedReducer struct {
	weights map[scene.Tier]float64
}

func (qualityWeightedReducer) Name() string { return ReducerQualityWeighted }

func (q qualityWeightedReducer) Reduce(samples []Sample) (float64, error) {
	if len(samples) == 0 {
		return 0, errNoSamples
	}
	if len(samples) == 1 {
		return samples[0].Value, nil
	}
	ordered := append([]Sample(nil), samples...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		if a.Tier.Rank() != b.Tier.Rank() {
			return a.Tier.Rank() < b.Tier.Rank()
		}
		return a.Order < b.Order
	})
	total := 0.0
	for _, s := range ordered {
		total += q.weight(s.Tier)
	}
	half := total / 2
	cumulative := 0.0
	for _, s := range ordered {
		cumulative += q.weight(s.Tier)
		if cumulative >= half {
			return s.Value, nil
		}
	}
	return ordered[len(ordered)-1].Value, nil
}

func (q qualityWeightedReducer) weight(t scene.Tier) float64 {
	if w, ok := q.weights[t]; ok {
		return w
	}
	return 1
}

func values(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}
