package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/kingrea/reefcomp/internal/grade"
	"github.com/kingrea/reefcomp/internal/plan"
)

// ConfigurationError reports malformed submission options. It is raised
// before any scene is touched.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("engine: invalid %s: %s", e.Field, e.Reason)
}

func configErr(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// OptionsSpec is the plain input used to build ReferenceOptions.
type OptionsSpec struct {
	ColourGrades              []string
	ExportScale               []float64
	ExportBasename            string
	ExportFolder              string
	ApplySunglintCorrection   bool
	ApplyBrightnessAdjustment bool
}

// ReferenceOptions is an immutable, validated option set for one
// submission. Build a fresh value per call with NewReferenceOptions; slices
// are copied in and out so no caller can alter a value after construction.
type ReferenceOptions struct {
	grades     []string
	scales     []float64
	basename   string
	folder     string
	sunglint   bool
	brightness bool
}

// NewReferenceOptions validates spec. Grades and scales must be non-empty
// and of equal length.
func NewReferenceOptions(spec OptionsSpec) (ReferenceOptions, error) {
	if len(spec.ColourGrades) == 0 {
		return ReferenceOptions{}, configErr("colourGrades", "at least one colour grade is required")
	}
	if len(spec.ColourGrades) != len(spec.ExportScale) {
		return ReferenceOptions{}, configErr("exportScale", "%d scales for %d colour grades", len(spec.ExportScale), len(spec.ColourGrades))
	}
	opts := ReferenceOptions{
		grades:     make([]string, len(spec.ColourGrades)),
		scales:     append([]float64(nil), spec.ExportScale...),
		basename:   strings.TrimSpace(spec.ExportBasename),
		folder:     strings.Trim(strings.TrimSpace(spec.ExportFolder), "/"),
		sunglint:   spec.ApplySunglintCorrection,
		brightness: spec.ApplyBrightnessAdjustment,
	}
	seen := make(map[string]bool, len(spec.ColourGrades))
	for i, name := range spec.ColourGrades {
		name = strings.TrimSpace(name)
		if name == "" {
			return ReferenceOptions{}, configErr("colourGrades", "entry %d is empty", i)
		}
		if seen[name] {
			return ReferenceOptions{}, configErr("colourGrades", "%s is listed twice", name)
		}
		seen[name] = true
		opts.grades[i] = name
	}
	for i, s := range opts.scales {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return ReferenceOptions{}, configErr("exportScale", "entry %d (%v) must be a positive number", i, s)
		}
	}
	if opts.basename == "" {
		return ReferenceOptions{}, configErr("exportBasename", "basename is required")
	}
	return opts, nil
}

// OptionsFromPreset builds options from a plan preset.
func OptionsFromPreset(p plan.Preset) (ReferenceOptions, error) {
	return NewReferenceOptions(OptionsSpec{
		ColourGrades:              p.ColourGrades,
		ExportScale:               p.ExportScale,
		ExportBasename:            p.ExportBasename,
		ExportFolder:              p.ExportFolder,
		ApplySunglintCorrection:   p.ApplySunglintCorrection,
		ApplyBrightnessAdjustment: p.ApplyBrightnessAdjustment,
	})
}

// IsZero reports whether o was never built by NewReferenceOptions.
func (o ReferenceOptions) IsZero() bool {
	return len(o.grades) == 0
}

// ColourGrades returns a copy of the grade list.
func (o ReferenceOptions) ColourGrades() []string {
	return append([]string(nil), o.grades...)
}

// ExportScale returns a copy of the per-grade pixel sizes.
func (o ReferenceOptions) ExportScale() []float64 {
	return append([]float64(nil), o.scales...)
}

func (o ReferenceOptions) ExportBasename() string          { return o.basename }
func (o ReferenceOptions) ExportFolder() string            { return o.folder }
func (o ReferenceOptions) ApplySunglintCorrection() bool   { return o.sunglint }
func (o ReferenceOptions) ApplyBrightnessAdjustment() bool { return o.brightness }

// Requests pairs each grade with its export scale.
func (o ReferenceOptions) Requests() []grade.Request {
	out := make([]grade.Request, len(o.grades))
	for i := range o.grades {
		out[i] = grade.Request{Grade: o.grades[i], Scale: o.scales[i]}
	}
	return out
}
