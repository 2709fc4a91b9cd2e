package plugins

import (
	"fmt"
	"strings"

	"github.com/kingrea/reefcomp/internal/grade"
	"github.com/kingrea/reefcomp/internal/raster"
)

// GradeDefinition describes a colour grade loaded from a plugin file.
//
// The struct mirrors the on-disk schema under .reefcomp/grades/*.yaml. Every
// plugin grade is a set of per-band linear combinations with an optional
// display stretch, so it can be validated before it reaches the registry.
type GradeDefinition struct {
	ID          string         `json:"id" yaml:"id"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string         `json:"version" yaml:"version"`
	Layer       grade.Layer    `json:"layer,omitempty" yaml:"layer,omitempty"`
	Kernel      raster.Kernel  `json:"kernel,omitempty" yaml:"kernel,omitempty"`
	Outputs     []grade.Output `json:"outputs" yaml:"outputs"`
}

// Normalized returns a trimmed copy with defaults applied.
func (def GradeDefinition) Normalized() GradeDefinition {
	clone := GradeDefinition{
		ID:          strings.TrimSpace(def.ID),
		Description: strings.TrimSpace(def.Description),
		Version:     strings.TrimSpace(def.Version),
		Layer:       grade.Layer(strings.ToLower(strings.TrimSpace(string(def.Layer)))),
		Kernel:      raster.Kernel(strings.ToLower(strings.TrimSpace(string(def.Kernel)))),
	}
	if clone.Layer == "" {
		clone.Layer = grade.LayerMarine
	}
	if clone.Kernel == "" {
		clone.Kernel = raster.KernelBilinear
	}
	if len(def.Outputs) > 0 {
		clone.Outputs = make([]grade.Output, len(def.Outputs))
		for i, out := range def.Outputs {
			out.Name = strings.TrimSpace(out.Name)
			out.Terms = append([]grade.Term(nil), out.Terms...)
			for t := range out.Terms {
				out.Terms[t].Band = strings.TrimSpace(out.Terms[t].Band)
			}
			clone.Outputs[i] = out
		}
	}
	return clone
}

// Validate ensures the definition compiles to a usable grade.
func (def GradeDefinition) Validate() error {
	normalized := def.Normalized()
	if normalized.ID == "" {
		return fmt.Errorf("plugin: id is required")
	}
	if strings.ContainsAny(normalized.ID, " /\\") {
		return fmt.Errorf("plugin %s: id must not contain spaces or path separators", normalized.ID)
	}
	if normalized.Version == "" {
		return fmt.Errorf("plugin %s: version is required", normalized.ID)
	}
	spec := normalized.Spec()
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("plugin %s: %w", normalized.ID, err)
	}
	info := grade.Info{
		Name:   spec.Name,
		Layer:  spec.Layer,
		Kernel: spec.Kernel,
		Bands:  []string{spec.Outputs[0].Name},
	}
	if err := info.Validate(); err != nil {
		return fmt.Errorf("plugin %s: %w", normalized.ID, err)
	}
	return nil
}

// Spec converts the definition into the linear grade form.
func (def GradeDefinition) Spec() grade.LinearSpec {
	return grade.LinearSpec{
		Name:        def.ID,
		Description: def.Description,
		Layer:       def.Layer,
		Kernel:      def.Kernel,
		Outputs:     def.Outputs,
	}
}
