package engine

import (
	"context"

	"github.com/kingrea/reefcomp/internal/composite"
	"github.com/kingrea/reefcomp/internal/plan"
)

// SetOutcome records what happened to one reference set of a plan.
type SetOutcome struct {
	Region    string
	Reference composite.Reference
	Handle    string
	Tasks     []string
	Previews  []string
	Skipped   bool
	Err       error
}

// RunReport collects every set outcome in plan order.
type RunReport struct {
	Sets []SetOutcome
}

// Failed returns the outcomes that ended in an error.
func (r *RunReport) Failed() []SetOutcome {
	var out []SetOutcome
	for _, s := range r.Sets {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// TaskIDs returns every scheduled export task in plan order.
func (r *RunReport) TaskIDs() []string {
	var out []string
	for _, s := range r.Sets {
		out = append(out, s.Tasks...)
	}
	return out
}

// RunPlan submits every set of p in order. A failing set is recorded and the
// run moves on; options are rebuilt from the preset for every call so no
// submission sees another's values. override, when set, replaces the
// display/export flags of every set.
func (e *Engine) RunPlan(ctx context.Context, p *plan.Plan, override Mode) *RunReport {
	report := &RunReport{}
	for _, region := range p.Regions {
		for _, set := range region.Sets {
			if err := ctx.Err(); err != nil {
				report.Sets = append(report.Sets, SetOutcome{Region: region.Name, Reference: set.Reference, Err: err})
				continue
			}
			report.Sets = append(report.Sets, e.runSet(ctx, p, region, set, override))
		}
	}
	return report
}

func (e *Engine) runSet(ctx context.Context, p *plan.Plan, region plan.Region, set plan.Set, override Mode) SetOutcome {
	outcome := SetOutcome{Region: region.Name, Reference: set.Reference}
	mode := override
	if mode == "" {
		if !set.Display && !set.Export {
			outcome.Skipped = true
			e.book.Scope(region.Name, string(set.Reference)).Info("skipped, neither display nor export requested")
			return outcome
		}
		mode, _ = ModeFromFlags(set.Display, set.Export)
	}
	preset, ok := p.Preset(set.Preset)
	if !ok {
		outcome.Err = configErr("preset", "unknown preset %s", set.Preset)
		return outcome
	}
	opts, err := OptionsFromPreset(preset)
	if err != nil {
		outcome.Err = err
		e.book.Scope(region.Name, string(set.Reference)).Error("%v", err)
		return outcome
	}
	res, err := e.Submit(ctx, SubmitRequest{
		Region:    region.Name,
		Reference: set.Reference,
		Scenes:    set.Refs(),
		Mode:      mode,
		Options:   opts,
	})
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Handle = res.Handle
	outcome.Tasks = res.TaskIDs()
	outcome.Previews = res.Previews
	return outcome
}
