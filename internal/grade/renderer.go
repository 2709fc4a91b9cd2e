package grade

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/reefcomp/internal/composite"
	"github.com/kingrea/reefcomp/internal/raster"
)

// Request asks for one grade at one export scale (metres per pixel).
type Request struct {
	Grade string
	Scale float64
}

// Product is a rendered grade at its export scale.
type Product struct {
	Grade     string
	Scale     float64
	Info      Info
	Region    string
	Reference composite.Reference
	Composite string
	Raster    *raster.Raster
}

// Renderer renders grades from a registry.
type Renderer struct {
	registry *Registry
	cfg      Config
	parallel int
}

// NewRenderer builds a renderer. parallel bounds concurrent grades; values
// below one mean one grade at a time.
func NewRenderer(registry *Registry, cfg Config, parallel int) (*Renderer, error) {
	if registry == nil {
		return nil, fmt.Errorf("grade: registry is required")
	}
	if parallel < 1 {
		parallel = 1
	}
	return &Renderer{registry: registry, cfg: cfg, parallel: parallel}, nil
}

// Registry exposes the backing registry.
func (r *Renderer) Registry() *Registry {
	return r.registry
}

// Render renders every request from the same immutable composite. Products
// come back in request order; a failed grade leaves a nil slot and a
// GradeError without affecting the others.
func (r *Renderer) Render(ctx context.Context, c *composite.Composite, requests []Request) ([]*Product, []*GradeError) {
	products := make([]*Product, len(requests))
	failures := make([]*GradeError, len(requests))
	var g errgroup.Group
	g.SetLimit(r.parallel)
	for idx, req := range requests {
		g.Go(func() error {
			product, err := r.renderOne(ctx, c, req)
			if err != nil {
				failures[idx] = &GradeError{Grade: req.Grade, Err: err}
				return nil
			}
			products[idx] = product
			return nil
		})
	}
	_ = g.Wait()

	var errs []*GradeError
	for _, failure := range failures {
		if failure != nil {
			errs = append(errs, failure)
		}
	}
	return products, errs
}

func (r *Renderer) renderOne(ctx context.Context, c *composite.Composite, req Request) (product *Product, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Scale <= 0 {
		return nil, fmt.Errorf("invalid export scale %v", req.Scale)
	}
	g, err := r.registry.Resolve(req.Grade, r.cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			product = nil
			err = fmt.Errorf("render panicked: %v", rec)
		}
	}()
	info := g.Info()
	rendered, err := g.Render(c)
	if err != nil {
		return nil, err
	}
	scaled, err := raster.Resample(rendered, req.Scale, info.Kernel)
	if err != nil {
		return nil, err
	}
	return &Product{
		Grade:     req.Grade,
		Scale:     req.Scale,
		Info:      info,
		Region:    c.Region,
		Reference: c.Reference,
		Composite: c.ID,
		Raster:    scaled,
	}, nil
}
