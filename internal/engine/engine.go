// Package engine turns a curated scene list into a composite, its colour
// grade products, quicklooks and scheduled exports.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/reefcomp/internal/artifact"
	"github.com/kingrea/reefcomp/internal/composite"
	"github.com/kingrea/reefcomp/internal/export"
	"github.com/kingrea/reefcomp/internal/grade"
	"github.com/kingrea/reefcomp/internal/logbook"
	"github.com/kingrea/reefcomp/internal/mask"
	"github.com/kingrea/reefcomp/internal/normalize"
	"github.com/kingrea/reefcomp/internal/raster"
	"github.com/kingrea/reefcomp/internal/scene"
	"github.com/kingrea/reefcomp/internal/sunglint"
)

// Previewer writes a quicklook for a product and returns its location.
type Previewer interface {
	Write(p *grade.Product) (string, error)
}

// ManifestWriter persists a composite manifest.
type ManifestWriter interface {
	WriteManifest(m artifact.Manifest) (string, error)
}

// Logger receives process-level diagnostics.
type Logger interface {
	Printf(format string, args ...any)
}

// Config wires the pipeline stages.
type Config struct {
	Catalog       scene.Catalog
	Roles         scene.BandRoles
	Masking       mask.Thresholds
	Sunglint      sunglint.Settings
	Normalization normalize.Settings
	Compositing   composite.Settings
	Grades        *grade.Registry
	GradeConfig   grade.Config
	// Parallel bounds concurrent grade rendering per composite.
	Parallel int
}

// Option customises an Engine.
type Option func(*Engine)

// WithScheduler enables export submissions.
func WithScheduler(s *export.Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

// WithPreviewer enables preview submissions.
func WithPreviewer(p Previewer) Option {
	return func(e *Engine) { e.previews = p }
}

// WithManifests records a manifest for every composite.
func WithManifests(m ManifestWriter) Option {
	return func(e *Engine) { e.manifests = m }
}

// WithLogbook reports run events to book.
func WithLogbook(book *logbook.Logbook) Option {
	return func(e *Engine) { e.book = book }
}

// WithLogger sends diagnostics to l.
func WithLogger(l Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithHandles overrides composite handle generation.
func WithHandles(next func() string) Option {
	return func(e *Engine) {
		if next != nil {
			e.newHandle = next
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs submissions. Work for one reference set runs as a single unit
// on the calling goroutine; only grade rendering fans out.
type Engine struct {
	resolver   *scene.Resolver
	masker     *mask.Masker
	deglinter  *sunglint.Corrector
	normalizer *normalize.Normalizer
	compositor *composite.Compositor
	renderer   *grade.Renderer
	registry   *grade.Registry
	store      *Store

	scheduler *export.Scheduler
	previews  Previewer
	manifests ManifestWriter
	book      *logbook.Logbook
	log       Logger
	newHandle func() string
	now       func() time.Time

	// submitMu serialises submissions so the Secondary-after-Primary check
	// and the store update observe each other.
	submitMu sync.Mutex
}

// New builds an engine from cfg.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("engine: scene catalog is required")
	}
	if cfg.Grades == nil {
		return nil, fmt.Errorf("engine: grade registry is required")
	}
	resolver, err := scene.NewResolver(cfg.Catalog, cfg.Roles)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	masker, err := mask.New(cfg.Roles, cfg.Masking)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	deglinter, err := sunglint.New(cfg.Sunglint)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	normalizer, err := normalize.New(cfg.Normalization)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	compositor, err := composite.New(cfg.Compositing)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	gcfg := cfg.GradeConfig
	gcfg.Roles = cfg.Roles
	renderer, err := grade.NewRenderer(cfg.Grades, gcfg, cfg.Parallel)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e := &Engine{
		resolver:   resolver,
		masker:     masker,
		deglinter:  deglinter,
		normalizer: normalizer,
		compositor: compositor,
		renderer:   renderer,
		registry:   cfg.Grades,
		store:      NewStore(),
		newHandle:  uuid.NewString,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Store exposes the composite store.
func (e *Engine) Store() *Store {
	return e.store
}

// Scheduler returns the export scheduler, or nil when exports are disabled.
func (e *Engine) Scheduler() *export.Scheduler {
	return e.scheduler
}

// SubmitRequest is one reference set.
type SubmitRequest struct {
	// Region names the reef. When empty the tile of the first scene id is
	// used.
	Region    string
	Reference composite.Reference
	Scenes    []scene.Ref
	Mode      Mode
	Options   ReferenceOptions
}

// Result describes what a submission produced.
type Result struct {
	Handle        string
	Region        string
	Reference     composite.Reference
	Composite     *composite.Composite
	Products      []*grade.Product
	Tasks         []export.Task
	Previews      []string
	Excluded      []*scene.SceneNotFoundError
	GradeErrors   []*grade.GradeError
	Deglint       []sunglint.Report
	Normalization *normalize.Report
	Manifest      string
}

// TaskIDs lists the export task handles in grade order.
func (r *Result) TaskIDs() []string {
	out := make([]string, 0, len(r.Tasks))
	for _, t := range r.Tasks {
		out = append(out, t.ID)
	}
	return out
}

// SubmitComposite is the flag-based entry point: display and export are
// folded into a Mode before anything else runs.
func (e *Engine) SubmitComposite(ctx context.Context, region string, ref composite.Reference, scenes []scene.Ref, display, export bool, opts ReferenceOptions) (*Result, error) {
	mode, err := ModeFromFlags(display, export)
	if err != nil {
		return nil, err
	}
	return e.Submit(ctx, SubmitRequest{Region: region, Reference: ref, Scenes: scenes, Mode: mode, Options: opts})
}

// Submit validates req, builds the composite and hands products to the
// previewer and the export scheduler. Composite-level failures
// (ConfigurationError, InsufficientDataError) return an error and schedule
// nothing. Excluded scenes and failed grades are reported on the Result.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	if ref, err := composite.ParseReference(string(req.Reference)); err == nil {
		req.Reference = ref
	}
	region, err := e.validate(req)
	if err != nil {
		e.book.Scope(req.Region, string(req.Reference)).Error("rejected: %v", err)
		return nil, err
	}
	book := e.book.Scope(region, string(req.Reference))
	res := &Result{Region: region, Reference: req.Reference}
	opts := req.Options

	scenes, excluded, err := e.resolver.ResolveAll(ctx, req.Scenes)
	if err != nil {
		return nil, err
	}
	res.Excluded = excluded
	for _, miss := range excluded {
		book.Warn("scene %s excluded: %v", miss.ID, miss.Err)
	}

	inputs, err := e.prepare(book, scenes, opts, res)
	if err != nil {
		return nil, err
	}

	built, err := e.compositor.Build(region, req.Reference, inputs)
	if err != nil {
		var insufficient *composite.InsufficientDataError
		if errors.As(err, &insufficient) {
			book.Error("%v", err)
		}
		return nil, err
	}
	handle := e.newHandle()
	built.ID = handle
	if replaced := e.store.Put(handle, built); replaced != "" {
		book.Info("composite %s replaces %s", handle, replaced)
	}
	res.Handle = handle
	res.Composite = built
	book.Info("composite %s from %d scenes (%d excluded), holes %.1f%%",
		handle, len(inputs), len(excluded), built.HoleFraction*100)

	requests := opts.Requests()
	products, failures := e.renderer.Render(ctx, built, requests)
	entries := make([]artifact.Product, len(requests))
	slot := make(map[string]int, len(requests))
	for i, r := range requests {
		entries[i] = artifact.Product{Grade: r.Grade, Scale: r.Scale}
		slot[r.Grade] = i
	}
	for _, failure := range failures {
		res.GradeErrors = append(res.GradeErrors, failure)
		entries[slot[failure.Grade]].Error = failure.Err.Error()
		book.Error("%v", failure)
	}
	for i, p := range products {
		if p == nil {
			continue
		}
		res.Products = append(res.Products, p)
		entries[i].Layer = string(p.Info.Layer)
	}

	if req.Mode.Preview() {
		for i, p := range products {
			if p == nil {
				continue
			}
			path, err := e.previews.Write(p)
			if err != nil {
				entries[i].Error = err.Error()
				book.Warn("preview %s: %v", p.Grade, err)
				continue
			}
			entries[i].Preview = path
			res.Previews = append(res.Previews, path)
		}
	}

	if req.Mode.Export() {
		for i, p := range products {
			if p == nil {
				continue
			}
			item := export.Item{
				Destination: export.Destination{
					Folder:    opts.ExportFolder(),
					Basename:  opts.ExportBasename(),
					Region:    region,
					Reference: req.Reference,
					Grade:     p.Grade,
				},
				Scale:     p.Scale,
				Composite: handle,
				Raster:    p.Raster,
			}
			task, err := e.scheduler.Enqueue(ctx, item)
			if err != nil {
				entries[i].Error = err.Error()
				book.Error("enqueue %s: %v", p.Grade, err)
				continue
			}
			entries[i].TaskID = task.ID
			entries[i].Artifact = task.Path
			res.Tasks = append(res.Tasks, task)
		}
		if _, err := e.scheduler.Pump(ctx); err != nil {
			e.logf("engine: pump after %s %s: %v", region, req.Reference, err)
		}
		book.Info("%d export tasks scheduled", len(res.Tasks))
	}

	if e.manifests != nil {
		path, err := e.manifests.WriteManifest(e.manifest(res, opts, entries))
		if err != nil {
			book.Warn("manifest: %v", err)
		} else {
			res.Manifest = path
		}
	}
	return res, nil
}

func (e *Engine) validate(req SubmitRequest) (string, error) {
	if err := req.Mode.Validate(); err != nil {
		return "", err
	}
	if req.Options.IsZero() {
		return "", configErr("options", "reference options were not built with NewReferenceOptions")
	}
	if len(req.Scenes) == 0 {
		return "", configErr("scenes", "scene list is empty")
	}
	for i, ref := range req.Scenes {
		if strings.TrimSpace(ref.ID) == "" {
			return "", configErr("scenes", "entry %d has no id", i)
		}
		if _, err := scene.ParseTier(string(ref.Tier)); err != nil {
			return "", configErr("scenes", "entry %d: %v", i, err)
		}
	}
	if _, err := composite.ParseReference(string(req.Reference)); err != nil {
		return "", configErr("reference", "reference tier must be Primary or Secondary")
	}
	for _, name := range req.Options.ColourGrades() {
		if !e.registry.Has(name) {
			return "", configErr("colourGrades", "unknown colour grade %s", name)
		}
	}
	if req.Mode.Export() && e.scheduler == nil {
		return "", configErr("mode", "export requested but no export scheduler is configured")
	}
	if req.Mode.Preview() && e.previews == nil {
		return "", configErr("mode", "preview requested but no previewer is configured")
	}
	region := strings.TrimSpace(req.Region)
	if region == "" {
		region = scene.ParseID(req.Scenes[0].ID).Tile
	}
	if region == "" {
		return "", configErr("region", "region is required when scene ids carry no tile")
	}
	if req.Reference == composite.Secondary {
		if _, ok := e.store.Current(region, composite.Primary); !ok {
			return "", configErr("reference", "region %s has no primary composite; a secondary set needs one first", region)
		}
	}
	return region, nil
}

// prepare masks, deglints and normalises the resolved scenes in input order.
func (e *Engine) prepare(book logbook.Scope, scenes []*scene.Scene, opts ReferenceOptions, res *Result) ([]composite.Input, error) {
	inputs := make([]composite.Input, 0, len(scenes))
	for _, sc := range scenes {
		m, err := e.masker.Classify(sc.Raster)
		if err != nil {
			return nil, fmt.Errorf("engine: mask %s: %w", sc.Ref.ID, err)
		}
		r := sc.Raster
		if opts.ApplySunglintCorrection() {
			corrected, report, err := e.deglinter.Correct(r, m)
			if err != nil {
				return nil, fmt.Errorf("engine: sunglint %s: %w", sc.Ref.ID, err)
			}
			if !report.Applied {
				book.Warn("sunglint skipped for %s: %s", sc.Ref.ID, report.Reason)
			}
			res.Deglint = append(res.Deglint, report)
			r = corrected
		}
		inputs = append(inputs, composite.Input{ID: sc.Ref.ID, Tier: sc.Ref.Tier, Order: sc.Order, Raster: r, Mask: m})
	}
	if opts.ApplyBrightnessAdjustment() && len(inputs) > 1 {
		rasters := make([]*raster.Raster, len(inputs))
		masks := make([]*mask.Mask, len(inputs))
		for i, in := range inputs {
			rasters[i] = in.Raster
			masks[i] = in.Mask
		}
		adjusted, report, err := e.normalizer.Normalize(rasters, masks)
		if err != nil {
			return nil, fmt.Errorf("engine: normalize: %w", err)
		}
		for i := range inputs {
			inputs[i].Raster = adjusted[i]
		}
		res.Normalization = &report
		if !report.UsedIntersection {
			book.Warn("only %d shared clear-water pixels, normalised each scene against its own water", report.Intersection)
		}
	}
	return inputs, nil
}

func (e *Engine) manifest(res *Result, opts ReferenceOptions, products []artifact.Product) artifact.Manifest {
	c := res.Composite
	m := artifact.Manifest{
		Handle:       res.Handle,
		Region:       res.Region,
		Reference:    string(res.Reference),
		Scenes:       append([]string(nil), c.Scenes...),
		Reducer:      c.Reducer,
		HoleFraction: c.HoleFraction,
		Width:        c.Width(),
		Height:       c.Height(),
		Scale:        c.Marine.Scale(),
		Fingerprint:  c.Fingerprint(),
		Deglinted:    opts.ApplySunglintCorrection(),
		Normalized:   res.Normalization != nil,
		Products:     products,
		CreatedAt:    e.now().UTC(),
	}
	for _, miss := range res.Excluded {
		m.Excluded = append(m.Excluded, miss.ID)
	}
	return m
}

func (e *Engine) logf(format string, args ...any) {
	if e.log != nil {
		e.log.Printf(format, args...)
	}
}
