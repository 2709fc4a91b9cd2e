// cmd/reefcomp/main.go
//
// This is the entry point for the reefcomp driver.
//
// Flow:
// 1. Load .reefcomp/config.yaml (creating the folder on first run)
// 2. Wire the scene catalog, export service, ledger and scheduler
// 3. Register plugin grades and build the engine
// 4. Run every reference set of the plan
// 5. Optionally serve status, watch exports in the TUI, or wait for them

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/reefcomp/internal/artifact"
	"github.com/kingrea/reefcomp/internal/config"
	"github.com/kingrea/reefcomp/internal/engine"
	"github.com/kingrea/reefcomp/internal/export"
	"github.com/kingrea/reefcomp/internal/gdalio"
	"github.com/kingrea/reefcomp/internal/grade"
	"github.com/kingrea/reefcomp/internal/logbook"
	"github.com/kingrea/reefcomp/internal/logging"
	"github.com/kingrea/reefcomp/internal/plan"
	"github.com/kingrea/reefcomp/internal/preview"
	"github.com/kingrea/reefcomp/internal/statusapi"
	"github.com/kingrea/reefcomp/internal/tui"
	"github.com/kingrea/reefcomp/plugins"
)

type options struct {
	planPath   string
	projectDir string
	scenesDir  string
	mode       string
	watch      bool
	serve      bool
	wait       bool
}

func main() {
	opts := parseFlags()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, opts)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reefcomp: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting working directory: %v\n", err)
		os.Exit(1)
	}
	flag.StringVar(&opts.planPath, "plan", "reefs.yaml", "driver plan listing presets, regions and scene sets")
	flag.StringVar(&opts.projectDir, "project", cwd, "project directory holding .reefcomp/")
	flag.StringVar(&opts.scenesDir, "scenes", "", "directory of scene GeoTIFFs (default <project>/scenes)")
	flag.StringVar(&opts.mode, "mode", "", "override every set: preview, export or both")
	flag.BoolVar(&opts.watch, "watch", false, "monitor exports in the terminal UI")
	flag.BoolVar(&opts.serve, "serve", false, "serve the read-only status API while exports run")
	flag.BoolVar(&opts.wait, "wait", true, "block until every export settles")
	flag.Parse()
	if opts.scenesDir == "" {
		opts.scenesDir = filepath.Join(opts.projectDir, "scenes")
	}
	if !filepath.IsAbs(opts.planPath) {
		opts.planPath = filepath.Join(opts.projectDir, opts.planPath)
	}
	return opts
}

func run(ctx context.Context, opts options) error {
	if err := config.InitProjectDir(opts.projectDir); err != nil {
		return fmt.Errorf("initialise %s: %w", config.ReefcompDir, err)
	}
	cfg, err := config.NewConfig(opts.projectDir)
	if err != nil {
		return err
	}
	logger, err := logging.New(opts.projectDir)
	if err != nil {
		return err
	}
	defer logger.Close()
	book, err := logbook.New(cfg.LogbookPath())
	if err != nil {
		return fmt.Errorf("logbook: %w", err)
	}

	var override engine.Mode
	if opts.mode != "" {
		if override, err = engine.ParseMode(opts.mode); err != nil {
			return err
		}
	}
	p, err := plan.Load(opts.planPath)
	if err != nil {
		return err
	}
	if err := p.WriteIndex(filepath.Join(cfg.CompositesDir(), "regions.geojson")); err != nil {
		logger.Warnf("region index: %v", err)
	}

	catalog, err := gdalio.NewDirectoryCatalog(opts.scenesDir)
	if err != nil {
		return err
	}
	exportCfg := cfg.Project.Export
	service, err := export.NewLocalService(cfg.ExportsDir(), gdalio.NewGeoTIFFEncoder(), exportCfg.Workers, exportCfg.PlatformLimit)
	if err != nil {
		return err
	}
	defer service.Close()

	ledger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()
	if previous, err := ledger.Load(ctx); err == nil && len(previous) > 0 {
		book.Info("ledger holds %d task records from earlier runs", len(previous))
	}

	feed := statusapi.NewFeed(statusapi.FeedWithLogger(logger))
	scheduler, err := export.New(service, exportCfg.Quota,
		export.WithLedger(ledger),
		export.WithHooks(feed.Hooks().Merge(logbookHooks(book))),
		export.WithErrorHandler(func(err error) { logger.Errorf("export: %v", err) }),
	)
	if err != nil {
		return err
	}

	registry := grade.DefaultRegistry()
	loaded, err := plugins.RegisterGradePlugins(registry, cfg)
	if err != nil {
		return err
	}
	for _, def := range loaded {
		logger.Printf("registered plugin grade %s v%s from %s", def.Definition.ID, def.Definition.Version, def.Path)
	}

	previewer, err := preview.NewWriter(cfg.PreviewDir())
	if err != nil {
		return err
	}
	manifests := artifact.NewStore(cfg.CompositesDir())
	eng, err := engine.New(engine.Config{
		Catalog:       catalog,
		Roles:         cfg.Project.Bands,
		Masking:       cfg.Project.Masking,
		Sunglint:      cfg.Project.Sunglint,
		Normalization: cfg.Project.Normalization,
		Compositing:   cfg.Project.Compositing,
		Grades:        registry,
		GradeConfig:   cfg.GradeConfig(),
		Parallel:      cfg.Project.Grading.Parallel,
	},
		engine.WithScheduler(scheduler),
		engine.WithPreviewer(previewer),
		engine.WithManifests(manifests),
		engine.WithLogbook(book),
		engine.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	var server *statusapi.Server
	settings := statusapi.SettingsFromConfig(cfg)
	if opts.serve {
		settings.Enabled = true
	}
	if settings.Enabled {
		server = statusapi.NewServer(settings, scheduler,
			statusapi.WithManifests(manifests),
			statusapi.WithFeed(feed),
			statusapi.WithLogger(logger),
		)
		if err := server.Start(ctx); err != nil {
			return err
		}
		fmt.Printf("status API at %s\n", server.BaseURL())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	report := eng.RunPlan(ctx, p, override)
	printReport(report)

	interval := cfg.PollInterval()
	switch {
	case opts.watch:
		app := tui.NewApp(scheduler,
			tui.WithDriver(drive(scheduler)),
			tui.WithLogbook(book),
			tui.WithRefreshInterval(interval),
		)
		if _, err := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("monitor: %w", err)
		}
	case opts.wait || server != nil:
		if err := scheduler.Wait(ctx, interval, report.TaskIDs()...); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		printTasks(scheduler.Snapshot())
	}

	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d reference sets failed", len(failed), len(report.Sets))
	}
	return nil
}

func openLedger(ctx context.Context, cfg *config.Config) (export.Ledger, func(), error) {
	exportCfg := cfg.Project.Export
	if exportCfg.Ledger != config.LedgerMongo {
		return export.NewFileLedger(cfg.LedgerPath()), func() {}, nil
	}
	ledger, err := export.NewMongoLedger(ctx, exportCfg.MongoURI, exportCfg.MongoDatabase)
	if err != nil {
		return nil, nil, err
	}
	return ledger, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ledger.Close(closeCtx)
	}, nil
}

func logbookHooks(book *logbook.Logbook) export.Hooks {
	return export.Hooks{
		OnFinish: func(_ context.Context, event export.Event) {
			task := event.Task
			if task.Status == export.StatusFailed {
				book.Error("export %s failed: %s", task.Name, task.Error)
				return
			}
			book.Info("export %s %s", task.Name, task.Status)
		},
	}
}

// drive advances the scheduler once for the monitor.
func drive(s *export.Scheduler) tui.Driver {
	return func(ctx context.Context) error {
		if _, err := s.Poll(ctx); err != nil {
			return err
		}
		_, err := s.Pump(ctx)
		return err
	}
}

func printReport(report *engine.RunReport) {
	for _, set := range report.Sets {
		switch {
		case set.Skipped:
			fmt.Printf("  -  %s %s: skipped\n", set.Region, set.Reference)
		case set.Err != nil:
			fmt.Printf("  ✗  %s %s: %v\n", set.Region, set.Reference, set.Err)
		default:
			fmt.Printf("  ✓  %s %s: %d exports, %d previews\n", set.Region, set.Reference, len(set.Tasks), len(set.Previews))
		}
	}
}

func printTasks(tasks []export.Task) {
	for _, t := range tasks {
		line := fmt.Sprintf("  %-9s %s", t.Status, t.Path)
		if t.Error != "" {
			line += " (" + t.Error + ")"
		}
		fmt.Println(line)
	}
}
