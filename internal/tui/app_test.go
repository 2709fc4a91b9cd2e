package tui

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/reefcomp/internal/composite"
	"github.com/kingrea/reefcomp/internal/export"
	"github.com/kingrea/reefcomp/internal/logbook"
)

type stubBoard struct {
	tasks []export.Task
	quota int
}

func (b *stubBoard) Snapshot() []export.Task {
	return append([]export.Task(nil), b.tasks...)
}
func (b *stubBoard) Quota() int { return b.quota }
func (b *stubBoard) Outstanding() int {
	n := 0
	for _, t := range b.tasks {
		if t.Status.Outstanding() {
			n++
		}
	}
	return n
}
func (b *stubBoard) Queued() int {
	n := 0
	for _, t := range b.tasks {
		if t.Status == export.StatusQueued {
			n++
		}
	}
	return n
}
func (b *stubBoard) HighWater() int { return b.quota }

func task(id, region, grade string, status export.Status) export.Task {
	dest := export.Destination{Basename: "reef", Region: region, Reference: composite.Primary, Grade: grade}
	return export.Task{ID: id, Destination: dest, Name: dest.Name(), Status: status}
}

// runCommands feeds the result of each command back into the model until a
// command yields nothing or schedules a timer.
func runCommands(t *testing.T, app *App, cmd tea.Cmd) *App {
	t.Helper()
	for cmd != nil {
		msg := cmd()
		if msg == nil {
			break
		}
		if _, ok := msg.(tea.QuitMsg); ok {
			break
		}
		nextModel, nextCmd := app.Update(msg)
		next, ok := nextModel.(*App)
		if !ok {
			t.Fatalf("expected *App, got %T", nextModel)
		}
		app = next
		if _, isSnapshot := msg.(snapshotMsg); isSnapshot {
			// The follow-up is a tick; stop before sleeping on it.
			if !app.Done() || !app.exitWhenDone {
				break
			}
		}
		cmd = nextCmd
	}
	return app
}

func TestRefreshDrivesAndRendersTasks(t *testing.T) {
	board := &stubBoard{quota: 2, tasks: []export.Task{
		task("t1", "Moore Reef", "rgb", export.StatusRunning),
		task("t2", "Moore Reef", "depth", export.StatusQueued),
		task("t3", "Arlington Reef", "rgb", export.StatusSucceeded),
	}}
	calls := 0
	app := NewApp(board, WithDriver(func(ctx context.Context) error {
		calls++
		return nil
	}))

	app = runCommands(t, app, app.refresh())

	if calls != 1 {
		t.Fatalf("expected driver to run once, got %d", calls)
	}
	if app.Done() {
		t.Fatalf("expected outstanding work to keep the monitor open")
	}
	view := app.View()
	for _, want := range []string{
		"REEFCOMP EXPORTS",
		"Arlington Reef",
		"Moore Reef",
		"reef_Moore-Reef_Primary_depth",
		"queued",
		"running",
		"1/3",
		"quota 2",
	} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected view to contain %q:\n%s", want, view)
		}
	}
	if strings.Index(view, "Arlington Reef") > strings.Index(view, "Moore Reef") {
		t.Fatalf("expected regions in name order:\n%s", view)
	}
}

func TestFailedTaskShowsReason(t *testing.T) {
	failed := task("t1", "Moore Reef", "rgb", export.StatusFailed)
	failed.Error = "quota revoked"
	failed.Deferrals = 2
	app := NewApp(&stubBoard{quota: 1, tasks: []export.Task{failed}})

	app = runCommands(t, app, app.refresh())

	view := app.View()
	if !strings.Contains(view, "quota revoked") || !strings.Contains(view, "deferred ×2") {
		t.Fatalf("expected failure details in view:\n%s", view)
	}
	if !app.Done() {
		t.Fatalf("expected failed task to count as settled")
	}
}

func TestExitWhenDoneQuits(t *testing.T) {
	board := &stubBoard{quota: 1, tasks: []export.Task{task("t1", "Moore Reef", "rgb", export.StatusSucceeded)}}
	app := NewApp(board, WithExitWhenDone())

	model, cmd := app.Update(app.refresh()())
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
	if view := model.View(); view != "" {
		t.Fatalf("expected empty view after quitting, got %q", view)
	}
}

func TestDriverErrorIsShown(t *testing.T) {
	app := NewApp(&stubBoard{quota: 1}, WithDriver(func(ctx context.Context) error {
		return errors.New("service unreachable")
	}))

	app = runCommands(t, app, app.refresh())

	if app.Err() == nil {
		t.Fatalf("expected driver error to be kept")
	}
	view := app.View()
	if !strings.Contains(view, "service unreachable") {
		t.Fatalf("expected error in footer:\n%s", view)
	}
	if !strings.Contains(view, "No exports scheduled.") {
		t.Fatalf("expected empty task panel:\n%s", view)
	}
}

func TestLogPanelShowsTail(t *testing.T) {
	lb, err := logbook.New(filepath.Join(t.TempDir(), "logs", "run.log"))
	if err != nil {
		t.Fatalf("logbook: %v", err)
	}
	lb.Warn("scene S2A_55LBK_20240101 excluded: not found")
	app := NewApp(&stubBoard{quota: 1}, WithLogbook(lb))

	app = runCommands(t, app, app.refresh())

	view := app.View()
	if !strings.Contains(view, "LOG · run.log") || !strings.Contains(view, "excluded: not found") {
		t.Fatalf("expected log panel in view:\n%s", view)
	}
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
	} {
		app := NewApp(&stubBoard{})
		_, cmd := app.Update(key)
		if cmd == nil {
			t.Fatalf("expected quit command for %q", key.String())
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("expected tea.QuitMsg for %q", key.String())
		}
	}
}

func TestLoadingViewBeforeFirstSnapshot(t *testing.T) {
	app := NewApp(&stubBoard{})
	if !strings.Contains(app.View(), "loading export state") {
		t.Fatalf("expected loading view, got %q", app.View())
	}
}
