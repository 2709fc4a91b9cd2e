// internal/tui/app.go
//
// Export monitor for reefcomp. It follows The Elm Architecture used by
// bubbletea: a tick message drives the scheduler, a snapshot message carries
// the new state, and View renders it.

package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/reefcomp/internal/export"
	"github.com/kingrea/reefcomp/internal/logbook"
)

const defaultRefreshInterval = 2 * time.Second

// Board is the scheduler view the monitor renders.
type Board interface {
	Snapshot() []export.Task
	Quota() int
	Outstanding() int
	Queued() int
	HighWater() int
}

// Driver advances exports between refreshes, typically Poll then Pump.
type Driver func(ctx context.Context) error

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithDriver advances the scheduler on every refresh.
func WithDriver(d Driver) AppOption {
	return func(a *App) { a.driver = d }
}

// WithLogbook shows the tail of the run logbook.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) { a.logbook = lb }
}

// WithRefreshInterval overrides the refresh cadence.
func WithRefreshInterval(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithExitWhenDone quits once every task is terminal.
func WithExitWhenDone() AppOption {
	return func(a *App) { a.exitWhenDone = true }
}

type tickMsg time.Time

type snapshotMsg struct {
	tasks   []export.Task
	summary summary
	logs    []string
	err     error
}

type summary struct {
	quota       int
	outstanding int
	queued      int
	highWater   int
}

// App is the monitor model.
type App struct {
	board        Board
	driver       Driver
	logbook      *logbook.Logbook
	interval     time.Duration
	exitWhenDone bool

	spinner  spinner.Model
	progress progress.Model

	tasks    []export.Task
	summary  summary
	logs     []string
	err      error
	loaded   bool
	done     bool
	quitting bool

	width  int
	height int
}

// NewApp builds a monitor over board.
func NewApp(board Board, opts ...AppOption) *App {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	app := &App{
		board:    board,
		interval: defaultRefreshInterval,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	return app
}

// Done reports whether every task had reached a terminal state at the last
// refresh.
func (a *App) Done() bool {
	return a.done
}

// Err returns the last refresh error.
func (a *App) Err() error {
	return a.err
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.refresh())
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.progress.Width = max(10, min(60, msg.Width-30))
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			a.quitting = true
			return a, tea.Quit
		case "r":
			return a, a.refresh()
		}
		return a, nil

	case tickMsg:
		return a, a.refresh()

	case snapshotMsg:
		a.loaded = true
		a.err = msg.err
		a.tasks = msg.tasks
		a.summary = msg.summary
		a.logs = msg.logs
		a.done = settled(msg.tasks)
		if a.done && a.exitWhenDone {
			a.quitting = true
			return a, tea.Quit
		}
		return a, a.scheduleTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) scheduleTick() tea.Cmd {
	return tea.Tick(a.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// refresh drives the scheduler once and snapshots it.
func (a *App) refresh() tea.Cmd {
	board, driver, lb, interval := a.board, a.driver, a.logbook, a.interval
	return func() tea.Msg {
		var msg snapshotMsg
		if driver != nil {
			ctx, cancel := context.WithTimeout(context.Background(), interval*4)
			msg.err = driver(ctx)
			cancel()
		}
		msg.tasks = board.Snapshot()
		msg.summary = summary{
			quota:       board.Quota(),
			outstanding: board.Outstanding(),
			queued:      board.Queued(),
			highWater:   board.HighWater(),
		}
		if lb != nil {
			msg.logs, _ = lb.Tail(6)
		}
		return msg
	}
}

func settled(tasks []export.Task) bool {
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// View renders the current state.
func (a *App) View() string {
	if a.quitting {
		return ""
	}
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#4FB3BF")).
		MarginBottom(1).
		Render("≋ REEFCOMP EXPORTS")
	if !a.loaded {
		return lipgloss.JoinVertical(lipgloss.Left, header, a.spinner.View()+" loading export state…")
	}
	sections := []string{header, a.renderProgress(), a.renderTasks()}
	if panel := a.renderLogPanel(); panel != "" {
		sections = append(sections, panel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.footer())
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderProgress() string {
	total := len(a.tasks)
	finished := 0
	for _, t := range a.tasks {
		if t.Status.Terminal() {
			finished++
		}
	}
	percent := 0.0
	if total > 0 {
		percent = float64(finished) / float64(total)
	}
	state := a.spinner.View() + " exporting"
	if a.done {
		state = labelStyleDone.Render("✓ settled")
	}
	line := fmt.Sprintf("%s %d/%d", a.progress.ViewAs(percent), finished, total)
	quota := detailTextStyle.Render(fmt.Sprintf(
		"quota %d · live %d · backlog %d · peak %d",
		a.summary.quota, a.summary.outstanding, a.summary.queued, a.summary.highWater,
	))
	return lipgloss.JoinVertical(lipgloss.Left, line, state+"  "+quota)
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil || len(a.logs) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", fileName))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(a.logs, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func (a *App) footer() string {
	if a.err != nil {
		return fmt.Sprintf("⚠ %v    r → refresh    q → quit", a.err)
	}
	return "r → refresh    q → quit"
}
