package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/reefcomp/internal/raster"
)

// Item is one rendered product ready for export.
type Item struct {
	Destination Destination
	Scale       float64
	Composite   string
	Raster      *raster.Raster
}

// Event describes a task transition.
type Event struct {
	Task Task
	From Status
}

// HookFunc is invoked for lifecycle notifications.
type HookFunc func(context.Context, Event)

// Hooks aggregates optional lifecycle callbacks. Hooks run outside the
// scheduler lock, in transition order per call.
type Hooks struct {
	OnTransition HookFunc
	OnFinish     HookFunc
}

// Merge combines two hook sets, running the receiver first.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnTransition: chainHooks(h.OnTransition, other.OnTransition),
		OnFinish:     chainHooks(h.OnFinish, other.OnFinish),
	}
}

func chainHooks(first, second HookFunc) HookFunc {
	switch {
	case first == nil:
		return second
	case second == nil:
		return first
	default:
		return func(ctx context.Context, event Event) {
			first(ctx, event)
			second(ctx, event)
		}
	}
}

// Ledger persists task records. Implementations keep the highest revision
// seen for each task.
type Ledger interface {
	Record(ctx context.Context, task Task) error
	Load(ctx context.Context) ([]Task, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHooks installs lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(s *Scheduler) {
		s.hooks = s.hooks.Merge(h)
	}
}

// WithLedger records every transition in l.
func WithLedger(l Ledger) Option {
	return func(s *Scheduler) {
		s.ledger = l
	}
}

// WithIDs overrides task id generation.
func WithIDs(next func() string) Option {
	return func(s *Scheduler) {
		if next != nil {
			s.newID = next
		}
	}
}

// WithErrorHandler receives poll and ledger errors that do not stop the
// scheduler.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Scheduler) {
		s.onError = fn
	}
}

// Scheduler is the only component that submits exports. It keeps the number
// of pending plus running tasks at or below the quota and holds the rest in
// a FIFO backlog.
type Scheduler struct {
	service Service
	quota   int

	mu          sync.Mutex
	tasks       map[string]*Task
	order       []string
	payloads    map[string]*raster.Raster
	backlog     []string
	names       map[string]string
	outstanding int
	submitting  int
	highWater   int
	paused      bool

	hooks   Hooks
	ledger  Ledger
	now     func() time.Time
	newID   func() string
	onError func(error)
}

// New builds a scheduler bound to service.
func New(service Service, quota int, opts ...Option) (*Scheduler, error) {
	if service == nil {
		return nil, fmt.Errorf("export: service is required")
	}
	if quota < 1 {
		return nil, fmt.Errorf("export: quota must be at least 1, got %d", quota)
	}
	s := &Scheduler{
		service:  service,
		quota:    quota,
		tasks:    make(map[string]*Task),
		payloads: make(map[string]*raster.Raster),
		names:    make(map[string]string),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Quota returns the configured limit.
func (s *Scheduler) Quota() int {
	return s.quota
}

// Enqueue records a new task in the backlog. Nothing is submitted until the
// next Pump.
func (s *Scheduler) Enqueue(ctx context.Context, item Item) (Task, error) {
	if err := item.Destination.Validate(); err != nil {
		return Task{}, err
	}
	if item.Scale <= 0 {
		return Task{}, fmt.Errorf("export: scale must be positive for %s", item.Destination.Name())
	}
	if item.Raster == nil {
		return Task{}, fmt.Errorf("export: raster is required for %s", item.Destination.Name())
	}
	name := item.Destination.Name()

	s.mu.Lock()
	if prev, ok := s.names[name]; ok && !s.tasks[prev].Status.Terminal() {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("export: %s is already scheduled as %s", name, prev)
	}
	now := s.now()
	task := &Task{
		ID:          s.newID(),
		Destination: item.Destination,
		Name:        name,
		Path:        item.Destination.Path(),
		Scale:       item.Scale,
		Composite:   item.Composite,
		Status:      StatusQueued,
		Revision:    1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	s.payloads[task.ID] = item.Raster
	s.backlog = append(s.backlog, task.ID)
	s.names[name] = task.ID
	snapshot := *task
	s.mu.Unlock()

	s.emit(ctx, []Event{{Task: snapshot, From: ""}})
	return snapshot, nil
}

// Pump submits backlog tasks while the quota allows and returns how many the
// service accepted. A task stays queued, holding a reserved slot, until the
// service answers. A quota rejection from the service puts the task back at
// the head of the backlog and pauses submission until the next Poll.
func (s *Scheduler) Pump(ctx context.Context) (int, error) {
	accepted := 0
	for {
		if err := ctx.Err(); err != nil {
			return accepted, err
		}
		s.mu.Lock()
		if s.paused || s.outstanding+s.submitting >= s.quota || len(s.backlog) == 0 {
			s.mu.Unlock()
			return accepted, nil
		}
		id := s.backlog[0]
		s.backlog = s.backlog[1:]
		s.submitting++
		task := s.tasks[id]
		req := Request{TaskID: id, Name: task.Name, Path: task.Path, Scale: task.Scale, Raster: s.payloads[id]}
		s.mu.Unlock()

		handle, submitErr := s.service.Submit(ctx, req)

		s.mu.Lock()
		s.submitting--
		var events []Event
		var records []Task
		stop := false
		switch {
		case submitErr == nil:
			task.Handle = handle
			task.SubmittedAt = s.now()
			delete(s.payloads, id)
			ev, err := s.transitionLocked(task, StatusPending)
			if err != nil {
				s.mu.Unlock()
				return accepted, err
			}
			events = append(events, ev)
			accepted++
		case errors.Is(submitErr, ErrQuotaExceeded) || ctx.Err() != nil:
			task.Deferrals++
			s.touchLocked(task, task.Status)
			records = append(records, *task)
			s.backlog = append([]string{id}, s.backlog...)
			if errors.Is(submitErr, ErrQuotaExceeded) {
				s.paused = true
			}
			stop = true
		default:
			task.Error = "submit: " + submitErr.Error()
			delete(s.payloads, id)
			if ev, err := s.transitionLocked(task, StatusFailed); err == nil {
				events = append(events, ev)
			}
		}
		s.mu.Unlock()
		s.record(ctx, records)
		s.emit(ctx, events)
		if stop {
			return accepted, ctx.Err()
		}
	}
}

// Poll refreshes every submitted task from the service and resumes
// submission after a quota pause. It returns the number of tasks whose
// status changed. Poll failures leave the task untouched and are returned
// joined.
func (s *Scheduler) Poll(ctx context.Context) (int, error) {
	s.mu.Lock()
	s.paused = false
	type probe struct{ id, handle string }
	var probes []probe
	for _, id := range s.order {
		task := s.tasks[id]
		if task.Status.Outstanding() && task.Handle != "" {
			probes = append(probes, probe{id: id, handle: task.Handle})
		}
	}
	s.mu.Unlock()

	changed := 0
	var errs []error
	for _, p := range probes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		state, err := s.service.Poll(ctx, p.handle)
		if err != nil {
			errs = append(errs, fmt.Errorf("export: poll %s: %w", p.id, err))
			continue
		}
		s.mu.Lock()
		task := s.tasks[p.id]
		var events []Event
		if task.Status.Outstanding() && state.Status != task.Status &&
			(state.Status == StatusRunning || state.Status.Terminal()) {
			steps := []Status{state.Status}
			if task.Status == StatusPending && state.Status.Terminal() {
				steps = []Status{StatusRunning, state.Status}
			}
			if state.Status == StatusFailed {
				task.Error = state.Error
				if task.Error == "" {
					task.Error = "export service reported failure"
				}
			}
			for _, to := range steps {
				ev, err := s.transitionLocked(task, to)
				if err != nil {
					errs = append(errs, err)
					break
				}
				events = append(events, ev)
			}
			if len(events) > 0 {
				changed++
			}
		}
		s.mu.Unlock()
		s.emit(ctx, events)
	}
	return changed, errors.Join(errs...)
}

// Wait drives Pump and Poll every interval until the named tasks (or every
// task when none are named) reach a terminal state. Poll errors go to the
// error handler; only context cancellation ends Wait early.
func (s *Scheduler) Wait(ctx context.Context, interval time.Duration, ids ...string) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Pump(ctx); err != nil {
			return err
		}
		if s.settled(ids) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := s.Poll(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.reportError(err)
		}
	}
}

// Run drains the whole backlog.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	return s.Wait(ctx, interval)
}

func (s *Scheduler) settled(ids []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		return len(s.backlog) == 0 && s.outstanding == 0 && s.submitting == 0
	}
	for _, id := range ids {
		task, ok := s.tasks[id]
		if ok && !task.Status.Terminal() {
			return false
		}
	}
	return true
}

// Snapshot returns copies of every task in creation order.
func (s *Scheduler) Snapshot() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.tasks[id])
	}
	return out
}

// Task returns one task by id.
func (s *Scheduler) Task(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Outstanding is the current pending plus running count.
func (s *Scheduler) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// Queued is the backlog length.
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.backlog)
}

// HighWater is the largest outstanding count observed.
func (s *Scheduler) HighWater() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highWater
}

// Counts tallies tasks by status.
func (s *Scheduler) Counts() map[Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Status]int)
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	return counts
}

func (s *Scheduler) transitionLocked(task *Task, to Status) (Event, error) {
	from := task.Status
	if err := ValidateTransition(from, to); err != nil {
		return Event{}, fmt.Errorf("export: task %s: %w", task.ID, err)
	}
	switch {
	case from.Outstanding() && !to.Outstanding():
		s.outstanding--
	case !from.Outstanding() && to.Outstanding():
		s.outstanding++
		if s.outstanding > s.highWater {
			s.highWater = s.outstanding
		}
	}
	task.Status = to
	if to.Terminal() {
		task.FinishedAt = s.now()
	}
	return s.touchLocked(task, from), nil
}

func (s *Scheduler) touchLocked(task *Task, from Status) Event {
	task.Revision++
	task.UpdatedAt = s.now()
	return Event{Task: *task, From: from}
}

// record writes revision bumps that are not lifecycle transitions.
func (s *Scheduler) record(ctx context.Context, tasks []Task) {
	if s.ledger == nil {
		return
	}
	for _, task := range tasks {
		if err := s.ledger.Record(ctx, task); err != nil {
			s.reportError(fmt.Errorf("export: ledger: %w", err))
		}
	}
}

func (s *Scheduler) emit(ctx context.Context, events []Event) {
	for _, ev := range events {
		s.record(ctx, []Task{ev.Task})
		if s.hooks.OnTransition != nil {
			s.hooks.OnTransition(ctx, ev)
		}
		if ev.Task.Status.Terminal() && ev.From != ev.Task.Status && s.hooks.OnFinish != nil {
			s.hooks.OnFinish(ctx, ev)
		}
	}
}

func (s *Scheduler) reportError(err error) {
	if err != nil && s.onError != nil {
		s.onError(err)
	}
}
