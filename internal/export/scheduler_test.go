package export

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kingrea/reefcomp/internal/composite"
	"github.com/kingrea/reefcomp/internal/raster"
)

// stubService advances every task one step per poll and can reject
// submissions beyond its own limit.
type stubService struct {
	mu       sync.Mutex
	limit    int
	fail     map[string]bool
	states   map[string]State
	names    map[string]string
	live     int
	maxLive  int
	submits  int
	rejected int
}

func newStubService(limit int) *stubService {
	return &stubService{
		limit:  limit,
		fail:   map[string]bool{},
		states: map[string]State{},
		names:  map[string]string{},
	}
}

func (s *stubService) Submit(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && s.live >= s.limit {
		s.rejected++
		return "", ErrQuotaExceeded
	}
	s.submits++
	handle := fmt.Sprintf("h-%d", s.submits)
	s.states[handle] = State{Status: StatusPending}
	s.names[handle] = req.Name
	s.live++
	if s.live > s.maxLive {
		s.maxLive = s.live
	}
	return handle, nil
}

func (s *stubService) Poll(ctx context.Context, handle string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[handle]
	if !ok {
		return State{}, ErrUnknownHandle
	}
	switch state.Status {
	case StatusPending:
		state.Status = StatusRunning
	case StatusRunning:
		if s.fail[s.names[handle]] {
			state = State{Status: StatusFailed, Error: "disk full"}
		} else {
			state.Status = StatusSucceeded
		}
		s.live--
	}
	s.states[handle] = state
	return state, nil
}

func testItem(t *testing.T, region, grade string) Item {
	t.Helper()
	r, err := raster.New(1, 1, []string{"mask"})
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	return Item{
		Destination: Destination{
			Folder:    "EnvCommonsAIMS",
			Basename:  "CS_AIMS_Coral-Sea-Features_Img_S2_R1",
			Region:    region,
			Reference: composite.Primary,
			Grade:     grade,
		},
		Scale:  5,
		Raster: r,
	}
}

func TestDestinationNaming(t *testing.T) {
	d := Destination{Folder: "out", Basename: "CS_R1", Region: "Boot Reef", Reference: composite.Secondary, Grade: "DryReef"}
	if d.Name() != "CS_R1_Boot-Reef_Secondary_DryReef" {
		t.Fatalf("name = %q", d.Name())
	}
	if d.Path() != "out/CS_R1_Boot-Reef_Secondary_DryReef" {
		t.Fatalf("path = %q", d.Path())
	}
	if err := (Destination{Basename: "x"}).Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidateTransition(t *testing.T) {
	if err := ValidateTransition(StatusQueued, StatusPending); err != nil {
		t.Fatalf("queued->pending: %v", err)
	}
	if err := ValidateTransition(StatusSucceeded, StatusRunning); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := ValidateTransition(StatusFailed, StatusPending); err == nil {
		t.Fatalf("failed tasks must never be resubmitted")
	}
	for _, to := range []Status{StatusSucceeded, StatusFailed, StatusQueued} {
		if err := ValidateTransition(StatusPending, to); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("pending->%s must pass through running, got %v", to, err)
		}
	}
}

// instantService finishes every export before it is first polled.
type instantService struct {
	submitErr error
}

func (s instantService) Submit(ctx context.Context, req Request) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return "h-" + req.TaskID, nil
}

func (s instantService) Poll(ctx context.Context, handle string) (State, error) {
	return State{Status: StatusSucceeded}, nil
}

func TestFastExportStillRecordsRunning(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	sched, err := New(instantService{}, 1, WithHooks(Hooks{OnTransition: func(_ context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, fmt.Sprintf("%s->%s", ev.From, ev.Task.Status))
	}}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	task, err := sched.Enqueue(ctx, testItem(t, "Flinders Reef", "DryReef"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := sched.Pump(ctx); err != nil {
		t.Fatalf("pump: %v", err)
	}
	changed, err := sched.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	want := "->queued queued->pending pending->running running->succeeded"
	if got := strings.Join(seen, " "); got != want {
		t.Fatalf("transitions = %q, want %q", got, want)
	}
	final, _ := sched.Task(task.ID)
	if final.Status != StatusSucceeded || sched.Outstanding() != 0 {
		t.Fatalf("task = %s outstanding = %d", final.Status, sched.Outstanding())
	}
}

func TestSubmitFailureIsLabelled(t *testing.T) {
	var seen []string
	svc := instantService{submitErr: errors.New("bucket not writable")}
	sched, err := New(svc, 2, WithHooks(Hooks{OnTransition: func(_ context.Context, ev Event) {
		seen = append(seen, fmt.Sprintf("%s->%s", ev.From, ev.Task.Status))
	}}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	task, err := sched.Enqueue(ctx, testItem(t, "Flinders Reef", "Land"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if accepted, err := sched.Pump(ctx); err != nil || accepted != 0 {
		t.Fatalf("pump accepted=%d err=%v", accepted, err)
	}
	failed, _ := sched.Task(task.ID)
	if failed.Status != StatusFailed || failed.Error != "submit: bucket not writable" {
		t.Fatalf("task = %s %q", failed.Status, failed.Error)
	}
	if got := strings.Join(seen, " "); got != "->queued queued->failed" {
		t.Fatalf("transitions = %q", got)
	}
	if sched.Outstanding() != 0 || sched.HighWater() != 0 {
		t.Fatalf("outstanding = %d high water = %d", sched.Outstanding(), sched.HighWater())
	}
}

func TestBackpressureNeverExceedsQuota(t *testing.T) {
	const quota = 7
	svc := newStubService(0)
	var mu sync.Mutex
	maxSeen := 0
	var sched *Scheduler
	sched, err := New(svc, quota, WithHooks(Hooks{OnTransition: func(_ context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if n := sched.Outstanding(); n > maxSeen {
			maxSeen = n
		}
	}}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	grades := []string{"DryReef", "Depth5m", "Depth10m", "Breaking", "Land"}
	ctx := context.Background()
	for region := 0; region < 155; region++ {
		for _, g := range grades {
			if _, err := sched.Enqueue(ctx, testItem(t, fmt.Sprintf("Region %d", region), g)); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
		}
		if _, err := sched.Pump(ctx); err != nil {
			t.Fatalf("pump: %v", err)
		}
		if _, err := sched.Poll(ctx); err != nil {
			t.Fatalf("poll: %v", err)
		}
	}
	if err := sched.Run(ctx, time.Millisecond); err != nil {
		t.Fatalf("run: %v", err)
	}
	if svc.maxLive > quota {
		t.Fatalf("service saw %d concurrent tasks, quota %d", svc.maxLive, quota)
	}
	if sched.HighWater() > quota || maxSeen > quota {
		t.Fatalf("high water %d / observed %d exceeds quota %d", sched.HighWater(), maxSeen, quota)
	}
	if sched.HighWater() != quota {
		t.Fatalf("high water = %d, expected the quota to be saturated", sched.HighWater())
	}
	counts := sched.Counts()
	if counts[StatusSucceeded] != 155*len(grades) {
		t.Fatalf("succeeded = %d, want %d", counts[StatusSucceeded], 155*len(grades))
	}
}

func TestQuotaRejectionRequeuesAtHead(t *testing.T) {
	svc := newStubService(2)
	sched, err := New(svc, 5)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	var ids []string
	for _, g := range []string{"A", "B", "C", "D"} {
		task, err := sched.Enqueue(ctx, testItem(t, "Boot Reef", g))
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		ids = append(ids, task.ID)
	}
	accepted, err := sched.Pump(ctx)
	if err != nil {
		t.Fatalf("pump: %v", err)
	}
	if accepted != 2 {
		t.Fatalf("accepted = %d, want 2", accepted)
	}
	third, _ := sched.Task(ids[2])
	if third.Status != StatusQueued || third.Deferrals != 1 {
		t.Fatalf("third task = %+v, want queued with one deferral", third)
	}
	if sched.Outstanding() != 2 || sched.Queued() != 2 {
		t.Fatalf("outstanding=%d queued=%d", sched.Outstanding(), sched.Queued())
	}
	// Paused until the next poll even though local quota has room.
	if accepted, _ := sched.Pump(ctx); accepted != 0 {
		t.Fatalf("pump while paused accepted %d", accepted)
	}
	if err := sched.Run(ctx, time.Millisecond); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, task := range sched.Snapshot() {
		if task.Status != StatusSucceeded {
			t.Fatalf("task %s ended %s", task.Name, task.Status)
		}
	}
	if svc.rejected == 0 {
		t.Fatalf("expected the service to reject at least once")
	}
}

func TestFailedTaskIsReportedNotRetried(t *testing.T) {
	svc := newStubService(0)
	var finished []Event
	var mu sync.Mutex
	sched, err := New(svc, 3, WithHooks(Hooks{OnFinish: func(_ context.Context, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		finished = append(finished, ev)
	}}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	bad := testItem(t, "Boot Reef", "Land")
	svc.fail[bad.Destination.Name()] = true
	badTask, err := sched.Enqueue(ctx, bad)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := sched.Enqueue(ctx, testItem(t, "Boot Reef", "DryReef")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := sched.Run(ctx, time.Millisecond); err != nil {
		t.Fatalf("run: %v", err)
	}
	task, _ := sched.Task(badTask.ID)
	var failed *TaskFailedError
	if !errors.As(task.Failure(), &failed) || failed.Reason != "disk full" {
		t.Fatalf("failure = %v", task.Failure())
	}
	if svc.submits != 2 {
		t.Fatalf("submits = %d, failed task must not be resubmitted", svc.submits)
	}
	if len(finished) != 2 {
		t.Fatalf("finish hooks = %d, want 2", len(finished))
	}
}

func TestEnqueueRejectsDuplicateLiveName(t *testing.T) {
	sched, err := New(newStubService(0), 1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if _, err := sched.Enqueue(ctx, testItem(t, "Boot Reef", "Land")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := sched.Enqueue(ctx, testItem(t, "Boot Reef", "Land")); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestWaitHonoursCancellation(t *testing.T) {
	svc := newStubService(0)
	sched, err := New(svc, 1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := sched.Enqueue(context.Background(), testItem(t, "Boot Reef", "Land")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := sched.Wait(ctx, time.Hour); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestFileLedgerKeepsLatestRevision(t *testing.T) {
	ledger := NewFileLedger(filepath.Join(t.TempDir(), "state", "tasks.jsonl"))
	svc := newStubService(0)
	sched, err := New(svc, 2, WithLedger(ledger))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	for _, g := range []string{"DryReef", "Land"} {
		if _, err := sched.Enqueue(ctx, testItem(t, "Calder Bank", g)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := sched.Run(ctx, time.Millisecond); err != nil {
		t.Fatalf("run: %v", err)
	}
	tasks, err := ledger.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("ledger tasks = %d, want 2", len(tasks))
	}
	for _, task := range tasks {
		if task.Status != StatusSucceeded || task.Handle == "" {
			t.Fatalf("ledger task = %+v", task)
		}
		if !strings.Contains(task.Name, "Calder-Bank_Primary") {
			t.Fatalf("name = %q", task.Name)
		}
	}
	// A stale record appended later must not win.
	stale := tasks[0]
	stale.Status = StatusPending
	stale.Revision = 1
	if err := ledger.Record(ctx, stale); err != nil {
		t.Fatalf("record: %v", err)
	}
	reloaded, err := ledger.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, task := range reloaded {
		if task.Status != StatusSucceeded {
			t.Fatalf("stale revision replaced latest: %+v", task)
		}
	}
}
