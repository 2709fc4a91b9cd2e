package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kingrea/reefcomp/internal/raster"
)

// textEncoder writes the band names, optionally blocking until released.
type textEncoder struct {
	release chan struct{}
	fail    bool
	mu      sync.Mutex
	paths   []string
}

func (e *textEncoder) Extension() string { return ".txt" }

func (e *textEncoder) Encode(path string, r *raster.Raster) error {
	if e.release != nil {
		<-e.release
	}
	if e.fail {
		return errors.New("encoder unavailable")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	e.mu.Lock()
	e.paths = append(e.paths, path)
	e.mu.Unlock()
	return os.WriteFile(path, []byte(r.Bands[0]), 0o644)
}

func waitState(t *testing.T, svc *LocalService, handle string, want Status) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state, err := svc.Poll(context.Background(), handle)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if state.Status == want {
			return state
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("handle %s never reached %s", handle, want)
	return State{}
}

func TestLocalServiceWritesArtifacts(t *testing.T) {
	root := t.TempDir()
	enc := &textEncoder{}
	svc, err := NewLocalService(root, enc, 2, 4)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer svc.Close()
	r, _ := raster.New(1, 1, []string{"red"})
	handle, err := svc.Submit(context.Background(), Request{TaskID: "t1", Name: "n", Path: "folder/CS_R1_Boot-Reef_Primary_Land", Scale: 10, Raster: r})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitState(t, svc, handle, StatusSucceeded)
	want := filepath.Join(root, "folder", "CS_R1_Boot-Reef_Primary_Land.txt")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "red" {
		t.Fatalf("artifact = %q", data)
	}
	if _, err := svc.Poll(context.Background(), "missing"); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("expected unknown handle, got %v", err)
	}
}

func TestLocalServiceRejectsBeyondLimit(t *testing.T) {
	enc := &textEncoder{release: make(chan struct{})}
	svc, err := NewLocalService(t.TempDir(), enc, 1, 1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r, _ := raster.New(1, 1, []string{"b"})
	ctx := context.Background()
	first, err := svc.Submit(ctx, Request{Name: "a", Path: "a", Raster: r})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Submit(ctx, Request{Name: "b", Path: "b", Raster: r}); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	close(enc.release)
	waitState(t, svc, first, StatusSucceeded)
	if _, err := svc.Submit(ctx, Request{Name: "b", Path: "b", Raster: r}); err != nil {
		t.Fatalf("submit after drain: %v", err)
	}
	svc.Close()
}

func TestLocalServiceReportsEncoderFailure(t *testing.T) {
	svc, err := NewLocalService(t.TempDir(), &textEncoder{fail: true}, 1, 2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer svc.Close()
	r, _ := raster.New(1, 1, []string{"b"})
	handle, err := svc.Submit(context.Background(), Request{Name: "a", Path: "a", Raster: r})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	state := waitState(t, svc, handle, StatusFailed)
	if state.Error != "encoder unavailable" {
		t.Fatalf("error = %q", state.Error)
	}
}

func TestSchedulerDrivesLocalService(t *testing.T) {
	root := t.TempDir()
	svc, err := NewLocalService(root, &textEncoder{}, 2, 2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer svc.Close()
	sched, err := New(svc, 3)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, g := range []string{"DryReef", "Depth5m", "Depth10m", "Breaking", "Land"} {
		if _, err := sched.Enqueue(ctx, testItem(t, "Osprey Reef", g)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := sched.Run(ctx, time.Millisecond); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, task := range sched.Snapshot() {
		if task.Status != StatusSucceeded {
			t.Fatalf("%s ended %s (%s)", task.Name, task.Status, task.Error)
		}
		if _, err := os.Stat(svc.OutputPath(task.Path)); err != nil {
			t.Fatalf("artifact %s: %v", task.Path, err)
		}
	}
	if sched.HighWater() > 3 {
		t.Fatalf("high water %d exceeds quota", sched.HighWater())
	}
}
