package export

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/kingrea/reefcomp/internal/raster"
)

// Encoder writes a raster to a file.
type Encoder interface {
	Extension() string
	Encode(path string, r *raster.Raster) error
}

// LocalService is a filesystem export platform. Exports run on a fixed worker
// pool and the service rejects submissions beyond its own in-flight limit
// with ErrQuotaExceeded, as a remote platform would.
type LocalService struct {
	root    string
	encoder Encoder
	limit   int

	mu       sync.Mutex
	states   map[string]State
	inflight int
	closed   bool

	jobs chan localJob
	wg   sync.WaitGroup
	once sync.Once
}

type localJob struct {
	handle string
	req    Request
}

// NewLocalService starts workers writing under root.
func NewLocalService(root string, encoder Encoder, workers, limit int) (*LocalService, error) {
	if root == "" {
		return nil, fmt.Errorf("export: local service root is required")
	}
	if encoder == nil {
		return nil, fmt.Errorf("export: encoder is required")
	}
	if workers < 1 {
		workers = 1
	}
	if limit < 1 {
		return nil, fmt.Errorf("export: platform limit must be at least 1")
	}
	svc := &LocalService{
		root:    root,
		encoder: encoder,
		limit:   limit,
		states:  make(map[string]State),
		jobs:    make(chan localJob, limit),
	}
	svc.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go svc.worker()
	}
	return svc, nil
}

// Submit implements Service.
func (s *LocalService) Submit(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Raster == nil {
		return "", fmt.Errorf("export: %s has no raster", req.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("export: local service is closed")
	}
	if s.inflight >= s.limit {
		return "", ErrQuotaExceeded
	}
	handle := uuid.NewString()
	s.states[handle] = State{Status: StatusPending}
	s.inflight++
	// Capacity equals limit, so this send never blocks while inflight <= limit.
	s.jobs <- localJob{handle: handle, req: req}
	return handle, nil
}

// Poll implements Service.
func (s *LocalService) Poll(ctx context.Context, handle string) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[handle]
	if !ok {
		return State{}, ErrUnknownHandle
	}
	return state, nil
}

// OutputPath returns where an artifact path is written.
func (s *LocalService) OutputPath(artifact string) string {
	return filepath.Join(s.root, filepath.FromSlash(artifact)) + s.encoder.Extension()
}

// Close stops accepting work and waits for running exports.
func (s *LocalService) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.jobs)
		s.mu.Unlock()
		s.wg.Wait()
	})
}

func (s *LocalService) worker() {
	defer s.wg.Done()
	for job := range s.jobs {
		s.set(job.handle, State{Status: StatusRunning}, false)
		err := s.encoder.Encode(s.OutputPath(job.req.Path), job.req.Raster)
		if err != nil {
			s.set(job.handle, State{Status: StatusFailed, Error: err.Error()}, true)
			continue
		}
		s.set(job.handle, State{Status: StatusSucceeded}, true)
	}
}

func (s *LocalService) set(handle string, state State, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[handle] = state
	if done {
		s.inflight--
	}
}
