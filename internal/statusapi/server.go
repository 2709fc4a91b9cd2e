// Package statusapi serves a read-only HTTP view of export progress and
// composite manifests.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/kingrea/reefcomp/internal/artifact"
	"github.com/kingrea/reefcomp/internal/export"
)

// ProtocolVersion identifies the status contract exposed via /health.
const ProtocolVersion = "1.0.0"

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

var errServerDisabled = errors.New("statusapi: server disabled")

// Logger matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// TaskSource is the scheduler view the server reads.
type TaskSource interface {
	Snapshot() []export.Task
	Task(id string) (export.Task, bool)
	Counts() map[export.Status]int
	Quota() int
	Outstanding() int
	Queued() int
	HighWater() int
}

// ManifestSource lists composite manifests and checks their reports.
type ManifestSource interface {
	List() ([]artifact.Manifest, error)
	ReportPath(region, reference string) string
	Check(path string) (artifact.CheckResult, error)
}

// compositeView is a manifest plus the state of its markdown report.
type compositeView struct {
	artifact.Manifest
	Report reportView `json:"report"`
}

type reportView struct {
	Path  string         `json:"path"`
	State artifact.State `json:"state"`
	Error string         `json:"error,omitempty"`
}

// Server wraps the HTTP listener and handlers.
type Server struct {
	settings  Settings
	tasks     TaskSource
	manifests ManifestSource
	feed      *Feed
	logger    Logger
	clock     func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithManifests exposes composite manifests under /api/composites.
func WithManifests(m ManifestSource) Option {
	return func(s *Server) { s.manifests = m }
}

// WithFeed exposes task transitions under /api/events.
func WithFeed(f *Feed) Option {
	return func(s *Server) { s.feed = f }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a status server reading from tasks.
func NewServer(settings Settings, tasks TaskSource, opts ...Option) *Server {
	settings.normalize()
	s := &Server{
		settings: settings,
		tasks:    tasks,
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routed handler. It is usable without Start.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.settings.AllowedOrigins,
		AllowedMethods: []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Get("/health", s.handleHealth)
	r.Route("/api", func(api chi.Router) {
		api.Get("/summary", s.handleSummary)
		api.Route("/tasks", func(tr chi.Router) {
			tr.Get("/", s.handleListTasks)
			tr.Get("/{id}", s.handleGetTask)
		})
		api.Get("/events", s.handleEvents)
		api.Route("/composites", func(cr chi.Router) {
			cr.Get("/", s.handleListComposites)
			cr.Get("/{region}", s.handleRegionComposites)
		})
	})
	return r
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("statusapi: server is nil")
	}
	if !s.settings.Enabled {
		return errServerDisabled
	}
	if s.tasks == nil {
		return fmt.Errorf("statusapi: task source is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("statusapi: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("statusapi: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.settings.ReadHeaderTimeout,
		WriteTimeout:      s.settings.WriteTimeout,
		IdleTimeout:       s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("statusapi: serve error: %v", err)
		}
	}()
	s.logger.Printf("statusapi: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock().Sub(s.startTime).Seconds())
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type summaryResponse struct {
	Quota       int                   `json:"quota"`
	Outstanding int                   `json:"outstanding"`
	Queued      int                   `json:"queued"`
	HighWater   int                   `json:"high_water"`
	Counts      map[export.Status]int `json:"counts"`
}

type eventsResponse struct {
	Events []TaskEvent `json:"events"`
	Next   int64       `json:"next"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		Version:       ProtocolVersion,
		UptimeSeconds: s.uptimeSeconds(),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, summaryResponse{
		Quota:       s.tasks.Quota(),
		Outstanding: s.tasks.Outstanding(),
		Queued:      s.tasks.Queued(),
		HighWater:   s.tasks.HighWater(),
		Counts:      s.tasks.Counts(),
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.tasks.Snapshot()
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		filtered := make([]export.Task, 0, len(tasks))
		for _, t := range tasks {
			if strings.EqualFold(string(t.Status), raw) {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	if region := strings.TrimSpace(r.URL.Query().Get("region")); region != "" {
		filtered := make([]export.Task, 0, len(tasks))
		for _, t := range tasks {
			if strings.EqualFold(t.Destination.Region, region) {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := s.tasks.Task(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "event feed disabled"})
		return
	}
	var since int64
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be a non-negative integer"})
			return
		}
		since = parsed
	}
	events := s.feed.Since(since)
	next := since
	if len(events) > 0 {
		next = events[len(events)-1].Sequence
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events, Next: next})
}

func (s *Server) handleListComposites(w http.ResponseWriter, r *http.Request) {
	views, ok := s.listComposites(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRegionComposites(w http.ResponseWriter, r *http.Request) {
	views, ok := s.listComposites(w)
	if !ok {
		return
	}
	region := chi.URLParam(r, "region")
	out := make([]compositeView, 0, 2)
	for _, v := range views {
		if strings.EqualFold(v.Region, region) || strings.EqualFold(export.Slug(v.Region), region) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no composites for region"})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listComposites(w http.ResponseWriter) ([]compositeView, bool) {
	if s.manifests == nil {
		writeJSON(w, http.StatusOK, []compositeView{})
		return nil, false
	}
	manifests, err := s.manifests.List()
	if err != nil {
		s.logger.Printf("statusapi: list manifests: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "manifests unavailable"})
		return nil, false
	}
	views := make([]compositeView, 0, len(manifests))
	for _, m := range manifests {
		check, err := s.manifests.Check(s.manifests.ReportPath(m.Region, m.Reference))
		report := reportView{Path: check.Path, State: check.State}
		if err != nil {
			report.Error = err.Error()
		}
		views = append(views, compositeView{Manifest: m, Report: report})
	}
	return views, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
