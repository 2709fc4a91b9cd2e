package export

import (
	"context"
	"errors"

	"github.com/kingrea/reefcomp/internal/raster"
)

// ErrQuotaExceeded is returned by a Service that cannot accept more work.
// The scheduler treats it as backpressure, never as a task failure.
var ErrQuotaExceeded = errors.New("export: platform quota exceeded")

// ErrUnknownHandle is returned by Poll for handles the service never issued.
var ErrUnknownHandle = errors.New("export: unknown task handle")

// Request is what the scheduler hands to the export service.
type Request struct {
	TaskID string
	Name   string
	Path   string
	Scale  float64
	Raster *raster.Raster
}

// State is the service-side view of a submitted task.
type State struct {
	Status Status
	Error  string
}

// Service is the external export/storage platform. Submit must return without
// waiting for the export to finish; progress is observed through Poll.
type Service interface {
	Submit(ctx context.Context, req Request) (handle string, err error)
	Poll(ctx context.Context, handle string) (State, error)
}
