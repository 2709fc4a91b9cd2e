// Package export schedules export jobs for rendered colour-grade products
// under a global concurrency quota.
package export

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/kingrea/reefcomp/internal/composite"
)

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusQueued tasks wait in the scheduler backlog and have not been
	// handed to the export service. They do not count against the quota.
	StatusQueued    Status = "queued"
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Outstanding reports whether the status counts against the quota.
func (s Status) Outstanding() bool {
	return s == StatusPending || s == StatusRunning
}

// ErrInvalidTransition is returned for transitions outside the lifecycle.
var ErrInvalidTransition = errors.New("export: invalid status transition")

var allowedTransitions = map[Status][]Status{
	StatusQueued:  {StatusPending, StatusFailed},
	StatusPending: {StatusRunning},
	StatusRunning: {StatusSucceeded, StatusFailed},
}

// ValidateTransition checks a status change against the lifecycle table.
// Queued may fail directly only when the platform refused the submission.
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Destination addresses one export artifact.
type Destination struct {
	Folder    string              `json:"folder" bson:"folder"`
	Basename  string              `json:"basename" bson:"basename"`
	Region    string              `json:"region" bson:"region"`
	Reference composite.Reference `json:"reference" bson:"reference"`
	Grade     string              `json:"grade" bson:"grade"`
}

// Slug makes a region name safe for artifact names.
func Slug(region string) string {
	return strings.Join(strings.Fields(region), "-")
}

// Name is {basename}_{region}_{tier}_{grade}.
func (d Destination) Name() string {
	return fmt.Sprintf("%s_%s_%s_%s", d.Basename, Slug(d.Region), d.Reference, d.Grade)
}

// Path joins the folder and the artifact name.
func (d Destination) Path() string {
	if d.Folder == "" {
		return d.Name()
	}
	return path.Join(d.Folder, d.Name())
}

// Validate ensures every naming component is present.
func (d Destination) Validate() error {
	switch {
	case strings.TrimSpace(d.Basename) == "":
		return fmt.Errorf("export: basename is required")
	case strings.TrimSpace(d.Region) == "":
		return fmt.Errorf("export: region is required")
	case d.Reference == "":
		return fmt.Errorf("export: reference tier is required")
	case strings.TrimSpace(d.Grade) == "":
		return fmt.Errorf("export: grade is required")
	}
	return nil
}

// Task is the serialisable record of one export.
type Task struct {
	ID          string      `json:"id" bson:"_id"`
	Destination Destination `json:"destination" bson:"destination"`
	Name        string      `json:"name" bson:"name"`
	Path        string      `json:"path" bson:"path"`
	Scale       float64     `json:"scale" bson:"scale"`
	Composite   string      `json:"composite,omitempty" bson:"composite,omitempty"`
	Status      Status      `json:"status" bson:"status"`
	Handle      string      `json:"handle,omitempty" bson:"handle,omitempty"`
	Error       string      `json:"error,omitempty" bson:"error,omitempty"`
	Deferrals   int         `json:"deferrals,omitempty" bson:"deferrals,omitempty"`
	// Revision increases on every transition so ledgers can discard stale
	// writes.
	Revision    int       `json:"revision" bson:"revision"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	SubmittedAt time.Time `json:"submitted_at,omitempty" bson:"submitted_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty" bson:"finished_at,omitempty"`
}

// TaskFailedError reports a task that failed downstream.
type TaskFailedError struct {
	TaskID string
	Name   string
	Reason string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("export: task %s (%s) failed: %s", e.TaskID, e.Name, e.Reason)
}

// Failure returns a TaskFailedError for failed tasks and nil otherwise.
func (t Task) Failure() error {
	if t.Status != StatusFailed {
		return nil
	}
	return &TaskFailedError{TaskID: t.ID, Name: t.Name, Reason: t.Error}
}
