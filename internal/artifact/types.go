// Package artifact persists composite manifests and reports under the
// project's .reefcomp/composites tree. Every artifact carries a provenance
// block naming the composite handle, its inputs and its fingerprint.

package artifact

import (
	"fmt"
	"time"
)

// Kind captures the storage shape and serialization format for an artifact.
type Kind string

const (
	// KindDocument represents a markdown report with YAML frontmatter.
	KindDocument Kind = "document"
	// KindJSON represents a JSON document enriched with a _reefcomp metadata block.
	KindJSON Kind = "json"
)

// Metadata captures provenance stored inside artifact frontmatter or metadata blocks.
type Metadata struct {
	ArtifactID string
	Component  string
	Version    string
	Region     string
	Reference  string
	Inputs     []string
	CreatedAt  time.Time
	Checksum   string
	Notes      map[string]string
}

// WithDefaults ensures metadata carries a version and timestamp.
func (m Metadata) WithDefaults(now time.Time) Metadata {
	clone := m
	if clone.Version == "" {
		clone.Version = "1"
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now.UTC()
	} else {
		clone.CreatedAt = clone.CreatedAt.UTC()
	}
	return clone
}

// Validate ensures metadata identifies what produced the artifact.
func (m Metadata) Validate() error {
	if m.ArtifactID == "" {
		return fmt.Errorf("artifact: metadata missing artifact id")
	}
	if m.Component == "" {
		return fmt.Errorf("artifact: component is required for %s", m.ArtifactID)
	}
	if m.Region == "" || m.Reference == "" {
		return fmt.Errorf("artifact: region and reference are required for %s", m.ArtifactID)
	}
	return nil
}

// State captures the readiness of an artifact on disk.
type State string

const (
	StateMissing State = "missing"
	StateReady   State = "ready"
	StateInvalid State = "invalid"
	StateError   State = "error"
)

// CheckResult captures Store.Check results.
type CheckResult struct {
	Path     string
	Kind     Kind
	State    State
	Metadata *Metadata
	Err      error
}

// Product records what happened to one colour grade of a composite.
type Product struct {
	Grade    string  `json:"grade"`
	Scale    float64 `json:"scale"`
	Layer    string  `json:"layer,omitempty"`
	TaskID   string  `json:"task_id,omitempty"`
	Artifact string  `json:"artifact,omitempty"`
	Preview  string  `json:"preview,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Manifest describes one composite and its products.
type Manifest struct {
	Handle       string    `json:"handle"`
	Region       string    `json:"region"`
	Reference    string    `json:"reference"`
	Scenes       []string  `json:"scenes"`
	Excluded     []string  `json:"excluded,omitempty"`
	Reducer      string    `json:"reducer"`
	HoleFraction float64   `json:"hole_fraction"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Scale        float64   `json:"scale"`
	Fingerprint  string    `json:"fingerprint"`
	Deglinted    bool      `json:"sunglint_corrected"`
	Normalized   bool      `json:"brightness_adjusted"`
	Products     []Product `json:"products"`
	CreatedAt    time.Time `json:"created_at"`
}

// Metadata derives the provenance block for m.
func (m Manifest) Metadata() Metadata {
	return Metadata{
		ArtifactID: m.Handle,
		Component:  "compositor",
		Region:     m.Region,
		Reference:  m.Reference,
		Inputs:     append([]string{}, m.Scenes...),
		CreatedAt:  m.CreatedAt,
		Checksum:   m.Fingerprint,
		Notes:      map[string]string{"reducer": m.Reducer},
	}
}
