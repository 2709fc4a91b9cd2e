package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const metadataKey = "_reefcomp"

// Store manages manifest and report IO rooted at the composites directory.
type Store struct {
	root string
	now  func() time.Time
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for metadata timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = clock
	}
}

// NewStore builds a store writing under root.
func NewStore(root string, opts ...StoreOption) *Store {
	store := &Store{
		root: root,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Root returns the directory manifests are written to.
func (s *Store) Root() string {
	return s.root
}

// ManifestPath is where the manifest for region/reference lives. A newer
// composite for the same pair replaces the file.
func (s *Store) ManifestPath(region, reference string) string {
	return filepath.Join(s.root, baseName(region, reference)+".json")
}

// ReportPath is the markdown report beside the manifest.
func (s *Store) ReportPath(region, reference string) string {
	return filepath.Join(s.root, baseName(region, reference)+".md")
}

// WriteManifest persists m as JSON with a provenance block and a markdown
// report, and returns the manifest path.
func (s *Store) WriteManifest(m Manifest) (string, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	meta := m.Metadata().WithDefaults(s.now())
	if err := meta.Validate(); err != nil {
		return "", err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("artifact: encode manifest %s: %w", m.Handle, err)
	}
	path := s.ManifestPath(m.Region, m.Reference)
	if err := s.writeJSON(path, body, meta); err != nil {
		return "", err
	}
	if err := s.writeDocument(s.ReportPath(m.Region, m.Reference), []byte(RenderReport(m)), meta); err != nil {
		return "", err
	}
	return path, nil
}

// ReadManifest loads a manifest and its provenance block.
func (s *Store) ReadManifest(path string) (Manifest, Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, Metadata{}, err
	}
	meta, err := parseJSONMetadata(data)
	if err != nil {
		return Manifest{}, Metadata{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, Metadata{}, fmt.Errorf("artifact: parse manifest %s: %w", path, err)
	}
	if meta.ArtifactID != m.Handle {
		return Manifest{}, Metadata{}, fmt.Errorf("artifact: metadata id %s does not match %s", meta.ArtifactID, m.Handle)
	}
	return m, meta, nil
}

// List returns every readable manifest ordered by region then reference.
// Unreadable files are skipped.
func (s *Store) List() ([]Manifest, error) {
	paths, err := filepath.Glob(filepath.Join(s.root, "*.json"))
	if err != nil {
		return nil, err
	}
	var out []Manifest
	for _, path := range paths {
		m, _, err := s.ReadManifest(path)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Region != out[j].Region {
			return out[i].Region < out[j].Region
		}
		return out[i].Reference < out[j].Reference
	})
	return out, nil
}

// Check inspects an artifact on disk and returns its status and metadata.
func (s *Store) Check(path string) (CheckResult, error) {
	kind := KindDocument
	if strings.EqualFold(filepath.Ext(path), ".json") {
		kind = KindJSON
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CheckResult{Path: path, Kind: kind, State: StateMissing}, nil
		}
		return CheckResult{Path: path, Kind: kind, State: StateError, Err: err}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return CheckResult{Path: path, Kind: kind, State: StateError, Err: err}, err
	}
	var meta Metadata
	if kind == KindJSON {
		meta, err = parseJSONMetadata(data)
	} else {
		meta, _, err = ParseFrontMatter(data)
	}
	if err != nil {
		return CheckResult{Path: path, Kind: kind, State: StateInvalid, Err: err}, err
	}
	return CheckResult{Path: path, Kind: kind, State: StateReady, Metadata: &meta}, nil
}

func (s *Store) writeDocument(path string, body []byte, meta Metadata) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	content, err := WriteFrontMatter(meta, body)
	if err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

func (s *Store) writeJSON(path string, body []byte, meta Metadata) error {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("artifact: invalid json body for %s: %w", meta.ArtifactID, err)
	}
	payload[metadataKey] = metadataToJSON(meta)
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: encode json for %s: %w", meta.ArtifactID, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, encoded, 0o644)
}

// RenderReport summarises a manifest as markdown.
func RenderReport(m Manifest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s (%s)\n\n", m.Region, m.Reference)
	fmt.Fprintf(&b, "- composite: %s\n", m.Handle)
	fmt.Fprintf(&b, "- scenes: %d", len(m.Scenes))
	if len(m.Excluded) > 0 {
		fmt.Fprintf(&b, " (%d excluded)", len(m.Excluded))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "- reducer: %s\n", m.Reducer)
	fmt.Fprintf(&b, "- holes: %.1f%%\n", m.HoleFraction*100)
	fmt.Fprintf(&b, "- sunglint corrected: %t, brightness adjusted: %t\n\n", m.Deglinted, m.Normalized)
	b.WriteString("| grade | scale | task | note |\n|---|---|---|---|\n")
	for _, p := range m.Products {
		note := p.Artifact
		if p.Error != "" {
			note = "failed: " + p.Error
		}
		fmt.Fprintf(&b, "| %s | %g | %s | %s |\n", p.Grade, p.Scale, p.TaskID, note)
	}
	return b.String()
}

func baseName(region, reference string) string {
	return strings.Join(strings.Fields(region), "-") + "_" + reference
}

func parseJSONMetadata(data []byte) (Metadata, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return Metadata{}, fmt.Errorf("artifact: parse json metadata: %w", err)
	}
	raw, ok := payload[metadataKey]
	if !ok {
		return Metadata{}, fmt.Errorf("artifact: missing %s metadata", metadataKey)
	}
	metaMap, ok := raw.(map[string]any)
	if !ok {
		return Metadata{}, fmt.Errorf("artifact: invalid %s metadata structure", metadataKey)
	}
	return metadataFromMap(metaMap)
}

func metadataToJSON(meta Metadata) map[string]any {
	result := map[string]any{
		"artifact":  meta.ArtifactID,
		"component": meta.Component,
		"version":   meta.Version,
		"region":    meta.Region,
		"reference": meta.Reference,
		"inputs":    append([]string{}, meta.Inputs...),
		"created":   meta.CreatedAt.UTC().Format(timeLayout),
	}
	if meta.Checksum != "" {
		result["checksum"] = meta.Checksum
	}
	if len(meta.Notes) > 0 {
		result["notes"] = cloneNotes(meta.Notes)
	}
	return result
}

func metadataFromMap(values map[string]any) (Metadata, error) {
	artifactID := stringValue(values["artifact"])
	component := stringValue(values["component"])
	version := stringValue(values["version"])
	if artifactID == "" || component == "" || version == "" {
		return Metadata{}, fmt.Errorf("artifact: incomplete metadata")
	}
	created := stringValue(values["created"])
	if created == "" {
		return Metadata{}, fmt.Errorf("artifact: metadata missing created timestamp")
	}
	timeValue, err := parseTime(created)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		ArtifactID: artifactID,
		Component:  component,
		Version:    version,
		Region:     stringValue(values["region"]),
		Reference:  stringValue(values["reference"]),
		Inputs:     sliceStringValue(values["inputs"]),
		CreatedAt:  timeValue,
		Checksum:   stringValue(values["checksum"]),
		Notes:      mapStringValue(values["notes"]),
	}, nil
}

func stringValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func sliceStringValue(value any) []string {
	arr, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s := stringValue(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func mapStringValue(value any) map[string]string {
	raw, ok := value.(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s := stringValue(v); s != "" {
			out[k] = s
		}
	}
	return out
}
