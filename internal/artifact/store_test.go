package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func sampleManifest() Manifest {
	return Manifest{
		Handle:      "c-1",
		Region:      "Boot Reef",
		Reference:   "Primary",
		Scenes:      []string{"COPERNICUS/S2/20190115T004709_20190115T004705_T55LBK"},
		Excluded:    []string{"COPERNICUS/S2/missing"},
		Reducer:     "quality-weighted",
		Width:       4,
		Height:      2,
		Scale:       10,
		Fingerprint: "abc123",
		Deglinted:   true,
		Products: []Product{
			{Grade: "DryReef", Scale: 5, TaskID: "t-1", Artifact: "out/CS_R1_Boot-Reef_Primary_DryReef"},
			{Grade: "Slope", Scale: 30, Error: "boom"},
		},
	}
}

func TestWriteManifestRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir(), WithClock(fixedClock))
	path, err := store.WriteManifest(sampleManifest())
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(path) != "Boot-Reef_Primary.json" {
		t.Fatalf("path = %s", path)
	}
	m, meta, err := store.ReadManifest(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if m.Handle != "c-1" || len(m.Products) != 2 || !m.CreatedAt.Equal(fixedClock()) {
		t.Fatalf("manifest = %+v", m)
	}
	if meta.Checksum != "abc123" || meta.Component != "compositor" || meta.Notes["reducer"] != "quality-weighted" {
		t.Fatalf("metadata = %+v", meta)
	}
	check, err := store.Check(store.ReportPath("Boot Reef", "Primary"))
	if err != nil {
		t.Fatalf("check report: %v", err)
	}
	if check.State != StateReady || check.Metadata.ArtifactID != "c-1" {
		t.Fatalf("report check = %+v", check)
	}
	data, _ := os.ReadFile(store.ReportPath("Boot Reef", "Primary"))
	if !strings.Contains(string(data), "failed: boom") {
		t.Fatalf("report body missing failure:\n%s", data)
	}
}

func TestManifestReplacedWholesale(t *testing.T) {
	store := NewStore(t.TempDir(), WithClock(fixedClock))
	first := sampleManifest()
	if _, err := store.WriteManifest(first); err != nil {
		t.Fatalf("write: %v", err)
	}
	second := sampleManifest()
	second.Handle = "c-2"
	second.Products = nil
	if _, err := store.WriteManifest(second); err != nil {
		t.Fatalf("write: %v", err)
	}
	list, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Handle != "c-2" || len(list[0].Products) != 0 {
		t.Fatalf("list = %+v", list)
	}
}

func TestCheckStates(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	missing, err := store.Check(filepath.Join(dir, "nope.json"))
	if err != nil || missing.State != StateMissing {
		t.Fatalf("missing = %+v, %v", missing, err)
	}
	bad := filepath.Join(dir, "bad.md")
	if err := os.WriteFile(bad, []byte("no fences"), 0o644); err != nil {
		t.Fatal(err)
	}
	invalid, err := store.Check(bad)
	if err == nil || invalid.State != StateInvalid {
		t.Fatalf("invalid = %+v", invalid)
	}
}

func TestFrontMatterRejectsIncompleteMetadata(t *testing.T) {
	doc := []byte("---\nreefcomp:\n  artifact: x\n---\n\nbody")
	if _, _, err := ParseFrontMatter(doc); err != ErrMalformedFrontMatter {
		t.Fatalf("expected malformed frontmatter, got %v", err)
	}
	if _, err := WriteFrontMatter(Metadata{}, nil); err == nil {
		t.Fatalf("expected missing id error")
	}
}
