package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/reefcomp/internal/composite"
)

func TestNewConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.Project.Compositing.Reducer != composite.ReducerQualityWeighted {
		t.Fatalf("reducer = %q", c.Project.Compositing.Reducer)
	}
	if c.Project.Export.Ledger != LedgerFile || c.Project.Export.Quota != 8 {
		t.Fatalf("export defaults = %+v", c.Project.Export)
	}
	if c.PollInterval() != 2*time.Second {
		t.Fatalf("poll interval = %s", c.PollInterval())
	}
}

func TestInitProjectDirWritesParsableConfig(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitProjectDir(projectDir); err != nil {
		t.Fatalf("InitProjectDir: %v", err)
	}
	for _, dir := range []string{"logs", "state", "composites", "preview", "exports", "grades"} {
		if _, err := os.Stat(filepath.Join(projectDir, ReefcompDir, dir)); err != nil {
			t.Fatalf("missing %s: %v", dir, err)
		}
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if c.Project.Bands.SWIR != "B11" || c.Project.Status.Port != 8321 {
		t.Fatalf("unexpected config %+v", c.Project)
	}
}

func TestLoadProjectConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	reefDir := filepath.Join(projectDir, ReefcompDir)
	if err := os.MkdirAll(reefDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
masking:
  cloud_visible: 0.3
  use_qa: false
sunglint:
  proxy_band: B11
compositing:
  reducer: " Percentile "
  percentile: 40
  tier_weights:
    Maybe: 0.5
export:
  quota: 3
  poll_interval: 250ms
grading:
  depth:
    m1: 60
`)
	if err := os.WriteFile(filepath.Join(reefDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	p := c.Project
	if p.Masking.CloudVisible != 0.3 || p.Masking.UseQA {
		t.Fatalf("masking = %+v", p.Masking)
	}
	if p.Masking.CloudSWIR != 0.1 {
		t.Fatalf("unset masking fields should keep defaults, got %+v", p.Masking)
	}
	if p.Sunglint.ProxyBand != "B11" || len(p.Sunglint.Bands) != 4 {
		t.Fatalf("sunglint = %+v", p.Sunglint)
	}
	if p.Compositing.Reducer != composite.ReducerPercentile || p.Compositing.TierWeights["Maybe"] != 0.5 {
		t.Fatalf("compositing = %+v", p.Compositing)
	}
	if p.Export.Quota != 3 || c.PollInterval() != 250*time.Millisecond {
		t.Fatalf("export = %+v", p.Export)
	}
	if c.GradeConfig().Depth.M1 != 60 || c.GradeConfig().Depth.M0 != 72 {
		t.Fatalf("depth = %+v", c.GradeConfig().Depth)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	projectDir := t.TempDir()
	reefDir := filepath.Join(projectDir, ReefcompDir)
	if err := os.MkdirAll(reefDir, 0755); err != nil {
		t.Fatal(err)
	}
	dotenv := "REEFCOMP_STATUS_PORT=9100\nREEFCOMP_EXPORT_QUOTA=5\n"
	if err := os.WriteFile(filepath.Join(reefDir, ".env"), []byte(dotenv), 0644); err != nil {
		t.Fatal(err)
	}
	// Registered for cleanup, then cleared so the .env value is picked up.
	t.Setenv("REEFCOMP_STATUS_PORT", "")
	os.Unsetenv("REEFCOMP_STATUS_PORT")
	t.Setenv("REEFCOMP_EXPORT_QUOTA", "12")
	t.Setenv("REEFCOMP_STATUS_ENABLED", "true")
	t.Setenv("REEFCOMP_MONGO_URI", "mongodb://localhost:27017")
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if c.Project.Export.Quota != 12 || !c.Project.Status.Enabled {
		t.Fatalf("env overrides not applied: %+v", c.Project)
	}
	if c.Project.Status.Port != 9100 {
		t.Fatalf("port = %d, want the .env value", c.Project.Status.Port)
	}
	if c.Project.Export.Ledger != LedgerMongo {
		t.Fatalf("mongo uri should select the mongo ledger")
	}
}

func TestLoadProjectConfigValidation(t *testing.T) {
	projectDir := t.TempDir()
	reefDir := filepath.Join(projectDir, ReefcompDir)
	if err := os.MkdirAll(reefDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
export:
  ledger: mongo
`)
	if err := os.WriteFile(filepath.Join(reefDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewConfig(projectDir); err == nil {
		t.Fatalf("expected validation error but got none")
	}
}
