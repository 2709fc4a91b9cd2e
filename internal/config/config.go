// internal/config/config.go
//
// This package handles configuration and the .reefcomp directory structure.
// Every project that builds composites gets a .reefcomp/ folder in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/reefcomp/internal/composite"
	"github.com/kingrea/reefcomp/internal/grade"
	"github.com/kingrea/reefcomp/internal/mask"
	"github.com/kingrea/reefcomp/internal/normalize"
	"github.com/kingrea/reefcomp/internal/scene"
	"github.com/kingrea/reefcomp/internal/sunglint"
)

const (
	// ReefcompDir is the name of the directory we create in each project
	ReefcompDir = ".reefcomp"

	LedgerFile  = "file"
	LedgerMongo = "mongo"

	EncoderGeoTIFF = "geotiff"
)

const defaultProjectConfigYAML = `# reefcomp project configuration
version: 1

# Band names in the scene rasters for each spectral role.
bands:
  coastal: B1
  blue: B2
  green: B3
  red: B4
  nir: B8
  swir: B11
  qa: QA60

compositing:
  # median | percentile | quality-weighted
  reducer: quality-weighted
  max_invalid_fraction: 0.5
  min_scenes: 1

export:
  # Outstanding (pending + running) export tasks allowed across a run.
  quota: 8
  poll_interval: 2s
  # ledger: mongo stores task records in MongoDB instead of state/tasks.jsonl
  ledger: file

status:
  enabled: false
  host: 127.0.0.1
  port: 8321
`

// GradingConfig tunes the built-in colour grades.
type GradingConfig struct {
	Depth      grade.DepthModel `yaml:"depth"`
	Thresholds grade.Thresholds `yaml:"thresholds"`
	// Parallel bounds how many grades render at once.
	Parallel int `yaml:"parallel"`
}

// ExportConfig controls the export scheduler and the local export service.
type ExportConfig struct {
	Quota         int    `yaml:"quota"`
	PollInterval  string `yaml:"poll_interval"`
	PlatformLimit int    `yaml:"platform_limit"`
	Workers       int    `yaml:"workers"`
	Encoder       string `yaml:"encoder"`
	Ledger        string `yaml:"ledger"`
	MongoURI      string `yaml:"mongo_uri,omitempty"`
	MongoDatabase string `yaml:"mongo_database,omitempty"`
}

// StatusConfig describes the read-only HTTP status surface.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// ProjectConfig models .reefcomp/config.yaml.
type ProjectConfig struct {
	Version       int                `yaml:"version"`
	Bands         scene.BandRoles    `yaml:"bands"`
	Masking       mask.Thresholds    `yaml:"masking"`
	Sunglint      sunglint.Settings  `yaml:"sunglint"`
	Normalization normalize.Settings `yaml:"normalization"`
	Compositing   composite.Settings `yaml:"compositing"`
	Grading       GradingConfig      `yaml:"grading"`
	Export        ExportConfig       `yaml:"export"`
	Status        StatusConfig       `yaml:"status"`
}

// Config holds the runtime configuration for a project.
type Config struct {
	// ProjectDir is the directory the driver was pointed at
	ProjectDir string

	// ReefcompProjectDir is ProjectDir/.reefcomp
	ReefcompProjectDir string

	Project ProjectConfig
}

// InitProjectDir creates the .reefcomp directory structure in the given
// project directory.
//
// Structure created:
// .reefcomp/
// ├── logs/         <- reefcomp.log and the run logbook
// ├── state/        <- export task ledger
// ├── composites/   <- composite manifests and reports
// ├── preview/      <- PNG quicklooks
// ├── exports/      <- local export service output
// └── grades/       <- plugin colour grades (.yaml, .go)
func InitProjectDir(projectDir string) error {
	root := filepath.Join(projectDir, ReefcompDir)
	dirs := []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "state"),
		filepath.Join(root, "composites"),
		filepath.Join(root, "preview"),
		filepath.Join(root, "exports"),
		filepath.Join(root, "grades"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// NewConfig loads .reefcomp/.env and .reefcomp/config.yaml for projectDir.
// Variables already present in the environment win over the .env file, and
// REEFCOMP_* variables win over config.yaml.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:         projectDir,
		ReefcompProjectDir: filepath.Join(projectDir, ReefcompDir),
		Project:            defaultProjectConfig(),
	}
	if err := loadDotEnv(filepath.Join(cfg.ReefcompProjectDir, ".env")); err != nil {
		return nil, err
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := cfg.Project.applyEnv(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.ReefcompProjectDir, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.ReefcompProjectDir, "state")
}

// LedgerPath is the file ledger journal.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.StateDir(), "tasks.jsonl")
}

// LogbookPath is the levelled run journal.
func (c *Config) LogbookPath() string {
	return filepath.Join(c.LogsDir(), "runs.log")
}

// CompositesDir holds composite manifests.
func (c *Config) CompositesDir() string {
	return filepath.Join(c.ReefcompProjectDir, "composites")
}

// PreviewDir holds quicklook images.
func (c *Config) PreviewDir() string {
	return filepath.Join(c.ReefcompProjectDir, "preview")
}

// ExportsDir is the root the local export service writes under.
func (c *Config) ExportsDir() string {
	return filepath.Join(c.ReefcompProjectDir, "exports")
}

// GradesDir holds plugin grade definitions.
func (c *Config) GradesDir() string {
	return filepath.Join(c.ReefcompProjectDir, "grades")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ReefcompProjectDir, "config.yaml")
}

// GradeConfig assembles what the colour grades need.
func (c *Config) GradeConfig() grade.Config {
	return grade.Config{
		Roles:      c.Project.Bands,
		Depth:      c.Project.Grading.Depth,
		Thresholds: c.Project.Grading.Thresholds,
	}
}

// PollInterval parses export.poll_interval. Validation guarantees it parses.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Project.Export.PollInterval)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// StatusAddr is host:port for the status API.
func (c *Config) StatusAddr() string {
	return fmt.Sprintf("%s:%d", c.Project.Status.Host, c.Project.Status.Port)
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:       1,
		Bands:         scene.DefaultBandRoles(),
		Masking:       mask.DefaultThresholds(),
		Sunglint:      sunglint.DefaultSettings(),
		Normalization: normalize.DefaultSettings(),
		Compositing:   composite.DefaultSettings(),
		Grading: GradingConfig{
			Depth:      grade.DefaultDepthModel(),
			Thresholds: grade.DefaultConfig().Thresholds,
			Parallel:   4,
		},
		Export: ExportConfig{
			Quota:         8,
			PollInterval:  "2s",
			PlatformLimit: 8,
			Workers:       2,
			Encoder:       EncoderGeoTIFF,
			Ledger:        LedgerFile,
			MongoDatabase: "reefcomp",
		},
		Status: StatusConfig{Host: "127.0.0.1", Port: 8321},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	defaults := defaultProjectConfig()
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Sunglint.MaxSamples == 0 {
		pc.Sunglint.MaxSamples = defaults.Sunglint.MaxSamples
	}
	if pc.Compositing.Reducer == "" {
		pc.Compositing.Reducer = defaults.Compositing.Reducer
	}
	if pc.Compositing.MinScenes == 0 {
		pc.Compositing.MinScenes = 1
	}
	if pc.Grading.Parallel == 0 {
		pc.Grading.Parallel = defaults.Grading.Parallel
	}
	if pc.Export.PollInterval == "" {
		pc.Export.PollInterval = defaults.Export.PollInterval
	}
	if pc.Export.PlatformLimit == 0 {
		pc.Export.PlatformLimit = pc.Export.Quota
	}
	if pc.Export.Workers == 0 {
		pc.Export.Workers = defaults.Export.Workers
	}
	if pc.Export.MongoDatabase == "" {
		pc.Export.MongoDatabase = defaults.Export.MongoDatabase
	}
	if pc.Status.Port == 0 {
		pc.Status.Port = defaults.Status.Port
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Compositing.Reducer = normalizeName(pc.Compositing.Reducer)
	pc.Export.Ledger = normalizeName(pc.Export.Ledger)
	pc.Export.Encoder = normalizeName(pc.Export.Encoder)
	if pc.Export.Ledger == "" {
		pc.Export.Ledger = LedgerFile
	}
	if pc.Export.Encoder == "" {
		pc.Export.Encoder = EncoderGeoTIFF
	}
	pc.Export.MongoURI = strings.TrimSpace(pc.Export.MongoURI)
	pc.Status.Host = strings.TrimSpace(pc.Status.Host)
}

// applyEnv layers REEFCOMP_* overrides onto the parsed file.
func (pc *ProjectConfig) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("REEFCOMP_EXPORT_QUOTA")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REEFCOMP_EXPORT_QUOTA: %w", err)
		}
		pc.Export.Quota = n
	}
	if v := strings.TrimSpace(os.Getenv("REEFCOMP_MONGO_URI")); v != "" {
		pc.Export.MongoURI = v
		pc.Export.Ledger = LedgerMongo
	}
	if v := strings.TrimSpace(os.Getenv("REEFCOMP_STATUS_PORT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REEFCOMP_STATUS_PORT: %w", err)
		}
		pc.Status.Port = n
	}
	if v := strings.TrimSpace(os.Getenv("REEFCOMP_STATUS_ENABLED")); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REEFCOMP_STATUS_ENABLED: %w", err)
		}
		pc.Status.Enabled = enabled
	}
	return nil
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if err := pc.Bands.Validate(); err != nil {
		return fmt.Errorf("bands: %w", err)
	}
	if f := pc.Compositing.MaxInvalidFraction; f < 0 || f > 1 {
		return fmt.Errorf("compositing.max_invalid_fraction must be within [0, 1]")
	}
	if pc.Compositing.MinScenes < 1 {
		return fmt.Errorf("compositing.min_scenes must be >= 1")
	}
	if pc.Normalization.MinGain <= 0 || pc.Normalization.MaxGain < pc.Normalization.MinGain {
		return fmt.Errorf("normalization gain range is invalid")
	}
	if pc.Export.Quota < 1 {
		return fmt.Errorf("export.quota must be >= 1")
	}
	if pc.Export.PlatformLimit < 1 {
		return fmt.Errorf("export.platform_limit must be >= 1")
	}
	if _, err := time.ParseDuration(pc.Export.PollInterval); err != nil {
		return fmt.Errorf("export.poll_interval: %w", err)
	}
	switch pc.Export.Ledger {
	case LedgerFile:
	case LedgerMongo:
		if pc.Export.MongoURI == "" {
			return fmt.Errorf("export.mongo_uri is required for the mongo ledger")
		}
	default:
		return fmt.Errorf("export.ledger must be 'file' or 'mongo'")
	}
	if pc.Export.Encoder != EncoderGeoTIFF {
		return fmt.Errorf("export.encoder must be 'geotiff'")
	}
	if pc.Status.Port < 1 || pc.Status.Port > 65535 {
		return fmt.Errorf("status.port must be within 1-65535")
	}
	return nil
}

func normalizeName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}
