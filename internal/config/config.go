// Package config resolves the DataLineage home directory and settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"datalineage/internal/artifacts"
	"datalineage/internal/blob"
	"datalineage/internal/transform"
)

const (
	// EnvHome overrides the home directory (default ~/.datalineage).
	EnvHome = "DATALINEAGE_HOME"
	// EnvLogLevel overrides the settings log level.
	EnvLogLevel = "DATALINEAGE_LOG_LEVEL"
)

const (
	BackendFS  = "fs"
	BackendGCS = "gcs"
)

// HomeDir returns the home directory path.
// Computed on each call so tests can isolate themselves with DATALINEAGE_HOME.
func HomeDir() string {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".datalineage")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(HomeDir(), "settings.yaml")
}

// EnsureHomeDir creates the home directory if it doesn't exist.
func EnsureHomeDir() error {
	return os.MkdirAll(HomeDir(), 0700)
}

// InitHomeDir creates the home directory and writes the default settings
// file when none exists. It reports whether the settings file was created.
func InitHomeDir() (bool, error) {
	if err := EnsureHomeDir(); err != nil {
		return false, fmt.Errorf("failed to create home directory: %w", err)
	}
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := os.WriteFile(path, artifacts.GlobalSettings, 0600); err != nil {
		return false, fmt.Errorf("failed to create default settings: %w", err)
	}
	return true, nil
}

// BlobSettings selects and configures the blob store.
type BlobSettings struct {
	Backend      string `yaml:"backend"`       // fs or gcs
	Dir          string `yaml:"dir"`           // fs: content directory
	Bucket       string `yaml:"bucket"`        // gcs: bucket name
	Prefix       string `yaml:"prefix"`        // gcs: object name prefix
	EmulatorHost string `yaml:"emulator_host"` // gcs: fake-gcs-server address for local runs
	Compression  string `yaml:"compression"`   // none, lz4, zstd
}

// HasherSettings holds the content hasher policy.
type HasherSettings struct {
	MinContentSize int `yaml:"min_content_size"`
}

// TransformSettings holds transformation engine policy.
type TransformSettings struct {
	SampleRows        int     `yaml:"sample_rows"`
	HighLossThreshold float64 `yaml:"high_loss_threshold"`
	LargeLossGuard    float64 `yaml:"large_loss_guard"`
	CacheRowCeiling   int     `yaml:"cache_row_ceiling"`
	CacheMaxEntries   int     `yaml:"cache_max_entries"` // negative disables the cache
}

// Settings is the content of settings.yaml.
type Settings struct {
	LogLevel    string            `yaml:"log_level"`    // trace, debug, info, warn, off
	Catalog     string            `yaml:"catalog"`      // catalog path, relative to the home directory
	BusyTimeout int               `yaml:"busy_timeout"` // SQLite busy_timeout (ms), 0 = use default
	Blob        BlobSettings      `yaml:"blob"`
	Hasher      HasherSettings    `yaml:"hasher"`
	Transform   TransformSettings `yaml:"transform"`
}

// DefaultSettings parses the embedded settings template.
func DefaultSettings() *Settings {
	var s Settings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &s); err != nil {
		panic("failed to parse embedded settings: " + err.Error())
	}
	s.ApplyDefaults()
	return &s
}

// ApplyDefaults fills zero-value fields with their defaults.
func (s *Settings) ApplyDefaults() {
	if s.LogLevel == "" {
		s.LogLevel = "off"
	}
	if s.Catalog == "" {
		s.Catalog = "catalog.db"
	}
	if s.Blob.Backend == "" {
		s.Blob.Backend = BackendFS
	}
	if s.Blob.Dir == "" {
		s.Blob.Dir = "blobs"
	}
	if s.Blob.Compression == "" {
		s.Blob.Compression = blob.CompressionZstd.String()
	}
	if s.Hasher.MinContentSize <= 0 {
		s.Hasher.MinContentSize = 1
	}
}

// Validate rejects settings that cannot be used.
func (s *Settings) Validate() error {
	switch s.Blob.Backend {
	case BackendFS:
	case BackendGCS:
		if s.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown blob.backend %q (want fs or gcs)", s.Blob.Backend)
	}
	if _, err := s.Compression(); err != nil {
		return err
	}
	if _, _, err := ParseLogLevel(s.LogLevel); err != nil {
		return err
	}
	if s.Transform.HighLossThreshold < 0 || s.Transform.HighLossThreshold > 100 {
		return fmt.Errorf("transform.high_loss_threshold must be within [0, 100]")
	}
	if s.Transform.LargeLossGuard < 0 || s.Transform.LargeLossGuard > 100 {
		return fmt.Errorf("transform.large_loss_guard must be within [0, 100]")
	}
	return nil
}

// CatalogPath returns the absolute catalog path.
func (s *Settings) CatalogPath() string {
	return resolve(s.Catalog)
}

// BlobDir returns the absolute content directory of the fs backend.
func (s *Settings) BlobDir() string {
	return resolve(s.Blob.Dir)
}

func resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(HomeDir(), p)
}

// Compression returns the configured blob compression.
func (s *Settings) Compression() (blob.Compression, error) {
	return blob.ParseCompression(s.Blob.Compression)
}

// TransformOptions converts the transform section to engine options. Zero
// values fall back to the engine defaults.
func (s *Settings) TransformOptions() transform.Options {
	return transform.Options{
		SampleRows:        s.Transform.SampleRows,
		HighLossThreshold: s.Transform.HighLossThreshold,
		LargeLossGuard:    s.Transform.LargeLossGuard,
		CacheRowCeiling:   s.Transform.CacheRowCeiling,
		CacheMaxEntries:   s.Transform.CacheMaxEntries,
	}
}

// EffectiveLogLevel returns the log level after the environment override.
func (s *Settings) EffectiveLogLevel() string {
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		return strings.ToLower(lvl)
	}
	return strings.ToLower(s.LogLevel)
}

// ParseLogLevel maps a settings log level to logrus. enabled is false for
// "off" and "none".
func ParseLogLevel(level string) (lvl log.Level, enabled bool, err error) {
	switch strings.ToLower(level) {
	case "", "off", "none":
		return log.PanicLevel, false, nil
	case "trace":
		return log.TraceLevel, true, nil
	case "debug":
		return log.DebugLevel, true, nil
	case "info":
		return log.InfoLevel, true, nil
	case "warn", "warning":
		return log.WarnLevel, true, nil
	}
	return 0, false, fmt.Errorf("unknown log level %q (want trace, debug, info, warn or off)", level)
}

// LoadSettings loads settings.yaml from the home directory.
// Falls back to embedded defaults if the file doesn't exist.
func LoadSettings() (*Settings, error) {
	return LoadSettingsFromPath(SettingsPath())
}

// LoadSettingsFromPath loads settings from a specific file.
// Falls back to embedded defaults if the file doesn't exist.
func LoadSettingsFromPath(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// SaveSettings writes settings to the home directory.
func SaveSettings(s *Settings) error {
	if err := EnsureHomeDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	header := []byte("# DataLineage settings\n# See: datalineage --help\n\n")
	return os.WriteFile(SettingsPath(), append(header, data...), 0600)
}
