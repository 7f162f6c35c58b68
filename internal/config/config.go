package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for trk. It is read once at process
// start; the pipeline never re-reads it mid-run.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	Scan     ScanConfig     `toml:"scan"`
	Archive  ArchiveConfig  `toml:"archive"`
	Spool    SpoolConfig    `toml:"spool"`
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
}

// ScanConfig drives the discovery scanner and the background schedule.
// Roots may point at device mounts that are not currently attached; a
// missing root is skipped, not an error.
type ScanConfig struct {
	Roots           []string `toml:"roots"`
	IntervalMinutes int      `toml:"interval_minutes"`
	MaxDepth        int      `toml:"max_depth"`
	Extension       string   `toml:"extension"`
}

// ArchiveConfig configures the content-addressed archive backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type"`           // "filesystem" or "memory"
	Root string `toml:"root,omitempty"` // only used for type=filesystem
}

// SpoolConfig configures where manual uploads land before import.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SpoolConfig struct {
	Type string `toml:"type"`          // "filesystem" or "memory"
	Dir  string `toml:"dir,omitempty"` // only used for type=filesystem
}

// DatabaseConfig configures the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ServerConfig configures the upload/status HTTP surface.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// NewConfig creates a Config with sensible defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Scan: ScanConfig{
			Roots:           []string{"/media", "/mnt"},
			IntervalMinutes: 5,
			MaxDepth:        4,
			Extension:       ".fit",
		},
		Archive:  ArchiveConfig{Type: "filesystem", Root: filepath.Join(baseDir, "archive")},
		Spool:    SpoolConfig{Type: "filesystem", Dir: filepath.Join(baseDir, "uploads")},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Server:   ServerConfig{Listen: "127.0.0.1:8077"},
	}
}

// Validate checks the parts of the config whose absence is fatal at
// startup. A broken config is the one error that aborts the whole
// process; everything later is per-file.
func (c *Config) Validate() error {
	if len(c.Scan.Roots) == 0 && c.Spool.Type == "" {
		return fmt.Errorf("no scan roots and no upload spool configured")
	}
	if c.Database.Type == "" {
		return fmt.Errorf("no database configured")
	}
	if c.Archive.Type == "" {
		return fmt.Errorf("no archive configured")
	}
	if c.Scan.IntervalMinutes <= 0 {
		return fmt.Errorf("scan interval must be positive, got %d", c.Scan.IntervalMinutes)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
