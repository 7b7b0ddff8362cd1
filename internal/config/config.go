package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for planstore.
type Config struct {
	BaseDir   string          `toml:"base_dir"`
	LogDir    string          `toml:"log_dir"`
	Documents DocumentsConfig `toml:"documents"`
	EventLog  EventLogConfig  `toml:"event_log"`
	LogIndex  LogIndexConfig  `toml:"log_index"`
	Sessions  SessionConfig   `toml:"sessions"`
}

// DocumentsConfig controls the durable document store.
type DocumentsConfig struct {
	DataDir string `toml:"data_dir"`
	// TempDir holds in-flight temp files. Empty means DataDir. When it is on
	// another filesystem, writes fall back to copy + rename.
	TempDir string `toml:"temp_dir,omitempty"`
	// StrictLocking turns the unlocked-write fallback into a hard failure.
	StrictLocking bool `toml:"strict_locking"`
	// Watch enables cross-process change detection on the data directory.
	Watch bool `toml:"watch"`
}

// EventLogConfig locates the append-only event log.
type EventLogConfig struct {
	Path string `toml:"path"`
}

// LogIndexConfig represents configuration for the audit index over the event log.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LogIndexConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "none"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SessionConfig controls the session store.
type SessionConfig struct {
	Path          string           `toml:"path"`
	TTL           Duration         `toml:"ttl"`
	SweepInterval Duration         `toml:"sweep_interval"`
	Encryption    EncryptionConfig `toml:"encryption"`
}

// EncryptionConfig selects how the session mirror is stored at rest.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default) or "age"
	PublicKeyPath  string `toml:"public_key_path,omitempty"`
	PrivateKeyPath string `toml:"private_key_path,omitempty"`
}

// Duration is a time.Duration that encodes as a Go duration string ("24h").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	dataDir := filepath.Join(baseDir, "data")
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Documents: DocumentsConfig{
			DataDir: dataDir,
			Watch:   true,
		},
		EventLog: EventLogConfig{Path: filepath.Join(dataDir, "events.log")},
		LogIndex: LogIndexConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "index")},
		Sessions: SessionConfig{
			Path:          filepath.Join(dataDir, "sessions.json"),
			TTL:           Duration{24 * time.Hour},
			SweepInterval: Duration{time.Hour},
			Encryption: EncryptionConfig{
				Type:           "none",
				PublicKeyPath:  filepath.Join(baseDir, "keys", "sessions.pub"),
				PrivateKeyPath: filepath.Join(baseDir, "keys", "sessions.key"),
			},
		},
	}
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

// Init writes cfg to a new config file at path. It refuses to overwrite an
// existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
