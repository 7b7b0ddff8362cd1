package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir: "/srv/planstore",
		LogDir:  "/srv/planstore/log",
		Documents: DocumentsConfig{
			DataDir:       "/srv/planstore/data",
			TempDir:       "/tmp/planstore",
			StrictLocking: true,
		},
		EventLog: EventLogConfig{Path: "/srv/planstore/data/events.log"},
		LogIndex: LogIndexConfig{Type: "sqlite", DataDir: "/srv/planstore/index"},
		Sessions: SessionConfig{
			Path:          "/srv/planstore/data/sessions.json.age",
			TTL:           Duration{12 * time.Hour},
			SweepInterval: Duration{30 * time.Minute},
			Encryption:    EncryptionConfig{Type: "age", PrivateKeyPath: "/srv/planstore/keys/sessions.key"},
		},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(buf.String(), `ttl = "12h0m0s"`) {
		t.Errorf("encoded config missing duration string:\n%s", buf.String())
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.Documents.TempDir != "/tmp/planstore" {
		t.Errorf("Documents.TempDir = %q, want %q", got.Documents.TempDir, "/tmp/planstore")
	}
	if !got.Documents.StrictLocking {
		t.Error("Documents.StrictLocking = false, want true")
	}
	if got.LogIndex.Type != "sqlite" {
		t.Errorf("LogIndex.Type = %q, want %q", got.LogIndex.Type, "sqlite")
	}
	if got.Sessions.TTL.Duration != 12*time.Hour {
		t.Errorf("Sessions.TTL = %v, want %v", got.Sessions.TTL.Duration, 12*time.Hour)
	}
	if got.Sessions.SweepInterval.Duration != 30*time.Minute {
		t.Errorf("Sessions.SweepInterval = %v, want %v", got.Sessions.SweepInterval.Duration, 30*time.Minute)
	}
	if got.Sessions.Encryption.Type != "age" {
		t.Errorf("Sessions.Encryption.Type = %q, want %q", got.Sessions.Encryption.Type, "age")
	}
}

func TestManager_Read_InvalidDuration(t *testing.T) {
	m := &Manager{}
	_, err := m.Read(strings.NewReader("[sessions]\nttl = \"a day\"\n"))
	if err == nil {
		t.Fatal("Read() expected error for invalid duration")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/ps")

	if cfg.LogDir != "/data/ps/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/ps/log")
	}
	if cfg.Documents.DataDir != "/data/ps/data" {
		t.Errorf("Documents.DataDir = %q, want %q", cfg.Documents.DataDir, "/data/ps/data")
	}
	if cfg.Documents.StrictLocking {
		t.Error("Documents.StrictLocking = true, want false by default")
	}
	if cfg.EventLog.Path != "/data/ps/data/events.log" {
		t.Errorf("EventLog.Path = %q, want %q", cfg.EventLog.Path, "/data/ps/data/events.log")
	}
	if cfg.Sessions.TTL.Duration != 24*time.Hour {
		t.Errorf("Sessions.TTL = %v, want 24h", cfg.Sessions.TTL.Duration)
	}
	if cfg.Sessions.SweepInterval.Duration != time.Hour {
		t.Errorf("Sessions.SweepInterval = %v, want 1h", cfg.Sessions.SweepInterval.Duration)
	}
	if cfg.Sessions.Encryption.Type != "none" {
		t.Errorf("Sessions.Encryption.Type = %q, want %q", cfg.Sessions.Encryption.Type, "none")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "planstore.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "planstore.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "planstore.toml")
		cfg := NewConfig(dir)
		cfg.LogIndex = LogIndexConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.LogIndex.Type != "memory" {
			t.Errorf("LogIndex.Type = %q, want %q", got.LogIndex.Type, "memory")
		}
		if got.Documents.DataDir != cfg.Documents.DataDir {
			t.Errorf("Documents.DataDir = %q, want %q", got.Documents.DataDir, cfg.Documents.DataDir)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/planstore.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
