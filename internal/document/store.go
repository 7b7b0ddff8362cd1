// Package document implements the durable document store: whole-document
// JSON files written atomically next to a SHA-256 digest and a backup of the
// previous version, coordinated across processes with filelock.
//
// On-disk layout for a document called "posts.json":
//
//	posts.json         current content
//	posts.json.digest  lowercase hex SHA-256 of posts.json
//	posts.json.backup  content before the most recent write
//	posts.json.lock    held while a writer is active
package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"planstore/internal/config"
	"planstore/internal/filelock"
	"planstore/internal/planstore"
)

const (
	DigestSuffix = ".digest"
	BackupSuffix = ".backup"
)

// Config configures a Store.
type Config struct {
	DataDir       string
	TempDir       string
	StrictLocking bool
}

// Store reads and writes documents under one data directory. It is safe for
// concurrent use; writers to the same document are serialized by the
// cross-process lock.
type Store struct {
	dataDir string
	tempDir string
	strict  bool

	locker  *filelock.Locker
	logger  planstore.Logger
	mp      metric.MeterProvider
	metrics *docMetrics

	rename   func(oldpath, newpath string) error
	syncFile func(f *os.File) error

	mu      sync.Mutex
	written map[string]string // name -> digest of this process's last write
}

// Option configures a Store.
type Option func(*Store)

// WithLocker overrides the cross-process locker (default filelock.Standard).
func WithLocker(l *filelock.Locker) Option {
	return func(s *Store) { s.locker = l }
}

// WithLogger sets the store logger.
func WithLogger(l planstore.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMeterProvider sets the OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Store) { s.mp = mp }
}

// New creates a Store, creating the data and temp directories if needed.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("document store: data directory is required")
	}
	if cfg.TempDir == "" {
		cfg.TempDir = cfg.DataDir
	}
	for _, dir := range []string{cfg.DataDir, cfg.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	s := &Store{
		dataDir:  cfg.DataDir,
		tempDir:  cfg.TempDir,
		strict:   cfg.StrictLocking,
		rename:   os.Rename,
		syncFile: syncFile,
		written:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = planstore.EnsureLogger(s.logger)
	if s.mp == nil {
		s.mp = otel.GetMeterProvider()
	}
	if s.locker == nil {
		s.locker = filelock.New(filelock.Standard, filelock.WithLogger(s.logger), filelock.WithMeterProvider(s.mp))
	}
	s.metrics = newDocMetrics(s.mp, s.logger)
	return s, nil
}

// NewStoreFromConfig creates a Store from the documents section of the
// application config.
func NewStoreFromConfig(cfg config.DocumentsConfig, opts ...Option) (*Store, error) {
	return New(Config{
		DataDir:       cfg.DataDir,
		TempDir:       cfg.TempDir,
		StrictLocking: cfg.StrictLocking,
	}, opts...)
}

// DataDir returns the directory holding the documents.
func (s *Store) DataDir() string { return s.dataDir }

// Locker returns the cross-process locker used for writes.
func (s *Store) Locker() *filelock.Locker { return s.locker }

// Logger returns the store logger.
func (s *Store) Logger() planstore.Logger { return s.logger }

// Path returns the absolute path of the named document.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dataDir, name)
}

// LastWritten returns the digest of the most recent write of name by this
// Store, or "" if it has not written name.
func (s *Store) LastWritten(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written[name]
}

func (s *Store) recordWritten(name, digest string) {
	s.mu.Lock()
	s.written[name] = digest
	s.mu.Unlock()
}

func validName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid document name %q", name)
	}
	return nil
}
