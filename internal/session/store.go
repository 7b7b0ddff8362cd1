// Package session keeps login sessions in memory and mirrors them to disk
// so they survive restarts. Lookups never touch the disk; persistence runs
// in the background and is best-effort, except for RevokeUser, which must
// not return before the revocation is durable.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"

	"planstore/internal/config"
	"planstore/internal/encryption"
	"planstore/internal/planstore"
	"planstore/internal/syncx"
)

const tokenBytes = 32

// ErrClosed is returned by Create after Close.
var ErrClosed = errors.New("session store closed")

// Session is an authenticated login.
type Session struct {
	Token    string    `json:"token"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	Expires  time.Time `json:"expires"`
}

// Config configures a Store.
type Config struct {
	// Path of the mirror file; the codec's extension is appended.
	Path          string
	TTL           time.Duration
	SweepInterval time.Duration
	Codec         encryption.Codec
}

// Store is the in-memory session table. It is safe for concurrent use.
type Store struct {
	path  string
	ttl   time.Duration
	codec encryption.Codec

	clock  planstore.Clock
	logger planstore.Logger
	random io.Reader

	mu       sync.RWMutex
	sessions map[string]Session
	// closed is set by Close under mu; background persists are only
	// scheduled under mu while it is false.
	closed bool

	persistQ syncx.Queue
	inflight sync.WaitGroup

	stop      chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

func WithClock(c planstore.Clock) Option { return func(s *Store) { s.clock = c } }

func WithLogger(l planstore.Logger) Option { return func(s *Store) { s.logger = l } }

// WithRandom sets the token entropy source.
func WithRandom(r io.Reader) Option { return func(s *Store) { s.random = r } }

// Open loads the mirror at cfg.Path, drops expired sessions and starts the
// sweep loop. A missing or unreadable mirror starts an empty table.
func Open(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("session store: path is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.Codec == nil {
		cfg.Codec = encryption.PlainCodec{}
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	s := &Store{
		path:      cfg.Path + cfg.Codec.Ext(),
		ttl:       cfg.TTL,
		codec:     cfg.Codec,
		clock:     planstore.RealClock{},
		random:    rand.Reader,
		sessions:  make(map[string]Session),
		stop:      make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = planstore.EnsureLogger(s.logger)

	s.load()
	go s.sweepLoop(cfg.SweepInterval)
	return s, nil
}

// NewStoreFromConfig opens a Store from the sessions section of the
// application config.
func NewStoreFromConfig(cfg config.SessionConfig, opts ...Option) (*Store, error) {
	codec, err := encryption.NewCodecFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating session codec: %w", err)
	}
	return Open(Config{
		Path:          cfg.Path,
		TTL:           cfg.TTL.Duration,
		SweepInterval: cfg.SweepInterval.Duration,
		Codec:         codec,
	}, opts...)
}

// Path returns the mirror file path.
func (s *Store) Path() string { return s.path }

// Create starts a session and returns its token. The mirror is updated in
// the background.
func (s *Store) Create(username, role string) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.sessions[token] = Session{
		Token:    token,
		Username: username,
		Role:     role,
		Expires:  s.clock.Now().Add(s.ttl).UTC(),
	}
	s.mu.Unlock()

	s.persistAsync()
	return token, nil
}

// Lookup returns the live session for token. Expired sessions are removed.
func (s *Store) Lookup(token string) (Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	if s.clock.Now().Before(sess.Expires) {
		return sess, true
	}

	s.mu.Lock()
	if cur, ok := s.sessions[token]; ok && !s.clock.Now().Before(cur.Expires) {
		delete(s.sessions, token)
	}
	s.mu.Unlock()
	s.persistAsync()
	return Session{}, false
}

// Revoke ends one session and reports whether it existed.
func (s *Store) Revoke(token string) bool {
	s.mu.Lock()
	_, ok := s.sessions[token]
	delete(s.sessions, token)
	s.mu.Unlock()
	if ok {
		s.persistAsync()
	}
	return ok
}

// RevokeUser ends every session of username and persists the result before
// returning. The in-memory revocation takes effect even if persisting fails.
func (s *Store) RevokeUser(ctx context.Context, username string) (int, error) {
	s.mu.Lock()
	n := 0
	for token, sess := range s.sessions {
		if sess.Username == username {
			delete(s.sessions, token)
			n++
		}
	}
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// Sweep removes expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.clock.Now()
	s.mu.Lock()
	n := 0
	for token, sess := range s.sessions {
		if !now.Before(sess.Expires) {
			delete(s.sessions, token)
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.logger.Debug("swept expired sessions", "count", n)
		s.persistAsync()
	}
	return n
}

// Len returns the number of sessions held, including expired ones not yet
// swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Flush writes the current table. It queues behind every persist already
// waiting, so the mirror holds at least the table as of the call.
func (s *Store) Flush(ctx context.Context) error {
	return s.persist(ctx)
}

// Close stops the sweep loop, waits for background persists and writes the
// table one last time. Create fails with ErrClosed afterwards and no further
// background persists are scheduled.
func (s *Store) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.stop)
		<-s.sweepDone
		s.inflight.Wait()
		err = s.persist(ctx)
	})
	return err
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer close(s.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// persistAsync schedules a persist. Failures are logged only. Nothing is
// scheduled once the store is closed.
func (s *Store) persistAsync() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		if err := s.persist(context.Background()); err != nil {
			s.logger.Warn("session persist failed", "path", s.path, "error", err)
		}
	}()
}

// persist writes the table as it is once this caller reaches the front of
// the persist queue, so a later persist never writes an older table.
func (s *Store) persist(ctx context.Context) error {
	if err := s.persistQ.Lock(ctx); err != nil {
		return err
	}
	defer s.persistQ.Unlock()

	data, err := s.encode()
	if err != nil {
		return err
	}
	sealed, err := s.codec.Seal(data)
	if err != nil {
		return fmt.Errorf("sealing sessions: %w", err)
	}
	return writeFile(s.path, sealed)
}

func (s *Store) encode() ([]byte, error) {
	s.mu.RLock()
	list := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].Expires.Equal(list[j].Expires) {
			return list[i].Expires.Before(list[j].Expires)
		}
		return list[i].Token < list[j].Token
	})
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding sessions: %w", err)
	}
	return append(data, '\n'), nil
}

func (s *Store) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("reading session mirror failed, starting empty", "path", s.path, "error", err)
		}
		return
	}
	data, err := s.codec.Open(raw)
	if err != nil {
		s.logger.Warn("opening session mirror failed, starting empty", "path", s.path, "error", err)
		return
	}
	var list []Session
	if err := json.Unmarshal(data, &list); err != nil {
		s.logger.Warn("decoding session mirror failed, starting empty", "path", s.path, "error", err)
		return
	}

	now := s.clock.Now()
	dropped := 0
	for _, sess := range list {
		if sess.Token == "" || !now.Before(sess.Expires) {
			dropped++
			continue
		}
		s.sessions[sess.Token] = sess
	}
	s.logger.Debug("loaded sessions", "path", s.path, "count", len(s.sessions), "expired", dropped)
}

// writeFile replaces path with data via a synced temp file and rename.
func writeFile(path string, data []byte) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp-"+xid.New().String())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming session mirror: %w", err)
	}
	return nil
}
