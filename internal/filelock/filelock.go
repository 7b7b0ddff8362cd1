// Package filelock implements an advisory, cross-process exclusive lock scoped
// to one file path.
//
// A lock is a sibling file "<path>.lock" created with O_EXCL and holding a JSON
// token {pid, host, token, profile, acquired_at}. Waiters retry with bounded
// exponential backoff and may reclaim a lock whose token is older than the
// profile's StaleAfter, or whose holder runs on this host under a pid that no
// longer exists. The lock is cooperative: nothing stops a process that does
// not use this package from touching the file.
package filelock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"planstore/internal/planstore"
)

// Suffix is appended to a document path to form its lock file path.
const Suffix = ".lock"

const (
	reclaimSuffix      = ".reclaim"
	reclaimMarkerStale = 5 * time.Second
)

// ErrUnavailable is matched by every *UnavailableError.
var ErrUnavailable = planstore.ErrLockUnavailable

// UnavailableError is returned when Acquire exhausts its retry budget.
// It matches planstore.ErrLockUnavailable with errors.Is.
type UnavailableError struct {
	Path     string
	Profile  string
	Attempts int
	Waited   time.Duration
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("lock unavailable (path=%s profile=%s attempts=%d waited=%s)",
		e.Path, e.Profile, e.Attempts, e.Waited.Truncate(time.Millisecond))
}

func (e *UnavailableError) Unwrap() error { return planstore.ErrLockUnavailable }

// token is the on-disk content of a lock file.
type token struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	Token      string    `json:"token"`
	Profile    string    `json:"profile"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Locker acquires locks using one Profile. It is safe for concurrent use.
type Locker struct {
	profile Profile
	clock   planstore.Clock
	logger  planstore.Logger
	alive   func(pid int) bool
	sleep   func(ctx context.Context, d time.Duration) error
	host    string
	pid     int
	metrics *lockMetrics
	mp      metric.MeterProvider
}

// Option configures a Locker.
type Option func(*Locker)

// WithClock sets the clock used to stamp and age lock tokens.
func WithClock(c planstore.Clock) Option {
	return func(l *Locker) { l.clock = c }
}

// WithLogger sets the logger used for reclaim and release warnings.
func WithLogger(logger planstore.Logger) Option {
	return func(l *Locker) { l.logger = logger }
}

// WithProcessCheck overrides how a same-host holder pid is checked for
// liveness.
func WithProcessCheck(alive func(pid int) bool) Option {
	return func(l *Locker) { l.alive = alive }
}

// WithMeterProvider sets the OpenTelemetry meter provider for lock metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(l *Locker) { l.mp = mp }
}

// New creates a Locker for the given profile.
func New(profile Profile, opts ...Option) *Locker {
	l := &Locker{
		profile: profile.withDefaults(),
		clock:   planstore.RealClock{},
		alive:   processAlive,
		sleep:   sleepContext,
		pid:     os.Getpid(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = planstore.EnsureLogger(l.logger)
	if l.mp == nil {
		l.mp = otel.GetMeterProvider()
	}
	l.metrics = newLockMetrics(l.mp, l.logger)
	if host, err := os.Hostname(); err == nil {
		l.host = host
	}
	return l
}

// Profile returns the effective profile.
func (l *Locker) Profile() Profile { return l.profile }

// Acquire takes the lock for path, retrying with backoff. It returns an
// *UnavailableError once the profile's attempts are exhausted and ctx.Err()
// if ctx is done while waiting.
func (l *Locker) Acquire(ctx context.Context, path string) (*Lock, error) {
	lockPath := path + Suffix
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("preparing lock directory: %w", err)
	}

	start := l.clock.Now()
	delay := l.profile.BaseDelay
	for attempt := 1; ; attempt++ {
		tok := token{
			PID:        l.pid,
			Host:       l.host,
			Token:      xid.New().String(),
			Profile:    l.profile.Name,
			AcquiredAt: l.clock.Now().UTC(),
		}
		created, err := createLockFile(lockPath, tok)
		if err != nil {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}
		if created {
			return &Lock{locker: l, path: path, lockPath: lockPath, token: tok.Token, acquiredAt: tok.AcquiredAt}, nil
		}

		if l.reclaimIfStale(lockPath) {
			continue
		}

		if attempt >= l.profile.MaxAttempts {
			l.metrics.recordUnavailable(l.profile.Name)
			return nil, &UnavailableError{
				Path:     path,
				Profile:  l.profile.Name,
				Attempts: attempt,
				Waited:   l.clock.Now().Sub(start),
			}
		}

		if err := l.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay = l.profile.nextDelay(delay)
	}
}

// Do runs fn while holding the lock for path. Release failures are logged,
// not returned, since they do not affect the data fn wrote.
func (l *Locker) Do(ctx context.Context, path string, fn func() error) error {
	lk, err := l.Acquire(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			l.logger.Warn("lock release failed", "path", path, "error", err)
		}
	}()
	return fn()
}

// reclaimIfStale removes the lock file at lockPath when its holder is
// presumed dead. It reports whether a lock was removed.
//
// Waiters reclaim one at a time behind a "<lockPath>.reclaim" marker and
// remove the lock file only if it still holds the bytes they judged stale.
// A waiter that judged an old token stale cannot remove a fresh lock taken
// by a faster waiter in the meantime.
func (l *Locker) reclaimIfStale(lockPath string) bool {
	holder, age, raw, ok := l.inspect(lockPath)
	if !ok {
		return false
	}
	reason := l.staleReason(holder, age)
	if reason == "" {
		return false
	}

	release, ok := l.takeReclaimMarker(lockPath)
	if !ok {
		return false
	}
	defer release()

	_, _, current, ok := l.inspect(lockPath)
	if !ok || !bytes.Equal(current, raw) {
		return false
	}

	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("stale lock removal failed", "path", lockPath, "error", err)
		return false
	}
	l.logger.Warn("reclaimed stale lock",
		"path", lockPath,
		"reason", reason,
		"holder_pid", holder.PID,
		"holder_host", holder.Host,
		"age", age.Truncate(time.Millisecond),
	)
	l.metrics.recordReclaim(l.profile.Name)
	return true
}

// staleReason returns why holder may be reclaimed, or "" if it may not.
func (l *Locker) staleReason(holder token, age time.Duration) string {
	switch {
	case age > l.profile.StaleAfter:
		return "expired"
	case holder.Host != "" && holder.Host == l.host && holder.PID > 0 && holder.PID != l.pid && !l.alive(holder.PID):
		return "holder_exited"
	default:
		return ""
	}
}

// takeReclaimMarker creates the reclaim marker for lockPath. A marker older
// than reclaimMarkerStale was left by a waiter that died mid-reclaim and is
// removed so the next attempt can take it.
func (l *Locker) takeReclaimMarker(lockPath string) (func(), bool) {
	marker := lockPath + reclaimSuffix
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			if info, statErr := os.Stat(marker); statErr == nil && l.clock.Now().Sub(info.ModTime()) > reclaimMarkerStale {
				l.logger.Warn("removing abandoned reclaim marker", "path", marker)
				os.Remove(marker)
			}
		} else {
			l.logger.Warn("creating reclaim marker failed", "path", marker, "error", err)
		}
		return nil, false
	}
	f.Close()
	return func() { os.Remove(marker) }, true
}

// inspect reads the lock file and returns its token, age and raw bytes. A
// token that cannot be parsed (for example one caught between create and
// write) is aged by the file's modification time instead.
func (l *Locker) inspect(lockPath string) (token, time.Duration, []byte, bool) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return token{}, 0, nil, false
	}
	now := l.clock.Now()

	var tok token
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return token{}, 0, nil, false
	}
	if err := json.Unmarshal(data, &tok); err != nil || tok.AcquiredAt.IsZero() {
		return token{}, now.Sub(info.ModTime()), data, true
	}
	return tok, now.Sub(tok.AcquiredAt), data, true
}

// Lock is a held advisory lock.
type Lock struct {
	locker     *Locker
	path       string
	lockPath   string
	token      string
	acquiredAt time.Time
	released   atomic.Bool
}

// Path returns the document path the lock guards.
func (lk *Lock) Path() string { return lk.path }

// AcquiredAt returns the time stamped into the lock token.
func (lk *Lock) AcquiredAt() time.Time { return lk.acquiredAt }

// Release removes the lock file if it still carries this holder's token.
// Calling Release more than once is a no-op. If the lock was reclaimed by
// another waiter in the meantime, Release logs a warning and returns nil.
func (lk *Lock) Release() error {
	if !lk.released.CompareAndSwap(false, true) {
		return nil
	}
	logger := lk.locker.logger

	data, err := os.ReadFile(lk.lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("lock vanished before release", "path", lk.path)
			return nil
		}
		return fmt.Errorf("reading lock file: %w", err)
	}

	var tok token
	if err := json.Unmarshal(data, &tok); err != nil || tok.Token != lk.token {
		logger.Warn("lock was reclaimed by another holder", "path", lk.path, "holder_pid", tok.PID)
		return nil
	}

	if err := os.Remove(lk.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// createLockFile attempts the exclusive create. It returns false with a nil
// error when another holder owns the lock.
func createLockFile(lockPath string, tok token) (bool, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	data, err := json.Marshal(tok)
	if err == nil {
		_, err = f.Write(append(data, '\n'))
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(lockPath)
		return false, err
	}
	return true, nil
}

// processAlive reports whether pid exists on this host. Lookup errors are
// treated as alive so an uncertain check never steals a live lock.
func processAlive(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	if err != nil {
		return true
	}
	return ok
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
