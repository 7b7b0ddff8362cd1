package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/xid"

	"planstore/internal/checksum"
	"planstore/internal/filelock"
	"planstore/internal/planstore"
)

// Write atomically replaces the named document with data and refreshes its
// digest and backup. When the cross-process lock cannot be acquired the write
// proceeds unlocked (see writeUnlocked) unless the store uses strict locking.
func (s *Store) Write(ctx context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}

	lk, err := s.locker.Acquire(ctx, s.Path(name))
	if err != nil {
		if !errors.Is(err, filelock.ErrUnavailable) || s.strict {
			return err
		}
		return s.writeUnlocked(name, data, err)
	}
	defer s.release(lk)

	return s.write(name, data, true)
}

// Save encodes v as indented JSON and writes it as the named document.
func (s *Store) Save(ctx context.Context, name string, v any) error {
	data, err := Encode(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return s.Write(ctx, name, data)
}

// Lock acquires the cross-process lock for the named document. Callers that
// need read-modify-write under one lock pair it with WriteLocked.
func (s *Store) Lock(ctx context.Context, name string) (*filelock.Lock, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	return s.locker.Acquire(ctx, s.Path(name))
}

// WriteLocked writes the named document while the caller holds lk.
func (s *Store) WriteLocked(lk *filelock.Lock, name string, data []byte) error {
	if lk == nil || lk.Path() != s.Path(name) {
		return fmt.Errorf("write %s: caller does not hold its lock", name)
	}
	return s.write(name, data, true)
}

// Unlock releases a lock obtained from Lock. Release problems are logged
// only, since the data already on disk is unaffected.
func (s *Store) Unlock(lk *filelock.Lock) { s.release(lk) }

// Encode returns the on-disk JSON form of v: two-space indent, trailing newline.
func Encode(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// writeUnlocked performs the write without the cross-process lock. Losing a
// concurrent writer's update is preferred over refusing the write; each
// occurrence is logged at ERROR and counted so operators can see it.
func (s *Store) writeUnlocked(name string, data []byte, cause error) error {
	s.logger.Error("writing document without lock",
		"path", s.Path(name),
		"reason", cause.Error(),
	)
	s.metrics.recordUnlocked(name)
	return s.write(name, data, true)
}

func (s *Store) release(lk *filelock.Lock) {
	if err := lk.Release(); err != nil {
		s.logger.Warn("lock release failed", "path", lk.Path(), "error", err)
	}
}

func (s *Store) write(name string, data []byte, refreshBackup bool) error {
	if err := s.writeFiles(name, data, refreshBackup); err != nil {
		return saveError(name, err)
	}
	return nil
}

// writeFiles runs the backup, temp, fsync and rename sequence. The data file
// is renamed before the digest, so a crash in between leaves a mismatch that
// the reader resolves from the backup.
func (s *Store) writeFiles(name string, data []byte, refreshBackup bool) error {
	path := s.Path(name)
	if refreshBackup {
		s.refreshBackup(name)
	}

	digest := checksum.Sum(data)

	tmpData, err := s.writeTemp(name, data)
	if err != nil {
		return fmt.Errorf("writing temp file for %s: %w", name, err)
	}
	tmpDigest, err := s.writeTemp(name+DigestSuffix, []byte(digest))
	if err != nil {
		os.Remove(tmpData)
		return fmt.Errorf("writing temp digest for %s: %w", name, err)
	}

	if err := s.place(tmpData, path); err != nil {
		os.Remove(tmpData)
		os.Remove(tmpDigest)
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	if err := s.place(tmpDigest, path+DigestSuffix); err != nil {
		os.Remove(tmpDigest)
		return fmt.Errorf("replacing digest for %s: %w", name, err)
	}

	if err := syncDir(s.dataDir); err != nil {
		s.logger.Warn("directory sync failed", "dir", s.dataDir, "error", err)
	}
	s.recordWritten(name, digest)
	return nil
}

// refreshBackup copies the current primary to the backup slot. A primary
// that fails its digest check is not copied, so a torn write never replaces
// the last good backup.
func (s *Store) refreshBackup(name string) {
	path := s.Path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("backup refresh skipped", "path", path, "error", err)
		}
		return
	}
	if digest, ok, _ := s.readDigest(name); ok && !checksum.Verify(data, digest) {
		s.logger.Warn("backup refresh skipped, primary fails digest check", "path", path)
		return
	}

	tmp, err := s.writeTempIn(s.dataDir, name+BackupSuffix, data)
	if err != nil {
		s.logger.Warn("backup refresh failed", "path", path, "error", err)
		return
	}
	if err := os.Rename(tmp, path+BackupSuffix); err != nil {
		os.Remove(tmp)
		s.logger.Warn("backup refresh failed", "path", path, "error", err)
	}
}

func (s *Store) writeTemp(name string, data []byte) (string, error) {
	return s.writeTempIn(s.tempDir, name, data)
}

// writeTempIn writes data to a uniquely named hidden file in dir and syncs it.
func (s *Store) writeTempIn(dir, name string, data []byte) (string, error) {
	tmpPath := filepath.Join(dir, "."+name+".tmp-"+xid.New().String())
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := s.syncFile(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return tmpPath, nil
}

// place renames tmp over dst. When tmp lives on another filesystem it is
// copied into dst's directory first and renamed from there.
func (s *Store) place(tmp, dst string) error {
	err := s.rename(tmp, dst)
	if err == nil || !isCrossDevice(err) {
		return err
	}

	s.logger.Debug("temp dir on another device, copying", "src", tmp, "dst", dst)
	src, err := os.Open(tmp)
	if err != nil {
		return err
	}
	defer src.Close()

	local := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-"+xid.New().String())
	out, err := os.OpenFile(local, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(local)
		return err
	}
	if err := s.syncFile(out); err != nil {
		out.Close()
		os.Remove(local)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(local)
		return err
	}
	if err := os.Rename(local, dst); err != nil {
		os.Remove(local)
		return err
	}
	if err := os.Remove(tmp); err != nil {
		s.logger.Warn("removing temp file failed", "path", tmp, "error", err)
	}
	return nil
}

// saveError wraps a failed write so callers can match planstore.ErrSaveFailed
// while keeping the cause.
func saveError(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", planstore.ErrSaveFailed, name, err)
}
