package document

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"planstore/internal/checksum"
	"planstore/internal/filelock"
)

// Status is the integrity state of a document on disk.
type Status string

const (
	StatusOK       Status = "ok"
	StatusLegacy   Status = "legacy"   // no digest recorded
	StatusMismatch Status = "mismatch" // digest does not match content
	StatusCorrupt  Status = "corrupt"  // content does not parse
	StatusMissing  Status = "missing"
)

// Info describes a document and its sibling files.
type Info struct {
	Name       string
	Path       string
	Status     Status
	Size       int64
	ModTime    time.Time
	Digest     string
	BackupSize int64
	HasBackup  bool
	Locked     bool
}

// Stat reports the on-disk state of the named document without taking the
// lock.
func (s *Store) Stat(ctx context.Context, name string) (Info, error) {
	if err := validName(name); err != nil {
		return Info{}, err
	}
	path := s.Path(name)
	info := Info{Name: name, Path: path}

	status, err := s.Verify(ctx, name)
	if err != nil {
		return info, err
	}
	info.Status = status

	if fi, err := os.Stat(path); err == nil {
		info.Size = fi.Size()
		info.ModTime = fi.ModTime()
	}
	if digest, ok, err := s.readDigest(name); err == nil && ok {
		info.Digest = digest
	}
	if fi, err := os.Stat(path + BackupSuffix); err == nil {
		info.HasBackup = true
		info.BackupSize = fi.Size()
	}
	if _, err := os.Stat(path + filelock.Suffix); err == nil {
		info.Locked = true
	}
	return info, nil
}

// Verify checks the named document against its digest without falling back
// to the backup.
func (s *Store) Verify(ctx context.Context, name string) (Status, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return StatusMissing, nil
		}
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	digest, ok, err := s.readDigest(name)
	if err != nil {
		return "", err
	}
	switch {
	case ok && !checksum.Verify(data, digest):
		return StatusMismatch, nil
	case !json.Valid(data):
		return StatusCorrupt, nil
	case !ok:
		return StatusLegacy, nil
	}
	return StatusOK, nil
}

// Repair restores the named document and its digest from the backup, under
// the lock. The backup itself is left unchanged.
func (s *Store) Repair(ctx context.Context, name string) error {
	lk, err := s.Lock(ctx, name)
	if err != nil {
		return err
	}
	defer s.release(lk)

	path := s.Path(name)
	backup, err := os.ReadFile(path + BackupSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return &CorruptError{Path: path, Err: fmt.Errorf("no backup to restore from")}
		}
		return fmt.Errorf("reading backup for %s: %w", name, err)
	}
	if !json.Valid(backup) {
		return &CorruptError{Path: path + BackupSuffix, Err: fmt.Errorf("backup does not parse")}
	}

	if err := s.write(name, backup, false); err != nil {
		return err
	}
	s.logger.Info("document restored from backup", "path", path, "size", len(backup))
	return nil
}
