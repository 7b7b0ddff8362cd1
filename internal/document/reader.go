package document

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"planstore/internal/checksum"
	"planstore/internal/planstore"
)

// CorruptError reports a document that cannot be parsed and has no usable
// backup. It matches planstore.ErrCorrupt.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("document corrupt: %s", e.Path)
	}
	return fmt.Sprintf("document corrupt: %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() []error {
	if e.Err == nil {
		return []error{planstore.ErrCorrupt}
	}
	return []error{planstore.ErrCorrupt, e.Err}
}

// Read returns the named document's bytes, or nil with a nil error if it does
// not exist. A primary that fails its digest or does not parse is replaced by
// the backup when the backup parses; that substitution is logged and counted
// but never returned as an error. Documents without a digest are returned
// as-is.
func (s *Store) Read(ctx context.Context, name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	digest, hasDigest, err := s.readDigest(name)
	if err != nil {
		return nil, err
	}
	parses := json.Valid(data)

	if !hasDigest {
		if parses {
			return data, nil
		}
		return s.recover(name, data, "parse_failed", false)
	}

	switch {
	case !checksum.Verify(data, digest):
		return s.recover(name, data, "digest_mismatch", parses)
	case !parses:
		return s.recover(name, data, "parse_failed", false)
	}
	return data, nil
}

// Load reads the named document into v. It reports false if the document
// does not exist.
func (s *Store) Load(ctx context.Context, name string, v any) (bool, error) {
	data, err := s.Read(ctx, name)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &CorruptError{Path: s.Path(name), Err: err}
	}
	return true, nil
}

// recover serves the backup in place of a primary that failed verification.
// If the backup is unusable, a primary that still parses is served
// unverified; otherwise the document is corrupt.
func (s *Store) recover(name string, primary []byte, reason string, primaryParses bool) ([]byte, error) {
	path := s.Path(name)
	s.metrics.recordMismatch(name, reason)

	backup, err := os.ReadFile(path + BackupSuffix)
	if err == nil && json.Valid(backup) {
		s.logger.Warn("document integrity mismatch, serving backup", "path", path, "reason", reason)
		return backup, nil
	}
	if err != nil && !os.IsNotExist(err) {
		s.logger.Warn("reading backup failed", "path", path, "error", err)
	}

	if primaryParses {
		s.logger.Warn("document integrity mismatch, no usable backup, serving unverified primary", "path", path, "reason", reason)
		return primary, nil
	}
	s.logger.Error("document corrupt and no usable backup", "path", path, "reason", reason)
	return nil, &CorruptError{Path: path}
}

// readDigest returns the stored digest for name and whether one exists.
func (s *Store) readDigest(name string) (string, bool, error) {
	raw, err := os.ReadFile(s.Path(name) + DigestSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading digest for %s: %w", name, err)
	}
	return strings.TrimSpace(string(raw)), true, nil
}
