// Package credential verifies stored password hashes. Current hashes are
// argon2id; accounts created before that carry an unsalted SHA-256 hex digest
// and are upgraded after their next successful login.
package credential

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = errors.New("empty password")

// Result is the outcome of Verify.
type Result struct {
	Matched bool
	// UpgradeNeeded is set when the password matched a legacy hash that
	// should be replaced by Hash(plain).
	UpgradeNeeded bool
}

// Hasher creates and checks argon2id hashes.
type Hasher struct {
	params *argon2id.Params
}

// NewHasher returns a Hasher using p, or argon2id.DefaultParams when p is nil.
func NewHasher(p *argon2id.Params) *Hasher {
	if p == nil {
		p = argon2id.DefaultParams
	}
	return &Hasher{params: p}
}

// Hash returns the argon2id encoding of plain.
func (h *Hasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptyPassword
	}
	return argon2id.CreateHash(plain, h.params)
}

// Verify checks plain against stored. The argon2id form is tried first;
// anything else is compared as a legacy SHA-256 hex digest.
func (h *Hasher) Verify(plain, stored string) (Result, error) {
	if stored == "" {
		return Result{}, nil
	}
	if strings.HasPrefix(stored, "$argon2id$") {
		ok, err := argon2id.ComparePasswordAndHash(plain, stored)
		if err != nil {
			return Result{}, fmt.Errorf("comparing argon2id hash: %w", err)
		}
		return Result{Matched: ok}, nil
	}
	if !IsLegacy(stored) {
		return Result{}, fmt.Errorf("unrecognized password hash format")
	}
	if subtle.ConstantTimeCompare([]byte(LegacyHash(plain)), []byte(strings.ToLower(stored))) == 1 {
		return Result{Matched: true, UpgradeNeeded: true}, nil
	}
	return Result{}, nil
}

// Verify checks plain against stored with default parameters.
func Verify(plain, stored string) (Result, error) {
	return NewHasher(nil).Verify(plain, stored)
}

// LegacyHash returns the unsalted SHA-256 hex digest older accounts stored.
func LegacyHash(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// IsLegacy reports whether stored looks like a legacy SHA-256 hex digest.
func IsLegacy(stored string) bool {
	if len(stored) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(stored)
	return err == nil
}
