// Package accounts ties the users collection, the credential verifier and
// the session store together for login and password changes.
package accounts

import (
	"context"
	"errors"
	"fmt"

	"planstore/internal/collection"
	"planstore/internal/credential"
	"planstore/internal/eventlog"
	"planstore/internal/model"
	"planstore/internal/planstore"
	"planstore/internal/session"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Service implements account operations.
type Service struct {
	users    *collection.Collection[model.User]
	sessions *session.Store
	hasher   *credential.Hasher
	events   *eventlog.Log
	logger   planstore.Logger
}

// NewService creates a Service. events may be nil to skip audit entries.
func NewService(users *collection.Collection[model.User], sessions *session.Store, hasher *credential.Hasher, events *eventlog.Log, logger planstore.Logger) *Service {
	if hasher == nil {
		hasher = credential.NewHasher(nil)
	}
	return &Service{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		events:   events,
		logger:   planstore.EnsureLogger(logger),
	}
}

// AddUser creates an account with an argon2id password hash.
func (s *Service) AddUser(ctx context.Context, username, role, password string) (model.User, error) {
	if username == "" {
		return model.User{}, fmt.Errorf("username is required")
	}
	if !model.ValidRole(role) {
		return model.User{}, fmt.Errorf("unknown role %q", role)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return model.User{}, fmt.Errorf("hashing password: %w", err)
	}
	u, err := s.users.Create(ctx, model.User{
		ID:           model.ID(username),
		Username:     username,
		Role:         role,
		PasswordHash: hash,
	})
	if err != nil {
		return model.User{}, err
	}
	s.audit(ctx, username, "user.create", username, map[string]any{"role": role})
	return u, nil
}

// Login verifies the password and starts a session. A password that matched
// a legacy hash is rehashed with argon2id; a failure to store the new hash
// is logged and does not fail the login.
func (s *Service) Login(ctx context.Context, username, password string) (string, model.User, error) {
	u, err := s.users.Get(ctx, username)
	if err != nil {
		if errors.Is(err, planstore.ErrNotFound) {
			return "", model.User{}, ErrInvalidCredentials
		}
		return "", model.User{}, err
	}

	res, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		s.logger.Warn("password verification failed", "username", username, "error", err)
		return "", model.User{}, ErrInvalidCredentials
	}
	if !res.Matched {
		s.audit(ctx, username, "user.login_failed", username, nil)
		return "", model.User{}, ErrInvalidCredentials
	}
	if res.UpgradeNeeded {
		s.upgradeHash(ctx, username, password)
	}

	token, err := s.sessions.Create(u.Username, u.Role)
	if err != nil {
		return "", model.User{}, err
	}
	s.audit(ctx, username, "user.login", username, nil)
	u.PasswordHash = ""
	return token, u, nil
}

func (s *Service) upgradeHash(ctx context.Context, username, password string) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("password rehash failed", "username", username, "error", err)
		return
	}
	_, err = s.users.Update(ctx, username, func(u model.User) (model.User, error) {
		// Another login may have upgraded it already.
		if credential.IsLegacy(u.PasswordHash) {
			u.PasswordHash = hash
		}
		return u, nil
	})
	if err != nil {
		s.logger.Warn("storing upgraded password hash failed", "username", username, "error", err)
		return
	}
	s.logger.Info("upgraded legacy password hash", "username", username)
}

// ResetPassword stores a new password hash and revokes every session of the
// user before returning. It returns the number of sessions revoked.
func (s *Service) ResetPassword(ctx context.Context, actor, username, password string) (int, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return 0, fmt.Errorf("hashing password: %w", err)
	}
	_, err = s.users.Update(ctx, username, func(u model.User) (model.User, error) {
		u.PasswordHash = hash
		return u, nil
	})
	if err != nil {
		return 0, err
	}

	n, err := s.sessions.RevokeUser(ctx, username)
	if err != nil {
		return n, fmt.Errorf("revoking sessions: %w", err)
	}
	s.audit(ctx, actor, "user.password_reset", username, map[string]any{"sessions_revoked": n})
	return n, nil
}

func (s *Service) audit(ctx context.Context, actor, action, subject string, details map[string]any) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Append(ctx, eventlog.Entry{Actor: actor, Action: action, Subject: subject, Details: details}); err != nil {
		s.logger.Warn("audit append failed", "action", action, "error", err)
	}
}
