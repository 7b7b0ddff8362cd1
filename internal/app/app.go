package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"planstore/internal/accounts"
	"planstore/internal/collection"
	"planstore/internal/config"
	"planstore/internal/credential"
	"planstore/internal/document"
	"planstore/internal/eventlog"
	"planstore/internal/logindex"
	"planstore/internal/model"
	"planstore/internal/planstore"
	"planstore/internal/session"
)

// Document names inside the data directory.
const (
	PostsDocument = "posts.json"
	ListsDocument = "lists.json"
	UsersDocument = "users.json"
)

// App is the application layer between the CLI (or a server) and the
// stores. It constructs every dependency from config and releases them on
// Close.
type App struct {
	cfg    *config.Config
	op     *Operation
	logger planstore.Logger

	docs     *document.Store
	feed     *collection.Feed
	posts    *collection.Collection[model.Post]
	lists    *collection.Collection[model.List]
	users    *collection.Collection[model.User]
	events   *eventlog.Log
	index    *logindex.Index
	sessions *session.Store
	accounts *accounts.Service
	watcher  *collection.Watcher

	logFile   *os.File
	closeOnce sync.Once
	closeErr  error
}

// NewApp creates a fully wired App from the given config. op identifies
// the command being run; its id tags every log line. The caller must call
// Close when done.
func NewApp(cfg *config.Config, op *Operation) (*App, error) {
	logger, logFile, err := newLogger(cfg.LogDir, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a, err := New(cfg, op, &slogAdapter{l: logger})
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

// New wires an App that logs to logger instead of the log directory.
func New(cfg *config.Config, op *Operation, logger planstore.Logger) (*App, error) {
	logger = planstore.EnsureLogger(logger)
	if op == nil {
		op = NewOperation("", "")
	}
	a := &App{cfg: cfg, op: op, logger: logger, feed: collection.NewFeed()}

	docs, err := document.NewStoreFromConfig(cfg.Documents, document.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating document store: %w", err)
	}
	a.docs = docs

	a.posts = collection.New(docs, PostsDocument, collection.Options[model.Post]{
		Less: model.PostLess, Feed: a.feed, Logger: logger,
	})
	a.lists = collection.New(docs, ListsDocument, collection.Options[model.List]{
		Less: model.ListLess, Feed: a.feed, Logger: logger,
	})
	a.users = collection.New(docs, UsersDocument, collection.Options[model.User]{
		Less: model.UserLess, Feed: a.feed, Logger: logger,
	})

	a.events, err = eventlog.Open(cfg.EventLog.Path, eventlog.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}

	a.index, err = logindex.NewIndexFromConfig(cfg.LogIndex, logger)
	if err != nil {
		return nil, fmt.Errorf("creating log index: %w", err)
	}

	a.sessions, err = session.NewStoreFromConfig(cfg.Sessions, session.WithLogger(logger))
	if err != nil {
		a.closeIndex()
		return nil, fmt.Errorf("creating session store: %w", err)
	}

	a.accounts = accounts.NewService(a.users, a.sessions, credential.NewHasher(nil), a.events, logger)

	if cfg.Documents.Watch {
		a.watcher, err = collection.NewWatcher(docs.DataDir(), logger, a.posts, a.lists, a.users)
		if err != nil {
			// Cache coherence across processes degrades to per-process; the
			// data on disk is unaffected.
			logger.Warn("document watcher unavailable", "error", err)
			a.watcher = nil
		}
	}

	logger.Debug("app initialized", "operation", op.Name, "data_dir", docs.DataDir())
	return a, nil
}

// Operation returns the operation this App was created for.
func (a *App) Operation() *Operation { return a.op }

// Logger returns the application logger.
func (a *App) Logger() planstore.Logger { return a.logger }

func (a *App) Posts() *collection.Collection[model.Post] { return a.posts }
func (a *App) Lists() *collection.Collection[model.List] { return a.lists }
func (a *App) Users() *collection.Collection[model.User] { return a.users }

// Documents returns the underlying document store for operator tooling.
func (a *App) Documents() *document.Store { return a.docs }

// Accounts returns the account service.
func (a *App) Accounts() *accounts.Service { return a.accounts }

// Changes subscribes to committed changes of every collection. The returned
// function ends the subscription.
func (a *App) Changes(buffer int) (<-chan collection.Change, func()) {
	return a.feed.Subscribe(buffer)
}

// AppendLog appends an audit entry. An empty actor defaults to the
// operation's actor.
func (a *App) AppendLog(ctx context.Context, e eventlog.Entry) (eventlog.Entry, error) {
	if e.Actor == "" {
		e.Actor = a.op.Actor
	}
	return a.events.Append(ctx, e)
}

// ReadLog returns every entry in the event log, oldest first.
func (a *App) ReadLog(ctx context.Context) ([]eventlog.Entry, error) {
	return a.events.ReadAll(ctx)
}

// TailLog returns the last n entries of the event log.
func (a *App) TailLog(ctx context.Context, n int) ([]eventlog.Entry, error) {
	return a.events.Tail(ctx, n)
}

// ErrNoIndex is returned by QueryLog when the log index is disabled.
var ErrNoIndex = errors.New("log index disabled")

// QueryLog brings the index up to date with the event log and runs f.
func (a *App) QueryLog(ctx context.Context, f logindex.Filter) ([]eventlog.Entry, error) {
	if a.index == nil {
		return nil, ErrNoIndex
	}
	n, err := a.index.Sync(ctx, a.events)
	if err != nil {
		return nil, fmt.Errorf("syncing log index: %w", err)
	}
	if n > 0 {
		a.logger.Debug("log index synced", "entries", n)
	}
	return a.index.Query(ctx, f)
}

// CreateSession starts a session without checking credentials. Callers
// that authenticate use Login.
func (a *App) CreateSession(username, role string) (string, error) {
	return a.sessions.Create(username, role)
}

func (a *App) LookupSession(token string) (session.Session, bool) {
	return a.sessions.Lookup(token)
}

func (a *App) RevokeSession(token string) bool {
	return a.sessions.Revoke(token)
}

// RevokeSessionsForUser revokes every session of username and returns once
// the revocation is persisted.
func (a *App) RevokeSessionsForUser(ctx context.Context, username string) (int, error) {
	n, err := a.sessions.RevokeUser(ctx, username)
	if err != nil {
		return n, err
	}
	_, _ = a.AppendLog(ctx, eventlog.Entry{
		Action:  "session.revoke_user",
		Subject: username,
		Details: map[string]any{"sessions_revoked": n},
	})
	return n, nil
}

// Login verifies credentials and returns a new session token.
func (a *App) Login(ctx context.Context, username, password string) (string, model.User, error) {
	return a.accounts.Login(ctx, username, password)
}

// ResetPassword sets a new password for username and revokes its sessions.
func (a *App) ResetPassword(ctx context.Context, username, password string) (int, error) {
	return a.accounts.ResetPassword(ctx, a.op.Actor, username, password)
}

// AddUser creates an account.
func (a *App) AddUser(ctx context.Context, username, role, password string) (model.User, error) {
	return a.accounts.AddUser(ctx, username, role, password)
}

// Close stops the watcher, flushes the session mirror and closes the log
// index. It returns the first error encountered. Later calls return the
// same result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { a.closeErr = a.close(ctx) })
	return a.closeErr
}

func (a *App) close(ctx context.Context) error {
	var firstErr error

	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			firstErr = fmt.Errorf("closing watcher: %w", err)
		}
	}

	if err := a.sessions.Close(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing session store: %w", err)
	}

	if err := a.closeIndex(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing log index: %w", err)
	}

	a.feed.Close()

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

func (a *App) closeIndex() error {
	if a.index == nil {
		return nil
	}
	return a.index.Close()
}
