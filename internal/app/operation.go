package app

import (
	"os"
	"os/user"

	"github.com/rs/xid"
)

// Operation identifies one CLI or server invocation. Its ID tags every log
// line written while it runs, and Actor is recorded on audit entries that
// do not name one.
type Operation struct {
	ID    string
	Name  string
	Actor string
}

// NewOperation creates an operation with a fresh id. An empty actor falls
// back to the current OS user.
func NewOperation(name, actor string) *Operation {
	if actor == "" {
		actor = currentUser()
	}
	return &Operation{
		ID:    xid.New().String(),
		Name:  name,
		Actor: actor,
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
