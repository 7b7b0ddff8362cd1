package logindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"planstore/internal/config"
	"planstore/internal/eventlog"
	"planstore/internal/testutil"
)

func newTestLog(t *testing.T, clock *testutil.StubClock) *eventlog.Log {
	t.Helper()
	l, err := eventlog.Open(filepath.Join(t.TempDir(), "events.log"), eventlog.Options{
		Clock: clock,
		IDs:   testutil.NewStubIDGenerator("evt"),
	})
	if err != nil {
		t.Fatalf("eventlog.Open() error = %v", err)
	}
	return l
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func appendEntries(t *testing.T, l *eventlog.Log, clock *testutil.StubClock, entries ...eventlog.Entry) {
	t.Helper()
	for _, e := range entries {
		clock.Advance(time.Second)
		if _, err := l.Append(context.Background(), e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
}

func TestIndex_SyncIsIncremental(t *testing.T) {
	clock := testutil.FixedClock()
	l := newTestLog(t, clock)
	ix := newTestIndex(t)
	ctx := context.Background()

	appendEntries(t, l, clock,
		eventlog.Entry{Actor: "ana", Action: "login"},
		eventlog.Entry{Actor: "bo", Action: "post.create", Subject: "1"},
	)
	n, err := ix.Sync(ctx, l)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if n != 2 {
		t.Errorf("first Sync() added %d, want 2", n)
	}

	appendEntries(t, l, clock, eventlog.Entry{Actor: "ana", Action: "logout"})
	n, err = ix.Sync(ctx, l)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if n != 1 {
		t.Errorf("second Sync() added %d, want 1", n)
	}

	n, err = ix.Sync(ctx, l)
	if err != nil || n != 0 {
		t.Errorf("idle Sync() = (%d, %v), want (0, nil)", n, err)
	}

	total, err := ix.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if total != 3 {
		t.Errorf("Count() = %d, want 3", total)
	}
}

func TestIndex_Query(t *testing.T) {
	clock := testutil.FixedClock()
	l := newTestLog(t, clock)
	ix := newTestIndex(t)
	ctx := context.Background()

	appendEntries(t, l, clock,
		eventlog.Entry{Actor: "ana", Action: "post.create", Subject: "1"},
		eventlog.Entry{Actor: "bo", Action: "post.update", Subject: "1", Details: map[string]any{"status": "scheduled"}},
		eventlog.Entry{Actor: "ana", Action: "post.delete", Subject: "1"},
		eventlog.Entry{Actor: "ana", Action: "login"},
	)
	if _, err := ix.Sync(ctx, l); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all newest first", Filter{}, []string{"evt-4", "evt-3", "evt-2", "evt-1"}},
		{"by actor", Filter{Actor: "ana"}, []string{"evt-4", "evt-3", "evt-1"}},
		{"by subject with limit", Filter{Subject: "1", Limit: 2}, []string{"evt-3", "evt-2"}},
		{"by action", Filter{Action: "post.update"}, []string{"evt-2"}},
		{"since", Filter{Since: testutil.FixedClock().Now().Add(3 * time.Second)}, []string{"evt-4", "evt-3"}},
		{"no match", Filter{Actor: "cy"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ix.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Query() returned %d entries, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("Query()[%d].ID = %q, want %q", i, got[i].ID, id)
				}
			}
		})
	}

	got, _ := ix.Query(ctx, Filter{Action: "post.update"})
	if got[0].Details["status"] != "scheduled" {
		t.Errorf("Details = %v, want status=scheduled", got[0].Details)
	}
}

func TestIndex_ReindexesReplacedLog(t *testing.T) {
	clock := testutil.FixedClock()
	l := newTestLog(t, clock)
	ix := newTestIndex(t)
	ctx := context.Background()

	appendEntries(t, l, clock,
		eventlog.Entry{Actor: "ana", Action: "a"},
		eventlog.Entry{Actor: "ana", Action: "b"},
	)
	if _, err := ix.Sync(ctx, l); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if err := os.Remove(l.Path()); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	appendEntries(t, l, clock, eventlog.Entry{Actor: "bo", Action: "c"})

	n, err := ix.Sync(ctx, l)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Sync() after replacement added %d, want 1", n)
	}
}

func TestOpen_RebuildsStaleSchema(t *testing.T) {
	tests := []struct {
		name   string
		tamper string
	}{
		{name: "dirty", tamper: "UPDATE schema_migrations SET dirty = 1"},
		{name: "newer binary", tamper: "UPDATE schema_migrations SET version = 999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := testutil.FixedClock()
			l := newTestLog(t, clock)
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "index.db")

			ix, err := Open(path, nil)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			appendEntries(t, l, clock,
				eventlog.Entry{Actor: "ana", Action: "login"},
				eventlog.Entry{Actor: "bo", Action: "logout"},
			)
			if _, err := ix.Sync(ctx, l); err != nil {
				t.Fatalf("Sync() error = %v", err)
			}
			if _, err := ix.db.Exec(tt.tamper); err != nil {
				t.Fatalf("tampering schema_migrations: %v", err)
			}
			ix.Close()

			logger := testutil.NewCaptureLogger()
			ix, err = Open(path, logger)
			if err != nil {
				t.Fatalf("Open() of a stale index error = %v", err)
			}
			defer ix.Close()
			if !logger.Contains("WARN", "rebuilding log index") {
				t.Error("expected a rebuild warning")
			}
			if n, _ := ix.Count(ctx); n != 0 {
				t.Errorf("Count() after rebuild = %d, want 0", n)
			}

			n, err := ix.Sync(ctx, l)
			if err != nil {
				t.Fatalf("Sync() after rebuild error = %v", err)
			}
			if n != 2 {
				t.Errorf("Sync() after rebuild indexed %d, want 2", n)
			}
		})
	}
}

func TestNewIndexFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LogIndexConfig
		wantNil bool
		wantErr bool
	}{
		{name: "sqlite", cfg: config.LogIndexConfig{Type: "sqlite", DataDir: t.TempDir()}},
		{name: "memory", cfg: config.LogIndexConfig{Type: "memory"}},
		{name: "none", cfg: config.LogIndexConfig{Type: "none"}, wantNil: true},
		{name: "sqlite without dir", cfg: config.LogIndexConfig{Type: "sqlite"}, wantErr: true},
		{name: "unknown", cfg: config.LogIndexConfig{Type: "postgres"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix, err := NewIndexFromConfig(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewIndexFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (ix == nil) != tt.wantNil {
				t.Fatalf("NewIndexFromConfig() = %v, wantNil %v", ix, tt.wantNil)
			}
			if ix != nil {
				ix.Close()
			}
		})
	}
}
