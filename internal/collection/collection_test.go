package collection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"planstore/internal/document"
	"planstore/internal/filelock"
	"planstore/internal/model"
	"planstore/internal/planstore"
	"planstore/internal/testutil"
)

var testProfile = filelock.Profile{
	Name:        "test",
	MaxAttempts: 3,
	BaseDelay:   time.Millisecond,
	MaxDelay:    2 * time.Millisecond,
	StaleAfter:  time.Minute,
}

func newTestStore(t *testing.T, cfg document.Config) *document.Store {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	s, err := document.New(cfg, document.WithLocker(filelock.New(testProfile)))
	if err != nil {
		t.Fatalf("document.New() error = %v", err)
	}
	return s
}

func newPosts(store *document.Store, feed *Feed) *Collection[model.Post] {
	return New[model.Post](store, "posts.json", Options[model.Post]{
		Less: model.PostLess,
		IDs:  testutil.NewStubIDGenerator(""),
		Feed: feed,
	})
}

func TestCollection_CreateAssignsIDAndPersists(t *testing.T) {
	store := newTestStore(t, document.Config{})
	posts := newPosts(store, nil)
	ctx := context.Background()

	created, err := posts.Create(ctx, model.Post{Date: "2024-05-01", AllDay: true, Title: "launch"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID != "1" {
		t.Errorf("Create() id = %q, want %q", created.ID, "1")
	}

	// A second collection over the same directory sees it on disk.
	fresh := newPosts(store, nil)
	got, err := fresh.Get(ctx, "1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "launch" {
		t.Errorf("Get() title = %q, want %q", got.Title, "launch")
	}
}

func TestCollection_ConcurrentCreatesAllPersist(t *testing.T) {
	store := newTestStore(t, document.Config{})
	posts := newPosts(store, nil)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := posts.Create(ctx, model.Post{Date: "2024-05-01", Time: fmt.Sprintf("%02d:00", i%24)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	var onDisk []model.Post
	if _, err := store.Load(ctx, "posts.json", &onDisk); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	seen := make(map[model.ID]bool)
	for _, p := range onDisk {
		seen[p.ID] = true
	}
	if len(onDisk) != n || len(seen) != n {
		t.Errorf("disk holds %d posts with %d unique ids, want %d", len(onDisk), len(seen), n)
	}

	listed, err := posts.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != n {
		t.Errorf("List() returned %d posts, want %d", len(listed), n)
	}
}

func TestCollection_PostOrdering(t *testing.T) {
	store := newTestStore(t, document.Config{})
	posts := newPosts(store, nil)
	ctx := context.Background()

	if _, err := posts.Create(ctx, model.Post{ID: "2", Date: "2024-05-01", Time: "09:00"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := posts.Create(ctx, model.Post{ID: "1", Date: "2024-05-01", AllDay: true}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	listed, err := posts.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "1" || listed[1].ID != "2" {
		t.Errorf("List() order = %v, want [1 2]", ids(listed))
	}

	var onDisk []model.Post
	if _, err := store.Load(ctx, "posts.json", &onDisk); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(onDisk) != 2 || onDisk[0].ID != "1" {
		t.Errorf("disk order = %v, want [1 2]", ids(onDisk))
	}
}

func TestCollection_UpdateMissingLeavesFileUntouched(t *testing.T) {
	store := newTestStore(t, document.Config{})
	posts := newPosts(store, nil)
	ctx := context.Background()

	if _, err := posts.Create(ctx, model.Post{Date: "2024-05-01", AllDay: true}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	path := store.Path("posts.json")
	before := testutil.ReadFile(t, path)
	beforeInfo, _ := os.Stat(path)

	_, err := posts.Update(ctx, "missing", func(p model.Post) (model.Post, error) {
		p.Title = "changed"
		return p, nil
	})
	if !errors.Is(err, planstore.ErrNotFound) {
		t.Fatalf("Update() error = %v, want ErrNotFound", err)
	}
	if err := posts.Delete(ctx, "missing"); !errors.Is(err, planstore.ErrNotFound) {
		t.Fatalf("Delete() error = %v, want ErrNotFound", err)
	}

	after := testutil.ReadFile(t, path)
	afterInfo, _ := os.Stat(path)
	if !bytes.Equal(before, after) {
		t.Error("document changed after not-found mutations")
	}
	if !afterInfo.ModTime().Equal(beforeInfo.ModTime()) {
		t.Error("document rewritten after not-found mutations")
	}
}

func TestCollection_UpdateAndDelete(t *testing.T) {
	store := newTestStore(t, document.Config{})
	posts := newPosts(store, nil)
	ctx := context.Background()

	p, err := posts.Create(ctx, model.Post{Date: "2024-05-01", AllDay: true, Status: model.StatusDraft})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := posts.Update(ctx, string(p.ID), func(p model.Post) (model.Post, error) {
		p.Status = model.StatusScheduled
		return p, nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Status != model.StatusScheduled {
		t.Errorf("Update() status = %q, want %q", updated.Status, model.StatusScheduled)
	}

	_, err = posts.Update(ctx, string(p.ID), func(p model.Post) (model.Post, error) {
		p.ID = "other"
		return p, nil
	})
	if err == nil {
		t.Error("Update() changing the id expected error")
	}

	if err := posts.Delete(ctx, string(p.ID)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := posts.Get(ctx, string(p.ID)); !errors.Is(err, planstore.ErrNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrNotFound", err)
	}
	if got := string(testutil.ReadFile(t, store.Path("posts.json"))); got != "[]\n" {
		t.Errorf("document after deleting the last post = %q, want %q", got, "[]\n")
	}
}

func TestCollection_CreateDuplicate(t *testing.T) {
	store := newTestStore(t, document.Config{})
	posts := newPosts(store, nil)
	ctx := context.Background()

	if _, err := posts.Create(ctx, model.Post{ID: "a", Date: "2024-05-01"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := posts.Create(ctx, model.Post{ID: "a", Date: "2024-05-02"}); !errors.Is(err, planstore.ErrConflict) {
		t.Fatalf("Create() duplicate error = %v, want ErrConflict", err)
	}
}

func TestCollection_FailedWriteInvalidatesCache(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "tmp")
	store := newTestStore(t, document.Config{TempDir: tempDir})
	posts := newPosts(store, nil)
	ctx := context.Background()

	if _, err := posts.Create(ctx, model.Post{ID: "1", Date: "2024-05-01"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, ok := posts.Cache().Get(); !ok {
		t.Fatal("cache empty after successful Create()")
	}

	if err := os.RemoveAll(tempDir); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	_, err := posts.Create(ctx, model.Post{ID: "2", Date: "2024-05-02"})
	if !errors.Is(err, planstore.ErrSaveFailed) {
		t.Fatalf("Create() error = %v, want ErrSaveFailed", err)
	}
	if _, ok := posts.Cache().Get(); ok {
		t.Fatal("cache still populated after failed write")
	}

	// Another writer changes the document; the next read must see it.
	other := newTestStore(t, document.Config{DataDir: store.DataDir()})
	if err := other.Save(ctx, "posts.json", []model.Post{{ID: "9", Date: "2024-06-01"}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	listed, err := posts.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 1 || listed[0].ID != "9" {
		t.Errorf("List() = %v, want [9] from disk", ids(listed))
	}
}

func TestCollection_LockUnavailable(t *testing.T) {
	store := newTestStore(t, document.Config{})
	posts := newPosts(store, nil)
	body := fmt.Sprintf(`{"pid":1,"host":"elsewhere","token":"held","acquired_at":%q}`, time.Now().UTC().Format(time.RFC3339Nano))
	testutil.WriteFile(t, store.Path("posts.json")+filelock.Suffix, []byte(body))

	_, err := posts.Create(context.Background(), model.Post{Date: "2024-05-01"})
	if !errors.Is(err, planstore.ErrLockUnavailable) {
		t.Fatalf("Create() error = %v, want ErrLockUnavailable", err)
	}
	if _, err := os.Stat(store.Path("posts.json")); !os.IsNotExist(err) {
		t.Error("document written without the lock")
	}

	// Replace uses the writer's unlocked fallback.
	if err := posts.Replace(context.Background(), []model.Post{{ID: "r", Date: "2024-05-01"}}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
}

func TestCollection_ListReturnsCopies(t *testing.T) {
	store := newTestStore(t, document.Config{})
	posts := newPosts(store, nil)
	ctx := context.Background()

	if _, err := posts.Create(ctx, model.Post{ID: "1", Date: "2024-05-01", Platforms: []string{"web"}}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	listed, _ := posts.List(ctx)
	listed[0].Title = "mutated"
	listed[0].Platforms[0] = "print"

	again, _ := posts.List(ctx)
	if again[0].Title != "" || again[0].Platforms[0] != "web" {
		t.Errorf("List() exposed cached state: %+v", again[0])
	}
}

func TestCollection_HydratesLegacyDocument(t *testing.T) {
	store := newTestStore(t, document.Config{})
	testutil.WriteFile(t, store.Path("posts.json"), []byte(`[{"id": 17, "date": "2024-05-01", "allDay": true}]`))
	posts := newPosts(store, nil)

	before := posts.Cache().Version()
	got, err := posts.Get(context.Background(), "17")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != "17" {
		t.Errorf("Get() id = %q, want %q", got.ID, "17")
	}
	if posts.Cache().Version() <= before {
		t.Error("hydration did not advance the cache version")
	}
}

func TestCollection_ReplaceSortsAndPublishes(t *testing.T) {
	store := newTestStore(t, document.Config{})
	feed := NewFeed()
	changes, cancel := feed.Subscribe(4)
	defer cancel()
	posts := newPosts(store, feed)

	err := posts.Replace(context.Background(), []model.Post{
		{ID: "b", Date: "2024-05-02"},
		{ID: "a", Date: "2024-05-01"},
	})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	listed, _ := posts.List(context.Background())
	if listed[0].ID != "a" {
		t.Errorf("List() = %v, want sorted", ids(listed))
	}

	select {
	case c := <-changes:
		if c.Op != OpReplace || c.Document != "posts.json" {
			t.Errorf("change = %+v, want replace of posts.json", c)
		}
	default:
		t.Error("no change published")
	}
}

func TestCollection_ExternalChange(t *testing.T) {
	store := newTestStore(t, document.Config{})
	posts := newPosts(store, nil)
	ctx := context.Background()

	if _, err := posts.Create(ctx, model.Post{ID: "1", Date: "2024-05-01"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	own := store.LastWritten("posts.json")
	if posts.ExternalChange(own) {
		t.Error("ExternalChange() with our own digest invalidated the cache")
	}

	other := newTestStore(t, document.Config{DataDir: store.DataDir()})
	if err := other.Save(ctx, "posts.json", []model.Post{{ID: "x", Date: "2024-05-01"}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !posts.ExternalChange(other.LastWritten("posts.json")) {
		t.Fatal("ExternalChange() with a foreign digest did not invalidate")
	}
	listed, _ := posts.List(ctx)
	if len(listed) != 1 || listed[0].ID != "x" {
		t.Errorf("List() = %v, want [x]", ids(listed))
	}
}

func ids(posts []model.Post) []model.ID {
	out := make([]model.ID, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}
