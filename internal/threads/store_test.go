package threads

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"llmchat/backend/internal/db"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	database.SetMaxOpenConns(1)

	if err := db.Migrate(context.Background(), database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, id := range []string{"user-1", "user-2"} {
		if _, err := database.Exec(`INSERT INTO users (id, google_sub, email) VALUES (?, ?, ?);`, id, "sub-"+id, id+"@example.com"); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	return NewStore(database)
}

func TestCreateAndListThreads(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateThread(ctx, "user-1", "t1", "  Planning   the trip ", "chat")
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if created.Title != "Planning the trip" || created.Mode != "chat" {
		t.Fatalf("unexpected thread: %+v", created)
	}
	if _, err := store.CreateThread(ctx, "user-1", "t2", "", "pro"); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if _, err := store.CreateThread(ctx, "user-2", "t3", "other", "chat"); err != nil {
		t.Fatalf("create thread: %v", err)
	}

	list, err := store.ListThreads(ctx, "user-1")
	if err != nil {
		t.Fatalf("list threads: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 threads for user-1, got %d", len(list))
	}
	for _, thread := range list {
		if thread.ID == "t3" {
			t.Fatal("listed another user's thread")
		}
		if thread.ID == "t2" && thread.Title != "New Thread" {
			t.Fatalf("expected default title, got %q", thread.Title)
		}
	}
}

func TestThreadsAreScopedByUser(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateThread(ctx, "user-1", "t1", "mine", "chat"); err != nil {
		t.Fatalf("create thread: %v", err)
	}

	if _, err := store.GetThread(ctx, "user-2", "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign get, got %v", err)
	}
	if _, err := store.RenameThread(ctx, "user-2", "t1", "stolen"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign rename, got %v", err)
	}
	if err := store.DeleteThread(ctx, "user-2", "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign delete, got %v", err)
	}
	if err := store.EnsureThread(ctx, "user-2", "t1", "hijack", "chat"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign ensure, got %v", err)
	}
	if err := store.SaveItem(ctx, "user-2", Item{ID: "i1", ThreadID: "t1", Query: "q"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign item save, got %v", err)
	}
}

func TestUpdateThreadRenamesAndPins(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateThread(ctx, "user-1", "t1", "old", "chat"); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	pinned := true
	title := strings.Repeat("x", 100)
	updated, err := store.UpdateThread(ctx, "user-1", "t1", &title, &pinned)
	if err != nil {
		t.Fatalf("update thread: %v", err)
	}
	if !updated.Pinned {
		t.Fatal("expected thread pinned")
	}
	if len([]rune(updated.Title)) != maxTitleRunes+1 || !strings.HasSuffix(updated.Title, "…") {
		t.Fatalf("expected truncated title, got %q", updated.Title)
	}
}

func TestEnsureThreadAndSaveItemUpsert(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if err := store.EnsureThread(ctx, "user-1", "t1", "What is SSE?", "chat"); err != nil {
		t.Fatalf("ensure thread: %v", err)
	}
	if err := store.EnsureThread(ctx, "user-1", "t1", "second question", "pro"); err != nil {
		t.Fatalf("ensure thread again: %v", err)
	}
	thread, err := store.GetThread(ctx, "user-1", "t1")
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if thread.Title != "What is SSE?" || thread.Mode != "pro" {
		t.Fatalf("unexpected thread after ensure: %+v", thread)
	}

	item := Item{ID: "i1", ThreadID: "t1", Mode: "chat", Query: "What is SSE?", Status: ItemPending}
	if err := store.SaveItem(ctx, "user-1", item); err != nil {
		t.Fatalf("save pending item: %v", err)
	}

	item.Answer = "Server-Sent Events."
	item.Status = ItemCompleted
	item.Sources = []Source{{Title: "MDN", URL: "https://developer.mozilla.org", Index: 1}}
	if err := store.SaveItem(ctx, "user-1", item); err != nil {
		t.Fatalf("save completed item: %v", err)
	}

	items, err := store.ListItems(ctx, "user-1", "t1")
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected upsert to keep one item, got %d", len(items))
	}
	got := items[0]
	if got.Status != ItemCompleted || got.Answer != "Server-Sent Events." {
		t.Fatalf("unexpected item: %+v", got)
	}
	if len(got.Sources) != 1 || got.Sources[0].URL != "https://developer.mozilla.org" {
		t.Fatalf("unexpected sources: %+v", got.Sources)
	}
}

func TestDeleteThreadRemovesItems(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2"} {
		if err := store.EnsureThread(ctx, "user-1", id, "q", "chat"); err != nil {
			t.Fatalf("ensure thread: %v", err)
		}
		if err := store.SaveItem(ctx, "user-1", Item{ID: "item-" + id, ThreadID: id, Query: "q", Status: ItemCompleted}); err != nil {
			t.Fatalf("save item: %v", err)
		}
	}

	if err := store.DeleteThread(ctx, "user-1", "t1"); err != nil {
		t.Fatalf("delete thread: %v", err)
	}
	if _, err := store.ListItems(ctx, "user-1", "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted thread to be gone, got %v", err)
	}

	deleted, err := store.DeleteAllThreads(ctx, "user-1")
	if err != nil {
		t.Fatalf("delete all threads: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 remaining thread deleted, got %d", deleted)
	}
	list, err := store.ListThreads(ctx, "user-1")
	if err != nil || len(list) != 0 {
		t.Fatalf("expected no threads left, got %d (%v)", len(list), err)
	}
}
