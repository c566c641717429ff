package queue

import (
	"context"
	"path/filepath"
	"testing"
)

// newTestStore opens a fresh SQLite file under the test's temp directory so
// parallel tests never share state.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "queue.db")
	store, err := Open(context.Background(), dsn, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestS1Insert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.InsertMany(ctx, []CrawlTask{
		{Domain: "oldschool.runescape.wiki", URL: "oldschool.runescape.wiki/", CrawlType: CrawlTypeNormal},
	})
	if err != nil {
		t.Fatalf("InsertMany: %v", err)
	}

	task, err := store.FindByURL(ctx, "oldschool.runescape.wiki/")
	if err != nil {
		t.Fatalf("FindByURL: %v", err)
	}
	if task.Status != StatusQueued {
		t.Fatalf("got status %v, want Queued", task.Status)
	}
}

func TestInsertManyIgnoresDuplicateURL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := CrawlTask{Domain: "example.com", URL: "https://example.com/", CrawlType: CrawlTypeNormal}
	if err := store.InsertMany(ctx, []CrawlTask{task, task}); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}

	count, err := store.CountByStatus(ctx, StatusQueued)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d queued rows, want 1 (idempotent enqueue)", count)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.FindByID(context.Background(), 9999); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestS6CrashRecovery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.InsertMany(ctx, []CrawlTask{
		{Domain: "example.com", URL: "https://example.com/a", CrawlType: CrawlTypeNormal},
	}); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	task, err := store.FindByURL(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("FindByURL: %v", err)
	}

	processing := StatusProcessing
	if err := store.Update(ctx, task.ID, TaskPatch{Status: &processing}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := store.ResetProcessing(ctx); err != nil {
		t.Fatalf("ResetProcessing: %v", err)
	}

	recovered, err := store.FindByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if recovered.Status != StatusQueued {
		t.Fatalf("got status %v after ResetProcessing, want Queued", recovered.Status)
	}
}

func TestURLsPresent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.InsertMany(ctx, []CrawlTask{
		{Domain: "example.com", URL: "https://example.com/a", CrawlType: CrawlTypeNormal},
	}); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	if err := store.RecordIndexed(ctx, []IndexedDocument{{Domain: "example.com", URL: "https://example.com/b"}}); err != nil {
		t.Fatalf("RecordIndexed: %v", err)
	}

	present, err := store.URLsPresent(ctx, []string{"https://example.com/a", "https://example.com/z"})
	if err != nil {
		t.Fatalf("URLsPresent: %v", err)
	}
	if _, ok := present["https://example.com/a"]; !ok {
		t.Fatalf("expected a.example to be present in crawl_queue")
	}

	indexed, err := store.IndexedURLsPresent(ctx, []string{"https://example.com/b"})
	if err != nil {
		t.Fatalf("IndexedURLsPresent: %v", err)
	}
	if _, ok := indexed["https://example.com/b"]; !ok {
		t.Fatalf("expected b.example to be present in indexed_document")
	}
}
