package queue

import (
	"context"
	"testing"
)

func TestMarkDoneCompleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.InsertMany(ctx, []CrawlTask{
		{Domain: "example.com", URL: "https://example.com/", CrawlType: CrawlTypeNormal},
	}); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	task, err := store.FindByURL(ctx, "https://example.com/")
	if err != nil {
		t.Fatalf("FindByURL: %v", err)
	}

	if err := store.MarkDone(ctx, task.ID, Completed); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	got, err := store.FindByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("got status %v, want terminal Completed", got.Status)
	}
}

func TestMarkDoneUnknownID(t *testing.T) {
	store := newTestStore(t)
	if err := store.MarkDone(context.Background(), 404, Completed); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
