package queue

import (
	"context"
	"strings"
	"testing"
)

func TestS2DequeueAfterEnqueue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sched := NewScheduler(store)

	if err := store.InsertMany(ctx, []CrawlTask{
		{Domain: "oldschool.runescape.wiki", URL: "https://oldschool.runescape.wiki/", CrawlType: CrawlTypeNormal},
	}); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}

	task, ok, err := sched.Dequeue(ctx, DefaultUserSettings(), nil, nil)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if !ok {
		t.Fatalf("expected a task, got none")
	}
	if task.URL != "https://oldschool.runescape.wiki/" {
		t.Fatalf("got url %q, want the enqueued one", task.URL)
	}
	if task.Status != StatusProcessing {
		t.Fatalf("got status %v, want Processing after claim", task.Status)
	}
}

func TestS3DomainCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sched := NewScheduler(store)

	if err := store.InsertMany(ctx, []CrawlTask{
		{Domain: "h.example", URL: "https://h.example/a", CrawlType: CrawlTypeNormal},
	}); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}
	if err := store.RecordIndexed(ctx, []IndexedDocument{{Domain: "h.example", URL: "https://h.example/already"}}); err != nil {
		t.Fatalf("RecordIndexed: %v", err)
	}

	settings := DefaultUserSettings()
	settings.DomainCrawlLimit = Finite(2)
	task, ok, err := sched.Dequeue(ctx, settings, nil, nil)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if !ok || task.URL != "https://h.example/a" {
		t.Fatalf("expected the row back under a domain cap of 2, got ok=%v task=%+v", ok, task)
	}

	settings.DomainCrawlLimit = Finite(1)
	_, ok, err = sched.Dequeue(ctx, settings, nil, nil)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if ok {
		t.Fatalf("expected no task under a domain cap of 1 with 1 already indexed")
	}
}

func TestS5RetryPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sched := NewScheduler(store)

	if err := store.InsertMany(ctx, []CrawlTask{
		{Domain: "example.com", URL: "https://example.com/retry", CrawlType: CrawlTypeNormal},
	}); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}

	task, ok, err := sched.Dequeue(ctx, DefaultUserSettings(), nil, nil)
	if err != nil || !ok {
		t.Fatalf("Dequeue: ok=%v err=%v", ok, err)
	}

	for i := uint8(1); i <= MaxRetries; i++ {
		if err := store.MarkDone(ctx, task.ID, Failed); err != nil {
			t.Fatalf("MarkDone retry %d: %v", i, err)
		}
		got, err := store.FindByID(ctx, task.ID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if got.Status != StatusQueued {
			t.Fatalf("retry %d: got status %v, want Queued", i, got.Status)
		}
		if got.NumRetries != i {
			t.Fatalf("retry %d: got num_retries %d, want %d", i, got.NumRetries, i)
		}
	}

	// The sixth Failed report (one initial attempt + five retries) must be
	// terminal.
	if err := store.MarkDone(ctx, task.ID, Failed); err != nil {
		t.Fatalf("MarkDone final: %v", err)
	}
	final, err := store.FindByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if final.Status != StatusFailed {
		t.Fatalf("got status %v after sixth failure, want terminal Failed", final.Status)
	}
}

func TestBootstrapPriority(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sched := NewScheduler(store)

	if err := store.InsertMany(ctx, []CrawlTask{
		{Domain: "normal.example", URL: "https://normal.example/", CrawlType: CrawlTypeNormal},
		{Domain: "seed.example", URL: "https://seed.example/", CrawlType: CrawlTypeBootstrap},
	}); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}

	task, ok, err := sched.Dequeue(ctx, DefaultUserSettings(), nil, nil)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if !ok || task.CrawlType != CrawlTypeBootstrap {
		t.Fatalf("expected the bootstrap task first, got ok=%v task=%+v", ok, task)
	}
}

func TestGlobalCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sched := NewScheduler(store)

	if err := store.InsertMany(ctx, []CrawlTask{
		{Domain: "a.example", URL: "https://a.example/", CrawlType: CrawlTypeNormal},
		{Domain: "b.example", URL: "https://b.example/", CrawlType: CrawlTypeNormal},
	}); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}

	settings := DefaultUserSettings()
	settings.InflightCrawlLimit = Finite(1)

	first, ok, err := sched.Dequeue(ctx, settings, nil, nil)
	if err != nil || !ok {
		t.Fatalf("first Dequeue: ok=%v err=%v", ok, err)
	}
	_ = first

	_, ok, err = sched.Dequeue(ctx, settings, nil, nil)
	if err != nil {
		t.Fatalf("second Dequeue: %v", err)
	}
	if ok {
		t.Fatalf("expected no task once the global inflight cap of 1 is hit")
	}
}

func TestS4PrioritySQLShape(t *testing.T) {
	query, args := buildDequeueQuery(
		[]string{"en.wikipedia.org"},
		[]string{"https://roll20.net/compendium/dnd5e"},
		Unlimited(), Unlimited(),
	)

	if !strings.Contains(query, "p_prefix.priority DESC,\n  p_domain.priority DESC,\n  cq.updated_at ASC") {
		t.Fatalf("ORDER BY clause does not match the required shape:\n%s", query)
	}

	wantArgs := []any{"en.wikipedia.org", 1, "https://roll20.net/compendium/dnd5e%", 1, int64(1<<31 - 1), int64(1<<31 - 1)}
	if len(args) != len(wantArgs) {
		t.Fatalf("got %d args, want %d: %v", len(args), len(wantArgs), args)
	}
	for i := range wantArgs {
		if args[i] != wantArgs[i] {
			t.Fatalf("arg %d: got %v, want %v", i, args[i], wantArgs[i])
		}
	}
}

func TestS4PrioritySQLEmptyDegeneracy(t *testing.T) {
	query, args := buildDequeueQuery(nil, nil, Unlimited(), Unlimited())
	if !strings.Contains(query, "VALUES (?, ?)") {
		t.Fatalf("expected a single sentinel VALUES row, got:\n%s", query)
	}
	if args[0] != "" || args[1] != 0 {
		t.Fatalf("got p_domain sentinel args %v, want (\"\", 0)", args[:2])
	}
	if args[2] != "" || args[3] != 0 {
		t.Fatalf("got p_prefix sentinel args %v, want (\"\", 0)", args[2:4])
	}
}
