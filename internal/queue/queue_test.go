package queue

import (
	"context"
	"testing"
)

func newTestQueue(t *testing.T, lenses []Lens, settings UserSettings) *Queue {
	t.Helper()
	store := newTestStore(t)
	return New(store, Config{Lenses: lenses, Settings: settings})
}

func TestIdempotentEnqueue(t *testing.T) {
	lenses := []Lens{{Name: "all", Domains: []string{"oldschool.runescape.wiki", "example.com"}}}
	q := newTestQueue(t, lenses, DefaultUserSettings())
	ctx := context.Background()

	urls := []string{"https://oldschool.runescape.wiki/w/Dragon", "https://example.com/"}

	first, err := q.EnqueueAll(ctx, urls, EnqueueSettings{})
	if err != nil {
		t.Fatalf("first EnqueueAll: %v", err)
	}
	if first.Inserted != 2 {
		t.Fatalf("got %d inserted, want 2", first.Inserted)
	}

	second, err := q.EnqueueAll(ctx, urls, EnqueueSettings{})
	if err != nil {
		t.Fatalf("second EnqueueAll: %v", err)
	}
	if second.Inserted != 0 || second.SkippedDuplicate != 2 {
		t.Fatalf("second pass got %+v, want zero inserted and both duplicate", second)
	}

	count, err := q.NumQueued(ctx, StatusQueued)
	if err != nil {
		t.Fatalf("NumQueued: %v", err)
	}
	if count != 2 {
		t.Fatalf("got %d queued rows after re-enqueue, want 2 (idempotent)", count)
	}
}

func TestFragmentInvarianceViaEnqueueAll(t *testing.T) {
	lenses := []Lens{{Name: "all", Domains: []string{"example.com"}}}
	q := newTestQueue(t, lenses, DefaultUserSettings())
	ctx := context.Background()

	if _, err := q.EnqueueAll(ctx, []string{"https://example.com/page#section"}, EnqueueSettings{}); err != nil {
		t.Fatalf("EnqueueAll: %v", err)
	}
	report, err := q.EnqueueAll(ctx, []string{"https://example.com/page"}, EnqueueSettings{})
	if err != nil {
		t.Fatalf("EnqueueAll: %v", err)
	}
	if report.Inserted != 0 || report.SkippedDuplicate != 1 {
		t.Fatalf("got %+v, want the fragment-stripped URL recognized as a duplicate", report)
	}
}

func TestLensAdmissionEmptyLensesInsertsZero(t *testing.T) {
	q := newTestQueue(t, nil, DefaultUserSettings())
	ctx := context.Background()

	report, err := q.EnqueueAll(ctx, []string{"https://a.example/", "https://b.example/"}, EnqueueSettings{})
	if err != nil {
		t.Fatalf("EnqueueAll: %v", err)
	}
	if report.Inserted != 0 {
		t.Fatalf("got %d inserted with empty lenses, want 0", report.Inserted)
	}
}

func TestEnqueueDequeueMarkDoneRoundTrip(t *testing.T) {
	lenses := []Lens{{Name: "all", Domains: []string{"example.com"}}}
	q := newTestQueue(t, lenses, DefaultUserSettings())
	ctx := context.Background()

	if _, err := q.EnqueueAll(ctx, []string{"https://example.com/"}, EnqueueSettings{}); err != nil {
		t.Fatalf("EnqueueAll: %v", err)
	}

	task, ok, err := q.Dequeue(ctx, nil, nil)
	if err != nil || !ok {
		t.Fatalf("Dequeue: ok=%v err=%v", ok, err)
	}

	if err := q.MarkDone(ctx, task.ID, Completed); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	count, err := q.NumQueued(ctx, StatusCompleted)
	if err != nil {
		t.Fatalf("NumQueued: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d completed, want 1", count)
	}
}
