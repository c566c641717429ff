package queue

import (
	"context"
	"testing"
)

type fakeDuplicateSource struct {
	queued  map[string]struct{}
	indexed map[string]struct{}
}

func (f *fakeDuplicateSource) URLsPresent(_ context.Context, urls []string) (map[string]struct{}, error) {
	return intersect(f.queued, urls), nil
}

func (f *fakeDuplicateSource) IndexedURLsPresent(_ context.Context, urls []string) (map[string]struct{}, error) {
	return intersect(f.indexed, urls), nil
}

func intersect(set map[string]struct{}, urls []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, u := range urls {
		if _, ok := set[u]; ok {
			out[u] = struct{}{}
		}
	}
	return out
}

func TestDedupFiltersQueuedAndIndexed(t *testing.T) {
	src := &fakeDuplicateSource{
		queued:  map[string]struct{}{"https://a.example/": {}},
		indexed: map[string]struct{}{"https://b.example/": {}},
	}
	d := NewDeduplicator(src, 0)

	fresh, dup, err := d.Filter(context.Background(), []string{
		"https://a.example/", "https://b.example/", "https://c.example/",
	})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(fresh) != 1 || fresh[0] != "https://c.example/" {
		t.Fatalf("got fresh %v, want only c.example", fresh)
	}
	if len(dup) != 2 {
		t.Fatalf("got %d duplicates, want 2", len(dup))
	}
}

func TestDedupRepeatCandidateDecidedByStore(t *testing.T) {
	src := &fakeDuplicateSource{queued: map[string]struct{}{}, indexed: map[string]struct{}{}}
	d := NewDeduplicator(src, 0)

	fresh, _, err := d.Filter(context.Background(), []string{"https://fresh.example/"})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(fresh) != 1 {
		t.Fatalf("expected one fresh URL on first pass")
	}

	// Second pass: the Bloom filter now holds this URL, but the store decides
	// — it is not in queued/indexed, so Filter must still mark it fresh.
	fresh, dup, err := d.Filter(context.Background(), []string{"https://fresh.example/"})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(dup) != 0 {
		t.Fatalf("got %d duplicates, want 0 (store is authoritative)", len(dup))
	}
	if len(fresh) != 1 {
		t.Fatalf("expected fresh URL to remain fresh absent store confirmation")
	}
}
