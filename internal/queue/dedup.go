package queue

import (
	"context"

	"github.com/bits-and-blooms/bloom/v3"
)

// duplicateSource is the read surface dedup.go needs from Store. Declared
// narrowly so tests can fake it without standing up a real database.
type duplicateSource interface {
	URLsPresent(ctx context.Context, urls []string) (map[string]struct{}, error)
	IndexedURLsPresent(ctx context.Context, urls []string) (map[string]struct{}, error)
}

// Deduplicator is the duplicate gate from §4.3. Every candidate goes through
// the store lookup against crawl_queue and indexed_document, and that lookup
// alone decides duplicate status. The Bloom filter records the URLs Filter
// has passed as fresh; it is not seeded from the store, so it does not skip
// any lookup.
type Deduplicator struct {
	filter *bloom.BloomFilter
	source duplicateSource
}

// NewDeduplicator sizes the filter for an expected element count n at a
// 1% false-positive rate, mirroring the sizing used by vibraphone's
// VisitedTracker.
func NewDeduplicator(source duplicateSource, expectedN uint) *Deduplicator {
	if expectedN == 0 {
		expectedN = 1 << 16
	}
	return &Deduplicator{
		filter: bloom.NewWithEstimates(expectedN, 0.01),
		source: source,
	}
}

// Seen records url in the Bloom filter as admitted.
func (d *Deduplicator) Seen(url string) {
	d.filter.AddString(url)
}

// Filter partitions candidates into fresh URLs (never queued or indexed) and
// the subset that are duplicates, as decided by one store lookup per table.
func (d *Deduplicator) Filter(ctx context.Context, candidates []string) (fresh []string, duplicate map[string]struct{}, err error) {
	duplicate = make(map[string]struct{})
	if len(candidates) == 0 {
		return nil, duplicate, nil
	}

	inQueue, err := d.source.URLsPresent(ctx, candidates)
	if err != nil {
		return nil, nil, err
	}
	inIndex, err := d.source.IndexedURLsPresent(ctx, candidates)
	if err != nil {
		return nil, nil, err
	}
	for u := range inQueue {
		duplicate[u] = struct{}{}
	}
	for u := range inIndex {
		duplicate[u] = struct{}{}
	}

	fresh = make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := duplicate[c]; dup {
			continue
		}
		fresh = append(fresh, c)
		d.Seen(c)
	}

	return fresh, duplicate, nil
}
