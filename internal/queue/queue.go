package queue

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// insertChunkSize bounds how many tasks a single InsertMany transaction
// handles; EnqueueAll fans a large batch out across insertChunkSize-sized
// transactions concurrently via errgroup rather than holding one giant
// transaction open for the whole batch.
const insertChunkSize = 256

// maxConcurrentChunks caps how many insert chunks run at once. SQLite's
// single-writer semantics (schema.go's SetMaxOpenConns(1)) mean these
// transactions serialize on the connection regardless; the cap exists so the
// errgroup fan-out degrades gracefully on a backend that *does* permit
// concurrent writers.
const maxConcurrentChunks = 4

// Queue is the facade wiring C1–C6 into the five operations the rest of the
// system calls (§6): EnqueueAll, Dequeue, MarkDone, NumQueued,
// ResetProcessing. It owns no persistence logic itself — that lives in
// Store, Admitter, Deduplicator, and Scheduler — only the orchestration
// between them.
type Queue struct {
	store     *Store
	admitter  *Admitter
	dedup     *Deduplicator
	scheduler *Scheduler
	settings  UserSettings
	logger    *slog.Logger
}

// Config bundles everything New needs to assemble a Queue. Settings has no
// meaningful zero value (UserSettings is not comparable, holding a slice) —
// callers that want the defaults must call DefaultUserSettings() explicitly.
type Config struct {
	Lenses    []Lens
	Settings  UserSettings
	ExpectedN uint // sizing hint for the Bloom filter; 0 picks a default.
	Logger    *slog.Logger
}

// New assembles a Queue over an already-open Store.
func New(store *Store, cfg Config) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settings := cfg.Settings
	return &Queue{
		store:     store,
		admitter:  NewAdmitter(cfg.Lenses, settings.BlockList),
		dedup:     NewDeduplicator(store, cfg.ExpectedN),
		scheduler: NewScheduler(store),
		settings:  settings,
		logger:    logger.With("component", "queue"),
	}
}

// EnqueueAll runs every candidate URL through C1 (normalize), C2 (admit),
// C3 (deduplicate) and persists the survivors via C4, chunked and fanned out
// with errgroup. No per-URL outcome is an error (§7): everything that does
// not become a row is tallied in the returned EnqueueReport.
func (q *Queue) EnqueueAll(ctx context.Context, urls []string, overrides EnqueueSettings) (EnqueueReport, error) {
	var report EnqueueReport

	type admitted struct {
		url    string
		domain string
	}
	var candidates []admitted

	for _, raw := range urls {
		norm, err := Normalize(raw)
		if err != nil {
			report.SkippedInvalid++
			continue
		}

		ok, reason := q.admitter.Admit(norm.URL, norm.Domain, q.settings, overrides)
		if !ok {
			switch reason {
			case SkipBlocked:
				report.SkippedBlocked++
			default:
				report.SkippedInvalid++
			}
			continue
		}

		candidates = append(candidates, admitted{url: norm.URL, domain: norm.Domain})
	}

	if len(candidates) == 0 {
		return report, nil
	}

	candidateURLs := make([]string, len(candidates))
	for i, c := range candidates {
		candidateURLs[i] = c.url
	}

	fresh, duplicates, err := q.dedup.Filter(ctx, candidateURLs)
	if err != nil {
		return report, err
	}
	report.SkippedDuplicate = len(duplicates)

	freshSet := make(map[string]struct{}, len(fresh))
	for _, u := range fresh {
		freshSet[u] = struct{}{}
	}

	crawlType := overrides.CrawlType
	if crawlType == "" {
		crawlType = CrawlTypeNormal
	}

	var tasks []CrawlTask
	for _, c := range candidates {
		if _, ok := freshSet[c.url]; !ok {
			continue
		}
		tasks = append(tasks, CrawlTask{
			Domain:    c.domain,
			URL:       c.url,
			Status:    StatusQueued,
			CrawlType: crawlType,
		})
	}
	report.Inserted = len(tasks)

	if len(tasks) == 0 {
		return report, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChunks)
	for start := 0; start < len(tasks); start += insertChunkSize {
		end := min(start+insertChunkSize, len(tasks))
		chunk := tasks[start:end]
		g.Go(func() error {
			return q.store.InsertMany(gctx, chunk)
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	return report, nil
}

// Dequeue returns the next runnable task per the three-tier priority policy
// (C5).
func (q *Queue) Dequeue(ctx context.Context, pDomains, pPrefixes []string) (CrawlTask, bool, error) {
	return q.scheduler.Dequeue(ctx, q.settings, pDomains, pPrefixes)
}

// MarkDone reports the outcome of a previously dequeued task (C6).
func (q *Queue) MarkDone(ctx context.Context, id int64, outcome Outcome) error {
	return q.store.MarkDone(ctx, id, outcome)
}

// NumQueued returns how many rows currently hold the given status.
func (q *Queue) NumQueued(ctx context.Context, status CrawlStatus) (int64, error) {
	return q.store.CountByStatus(ctx, status)
}

// ResetProcessing recovers every Processing row back to Queued. Called once
// at process start; may optionally be wired to an idle ticker by the caller.
func (q *Queue) ResetProcessing(ctx context.Context) error {
	return q.store.ResetProcessing(ctx)
}

// Close releases the underlying Store.
func (q *Queue) Close() error {
	return q.store.Close()
}
