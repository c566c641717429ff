package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Scheduler implements the three-tier priority dequeue (C5) over a Store.
// Its candidate SELECTs never change a row; Dequeue then claims the chosen
// row with Store.claimQueued's conditional Queued→Processing update and
// retries (bounded) when another worker won the race, as described in §5.
type Scheduler struct {
	store   *Store
	limiter *rate.Limiter
}

// NewScheduler builds a Scheduler. Its limiter (50 per second, burst 5) paces the retry loop
// that closes the dequeue-then-claim race (§5); a few retries per second is
// plenty since a claim loss only happens when two workers contend for the
// same single candidate row.
func NewScheduler(store *Store) *Scheduler {
	return &Scheduler{
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(50), 5),
	}
}

// maxClaimAttempts bounds the dequeue-then-claim retry loop so a pathological
// case (every worker losing the race to the same row forever) cannot hang a
// worker indefinitely.
const maxClaimAttempts = 8

// Dequeue returns the next runnable task, or (CrawlTask{}, false, nil) if
// none is available under the current caps.
func (s *Scheduler) Dequeue(ctx context.Context, settings UserSettings, pDomains, pPrefixes []string) (CrawlTask, bool, error) {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		candidate, ok, err := s.selectCandidate(ctx, settings, pDomains, pPrefixes)
		if err != nil {
			return CrawlTask{}, false, err
		}
		if !ok {
			return CrawlTask{}, false, nil
		}

		claimed, err := s.store.claimQueued(ctx, candidate.ID)
		if err != nil {
			return CrawlTask{}, false, err
		}
		if claimed {
			candidate.Status = StatusProcessing
			return candidate, true, nil
		}

		// Lost the race: another worker claimed this row between the SELECT
		// and our conditional UPDATE. Back off briefly and try again rather
		// than busy-spinning the database.
		if err := s.limiter.Wait(ctx); err != nil {
			return CrawlTask{}, false, err
		}
	}
	return CrawlTask{}, false, nil
}

// selectCandidate runs Tier A, then B, then C in order and returns the first
// hit.
func (s *Scheduler) selectCandidate(ctx context.Context, settings UserSettings, pDomains, pPrefixes []string) (CrawlTask, bool, error) {
	// Tier A — global admission control.
	if !settings.InflightCrawlLimit.IsUnlimited() {
		processing, err := s.store.CountByStatus(ctx, StatusProcessing)
		if err != nil {
			return CrawlTask{}, false, err
		}
		if processing >= int64(settings.InflightCrawlLimit.N()) {
			return CrawlTask{}, false, nil
		}
	}

	// Tier B — bootstrap short-circuit.
	task, ok, err := s.bootstrapCandidate(ctx)
	if err != nil {
		return CrawlTask{}, false, err
	}
	if ok {
		return task, true, nil
	}

	// Tier C — prioritized general dequeue.
	return s.priorityCandidate(ctx, settings, pDomains, pPrefixes)
}

func (s *Scheduler) bootstrapCandidate(ctx context.Context) (CrawlTask, bool, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, domain, url, status, num_retries, crawl_type, created_at, updated_at
		FROM crawl_queue
		WHERE status = ? AND crawl_type = ?
		ORDER BY updated_at ASC
		LIMIT 1
	`, StatusQueued, CrawlTypeBootstrap)

	task, err := scanTask(row)
	if err == ErrNotFound {
		return CrawlTask{}, false, nil
	}
	if err != nil {
		return CrawlTask{}, false, err
	}
	return task, true, nil
}

func (s *Scheduler) priorityCandidate(ctx context.Context, settings UserSettings, pDomains, pPrefixes []string) (CrawlTask, bool, error) {
	query, args := buildDequeueQuery(pDomains, pPrefixes, settings.DomainCrawlLimit, settings.InflightDomainLimit)

	row := s.store.db.QueryRowContext(ctx, query, args...)
	task, err := scanTask(row)
	if err == ErrNotFound {
		return CrawlTask{}, false, nil
	}
	if err != nil {
		return CrawlTask{}, false, err
	}
	return task, true, nil
}

// buildPriorityValues renders the literal VALUES rows for the p_domain and
// p_prefix CTEs plus their bound arguments, in the shape spelled out by §4.5
// and exercised verbatim by TestS4PrioritySQLShape. Domains may contain `*`
// wildcards, translated to SQL `%`; prefixes are kept literal and suffixed
// with `%`. Empty lists degenerate to a single ("", 0) sentinel row so the
// left joins in the dequeue query stay well-formed.
func buildPriorityValues(pDomains, pPrefixes []string) (domainValues string, domainArgs []any, prefixValues string, prefixArgs []any) {
	if len(pDomains) == 0 {
		domainValues, domainArgs = "(?, ?)", []any{"", 0}
	} else {
		rows := make([]string, len(pDomains))
		for i, d := range pDomains {
			rows[i] = "(?, ?)"
			domainArgs = append(domainArgs, strings.ReplaceAll(d, "*", "%"), 1)
		}
		domainValues = strings.Join(rows, ", ")
	}

	if len(pPrefixes) == 0 {
		return domainValues, domainArgs, "(?, ?)", []any{"", 0}
	}
	prows := make([]string, len(pPrefixes))
	for i, p := range pPrefixes {
		prows[i] = "(?, ?)"
		prefixArgs = append(prefixArgs, p+"%", 1)
	}
	prefixValues = strings.Join(prows, ", ")

	return domainValues, domainArgs, prefixValues, prefixArgs
}

// buildDequeueQuery renders the full Tier C statement and its bound
// arguments in positional order: p_domain rows, p_prefix rows,
// domain_crawl_limit, inflight_domain_limit. This mirrors the original
// core's gen_priority_sql/gen_priority_values split (kept as independently
// testable helpers here) so the CTE shape can be snapshot-tested without a
// database.
func buildDequeueQuery(pDomains, pPrefixes []string, domainCrawlLimit, inflightDomainLimit Limit) (string, []any) {
	domainValues, domainArgs, prefixValues, prefixArgs := buildPriorityValues(pDomains, pPrefixes)

	query := fmt.Sprintf(`
WITH
  p_domain(domain, priority) AS (VALUES %s),
  p_prefix(prefix, priority) AS (VALUES %s),
  indexed AS (SELECT domain, count(*) AS count FROM indexed_document GROUP BY domain),
  inflight AS (SELECT domain, count(*) AS count FROM crawl_queue WHERE status = 'Processing' GROUP BY domain)
SELECT cq.id, cq.domain, cq.url, cq.status, cq.num_retries, cq.crawl_type, cq.created_at, cq.updated_at
FROM crawl_queue cq
LEFT JOIN p_domain ON cq.domain LIKE p_domain.domain
LEFT JOIN p_prefix ON cq.url LIKE p_prefix.prefix
LEFT JOIN indexed ON indexed.domain = cq.domain
LEFT JOIN inflight ON inflight.domain = cq.domain
WHERE
  COALESCE(indexed.count, 0) < ? AND
  COALESCE(inflight.count, 0) < ? AND
  cq.status = 'Queued'
ORDER BY
  p_prefix.priority DESC,
  p_domain.priority DESC,
  cq.updated_at ASC
LIMIT 1
`, domainValues, prefixValues)

	args := make([]any, 0, len(domainArgs)+len(prefixArgs)+2)
	args = append(args, domainArgs...)
	args = append(args, prefixArgs...)
	args = append(args, domainCrawlLimit.Value(), inflightDomainLimit.Value())
	return query, args
}

// idleDuration is a suggested interval for an optional idle-recovery ticker
// (wired by the caller, not run here) that invokes ResetProcessing to recover
// tasks abandoned by a crashed worker. The core itself has no per-task
// timeout (§5). Nothing reads this constant: the engine's ticker takes its
// interval from queue.idle_reset_interval, which defaults to 0 (disabled).
const idleDuration = 2 * time.Minute
