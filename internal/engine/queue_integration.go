package engine

import (
	"context"
	"time"

	"github.com/webstalk-dev/webstalk/internal/queue"
	"github.com/webstalk-dev/webstalk/internal/types"
)

// SetQueueStore wires a persistent queue.Queue into the engine. Once set,
// AddRequest/AddSeed route candidate URLs through the queue's own
// normalize/admit/deduplicate pipeline (C1–C3) and worker dequeues pull from
// it (C5) instead of the in-memory Frontier, so a crash-recovered process
// resumes from crawl_queue instead of losing all in-flight work.
// pDomains/pPrefixes are the priority lists passed to every Dequeue call —
// typically the union of all active lenses' domains and URL prefixes.
func (e *Engine) SetQueueStore(q *queue.Queue, pDomains, pPrefixes []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queueStore = q
	e.queuePriorityDoms = pDomains
	e.queuePriorityPfxs = pPrefixes
}

// enqueueToQueueStore hands a single URL to the queue store. Engine-level
// depth/robots/domain-filter checks already ran in AddRequest; from here the
// queue's own admission and duplicate gates decide whether it becomes a row.
func (e *Engine) enqueueToQueueStore(urlStr string) error {
	report, err := e.queueStore.EnqueueAll(e.ctx, []string{urlStr}, queue.EnqueueSettings{})
	if err != nil {
		e.stats.URLsFiltered.Add(1)
		return err
	}
	if report.Inserted == 0 {
		e.stats.URLsFiltered.Add(1)
		return types.ErrDuplicate
	}
	e.stats.URLsEnqueued.Add(1)
	return nil
}

// queueIdleReset periodically recovers tasks left Processing by a worker
// that died without reporting an outcome. This is the "optionally on an
// idle timer" recovery path the core's design notes describe; the core
// itself runs nothing on a timer, so the engine drives it.
func (e *Engine) queueIdleReset(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.queueStore.ResetProcessing(e.ctx); err != nil {
				e.logger.Error("queue: idle reset_processing failed", "error", err)
			}
		}
	}
}

// queueDequeueTask pulls the next task from the queue store, fetches it with
// the same fetcher/callback/parser pipeline processRequest uses, and reports
// the outcome back via MarkDone so the store's own retry policy (C6) governs
// requeueing — the scheduler's frontier-based retry path is not used for
// queue-backed tasks. Returns false when no task was available so the
// caller can back off before polling again.
func (s *Scheduler) queueDequeueTask(ctx context.Context) bool {
	e := s.engine
	task, ok, err := e.queueStore.Dequeue(ctx, e.queuePriorityDoms, e.queuePriorityPfxs)
	if err != nil {
		s.logger.Error("queue: dequeue failed", "error", err)
		return false
	}
	if !ok {
		return false
	}

	req, err := types.NewRequest(task.URL)
	if err != nil {
		s.logger.Warn("queue: dropping unparseable task", "url", task.URL, "error", err)
		_ = e.queueStore.MarkDone(ctx, task.ID, queue.Failed)
		return true
	}
	req.Meta["queue_task_id"] = task.ID

	logger := s.logger.With("worker_queue_task", task.ID)
	e.stats.ActiveWorkers.Add(1)
	succeeded := s.processRequest(ctx, logger, req)
	e.stats.ActiveWorkers.Add(-1)

	outcome := queue.Completed
	if !succeeded {
		outcome = queue.Failed
	}
	if err := e.queueStore.MarkDone(ctx, task.ID, outcome); err != nil {
		s.logger.Error("queue: mark_done failed", "id", task.ID, "error", err)
	}
	return true
}
