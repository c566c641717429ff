package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/webstalk-dev/webstalk/internal/queue"
)

// Metrics tracks operational metrics for the crawler.
type Metrics struct {
	// Request metrics
	RequestsTotal   atomic.Int64
	RequestsFailed  atomic.Int64
	RequestsRetried atomic.Int64

	// Response metrics
	ResponsesTotal atomic.Int64
	Responses2xx   atomic.Int64
	Responses3xx   atomic.Int64
	Responses4xx   atomic.Int64
	Responses5xx   atomic.Int64

	// Item metrics
	ItemsScraped atomic.Int64
	ItemsDropped atomic.Int64
	ItemsStored  atomic.Int64

	// Engine metrics
	ActiveWorkers   atomic.Int32
	QueueDepth      atomic.Int64
	BytesDownloaded atomic.Int64

	// Persistent crawl queue metrics (internal/queue), populated by
	// PollQueueDepths when the engine is running with a queue store —
	// zero on an in-memory-frontier run.
	QueuePending    atomic.Int64
	QueueProcessing atomic.Int64
	QueueCompleted  atomic.Int64
	QueueFailed     atomic.Int64

	// Proxy metrics
	ProxyRotations atomic.Int64
	ProxyErrors    atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	metrics := []struct {
		name  string
		help  string
		value int64
	}{
		{"webstalk_requests_total", "Total requests made", m.RequestsTotal.Load()},
		{"webstalk_requests_failed_total", "Total failed requests", m.RequestsFailed.Load()},
		{"webstalk_requests_retried_total", "Total retried requests", m.RequestsRetried.Load()},
		{"webstalk_responses_total", "Total responses received", m.ResponsesTotal.Load()},
		{"webstalk_responses_2xx_total", "Total 2xx responses", m.Responses2xx.Load()},
		{"webstalk_responses_3xx_total", "Total 3xx responses", m.Responses3xx.Load()},
		{"webstalk_responses_4xx_total", "Total 4xx responses", m.Responses4xx.Load()},
		{"webstalk_responses_5xx_total", "Total 5xx responses", m.Responses5xx.Load()},
		{"webstalk_items_scraped_total", "Total items scraped", m.ItemsScraped.Load()},
		{"webstalk_items_dropped_total", "Total items dropped", m.ItemsDropped.Load()},
		{"webstalk_items_stored_total", "Total items stored", m.ItemsStored.Load()},
		{"webstalk_active_workers", "Currently active workers", int64(m.ActiveWorkers.Load())},
		{"webstalk_queue_depth", "Current URL queue depth", m.QueueDepth.Load()},
		{"webstalk_bytes_downloaded_total", "Total bytes downloaded", m.BytesDownloaded.Load()},
		{"webstalk_proxy_rotations_total", "Total proxy rotations", m.ProxyRotations.Load()},
		{"webstalk_proxy_errors_total", "Total proxy errors", m.ProxyErrors.Load()},
		{"webstalk_queue_pending", "Crawl queue rows in Queued state", m.QueuePending.Load()},
		{"webstalk_queue_processing", "Crawl queue rows in Processing state", m.QueueProcessing.Load()},
		{"webstalk_queue_completed", "Crawl queue rows in Completed state", m.QueueCompleted.Load()},
		{"webstalk_queue_failed", "Crawl queue rows in Failed state", m.QueueFailed.Load()},
	}

	for _, metric := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", metric.name)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// StartServer starts the metrics HTTP server.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Snapshot returns all metrics as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"requests_total":   m.RequestsTotal.Load(),
		"requests_failed":  m.RequestsFailed.Load(),
		"requests_retried": m.RequestsRetried.Load(),
		"responses_total":  m.ResponsesTotal.Load(),
		"responses_2xx":    m.Responses2xx.Load(),
		"responses_3xx":    m.Responses3xx.Load(),
		"responses_4xx":    m.Responses4xx.Load(),
		"responses_5xx":    m.Responses5xx.Load(),
		"items_scraped":    m.ItemsScraped.Load(),
		"items_dropped":    m.ItemsDropped.Load(),
		"items_stored":     m.ItemsStored.Load(),
		"active_workers":   int64(m.ActiveWorkers.Load()),
		"queue_depth":      m.QueueDepth.Load(),
		"bytes_downloaded": m.BytesDownloaded.Load(),
		"queue_pending":    m.QueuePending.Load(),
		"queue_processing": m.QueueProcessing.Load(),
		"queue_completed":  m.QueueCompleted.Load(),
		"queue_failed":     m.QueueFailed.Load(),
		"proxy_rotations":  m.ProxyRotations.Load(),
		"proxy_errors":     m.ProxyErrors.Load(),
	}
}

// PollQueueDepths periodically refreshes the queue gauges from the
// persistent crawl queue's own counts (internal/queue.Queue.NumQueued) until
// ctx is canceled. Callers with no queue store configured never start this.
func (m *Metrics) PollQueueDepths(ctx context.Context, q *queue.Queue, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	refresh := func() {
		for status, gauge := range map[queue.CrawlStatus]*atomic.Int64{
			queue.StatusQueued:     &m.QueuePending,
			queue.StatusProcessing: &m.QueueProcessing,
			queue.StatusCompleted:  &m.QueueCompleted,
			queue.StatusFailed:     &m.QueueFailed,
		} {
			n, err := q.NumQueued(ctx, status)
			if err != nil {
				m.logger.Error("queue depth poll failed", "status", status, "error", err)
				continue
			}
			gauge.Store(n)
		}
	}

	refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
