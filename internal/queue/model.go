// Package queue implements the persistent, prioritized crawl queue: the
// enqueue/dequeue/retry state machine described by CrawlTask below. It has
// no knowledge of HTTP fetching or HTML parsing — those are the caller's
// concern once a task comes back from Dequeue.
package queue

import "time"

// MaxRetries bounds how many times a task may be requeued after a failure
// before it is left terminally Failed.
const MaxRetries = 5

// unlimitedSentinel is bound into the scheduler CTE in place of Unlimited so
// a single prepared statement serves both the finite and unlimited case.
const unlimitedSentinel = 1<<31 - 1

// CrawlStatus is the lifecycle state of a CrawlTask. Persisted as one of the
// exact strings below — the strings are part of the on-disk format.
type CrawlStatus string

const (
	StatusQueued     CrawlStatus = "Queued"
	StatusProcessing CrawlStatus = "Processing"
	StatusCompleted  CrawlStatus = "Completed"
	StatusFailed     CrawlStatus = "Failed"
)

// CrawlType distinguishes why a task was enqueued. Bootstrap tasks seed
// lenses and are dequeued ahead of everything else (§4.5 Tier B).
type CrawlType string

const (
	CrawlTypeAPI       CrawlType = "API"
	CrawlTypeBootstrap CrawlType = "Bootstrap"
	CrawlTypeNormal    CrawlType = "Normal"
)

// CrawlTask is one row of the crawl_queue table.
type CrawlTask struct {
	ID         int64
	Domain     string
	URL        string
	Status     CrawlStatus
	NumRetries uint8
	CrawlType  CrawlType
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IndexedDocument is the read-only slice of another subsystem's table that
// the queue core consults for per-domain indexed counts and duplicate
// suppression. Its schema is owned elsewhere; the core only ever reads
// `domain` and `url`.
type IndexedDocument struct {
	Domain string
	URL    string
}

// Limit is either Unlimited or a finite cap. It is a value object, not an
// interface; its zero value is a finite cap of 0, not Unlimited.
type Limit struct {
	unlimited bool
	n         uint32
}

// Unlimited returns a Limit with no cap.
func Unlimited() Limit { return Limit{unlimited: true} }

// Finite returns a Limit capped at n.
func Finite(n uint32) Limit { return Limit{n: n} }

// IsUnlimited reports whether the limit has no cap.
func (l Limit) IsUnlimited() bool { return l.unlimited }

// Value returns the cap, or the 2^31-1 sentinel bound into SQL when unlimited.
func (l Limit) Value() int64 {
	if l.unlimited {
		return unlimitedSentinel
	}
	return int64(l.n)
}

// N returns the finite cap. Only meaningful when IsUnlimited is false.
func (l Limit) N() uint32 { return l.n }

// UserSettings governs admission (C2) and scheduling (C5).
type UserSettings struct {
	BlockList           []string
	CrawlExternalLinks  bool
	DomainCrawlLimit    Limit
	InflightDomainLimit Limit
	InflightCrawlLimit  Limit
}

// DefaultUserSettings mirrors the original core's defaults: no blocklist,
// external links disallowed (lenses govern admission), no caps.
func DefaultUserSettings() UserSettings {
	return UserSettings{
		CrawlExternalLinks:  false,
		DomainCrawlLimit:    Unlimited(),
		InflightDomainLimit: Unlimited(),
		InflightCrawlLimit:  Unlimited(),
	}
}

// Lens is a user-declared admission rule: a set of host patterns and URL
// prefixes that, together, describe what may be crawled. Ownership of lens
// *files* is outside this core; the caller hands over the parsed shape.
type Lens struct {
	Name    string
	Domains []string
	URLs    []string
}

// SkipReason explains why a candidate URL never became a CrawlTask.
type SkipReason int

const (
	// SkipInvalid: the URL could not be parsed, or has no host.
	SkipInvalid SkipReason = iota
	// SkipBlocked: rejected by the blocklist or lens admission rules.
	SkipBlocked
	// SkipDuplicate: already present in the queue or already indexed.
	SkipDuplicate
)

func (r SkipReason) String() string {
	switch r {
	case SkipInvalid:
		return "Invalid"
	case SkipBlocked:
		return "Blocked"
	case SkipDuplicate:
		return "Duplicate"
	default:
		return "Unknown"
	}
}

// EnqueueSettings are per-batch overrides to the admission rules.
type EnqueueSettings struct {
	SkipBlocklist bool
	SkipLenses    bool
	CrawlType     CrawlType
}

// EnqueueReport tallies what happened to a batch passed to EnqueueAll. The
// core does not treat any of these as errors (§7); a caller may surface them
// or ignore them.
type EnqueueReport struct {
	Inserted         int
	SkippedInvalid   int
	SkippedBlocked   int
	SkippedDuplicate int
}
