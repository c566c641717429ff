package queue

import (
	"regexp"
	"strings"
)

// Admitter decides, for a normalized URL, whether it should enter the queue
// at all — independent of duplicate suppression (C3), which is a separate
// gate. It holds a compiled regex-set derived from a slice of Lenses: one
// pattern per lens domain, one per lens URL prefix, combined into a single
// alternation so admission is "does any member match".
type Admitter struct {
	allowList *regexp.Regexp // nil when no lens produced any pattern
	blockList map[string]struct{}
}

// NewAdmitter compiles the lens-derived regex-set and the blocklist once,
// so a batch of URLs can be checked without re-deriving patterns per URL.
func NewAdmitter(lenses []Lens, blockList []string) *Admitter {
	var patterns []string
	for _, lens := range lenses {
		for _, domain := range lens.Domains {
			patterns = append(patterns, regexForDomain(domain))
		}
		for _, prefix := range lens.URLs {
			patterns = append(patterns, regexForPrefix(prefix))
		}
	}

	a := &Admitter{blockList: make(map[string]struct{}, len(blockList))}
	for _, host := range blockList {
		a.blockList[host] = struct{}{}
	}

	if len(patterns) > 0 {
		// A regex-set ("does any pattern match") is expressed in Go as a
		// single alternation; each member pattern is already fully anchored
		// by regexForDomain/regexForPrefix so the union behaves the same as
		// a true regex-set's is_match.
		combined, err := regexp.Compile(strings.Join(patterns, "|"))
		if err == nil {
			a.allowList = combined
		}
	}

	return a
}

// Admit applies the decision order from §4.2: blocklist first (unless
// skipped), then lens admission (unless skipped or external links are
// allowed outright).
func (a *Admitter) Admit(normalizedURL, domain string, settings UserSettings, overrides EnqueueSettings) (bool, SkipReason) {
	if !overrides.SkipBlocklist {
		if _, blocked := a.blockList[domain]; blocked {
			return false, SkipBlocked
		}
	}

	if !overrides.SkipLenses && !settings.CrawlExternalLinks {
		if a.allowList == nil || !a.allowList.MatchString(normalizedURL) {
			return false, SkipBlocked
		}
	}

	return true, 0
}

// regexForDomain builds a pattern matching any URL whose host is exactly
// domain, with an optional path/query/fragment tail.
func regexForDomain(domain string) string {
	return `^https?://` + regexp.QuoteMeta(domain) + `(?:[:/].*)?$`
}

// regexForPrefix builds a pattern matching any URL with prefix as a literal
// string prefix.
func regexForPrefix(prefix string) string {
	return `^` + regexp.QuoteMeta(prefix) + `.*$`
}
