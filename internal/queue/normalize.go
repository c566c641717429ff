package queue

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned by Normalize for input that cannot serve as a
// crawl target: unparseable, or missing a host (e.g. "mailto:", "data:").
var ErrInvalidURL = errors.New("invalid crawl URL")

// Normalized is the result of normalizing a candidate URL: the stable,
// re-serialized URL string and its lowercased host with no port.
type Normalized struct {
	URL    string
	Domain string
}

// Normalize parses rawURL as an absolute URL, strips any fragment, and
// returns the re-serialized form plus its host. Two URLs differing only by
// fragment normalize to the same string, so ".../Rust#Blah" and ".../Rust"
// are the same document downstream. Pure; does no network I/O.
func Normalize(rawURL string) (Normalized, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Normalized{}, ErrInvalidURL
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return Normalized{}, ErrInvalidURL
	}

	parsed.Fragment = ""
	parsed.RawFragment = ""

	return Normalized{
		URL:    parsed.String(),
		Domain: host,
	}, nil
}
