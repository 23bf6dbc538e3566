package notices

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ftmlabs/bknmu-notifier/internal/hash/sha256"
)

// NormalizeURL standardizes a notice link so the same document always yields
// the same identity regardless of how the page happened to write the href.
// It lowercases the scheme and host, removes default ports and the fragment,
// and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ExternalID derives the stable identity of a notice from its link. Identity
// depends only on the normalized URL, never on scrape time, so re-listing the
// same document on a later day produces the same ID.
func ExternalID(rawURL string) (string, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	return sha256.SumHex([]byte(normalized)), nil
}

// FallbackExternalID identifies notices that carry no usable link.
func FallbackExternalID(title, rawDate string) string {
	return sha256.SumHex([]byte(title + "|" + rawDate))
}
