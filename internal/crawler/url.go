package crawler

import (
	"net/url"
	"strings"
)

// NormalizeKey canonicalizes a URL into the dedup key used by the frontier:
// the host is lower-cased, the fragment dropped, a single trailing slash
// stripped unless the path is exactly "/", and the query preserved verbatim.
// A URL that fails to parse falls back to the lower-cased raw input so that
// normalization is never the reason a task fails.
func NormalizeKey(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return strings.ToLower(trimmed)
	}

	path := u.EscapedPath()
	if strings.HasSuffix(path, "/") && path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	b.WriteString(strings.ToLower(u.Host))
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

// ResolveCandidate resolves href against base and returns the absolute URL,
// or "" when href cannot be used as a crawl candidate (unparseable, or a
// bare fragment).
func ResolveCandidate(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// Hostname extracts the lower-cased hostname from a raw URL, or "" when the
// URL does not parse.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
