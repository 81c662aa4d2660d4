package scrape

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// NormalizeURL standardizes a URL so the frontier can deduplicate reliably:
// lowercased scheme/host, default ports stripped, fragment dropped, query
// parameters sorted.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// Domain extracts the lowercased hostname from a URL, without port.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SameSite reports whether candidate belongs to the crawl domain, treating
// "www." as equivalent to the bare host.
func SameSite(domain, candidate string) bool {
	a := strings.TrimPrefix(strings.ToLower(domain), "www.")
	b := strings.TrimPrefix(Domain(candidate), "www.")
	return a != "" && a == b
}

var (
	contentPathHints = []string{
		"/article", "/blog", "/news", "/post", "/product", "/docs", "/guide", "/story",
	}
	paginationPattern = regexp.MustCompile(`(?i)([?&]page=\d+|/page/\d+|/archive|/tag/|/category/|/feed\b)`)
	assetPattern      = regexp.MustCompile(`(?i)\.(css|js|png|jpe?g|gif|svg|ico|pdf|zip|gz|mp4|webm|woff2?)$`)
)

// LinkPriority derives a frontier priority from URL shape: content-signal
// paths are boosted, pagination and archive paths penalized, shallow paths
// preferred over deep ones.
func LinkPriority(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	priority := 0
	path := strings.ToLower(u.Path)

	for _, hint := range contentPathHints {
		if strings.Contains(path, hint) {
			priority += 10
			break
		}
	}
	if paginationPattern.MatchString(rawURL) {
		priority -= 10
	}

	segments := strings.Count(strings.Trim(path, "/"), "/")
	if segments <= 1 {
		priority += 5
	} else if segments >= 4 {
		priority -= 5
	}
	return priority
}

// Crawlable filters out URLs that are never worth enqueueing: non-HTTP
// schemes and obvious static assets.
func Crawlable(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return !assetPattern.MatchString(u.Path)
}

// MatchesPatterns applies include/exclude regular expressions to a URL.
// An empty include list admits everything; exclusions win over inclusions.
func MatchesPatterns(rawURL string, include, exclude []string) bool {
	for _, pat := range exclude {
		if re, err := regexp.Compile(pat); err == nil && re.MatchString(rawURL) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pat := range include {
		if re, err := regexp.Compile(pat); err == nil && re.MatchString(rawURL) {
			return true
		}
	}
	return false
}
