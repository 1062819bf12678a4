package egressproxy

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

var ociMediaTypePrefixes = []string{
	"application/vnd.docker.",
	"application/vnd.oci.",
}

var sha256DigestRe = regexp.MustCompile(`sha256:([a-fA-F0-9]{64})|/([a-fA-F0-9]{64})/`)

// CacheMatcher decides which requests (git package/registry fetches)
// are safe to cache: content-addressed blobs, identified by a sha256
// digest embedded in the URL, are immutable and cacheable regardless of
// query-string auth tokens; anything else is cached only via an
// explicit path pattern.
type CacheMatcher struct {
	patterns     []*regexp.Regexp
	contentAware bool
}

// NewCacheMatcher builds a CacheMatcher. contentAware enables
// sha256-digest + OCI/Docker media-type detection alongside the
// explicit patterns.
func NewCacheMatcher(patterns []string, contentAware bool) (*CacheMatcher, error) {
	m := &CacheMatcher{contentAware: contentAware, patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("egressproxy: compile cache pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// ShouldCache reports whether req is a candidate for caching.
func (m *CacheMatcher) ShouldCache(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	path := req.URL.Path

	if m.contentAware && strings.Contains(path, "sha256:") && hasOCIAccept(req) {
		return true
	}

	for _, pattern := range m.patterns {
		if pattern.MatchString(path) {
			if req.URL.RawQuery != "" && sha256DigestRe.FindString(path) == "" {
				return false
			}
			return true
		}
	}

	return false
}

// ShouldCacheResponse reports whether resp (for a request ShouldCache
// already approved) should actually be stored.
func (m *CacheMatcher) ShouldCacheResponse(resp *http.Response) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Cache-Control")), "no-store") {
		return false
	}
	if m.contentAware {
		return isOCIResponse(resp)
	}
	return true
}

func hasOCIAccept(req *http.Request) bool {
	accept := req.Header.Get("Accept")
	if accept == "" {
		return false
	}
	for _, prefix := range ociMediaTypePrefixes {
		if strings.Contains(accept, prefix) {
			return true
		}
	}
	return false
}

func isOCIResponse(resp *http.Response) bool {
	if resp.Header.Get("Docker-Content-Digest") != "" {
		return true
	}
	ct := resp.Header.Get("Content-Type")
	for _, prefix := range ociMediaTypePrefixes {
		if strings.Contains(ct, prefix) {
			return true
		}
	}
	return strings.HasPrefix(ct, "application/octet-stream")
}

// GenerateKey derives a cache key from a request's host and path.
func (m *CacheMatcher) GenerateKey(req *http.Request) string {
	return req.URL.Host + req.URL.Path
}

// VerifyDigest checks body against a sha256 digest embedded in path (in
// either "sha256:HEX64" or "/HEX64/" form). Returns nil when no digest
// is present to check.
func (m *CacheMatcher) VerifyDigest(path string, body []byte) error {
	matches := sha256DigestRe.FindStringSubmatch(path)
	if len(matches) < 2 {
		return nil
	}
	expected := strings.ToLower(matches[1])
	if expected == "" && len(matches) > 2 {
		expected = strings.ToLower(matches[2])
	}
	if expected == "" {
		return nil
	}
	actual := fmt.Sprintf("%x", sha256.Sum256(body))
	if expected != actual {
		return fmt.Errorf("egressproxy: sha256 mismatch: url claims %s, body hashes to %s", expected, actual)
	}
	return nil
}
