package egressproxy

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestCacheDisabledRejectsGetAndPut(t *testing.T) {
	c, err := NewCache("", 0, false, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	if _, err := c.Get("k"); err != ErrCacheDisabled {
		t.Errorf("Get err = %v, want ErrCacheDisabled", err)
	}
	if err := c.Put("k", &CacheEntry{}); err != ErrCacheDisabled {
		t.Errorf("Put err = %v, want ErrCacheDisabled", err)
	}
}

func TestCachePutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCache(dir, 1<<20, true, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	entry := &CacheEntry{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {"application/octet-stream"}},
		Body:       []byte("blob data"),
		Size:       int64(len("blob data")),
	}
	if err := c.Put("host/path", entry); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := c.Get("host/path")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Body) != "blob data" {
		t.Errorf("Body = %q", got.Body)
	}
	if got.StatusCode != 200 {
		t.Errorf("StatusCode = %d", got.StatusCode)
	}

	if _, err := c.Get("missing"); err != ErrCacheMiss {
		t.Errorf("Get(missing) err = %v, want ErrCacheMiss", err)
	}
}

func TestCacheEvictsLeastRecentlyUsedOverMaxSize(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCache(dir, 40, true, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	mkEntry := func(body string) *CacheEntry {
		return &CacheEntry{StatusCode: 200, Headers: http.Header{}, Body: []byte(body), Size: int64(16 + len(body))}
	}

	if err := c.Put("a", mkEntry("1234567890")); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := c.Put("b", mkEntry("1234567890")); err != nil {
		t.Fatalf("Put b: %v", err)
	}

	if _, err := c.Get("a"); err != ErrCacheMiss {
		t.Error("expected the oldest entry to have been evicted")
	}
	if _, err := c.Get("b"); err != nil {
		t.Errorf("Get b: %v", err)
	}
}

func TestCaptureAndRestoreResponse(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com/x", nil)
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader("hello")),
		Request:    req,
	}

	entry, err := CaptureResponse(resp)
	if err != nil {
		t.Fatalf("CaptureResponse: %v", err)
	}
	if entry.Size != 5 {
		t.Errorf("Size = %d, want 5", entry.Size)
	}

	restored := RestoreResponse(entry, req)
	if restored.Header.Get("X-Cache") != "HIT" {
		t.Error("expected X-Cache: HIT on a restored response")
	}
}
