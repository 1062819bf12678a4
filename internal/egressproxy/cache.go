// Package egressproxy is an optional per-sandbox outbound HTTP proxy the
// control plane can start alongside a container: it caches immutable
// git/package-registry blobs (content-addressed by a sha256 digest in
// the URL) so repeated clones and installs across sandboxes don't
// re-fetch the same bytes, and it restricts destinations to an
// allowlist of hosts.
package egressproxy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrCacheMiss indicates the requested item is not in cache.
	ErrCacheMiss = errors.New("egressproxy: cache miss")
	// ErrCacheDisabled indicates the cache is not enabled.
	ErrCacheDisabled = errors.New("egressproxy: cache disabled")
)

// Cache provides on-disk response caching with LRU eviction, keyed by
// a request's host+path.
type Cache struct {
	dir     string
	maxSize int64
	enabled bool
	log     *zap.SugaredLogger

	mu    sync.RWMutex
	index *lruIndex
	stats CacheStats
}

// CacheStats tracks cache activity counters.
type CacheStats struct {
	Hits, Misses, Stores, Evictions, Errors int64
	CurrentSize                             int64
}

// CacheEntry is one cached HTTP response.
type CacheEntry struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	CachedAt   time.Time
	Size       int64
}

// NewCache opens (creating if necessary) an on-disk cache bounded to
// maxSize bytes. enabled=false returns a Cache that rejects every Get
// and Put with ErrCacheDisabled, so callers don't need a separate
// on/off branch at every call site.
func NewCache(dir string, maxSize int64, enabled bool, log *zap.SugaredLogger) (*Cache, error) {
	if !enabled {
		return &Cache{enabled: false, log: log}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("egressproxy: create cache dir: %w", err)
	}
	c := &Cache{dir: dir, maxSize: maxSize, enabled: enabled, log: log, index: newLRUIndex()}
	if err := c.loadIndex(); err != nil {
		log.Warnw("egressproxy: loading cache index failed", "error", err)
	}
	return c, nil
}

func (c *Cache) Get(key string) (*CacheEntry, error) {
	if !c.enabled {
		return nil, ErrCacheDisabled
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.index.exists(key) {
		c.stats.Misses++
		return nil, ErrCacheMiss
	}
	entry, err := c.readEntry(key)
	if err != nil {
		c.stats.Errors++
		return nil, err
	}
	c.index.access(key)
	c.stats.Hits++
	return entry, nil
}

func (c *Cache) Put(key string, entry *CacheEntry) error {
	if !c.enabled {
		return ErrCacheDisabled
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeEntry(key, entry); err != nil {
		c.stats.Errors++
		return err
	}
	c.index.add(key, entry.Size)
	c.stats.CurrentSize += entry.Size
	c.stats.Stores++

	for c.stats.CurrentSize > c.maxSize {
		if err := c.evictLRU(); err != nil {
			c.log.Warnw("egressproxy: eviction failed", "error", err)
			break
		}
	}
	return nil
}

func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func cacheFileKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func (c *Cache) readEntry(key string) (*CacheEntry, error) {
	path := filepath.Join(c.dir, cacheFileKey(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("egressproxy: read cache file: %w", err)
	}
	entry, err := deserializeCacheEntry(data)
	if err != nil {
		_ = os.Remove(path)
		c.index.remove(key)
		return nil, ErrCacheMiss
	}
	return entry, nil
}

func (c *Cache) writeEntry(key string, entry *CacheEntry) error {
	hash := cacheFileKey(key)
	path := filepath.Join(c.dir, hash)

	data, err := serializeCacheEntry(entry)
	if err != nil {
		return fmt.Errorf("egressproxy: serialize entry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("egressproxy: write cache file: %w", err)
	}
	metaPath := filepath.Join(c.dir, hash+".meta")
	return os.WriteFile(metaPath, []byte(key), 0o644)
}

func (c *Cache) evictLRU() error {
	key, size := c.index.evict()
	if key == "" {
		return errors.New("egressproxy: no entries to evict")
	}
	hash := cacheFileKey(key)
	if err := os.Remove(filepath.Join(c.dir, hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("egressproxy: remove cache file: %w", err)
	}
	_ = os.Remove(filepath.Join(c.dir, hash+".meta"))
	c.stats.CurrentSize -= size
	c.stats.Evictions++
	return nil
}

func (c *Cache) loadIndex() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) == ".meta" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		keyData, err := os.ReadFile(filepath.Join(c.dir, entry.Name()+".meta"))
		if err != nil {
			continue
		}
		key := string(keyData)
		c.index.add(key, info.Size())
		c.stats.CurrentSize += info.Size()
	}
	return nil
}

func serializeCacheEntry(entry *CacheEntry) ([]byte, error) {
	var buf bytes.Buffer
	var header [16]byte
	putUint32(header[0:4], uint32(entry.StatusCode))
	putUint64(header[4:12], uint64(entry.CachedAt.Unix()))

	headersData := serializeCacheHeaders(entry.Headers)
	putUint32(header[12:16], uint32(len(headersData)))

	buf.Write(header[:])
	buf.Write(headersData)
	buf.Write(entry.Body)
	return buf.Bytes(), nil
}

func deserializeCacheEntry(data []byte) (*CacheEntry, error) {
	if len(data) < 16 {
		return nil, errors.New("egressproxy: invalid entry data")
	}
	entry := &CacheEntry{}
	entry.StatusCode = int(getUint32(data[0:4]))
	entry.CachedAt = time.Unix(int64(getUint64(data[4:12])), 0)

	headerLen := int(getUint32(data[12:16]))
	if len(data) < 16+headerLen {
		return nil, errors.New("egressproxy: invalid header length")
	}
	entry.Headers = deserializeCacheHeaders(data[16 : 16+headerLen])
	entry.Body = data[16+headerLen:]
	entry.Size = int64(len(data))
	return entry, nil
}

func putUint32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}
func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}
func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func serializeCacheHeaders(headers http.Header) []byte {
	var buf bytes.Buffer
	for key, values := range headers {
		for _, value := range values {
			buf.WriteString(key)
			buf.WriteByte(':')
			buf.WriteString(value)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

func deserializeCacheHeaders(data []byte) http.Header {
	headers := make(http.Header)
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		parts := bytes.SplitN(line, []byte{':'}, 2)
		if len(parts) == 2 {
			headers.Add(string(parts[0]), string(parts[1]))
		}
	}
	return headers
}

// CaptureResponse reads and buffers resp's body into a CacheEntry,
// restoring resp.Body so the caller can still stream it downstream.
func CaptureResponse(resp *http.Response) (*CacheEntry, error) {
	if resp == nil {
		return nil, errors.New("egressproxy: nil response")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("egressproxy: read response body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return &CacheEntry{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		CachedAt:   time.Now(),
		Size:       int64(len(body)),
	}, nil
}

// RestoreResponse rebuilds an *http.Response from a cached entry.
func RestoreResponse(entry *CacheEntry, req *http.Request) *http.Response {
	resp := &http.Response{
		StatusCode: entry.StatusCode,
		Header:     entry.Headers.Clone(),
		Body:       io.NopCloser(bytes.NewReader(entry.Body)),
		Request:    req,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
	}
	resp.Header.Set("X-Cache", "HIT")
	resp.Header.Set("X-Cache-Date", entry.CachedAt.Format(time.RFC3339))
	return resp
}
