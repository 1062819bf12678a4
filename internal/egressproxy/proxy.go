package egressproxy

import (
	"net/http"
	"strings"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"
)

// Config configures a Proxy.
type Config struct {
	// AllowedHosts restricts destinations a sandbox may reach through
	// the proxy; empty disables enforcement. A host matches an entry
	// exactly or as a suffix of a "*.example.com" wildcard entry.
	AllowedHosts []string

	// CacheDir, when non-empty, enables on-disk caching of
	// content-addressed blobs (git LFS objects, npm/pip package
	// tarballs served with a sha256 digest in the URL).
	CacheDir      string
	CacheMaxBytes int64
	CachePatterns []string
}

// Proxy is a forward HTTP proxy a sandbox's outbound traffic can be
// pointed at: it enforces a host allowlist and transparently caches
// immutable package/registry blobs across sandboxes. It does not MITM
// HTTPS — CONNECT tunnels are allowlisted and passed through encrypted,
// so only plain HTTP requests are cache-eligible.
type Proxy struct {
	handler *goproxy.ProxyHttpServer
	cache   *Cache
	matcher *CacheMatcher
	allowed []string
	log     *zap.SugaredLogger
}

// New builds a Proxy from cfg.
func New(cfg Config, log *zap.SugaredLogger) (*Proxy, error) {
	cache, err := NewCache(cfg.CacheDir, cfg.CacheMaxBytes, cfg.CacheDir != "", log)
	if err != nil {
		return nil, err
	}
	matcher, err := NewCacheMatcher(cfg.CachePatterns, true)
	if err != nil {
		return nil, err
	}

	p := &Proxy{
		handler: goproxy.NewProxyHttpServer(),
		cache:   cache,
		matcher: matcher,
		allowed: cfg.AllowedHosts,
		log:     log,
	}
	p.handler.Verbose = false
	p.setupHandlers()
	return p, nil
}

// Handler returns the http.Handler to front with an http.Server.
func (p *Proxy) Handler() http.Handler { return p.handler }

type requestMeta struct {
	startTime time.Time
	cacheHit  bool
}

func (p *Proxy) setupHandlers() {
	p.handler.OnRequest().HandleConnectFunc(func(host string, _ *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		if !p.allowHost(host) {
			p.log.Infow("egressproxy: blocked CONNECT", "host", host)
			return goproxy.RejectConnect, host
		}
		return goproxy.OkConnect, host
	})

	p.handler.OnRequest().DoFunc(func(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		meta := &requestMeta{startTime: time.Now()}
		ctx.UserData = meta

		if !p.allowHost(req.Host) {
			p.log.Infow("egressproxy: blocked request", "host", req.Host)
			return req, goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusForbidden, "destination not allowed")
		}

		if p.matcher.ShouldCache(req) {
			key := p.matcher.GenerateKey(req)
			if entry, err := p.cache.Get(key); err == nil {
				meta.cacheHit = true
				p.log.Debugw("egressproxy: cache hit", "host", req.Host, "path", req.URL.Path, "size", entry.Size)
				return req, RestoreResponse(entry, req)
			}
		}

		return req, nil
	})

	p.handler.OnResponse().DoFunc(func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
		if resp == nil || ctx.Req == nil {
			return resp
		}
		meta, _ := ctx.UserData.(*requestMeta)
		if meta != nil && meta.cacheHit {
			return resp
		}
		if meta != nil {
			p.log.Debugw("egressproxy: response", "host", ctx.Req.Host, "path", ctx.Req.URL.Path,
				"status", resp.StatusCode, "duration", time.Since(meta.startTime))
		}

		if !p.matcher.ShouldCache(ctx.Req) || !p.matcher.ShouldCacheResponse(resp) {
			return resp
		}

		entry, err := CaptureResponse(resp)
		if err != nil {
			p.log.Warnw("egressproxy: capturing response for cache failed", "path", ctx.Req.URL.Path, "error", err)
			return resp
		}
		if err := p.matcher.VerifyDigest(ctx.Req.URL.Path, entry.Body); err != nil {
			p.log.Warnw("egressproxy: digest verification failed, not caching", "path", ctx.Req.URL.Path, "error", err)
			return resp
		}
		if err := p.cache.Put(p.matcher.GenerateKey(ctx.Req), entry); err != nil {
			p.log.Warnw("egressproxy: cache store failed", "path", ctx.Req.URL.Path, "error", err)
		}
		return resp
	})
}

func (p *Proxy) allowHost(hostport string) bool {
	if len(p.allowed) == 0 {
		return true
	}
	host := hostport
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	for _, allowed := range p.allowed {
		if strings.HasPrefix(allowed, "*.") {
			if strings.HasSuffix(host, allowed[1:]) {
				return true
			}
			continue
		}
		if host == allowed {
			return true
		}
	}
	return false
}

// Stats returns the underlying cache's activity counters.
func (p *Proxy) Stats() CacheStats { return p.cache.Stats() }
