package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sandboxkit/sandboxkit/internal/clienterr"
	"github.com/sandboxkit/sandboxkit/internal/sandbox"
	"github.com/sandboxkit/sandboxkit/internal/sse"
)

const (
	activityRenewThrottle = 5 * time.Second
	healthCheckInterval   = 30 * time.Second
	hangTimeout           = 5 * time.Minute
)

// streamWrapper decodes SSE records off body while renewing the
// instance's idle timer (throttled to once per activityRenewThrottle
// after the first chunk), periodically re-checking container health,
// and failing the stream if no chunk arrives within hangTimeout.
type streamWrapper struct {
	cp   *Instance
	dec  *sse.Decoder
	body io.ReadCloser

	ctx    context.Context
	cancel context.CancelFunc

	firstChunk     bool
	lastRenewed    time.Time
	lastHealthy    time.Time
	healthFailedCh chan error
}

func (cp *Instance) wrapStream(ctx context.Context, body io.ReadCloser) *streamWrapper {
	wctx, cancel := context.WithCancel(ctx)
	w := &streamWrapper{
		cp:             cp,
		dec:            sse.NewDecoder(body),
		body:           body,
		ctx:            wctx,
		cancel:         cancel,
		healthFailedCh: make(chan error, 1),
	}
	go w.superviseHealth()
	return w
}

// superviseHealth re-checks container health every healthCheckInterval
// for as long as the stream is open; if the container is no longer
// healthy it signals the stream to fail.
func (w *streamWrapper) superviseHealth() {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			sb, err := w.cp.provider.Get(w.ctx, w.cp.id)
			if err != nil || sb.Status != sandbox.StatusRunning {
				select {
				case w.healthFailedCh <- fmt.Errorf("container is no longer healthy during stream"):
				default:
				}
				return
			}
		}
	}
}

// next returns the next decoded SSE record's JSON payload, or an error
// once the stream ends, a health check fails, or hangTimeout elapses
// with no data.
func (w *streamWrapper) next(out any) error {
	type result struct {
		payload []byte
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := w.dec.Next()
		ch <- result{p, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		w.onActivity()
		if out != nil {
			return json.Unmarshal(r.payload, out)
		}
		return nil
	case err := <-w.healthFailedCh:
		return err
	case <-time.After(hangTimeout):
		return &clienterr.Error{Code: clienterr.InternalError, Message: "stream timed out: no data for 5 minutes"}
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

func (w *streamWrapper) onActivity() {
	now := time.Now()
	if !w.firstChunk {
		w.firstChunk = true
		w.cp.renewActivity()
		w.lastRenewed = now
		return
	}
	if now.Sub(w.lastRenewed) >= activityRenewThrottle {
		w.cp.renewActivity()
		w.lastRenewed = now
	}
}

// close releases the wrapper's health-check goroutine and underlying
// body. Safe to call multiple times.
func (w *streamWrapper) close() {
	w.cancel()
	_ = w.body.Close()
}
