package provider

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// HTTPDoer is the minimal transport dependency every adapter needs. In
// production this is satisfied by *http.Client directly; tests substitute a
// stub.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// sseRetryDelays bounds the retry-with-backoff wrapper around the initial
// connection attempt only — once a stream is established, a mid-stream drop
// is surfaced to the caller rather than silently retried, since replaying a
// partially-consumed conversation against the provider risks duplicate
// tool-call side effects.
var sseRetryDelays = []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}

type httpRequestConfig struct {
	client  HTTPDoer
	url     string
	method  string
	body    []byte
	headers map[string]string
}

// isTransientStatus reports whether a status code warrants a connection
// retry rather than an immediate failure.
func isTransientStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// httpDoSSE opens a streaming HTTP request, retrying the initial connection
// attempt on transient failures with the delays in sseRetryDelays.
func httpDoSSE(ctx context.Context, cfg httpRequestConfig) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= len(sseRetryDelays); attempt++ {
		if attempt > 0 {
			delay := sseRetryDelays[attempt-1]
			log.Warn().Str("url", cfg.url).Int("attempt", attempt).Dur("delay", delay).Err(lastErr).Msg("retrying provider stream connection")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, status, err := sseAttempt(ctx, cfg)
		if err == nil && !isTransientStatus(status) {
			return resp, nil
		}
		if err != nil {
			lastErr = err
			continue
		}
		if isTransientStatus(status) {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("transient status %d: %s", status, string(body))
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("provider stream connection failed after retries: %w", lastErr)
}

func sseAttempt(ctx context.Context, cfg httpRequestConfig) (*http.Response, int, error) {
	req, err := http.NewRequestWithContext(ctx, cfg.method, cfg.url, bytesReader(cfg.body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range cfg.headers {
		req.Header.Set(k, v)
	}

	resp, err := cfg.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	return resp, resp.StatusCode, nil
}

// trySend is the shared cancellation-aware channel send used by every
// adapter's streaming goroutine: it never blocks past context cancellation.
func trySend[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// scanSSEBody reads resp.Body in reasonably sized chunks suitable for
// feeding a streamproc.Reassembler; bufio.Scanner isn't used here because
// the reassembler needs raw byte chunks, not pre-split lines.
func scanSSEBody(body io.Reader, onChunk func([]byte) bool) error {
	r := bufio.NewReaderSize(body, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if !onChunk(buf[:n]) {
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
