/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
)

const (
	apiVersion = "v10"
	baseAPIURL = "https://discord.com/api/" + apiVersion
	maxRetries = 5
)

// HTTPGate is the rate-limit-aware REST transport (C2). It owns no
// per-endpoint methods — those are out of scope (spec.md §1) — and instead
// exposes one entry point, Do, that any caller builds a RouteTemplate
// against.
//
// Grounded in goda's requester.go do()/generateBucketKey(), rewritten to
// consult a RateLimitCoordinator (C1) and a RouteTemplate (C2 route
// language) instead of a regex-derived bucket key, and to surface typed
// HTTPError values instead of bare error strings.
type HTTPGate struct {
	client      *http.Client
	token       string
	userAgent   string
	logger      Logger
	coordinator *RateLimitCoordinator

	// hints caches the last-seen bucket id per route template, so that a
	// second call against the same template (different major parameter or
	// not) can ask the coordinator whether it is already rate limited
	// before ever reaching the network (spec.md §9 design note).
	hints *ShardMap[string, string]
}

// NewHTTPGate creates an HTTPGate. If client is nil, a connection-pooled
// default is used, matching goda's requester.go transport tuning.
func NewHTTPGate(client *http.Client, token string, logger Logger, coordinator *RateLimitCoordinator) *HTTPGate {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,

				MaxIdleConns:        500,
				MaxIdleConnsPerHost: 100,
				MaxConnsPerHost:     200,

				IdleConnTimeout:       120 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: time.Second,

				ForceAttemptHTTP2: true,
			},
		}
	}
	return &HTTPGate{
		client:      client,
		token:       "Bot " + token,
		userAgent:   fmt.Sprintf("DiscordBot (%s, %s)", LIB_NAME, LIB_VERSION),
		logger:      logger,
		coordinator: coordinator,
		hints:       NewStringShardMap[string](),
	}
}

// Shutdown closes idle connections in the underlying transport.
func (g *HTTPGate) Shutdown() {
	if tr, ok := g.client.Transport.(interface{ CloseIdleConnections() }); ok {
		tr.CloseIdleConnections()
	}
}

// Do builds a request against tmpl filled with args, sends it with rate-limit
// and retry handling, and decodes a non-success response into an *HTTPError.
// body may be nil. expected is the single HTTP status that counts as success
// for this endpoint (spec.md §4.2's "expected success status" input); any
// other status, including one the retry loop gives up on, comes back as a
// typed *HTTPError built against it.
func (g *HTTPGate) Do(ctx context.Context, tmpl *RouteTemplate, args []RouteArg, body []byte, reason string, authenticated bool, expected int) ([]byte, error) {
	path, major := tmpl.Build(args...)
	templateKey := tmpl.TemplateKey()

	var lastErr *HTTPError
	var lastTransportErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		hint, _ := g.hints.Get(templateKey)
		if wait, limited := g.coordinator.Check(g.token, hint, major); limited {
			if err := sleepOrCancel(ctx, time.Until(wait)); err != nil {
				return nil, err
			}
			continue
		}

		req, err := http.NewRequestWithContext(ctx, tmpl.method, baseAPIURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		if authenticated {
			req.Header.Set("Authorization", g.token)
		}
		req.Header.Set("User-Agent", g.userAgent)
		req.Header.Set("Accept", "application/json")
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		if reason != "" {
			req.Header.Set("X-Audit-Log-Reason", reason)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			lastTransportErr = err
			g.logger.Warn(fmt.Sprintf("http gate: transport error on %s %s: %v", tmpl.method, path, err))
			if err := sleepOrCancel(ctx, time.Second); err != nil {
				return nil, err
			}
			continue
		}

		respBody, err := readResponseBody(resp)
		if err != nil {
			g.logger.Warn(fmt.Sprintf("http gate: reading response body for %s %s: %v", tmpl.method, path, err))
		}

		if bucketID := g.coordinator.Record(g.token, major, resp.Header); bucketID != "" {
			g.hints.Set(templateKey, bucketID)
		}

		if resp.StatusCode == 429 {
			retryAfter, global := parseRetryAfter(resp.Header, respBody)
			until := time.Now().Add(retryAfter)
			if global {
				g.coordinator.RecordGlobal(until)
			}
			lastErr = newHTTPError(resp.StatusCode, respBody, expected)
			lastErr.Reset = until
			if reset := parseEpochSeconds(resp.Header.Get("x-ratelimit-reset")); !global && !reset.IsZero() {
				lastErr.Reset = reset
			}
			lastErr.Global = global
			g.logger.Debug(fmt.Sprintf("http gate: 429 on %s %s, retrying after %s", tmpl.method, path, retryAfter))
			if err := sleepOrCancel(ctx, retryAfter); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode == expected {
			return respBody, nil
		}

		if isRetryableStatus(resp.StatusCode) && attempt < maxRetries-1 {
			lastErr = newHTTPError(resp.StatusCode, respBody, expected)
			g.logger.Warn(fmt.Sprintf("http gate: retryable status %d on %s %s", resp.StatusCode, tmpl.method, path))
			if err := sleepOrCancel(ctx, time.Second); err != nil {
				return nil, err
			}
			continue
		}

		return nil, newHTTPError(resp.StatusCode, respBody, expected)
	}

	if lastErr != nil {
		return nil, lastErr
	}
	if lastTransportErr != nil {
		return nil, lastTransportErr
	}
	return nil, ErrRateLimited
}

// readResponseBody reads resp.Body through a pooled scratch buffer
// (pool.go's AcquireBytes/ReleaseBytes) sized to the response's advertised
// Content-Length, copying out exactly the bytes read before releasing the
// buffer back to its pool — the copy-out happens synchronously within this
// call, so the pooled buffer is never retained past the point it is
// released, unlike a dispatch payload's raw bytes which a handler may hold
// onto indefinitely.
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	hint := int(resp.ContentLength)
	if hint <= 0 {
		hint = 4096
	}
	bufPtr := AcquireBytes(hint)
	buf := *bufPtr

	for {
		if len(buf) == cap(buf) {
			buf = append(buf, 0)[:len(buf)]
		}
		n, err := resp.Body.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]
		if err != nil {
			out := make([]byte, len(buf))
			copy(out, buf)
			*bufPtr = buf
			ReleaseBytes(bufPtr)
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
	}
}

func isRetryableStatus(status int) bool {
	switch status {
	case 500, 502, 503, 504:
		return true
	}
	return false
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseRetryAfter(h http.Header, body []byte) (time.Duration, bool) {
	global := h.Get("x-ratelimit-global") == "true"

	if raw := h.Get("retry-after"); raw != "" {
		if sec, err := strconv.ParseFloat(raw, 64); err == nil {
			whole, frac := math.Modf(sec)
			return time.Duration(whole)*time.Second + time.Duration(frac*1000)*time.Millisecond, global
		}
	}

	var decoded struct {
		RetryAfter float64 `json:"retry_after"`
		Global     bool    `json:"global"`
	}
	if len(body) > 0 && sonic.Unmarshal(body, &decoded) == nil && decoded.RetryAfter > 0 {
		whole, frac := math.Modf(decoded.RetryAfter)
		return time.Duration(whole)*time.Second + time.Duration(frac*1000)*time.Millisecond, global || decoded.Global
	}

	return time.Second, global
}

func newHTTPError(status int, body []byte, expected int) *HTTPError {
	herr := &HTTPError{Status: status, Expected: expected, Kind: kindForStatus(status, expected)}
	if len(body) > 0 {
		var apiErr DiscordAPIError
		if sonic.Unmarshal(body, &apiErr) == nil {
			herr.Body = &apiErr
		}
	}
	return herr
}
