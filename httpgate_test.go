/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type mockRoundTripper struct {
	fn func(req *http.Request) (*http.Response, error)
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.fn(req)
}

func newMockResponse(status int, body string, headers map[string]string) *http.Response {
	h := make(http.Header)
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     h,
	}
}

func newTestGate(mockFn func(*http.Request) (*http.Response, error)) *HTTPGate {
	mockClient := &http.Client{
		Transport: &mockRoundTripper{fn: mockFn},
		Timeout:   5 * time.Second,
	}
	logger := NewDefaultLogger(nil, LogLevelDebugLevel)
	return NewHTTPGate(mockClient, "testtoken", logger, NewRateLimitCoordinator())
}

var testMessageRoute = NewRoute("GET", "/channels/{#channel}/messages")

func TestHTTPGate_Do_Success(t *testing.T) {
	g := newTestGate(func(req *http.Request) (*http.Response, error) {
		return newMockResponse(200, `{"ok":true}`, map[string]string{
			"x-ratelimit-bucket":    "abcd",
			"x-ratelimit-limit":     "5",
			"x-ratelimit-remaining": "4",
			"x-ratelimit-reset":     "9999999999",
		}), nil
	})

	body, err := g.Do(context.Background(), testMessageRoute, []RouteArg{{Name: "channel", Value: Snowflake(123)}}, nil, "", true, 200)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestHTTPGate_Do_RateLimitRetry(t *testing.T) {
	var attempts int32
	g := newTestGate(func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			return newMockResponse(429, `{"message":"rate limited","retry_after":0.05}`, map[string]string{
				"retry-after": "0.05",
			}), nil
		}
		return newMockResponse(200, `{"ok":true}`, nil), nil
	})

	_, err := g.Do(context.Background(), testMessageRoute, []RouteArg{{Name: "channel", Value: Snowflake(123)}}, nil, "", true, 200)
	if err != nil {
		t.Fatal(err)
	}
	if attempts < 3 {
		t.Fatalf("expected at least 3 attempts, got %d", attempts)
	}
}

func TestHTTPGate_Do_GlobalRateLimit(t *testing.T) {
	var attempts int32
	g := newTestGate(func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return newMockResponse(429, `{"message":"global"}`, map[string]string{
				"retry-after":        "0.05",
				"x-ratelimit-global": "true",
			}), nil
		}
		return newMockResponse(200, `{"ok":true}`, nil), nil
	})

	_, err := g.Do(context.Background(), testMessageRoute, []RouteArg{{Name: "channel", Value: Snowflake(123)}}, nil, "", true, 200)
	if err != nil {
		t.Fatal(err)
	}
}

func TestHTTPGate_Do_RetryableStatus(t *testing.T) {
	var attempts int32
	g := newTestGate(func(req *http.Request) (*http.Response, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n <= 3 {
			return newMockResponse(503, "unavailable", nil), nil
		}
		return newMockResponse(200, `{"ok":true}`, nil), nil
	})

	_, err := g.Do(context.Background(), testMessageRoute, []RouteArg{{Name: "channel", Value: Snowflake(123)}}, nil, "", true, 200)
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts)
	}
}

func TestHTTPGate_Do_MaxRetriesExceeded(t *testing.T) {
	g := newTestGate(func(req *http.Request) (*http.Response, error) {
		return newMockResponse(503, "unavailable", nil), nil
	})

	_, err := g.Do(context.Background(), testMessageRoute, []RouteArg{{Name: "channel", Value: Snowflake(123)}}, nil, "", true, 200)
	herr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("expected a typed *HTTPError once retries are exhausted, got %T (%v)", err, err)
	}
	if herr.Kind != KindUnexpectedStatus {
		t.Fatalf("expected KindUnexpectedStatus for a 503, got %v", herr.Kind)
	}
}

func TestHTTPGate_Do_RateLimitExhausted(t *testing.T) {
	g := newTestGate(func(req *http.Request) (*http.Response, error) {
		return newMockResponse(429, `{"message":"rate limited","retry_after":0.01}`, map[string]string{
			"retry-after": "0.01",
		}), nil
	})

	_, err := g.Do(context.Background(), testMessageRoute, []RouteArg{{Name: "channel", Value: Snowflake(123)}}, nil, "", true, 200)
	herr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("expected a typed *HTTPError once 429 retries are exhausted, got %T (%v)", err, err)
	}
	if herr.Kind != KindRateLimited {
		t.Fatalf("expected KindRateLimited, got %v", herr.Kind)
	}
	if herr.Reset.IsZero() {
		t.Fatal("expected Reset to be populated for an exhausted rate-limit error")
	}
}

func TestHTTPGate_Do_UnexpectedStatusCarriesExpected(t *testing.T) {
	g := newTestGate(func(req *http.Request) (*http.Response, error) {
		return newMockResponse(201, `{"ok":true}`, nil), nil
	})

	_, err := g.Do(context.Background(), testMessageRoute, []RouteArg{{Name: "channel", Value: Snowflake(123)}}, nil, "", true, 200)
	herr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("expected *HTTPError for a status other than the expected one, got %T (%v)", err, err)
	}
	if herr.Kind != KindUnexpectedStatus || herr.Expected != 200 || herr.Status != 201 {
		t.Fatalf("unexpected error shape: %+v", herr)
	}
}

func TestHTTPGate_Do_StatusTaxonomy(t *testing.T) {
	cases := []struct {
		status int
		kind   HTTPErrorKind
	}{
		{400, KindBadRequest},
		{401, KindInvalidToken},
		{403, KindNoPermission},
		{404, KindNotFound},
		{405, KindMethodNotAllowed},
	}
	for _, c := range cases {
		g := newTestGate(func(req *http.Request) (*http.Response, error) {
			return newMockResponse(c.status, `{"code":1,"message":"nope"}`, nil), nil
		})
		_, err := g.Do(context.Background(), testMessageRoute, []RouteArg{{Name: "channel", Value: Snowflake(123)}}, nil, "", true, 200)
		herr, ok := err.(*HTTPError)
		if !ok {
			t.Fatalf("status %d: expected *HTTPError, got %T (%v)", c.status, err, err)
		}
		if herr.Kind != c.kind {
			t.Fatalf("status %d: expected kind %v, got %v", c.status, c.kind, herr.Kind)
		}
	}
}
