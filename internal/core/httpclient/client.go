// Package httpclient configures the HTTP client used to call upstream services.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/mohammed-shakir/imagery-composer/internal/core/observability"
)

const userAgent = "imagery-composer/1"

// NewOutbound creates a new outbound http client
func NewOutbound() *http.Client {
	return NewOutboundTimeout(30 * time.Second)
}

func NewOutboundTimeout(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: uaTransport{next: transport},
		Timeout:   timeout,
	}
}

type uaTransport struct{ next http.RoundTripper }

func (t uaTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("User-Agent", userAgent)
	}
	return t.next.RoundTrip(r)
}

// StatusError is returned when an upstream answers with a non-2xx status.
type StatusError struct {
	Upstream string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Upstream, e.Code, e.Body)
}

// Do sends req and returns the body of a 2xx response. Latency is recorded
// under the upstream label.
func Do(c *http.Client, upstream string, req *http.Request) ([]byte, http.Header, error) {
	start := time.Now()
	b, h, err := do(c, upstream, req)
	observability.ObserveUpstream(upstream, err, time.Since(start).Seconds())
	return b, h, err
}

func do(c *http.Client, upstream string, req *http.Request) ([]byte, http.Header, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", upstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: read body: %w", upstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := body
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, nil, &StatusError{Upstream: upstream, Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	return body, resp.Header, nil
}

// DoJSON sends in (when non-nil) as JSON and decodes the response into out
// (when non-nil).
func DoJSON(ctx context.Context, c *http.Client, upstream, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", upstream, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", upstream, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	b, _, err := Do(c, upstream, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", upstream, err)
	}
	return nil
}
