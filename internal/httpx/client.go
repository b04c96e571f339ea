// Package httpx builds the outbound HTTP clients used by metadata lookups and
// remote extraction services.
package httpx

import (
	"net/http"
	"time"
)

// UserAgent is sent on outbound requests that do not set their own.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// NewClient returns a client with a tuned transport and the given overall
// request timeout. A zero timeout leaves deadlines to the request context.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: newTransport()}
}

// NewClientWithTransport returns a client that uses rt.
func NewClientWithTransport(timeout time.Duration, rt http.RoundTripper) *http.Client {
	if rt == nil {
		rt = newTransport()
	}
	return &http.Client{Timeout: timeout, Transport: rt}
}

func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 64
	t.MaxIdleConnsPerHost = 16
	t.IdleConnTimeout = 30 * time.Second
	t.ResponseHeaderTimeout = 30 * time.Second
	return t
}
