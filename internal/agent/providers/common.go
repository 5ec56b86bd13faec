package providers

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// vendorHTTPTimeout bounds an entire wire call, streaming included; a stuck
// SSE connection is cut loose rather than held open indefinitely.
const vendorHTTPTimeout = 120 * time.Second

// vendorConnectTimeout bounds TCP+TLS setup, independent of the overall call
// budget, so a slow DNS/handshake fails fast instead of eating the whole
// vendorHTTPTimeout before the request even starts.
const vendorConnectTimeout = 10 * time.Second

// newVendorHTTPClient returns the *http.Client every vendor wire client
// shares: a bounded connect timeout wrapped in a bounded overall timeout.
func newVendorHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: vendorConnectTimeout}
	return &http.Client{
		Timeout: vendorHTTPTimeout,
		Transport: &http.Transport{
			DialContext: dialer.DialContext,
		},
	}
}

// redactSecret replaces every occurrence of secret in s with a placeholder,
// so an API key never ends up verbatim in a log line or wrapped error.
func redactSecret(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "[REDACTED]")
}
