// Package transport implements the SOAP-over-HTTP peer RPC boundary: one
// request/response pair per NSI operation, addressed by target URL and
// SOAP action, with the quirks real NSI deployments exhibit (early
// socket close on reply, 204-is-success).
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout is the per-call timeout used when none is configured.
const DefaultTimeout = 30 * time.Second

// HTTPRequestError wraps a transport-level failure: dial, TLS handshake,
// or a body-read error that happened before any status line was
// observed.
type HTTPRequestError struct {
	URL    string
	Action string
	Cause  error
}

func (e *HTTPRequestError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Action, e.URL, e.Cause)
}

func (e *HTTPRequestError) Unwrap() error {
	return e.Cause
}

// Client performs SOAP-over-HTTP peer RPCs.
type Client struct {
	HTTPClient *http.Client
	Timeout    time.Duration

	tlsConfig *tls.Config
}

// New creates a Client. If tlsConfig is non-nil, HTTPS calls use it;
// verifyCert false (TLS config's InsecureSkipVerify) is the caller's
// responsibility to set before passing it in — this package never
// silently disables verification. A nil tlsConfig means Call rejects
// any https:// target outright rather than falling back to net/http's
// default TLS handling.
func New(tlsConfig *tls.Config) *Client {
	transport := &http.Transport{
		TLSClientConfig: tlsConfig,
	}
	return &Client{
		HTTPClient: &http.Client{Transport: transport},
		Timeout:    DefaultTimeout,
		tlsConfig:  tlsConfig,
	}
}

// Call issues one SOAP action against url with the given XML envelope
// body. It enforces the per-call timeout (falling back to DefaultTimeout
// when c.Timeout is zero), requires a TLS context for https:// targets,
// treats HTTP 204 as success with an empty body, and absorbs a
// peer-closed-connection error on the reply path once a status line has
// already been observed: a response seen at the HTTP layer is treated as
// success, anything earlier as a transport failure.
func (c *Client) Call(ctx context.Context, targetURL, action string, envelope []byte) ([]byte, error) {
	if strings.HasPrefix(targetURL, "https://") && c.tlsConfig == nil {
		return nil, &HTTPRequestError{URL: targetURL, Action: action, Cause: errors.New("https target requires a TLS context")}
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(envelope))
	if err != nil {
		return nil, &HTTPRequestError{URL: targetURL, Action: action, Cause: err}
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", action)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &HTTPRequestError{URL: targetURL, Action: action, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isPeerClosed(err) {
			// A status line was already received: treat the early close
			// as success with no body.
			return nil, nil
		}
		return nil, &HTTPRequestError{URL: targetURL, Action: action, Cause: err}
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPRequestError{URL: targetURL, Action: action, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	}

	return body, nil
}

// isPeerClosed reports whether err looks like the peer closed the
// connection on the reply path rather than a genuine transport failure.
func isPeerClosed(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true // connection reset / use of closed connection on the reply path
	}
	return false
}
