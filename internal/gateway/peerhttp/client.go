// Package peerhttp delivers sealed exchanges to counterpart gateways over
// their inbound JSON endpoint. The peer network's handshake and
// proof-of-control protocol stay behind the transport's TLS configuration.
package peerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"liaison/internal/gateway"
	"liaison/pkg/platform/sentinel"
)

const defaultTimeout = 10 * time.Second

// Client implements gateway.PeerTransport over HTTPS.
type Client struct {
	http *http.Client
}

type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, e.g. to install
// mutual-TLS transport credentials or a custom dial timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts the exchange to the counterparty's inbound endpoint. Dial and
// server-side failures are reported as sentinel.ErrUnavailable so callers
// can park the exchange; 4xx answers are terminal.
func (c *Client) Send(ctx context.Context, endpoint string, req gateway.PeerRequest) (gateway.PeerReply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return gateway.PeerReply{}, fmt.Errorf("encode peer exchange: %w", err)
	}

	u := endpoint + "/v1/peer/inbound"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return gateway.PeerReply{}, fmt.Errorf("build peer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return gateway.PeerReply{}, fmt.Errorf("%w: peer %s: %v", sentinel.ErrUnavailable, endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= http.StatusInternalServerError:
		return gateway.PeerReply{}, fmt.Errorf("%w: peer %s returned %d", sentinel.ErrUnavailable, endpoint, resp.StatusCode)
	default:
		return gateway.PeerReply{}, fmt.Errorf("peer %s rejected exchange with %d", endpoint, resp.StatusCode)
	}

	var reply gateway.PeerReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return gateway.PeerReply{}, fmt.Errorf("decode peer reply: %w", err)
	}
	return reply, nil
}
