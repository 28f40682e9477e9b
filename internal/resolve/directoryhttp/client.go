// Package directoryhttp implements the directory and address-ownership ports
// over the directory service's JSON API. The directory's own lookup
// internals, replication, and proof-of-control protocol stay behind this
// boundary.
package directoryhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"liaison/internal/domain"
	"liaison/internal/resolve"
	"liaison/pkg/platform/sentinel"
)

const defaultTimeout = 5 * time.Second

// Client talks to one directory deployment. It implements both
// resolve.Directory and resolve.OwnershipIndex; deployments that split the
// two services can construct two clients.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, e.g. to install
// mutual-TLS transport credentials.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New constructs a client for the directory at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type counterpartyRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Directory  string `json:"directory"`
	Endpoint   string `json:"endpoint"`
	SealingKey []byte `json:"sealing_key"`
}

func (r counterpartyRecord) toDomain() domain.Counterparty {
	return domain.Counterparty{
		ID:         r.ID,
		Name:       r.Name,
		Directory:  r.Directory,
		Endpoint:   r.Endpoint,
		SealingKey: r.SealingKey,
	}
}

// Lookup fetches one counterparty record by organization identifier or LEI.
func (c *Client) Lookup(ctx context.Context, counterpartyID string) (domain.Counterparty, error) {
	u := fmt.Sprintf("%s/v1/members/%s", c.baseURL, url.PathEscape(counterpartyID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Counterparty{}, fmt.Errorf("build directory request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Counterparty{}, fmt.Errorf("%w: directory: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.Counterparty{}, sentinel.ErrNotFound
	default:
		return domain.Counterparty{}, fmt.Errorf("%w: directory returned %d", sentinel.ErrUnavailable, resp.StatusCode)
	}

	var record counterpartyRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return domain.Counterparty{}, fmt.Errorf("decode directory record: %w", err)
	}
	return record.toDomain(), nil
}

type ownershipResponse struct {
	Owners []struct {
		Counterparty counterpartyRecord `json:"counterparty"`
		Confidence   float64            `json:"confidence"`
	} `json:"owners"`
}

// Owners fetches the counterparties claiming a crypto address. An empty
// owners list is a valid answer.
func (c *Client) Owners(ctx context.Context, addr domain.CryptoAddress) ([]resolve.Ownership, error) {
	q := url.Values{}
	q.Set("address", addr.Address)
	q.Set("network", addr.Network)
	if addr.AssetType != "" {
		q.Set("asset_type", addr.AssetType)
	}
	u := fmt.Sprintf("%s/v1/addresses?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build ownership request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ownership index: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: ownership index returned %d", sentinel.ErrUnavailable, resp.StatusCode)
	}

	var body ownershipResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode ownership response: %w", err)
	}

	owners := make([]resolve.Ownership, 0, len(body.Owners))
	for _, o := range body.Owners {
		owners = append(owners, resolve.Ownership{
			Counterparty: o.Counterparty.toDomain(),
			Confidence:   o.Confidence,
		})
	}
	return owners, nil
}
