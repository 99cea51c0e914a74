// Package npi provides a client for the CMS NPI Registry API.
package npi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/ave/internal/resilience"
)

const (
	defaultBaseURL = "https://npiregistry.cms.hhs.gov/api/"
	apiVersion     = "2.1"
)

// Client queries the CMS NPI Registry.
type Client interface {
	Search(ctx context.Context, number string) (*SearchResponse, error)
}

// SearchResponse is the response from the registry search endpoint.
type SearchResponse struct {
	ResultCount int      `json:"result_count"`
	Results     []Result `json:"results"`
}

// Result is one registry record.
type Result struct {
	Number          json.Number `json:"number"`
	EnumerationType string      `json:"enumeration_type"`
	Basic           Basic       `json:"basic"`
	Addresses       []Address   `json:"addresses"`
	Taxonomies      []Taxonomy  `json:"taxonomies"`
}

// Basic holds the record's identity block.
type Basic struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Credential       string `json:"credential"`
	OrganizationName string `json:"organization_name"`
	Status           string `json:"status"`
}

// Address is one practice or mailing address.
type Address struct {
	AddressPurpose string `json:"address_purpose"`
	Address1       string `json:"address_1"`
	Address2       string `json:"address_2"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postal_code"`
}

// Taxonomy is one specialty classification.
type Taxonomy struct {
	Code    string `json:"code"`
	Desc    string `json:"desc"`
	Primary bool   `json:"primary"`
	License string `json:"license"`
	State   string `json:"state"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second. The registry is a public
// API; staying under its limit keeps batch runs from being cut off.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithRetry overrides the default retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates an NPI Registry client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(2, 1),
		retry:   defaultRetry(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func defaultRetry() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("npi registry", "search")
	return cfg
}

// Search looks up a single NPI. Transient upstream failures are retried with
// backoff; each attempt waits on the rate limiter so retries never burst past
// the registry's limit.
func (c *httpClient) Search(ctx context.Context, number string) (*SearchResponse, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*SearchResponse, error) {
		return c.search(ctx, number)
	})
}

func (c *httpClient) search(ctx context.Context, number string) (*SearchResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "npi: rate limit wait")
	}

	q := url.Values{}
	q.Set("version", apiVersion)
	q.Set("number", number)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "npi: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "npi: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "npi: read response")
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("npi: unexpected status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "npi: unmarshal response")
	}

	return &result, nil
}
