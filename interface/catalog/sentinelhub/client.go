package sentinelhub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/geolens/pansharp/interface/catalog"
	"github.com/geolens/pansharp/service"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultEndpoint = "https://services.sentinel-hub.com/api/v1"
	DefaultTokenURL = "https://services.sentinel-hub.com/oauth/token"

	defaultPageLimit      = 100
	defaultRetries        = 3
	defaultRetryDelay     = time.Second
	defaultAttemptTimeout = 30 * time.Second
)

// Credentials authenticate the catalog client (OAuth2 client-credentials flow)
type Credentials struct {
	ClientID     string `env:"PANSHARP_CLIENT_ID"`
	ClientSecret string `env:"PANSHARP_CLIENT_SECRET"`
}

// CredentialsFromEnv reads and validates the credentials from the environment
func CredentialsFromEnv() (Credentials, error) {
	creds := Credentials{}
	if err := env.Parse(&creds); err != nil {
		return Credentials{}, fmt.Errorf("CredentialsFromEnv: %w", err)
	}
	return creds, creds.Validate()
}

// Validate fails before any network call when a credential is missing
func (c Credentials) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if len(missing) != 0 {
		return service.MakeFatal(catalog.ErrConfiguration{Missing: missing})
	}
	return nil
}

// Client implements the catalog interfaces against a Sentinel-Hub-style API
type Client struct {
	endpoint       string
	hc             *http.Client
	pageLimit      int
	retries        int
	retryDelay     time.Duration
	attemptTimeout time.Duration
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithPageLimit sets the page size of paginated searches
func WithPageLimit(limit int) ClientOption {
	return func(c *Client) { c.pageLimit = limit }
}

// WithRetries sets the retry count and the base delay of the exponential backoff
func WithRetries(retries int, delay time.Duration) ClientOption {
	return func(c *Client) { c.retries = retries; c.retryDelay = delay }
}

// WithAttemptTimeout bounds each network attempt
func WithAttemptTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.attemptTimeout = timeout }
}

// HTTPClient returns the authenticated http client, for services that share
// the catalog credentials.
func (c *Client) HTTPClient() *http.Client {
	return c.hc
}

// WithHTTPClient overrides the authenticated http client (tests)
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// NewClient validates the credentials and returns a catalog client.
// tokenURL may be empty to use the service default.
func NewClient(ctx context.Context, endpoint, tokenURL string, creds Credentials, opts ...ClientOption) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	cc := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     tokenURL,
	}
	c := &Client{
		endpoint:       strings.TrimSuffix(endpoint, "/"),
		hc:             cc.Client(ctx),
		pageLimit:      defaultPageLimit,
		retries:        defaultRetries,
		retryDelay:     defaultRetryDelay,
		attemptTimeout: defaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type statusError struct {
	Code   int
	Status string
	Body   string
}

func (e statusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Body)
}

// do runs one request with bounded per-attempt timeouts and exponential
// backoff on temporary failures. Auth rejections are fatal and never retried;
// exhausting the retry budget surfaces as catalog.ErrCatalogUnavailable.
func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var lastErr error
	for i := 0; i <= c.retries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After((1 << (i - 1)) * c.retryDelay):
			}
		}
		body, err := c.attempt(ctx, method, url, payload)
		if err == nil {
			return body, nil
		}
		if service.Fatal(err) || !service.Temporary(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, catalog.ErrCatalogUnavailable{Endpoint: c.endpoint, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, service.MakeFatal(err)
	}
	if payload != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, service.MakeFatal(catalog.ErrAuth{Endpoint: c.endpoint, Status: rerr.Response.Status})
		}
		return nil, service.MakeTemporary(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == 200:
		return io.ReadAll(resp.Body)
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return nil, service.MakeFatal(catalog.ErrAuth{Endpoint: c.endpoint, Status: resp.Status})
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429:
		b, _ := io.ReadAll(resp.Body)
		return nil, statusError{Code: resp.StatusCode, Status: resp.Status, Body: string(b)}
	default:
		b, _ := io.ReadAll(resp.Body)
		return nil, service.MakeTemporary(statusError{Code: resp.StatusCode, Status: resp.Status, Body: string(b)})
	}
}
