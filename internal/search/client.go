// Package search talks to the host-search API and normalizes its matches.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"mcscout/internal/errors"
	"mcscout/internal/logging"
	"mcscout/internal/shared"
)

const maxPageBytes = 16 << 20

// Authenticator applies the API key to an outgoing request.
type Authenticator interface {
	Apply(req *http.Request, apiKey string)
}

// QueryAuth sends the API key as a query parameter.
type QueryAuth struct {
	Param string
}

// Apply implements Authenticator.
func (a QueryAuth) Apply(req *http.Request, apiKey string) {
	if req.URL == nil {
		return
	}
	q := req.URL.Query()
	q.Set(a.Param, apiKey)
	req.URL.RawQuery = q.Encode()
}

// Client pages through the search API. It is safe for concurrent use but a
// single Fetch call is strictly sequential.
type Client struct {
	http       *http.Client
	baseURL    string
	auth       Authenticator
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

func WithAuthenticator(a Authenticator) Option {
	return func(c *Client) { c.auth = a }
}

// WithRetries sets how often a transient page failure is retried and the
// exponential backoff bounds between attempts.
func WithRetries(n int, initial, maxBackoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = max(n, 0)
		c.backoff = initial
		c.maxBackoff = max(maxBackoff, initial)
	}
}

func WithLogger(l *zerolog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: shared.DefaultRequestTimeout},
		baseURL:    shared.DefaultSearchURL,
		auth:       QueryAuth{Param: "key"},
		maxRetries: shared.DefaultMaxRetries,
		backoff:    shared.DefaultRetryBackoff,
		maxBackoff: shared.DefaultMaxRetryBackoff,
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds a client for one rescan.
func NewFromConfig(cfg shared.ScanConfig, logger *zerolog.Logger) *Client {
	return New(
		WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		WithBaseURL(cfg.SearchURL),
		WithRetries(cfg.MaxRetries, cfg.RetryBackoff, cfg.MaxRetryBackoff),
		WithLogger(logger),
	)
}

// QueryText appends the version filter to the base query when set.
func QueryText(baseQuery, versionFilter string) string {
	if versionFilter == "" {
		return baseQuery
	}
	return baseQuery + " " + versionFilter
}

type page struct {
	Matches []json.RawMessage `json:"matches"`
	Total   int               `json:"total"`
	Error   json.RawMessage   `json:"error"`
}

// transientError marks a page failure worth retrying.
type transientError struct {
	status int
	err    error
}

func (e *transientError) Error() string { return e.err.Error() }

// Fetch requests pages 1..pages in order and returns every match collected.
// On an authentication failure, an API error document, exhausted retries or
// cancellation it stops and returns the matches of the pages that succeeded
// together with the error.
func (c *Client) Fetch(ctx context.Context, baseQuery, versionFilter, apiKey string, pages int) ([]json.RawMessage, error) {
	query := QueryText(baseQuery, versionFilter)

	var all []json.RawMessage
	for n := 1; n <= pages; n++ {
		if err := ctx.Err(); err != nil {
			return all, fmt.Errorf("%w before page %d: %w", errors.ErrCanceled, n, err)
		}

		matches, err := c.fetchPage(ctx, query, apiKey, n)
		if err != nil {
			c.logger.Warn().Err(err).Int("page", n).Int("kept", len(all)).Msg("search stopped early")
			return all, err
		}
		c.logger.Debug().Int("page", n).Int("matches", len(matches)).Msg("search page fetched")
		all = append(all, matches...)
	}
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, query, apiKey string, n int) ([]json.RawMessage, error) {
	var (
		matches  []json.RawMessage
		attempts int
	)
	op := func() error {
		attempts++
		var err error
		matches, err = c.doPage(ctx, query, apiKey, n)
		var te *transientError
		if err != nil && !errors.As(err, &te) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug().Err(err).Int("page", n).Int("attempt", attempts).Dur("wait", wait).Msg("transient search failure")
	}

	err := backoff.RetryNotify(op, c.retryPolicy(ctx), notify)
	var last *transientError
	switch {
	case err == nil:
		return matches, nil
	case errors.As(err, &last):
		return nil, &errors.APIError{
			Page:       n,
			StatusCode: last.status,
			Message:    fmt.Sprintf("giving up after %d attempts: %v", attempts, last.err),
			Transient:  true,
			Err:        last.err,
		}
	case errors.IsCanceled(err):
		return nil, err
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w while retrying page %d: %w", errors.ErrCanceled, n, err)
	default:
		return nil, err
	}
}

// retryPolicy doubles the wait from the configured backoff up to maxBackoff,
// without jitter, for at most maxRetries retries. It stops when ctx is done.
func (c *Client) retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff
	b.MaxInterval = c.maxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)
}

func (c *Client) doPage(ctx context.Context, query, apiKey string, n int) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, &errors.APIError{Page: n, Message: "invalid search URL", Err: err}
	}
	params := req.URL.Query()
	params.Set("page", strconv.Itoa(n))
	params.Set("query", query)
	req.URL.RawQuery = params.Encode()
	c.auth.Apply(req, apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w during page %d: %w", errors.ErrCanceled, n, ctxErr)
		}
		return nil, &transientError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, &transientError{status: resp.StatusCode, err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &errors.AuthenticationError{Page: n, Message: apiMessage(body, "unauthorized, check your API key")}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &transientError{
			status: resp.StatusCode,
			err:    fmt.Errorf("status %d: %s", resp.StatusCode, apiMessage(body, http.StatusText(resp.StatusCode))),
		}
	}

	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &errors.APIError{Page: n, StatusCode: resp.StatusCode, Message: "undecodable response", Err: err}
	}
	if p.Error != nil {
		return nil, &errors.APIError{Page: n, StatusCode: resp.StatusCode, Message: errorText(p.Error)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &errors.APIError{Page: n, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return p.Matches, nil
}

// apiMessage extracts {"error": "..."} from a body, or returns fallback.
func apiMessage(body []byte, fallback string) string {
	var doc struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &doc) == nil && doc.Error != nil {
		return errorText(doc.Error)
	}
	return fallback
}

func errorText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
