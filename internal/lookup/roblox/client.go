package roblox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	lookupdomain "github.com/seeklabs/bloxscout/internal/lookup/domain"
	"github.com/seeklabs/bloxscout/internal/observability/tracing"
)

const (
	defaultBaseURL = "https://users.roblox.com"
	defaultTimeout = 12 * time.Second

	// fuzzySearchLimit caps keyword search pages; the product only renders
	// the first screen of matches.
	fuzzySearchLimit = 10

	// maxResponseBytes bounds what we are willing to read and cache.
	maxResponseBytes = 1 << 20
)

// Config points the client at the users API.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements lookupdomain.Client against the Roblox users API.
type Client struct {
	baseURL string
	log     *zap.Logger
	client  *http.Client
}

// NewClient builds a client with the configured base URL and timeout,
// falling back to the public endpoint and a 12s timeout.
func NewClient(cfg Config, log *zap.Logger) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		log:     log.Named("lookup.roblox"),
		client:  &http.Client{Timeout: timeout},
	}
}

type usernameLookupRequest struct {
	Usernames          []string `json:"usernames"`
	ExcludeBannedUsers bool     `json:"excludeBannedUsers"`
}

type listEnvelope struct {
	Data []json.RawMessage `json:"data"`
}

// Lookup resolves term according to mode. Transient upstream failures come
// back as lookupdomain.ErrUnavailable.
func (c *Client) Lookup(ctx context.Context, term string, mode lookupdomain.Mode) (*lookupdomain.Result, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, lookupdomain.ErrInvalidTerm
	}
	switch mode {
	case lookupdomain.ModeExact:
		return c.lookupExact(ctx, term)
	case lookupdomain.ModeFuzzy:
		return c.lookupFuzzy(ctx, term)
	}
	return nil, lookupdomain.ErrInvalidMode
}

func (c *Client) lookupExact(ctx context.Context, term string) (*lookupdomain.Result, error) {
	payload, err := json.Marshal(usernameLookupRequest{Usernames: []string{term}})
	if err != nil {
		return nil, err
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/v1/usernames/users", payload)
	if err != nil {
		return nil, err
	}
	var envelope listEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.log.Warn("malformed username response", zap.Error(err))
		return nil, fmt.Errorf("%w: malformed response", lookupdomain.ErrUnavailable)
	}
	if len(envelope.Data) == 0 {
		return &lookupdomain.Result{Status: lookupdomain.StatusNoMatch}, nil
	}
	// The matched user object is carried through untouched.
	return &lookupdomain.Result{
		Status:  lookupdomain.StatusSuccess,
		Payload: envelope.Data[0],
	}, nil
}

func (c *Client) lookupFuzzy(ctx context.Context, term string) (*lookupdomain.Result, error) {
	values := url.Values{}
	values.Set("keyword", term)
	values.Set("limit", strconv.Itoa(fuzzySearchLimit))

	body, err := c.doRequest(ctx, http.MethodGet, "/v1/users/search?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		c.log.Warn("malformed search response")
		return nil, fmt.Errorf("%w: malformed response", lookupdomain.ErrUnavailable)
	}
	// Keyword search always succeeds; an empty result list is a valid answer.
	return &lookupdomain.Result{
		Status:  lookupdomain.StatusSuccess,
		Payload: json.RawMessage(body),
	}, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.log.Warn("upstream request failed",
			zap.String("path", path),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", lookupdomain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lookupdomain.ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("upstream returned unexpected status",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", lookupdomain.ErrUnavailable, resp.StatusCode)
	}
	return body, nil
}
