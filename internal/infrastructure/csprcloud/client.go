package csprcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	resty "github.com/go-resty/resty/v2"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/pkg/logger"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/pkg/metrics"
	"golang.org/x/time/rate"
)

var ErrMissingCredential = errors.New("CSPR.cloud access key is not set")

// RequestError is returned when a call fails in transport or comes back
// with a non-2xx status.
type RequestError struct {
	Endpoint   string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s request to %s failed: %v", e.Endpoint, e.URL, e.Err)
	}
	return fmt.Sprintf("%s request to %s returned status %d: %s", e.Endpoint, e.URL, e.StatusCode, e.Body)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Limiter gates every outgoing request.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewLimiter spaces requests period/limit apart with no burst, so the whole
// process stays under limit requests per period as long as one goroutine
// issues them.
func NewLimiter(limit int, period time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(period/time.Duration(limit)), 1)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *resty.Client
	limiter    Limiter
	logger     *logger.Logger
}

// NewClient builds a client that never retries: a failed request is
// reported to the caller as is.
func NewClient(baseURL, apiKey string, timeout time.Duration, limiter Limiter, log *logger.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0)

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     log,
	}
}

func (c *Client) GetAuctionMetrics(ctx context.Context) (AuctionMetrics, error) {
	var resp auctionMetricsResponse
	if err := c.get(ctx, "auction-metrics", "/auction-metrics", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return AuctionMetrics{}, nil
	}
	return resp.Data, nil
}

func (c *Client) GetValidators(ctx context.Context, eraID int64, page int) (*ValidatorsPage, error) {
	query := map[string]string{
		"era_id":   strconv.FormatInt(eraID, 10),
		"page":     strconv.Itoa(page),
		"includes": ValidatorIncludes,
	}

	var resp ValidatorsPage
	if err := c.get(ctx, "validators", "/validators", query, &resp); err != nil {
		return nil, err
	}

	c.logger.Debugw("Fetched validators page", "era_id", eraID, "page", page, "count", len(resp.Data), "page_count", resp.PageCount)

	return &resp, nil
}

// GetRelativePerformances returns the scores of publicKey for the given
// eras in one call. Eras without a recorded score are simply absent.
func (c *Client) GetRelativePerformances(ctx context.Context, publicKey string, eraIDs []int64) ([]RelativePerformance, error) {
	eras := make([]string, len(eraIDs))
	for i, id := range eraIDs {
		eras[i] = strconv.FormatInt(id, 10)
	}

	query := map[string]string{
		"era_id": strings.Join(eras, ","),
		"page":   "1",
	}

	path := fmt.Sprintf("/validators/%s/relative-performances", url.PathEscape(publicKey))

	var resp relativePerformancesResponse
	if err := c.get(ctx, "relative-performances", path, query, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetFTTokenActions lists the token actions of publicKey against the
// window's contract package within its block range.
func (c *Client) GetFTTokenActions(ctx context.Context, publicKey string, window domain.VotingWindow) ([]FTTokenAction, error) {
	query := map[string]string{
		"from_block_height":     strconv.FormatInt(window.FromBlockHeight, 10),
		"to_block_height":       strconv.FormatInt(window.ToBlockHeight, 10),
		"contract_package_hash": window.ContractPackageHash,
	}

	path := fmt.Sprintf("/accounts/%s/ft-token-actions", url.PathEscape(publicKey))

	var resp ftTokenActionsResponse
	if err := c.get(ctx, "ft-token-actions", path, query, &resp); err != nil {
		return nil, err
	}
	if resp.PageCount > 1 {
		c.logger.Warnw("Token actions span several pages, only the first was scanned",
			"public_key", publicKey,
			"column", window.Column,
			"page_count", resp.PageCount,
			"scanned", len(resp.Data),
		)
	}
	return resp.Data, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, query map[string]string, out interface{}) error {
	if c.apiKey == "" {
		return ErrMissingCredential
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	target := c.baseURL + path

	c.logger.Debugw("Requesting CSPR.cloud", "endpoint", endpoint, "url", target, "params", query)

	start := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", c.apiKey).
		Get(target)

	duration := time.Since(start).Seconds()

	if err != nil {
		metrics.RecordAPIRequest(endpoint, 0, duration)
		return &RequestError{Endpoint: endpoint, URL: target, Err: err}
	}

	metrics.RecordAPIRequest(endpoint, resp.StatusCode(), duration)

	if !resp.IsSuccess() {
		return &RequestError{
			Endpoint:   endpoint,
			URL:        target,
			StatusCode: resp.StatusCode(),
			Body:       string(resp.Body()),
		}
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Body()))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", endpoint, err)
	}

	return nil
}
