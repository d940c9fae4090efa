package liveramp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ignite/signals-agent/internal/catalog"
	"github.com/ignite/signals-agent/internal/config"
	"github.com/ignite/signals-agent/internal/pkg/httpretry"
	"github.com/ignite/signals-agent/internal/pkg/logger"
)

const segmentsPath = "/data-marketplace/buyer-api/v3/segments"

// Client fetches the LiveRamp Data Marketplace catalog one page at a time.
// It implements catalog.Provider. A Client is meant to live for a single
// sync run; its page counters are not safe for concurrent use.
type Client struct {
	cfg        config.LiveRampConfig
	httpClient httpretry.HTTPDoer
	auth       *authenticator
	norm       *Normalizer

	pages int
	total int
}

// NewClient creates a LiveRamp catalog client using the given normalizer.
func NewClient(cfg config.LiveRampConfig, norm *Normalizer) *Client {
	return &Client{
		cfg: cfg,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3),
		auth: newAuthenticator(cfg),
		norm: norm,
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// Name returns the provider name recorded on normalized segments.
func (c *Client) Name() string { return "liveramp" }

// FetchPage retrieves and normalizes one catalog page. An empty cursor
// requests the first page; an empty NextCursor on the returned page means
// end of catalog. Rate-limited responses are retried against the same
// cursor by the underlying retry client, so the cursor never advances on
// a rate-limited page. On an auth-expiry response the client
// re-authenticates once and retries the page; a second rejection fails
// the page.
func (c *Client) FetchPage(ctx context.Context, cursor string, limit int) (*catalog.Page, error) {
	if limit <= 0 || limit > config.MaxPageSize {
		limit = config.MaxPageSize
	}

	token, err := c.auth.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.doFetch(ctx, cursor, limit, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		logger.Warn("auth expired mid-sync, re-authenticating", "page", c.pages+1)
		c.auth.Invalidate()
		token, err = c.auth.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("re-authentication failed: %w", err)
		}
		resp, err = c.doFetch(ctx, cursor, limit, token)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("segments API error (status %d): %s", resp.StatusCode, truncate(string(body), 500))
	}

	var page segmentsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to parse segments page: %w", err)
	}

	records := make([]catalog.SegmentRecord, 0, len(page.Segments))
	for _, seg := range page.Segments {
		records = append(records, c.norm.Normalize(seg))
	}

	c.pages++
	c.total += len(records)
	logger.Info("fetched catalog page",
		"provider", c.Name(),
		"page", c.pages,
		"records", len(records),
		"cumulative", c.total,
		"has_next", page.Pagination.After != "")

	return &catalog.Page{
		Records:    records,
		NextCursor: page.Pagination.After,
	}, nil
}

// doFetch issues one authenticated GET for a catalog page.
func (c *Client) doFetch(ctx context.Context, cursor string, limit int, token string) (*http.Response, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("after", cursor)
	}
	reqURL := fmt.Sprintf("%s%s?%s", c.cfg.BaseURL, segmentsPath, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if c.cfg.OwnerOrg != "" {
		req.Header.Set("LR-Org-Id", c.cfg.OwnerOrg)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("segments request failed: %w", err)
	}
	return resp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// compile-time interface check
var _ catalog.Provider = (*Client)(nil)
