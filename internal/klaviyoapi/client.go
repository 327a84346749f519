// Package klaviyoapi is the Klaviyo REST API collaborator: request
// building, auth, rate limiting and pagination (spec.md §4.3, §6).
package klaviyoapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/data-connectors/source-klaviyo/internal/ratelimit"
	"github.com/data-connectors/source-klaviyo/internal/retry"
	"github.com/data-connectors/source-klaviyo/pkg/clients"
	"github.com/data-connectors/source-klaviyo/pkg/config"
	apperrors "github.com/data-connectors/source-klaviyo/pkg/errors"
	jsonpool "github.com/data-connectors/source-klaviyo/pkg/json"
	"github.com/data-connectors/source-klaviyo/pkg/metrics"
	stringpool "github.com/data-connectors/source-klaviyo/pkg/strings"
)

const baseURL = "https://a.klaviyo.com/api"

// apiRevision pins the Klaviyo API version this connector was written
// against, sent on every request.
const apiRevision = "2024-10-15"

// Client is the dependency-injected collaborator streams share: it
// owns authentication, the rate limiter registry and the retry
// invoker, and exposes Fetch and FetchURL, each composing all three (spec.md
// §9 "model as a dependency-injected collaborator {endpoints, schedule,
// withRetry}").
type Client struct {
	http     *http.Client
	registry *ratelimit.Registry
	invoker  *retry.Invoker

	authType config.AuthType
	apiKey   string
	oauth    *clients.OAuth2Client
}

// New constructs a Client for the configured auth mode.
func New(cfg *config.Config) *Client {
	c := &Client{
		http:     &http.Client{Timeout: 60 * time.Second},
		registry: ratelimit.NewRegistry(Budgets(cfg.Performance.MaxRateLimiterConcurrency)),
		invoker:  retry.New(retry.DefaultProfileFromConfig(cfg.Reliability), false),
		authType: cfg.Credentials.AuthType,
		apiKey:   cfg.Credentials.APIKey,
	}
	if cfg.Credentials.AuthType == config.AuthTypeOAuth {
		c.oauth = clients.NewOAuth2Client(&clients.OAuth2Config{
			ClientID:     cfg.Credentials.ClientID,
			ClientSecret: cfg.Credentials.ClientSecret,
			RefreshToken: cfg.Credentials.RefreshToken,
			TokenURL:     "https://a.klaviyo.com/oauth/token",
			Reliability:  cfg.Reliability,
		})
	}
	return c
}

// Page is one decoded JSON:API-shaped response page.
type Page struct {
	Data       []map[string]interface{}
	Included   []map[string]interface{}
	NextCursor string
}

// Request describes a single GET call against one endpoint key.
type Request struct {
	EndpointKey string
	Path        string
	Query       map[string]string
}

// Fetch performs a single rate-limited, retried GET call and decodes
// the response into a Page (spec.md §4.3 "fetch(cursor) ->
// {data[], nextCursor?}").
func (c *Client) Fetch(ctx context.Context, req Request) (Page, error) {
	return ratelimit.Schedule(ctx, c.registry, req.EndpointKey, func(ctx context.Context) (Page, error) {
		var page Page
		err := c.invoker.WithRetry(ctx, func(ctx context.Context) error {
			p, err := c.doGet(ctx, req)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		return page, err
	})
}

// FetchURL performs a rate-limited, retried GET against an absolute
// URL (Klaviyo's `links.next` is a full URL, not an opaque token), used
// by the Paginator once a page's NextCursor is a URL rather than empty.
func (c *Client) FetchURL(ctx context.Context, endpointKey, url string) (Page, error) {
	return ratelimit.Schedule(ctx, c.registry, endpointKey, func(ctx context.Context) (Page, error) {
		var page Page
		err := c.invoker.WithRetry(ctx, func(ctx context.Context) error {
			p, err := c.doGetURL(ctx, url)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		return page, err
	})
}

func (c *Client) doGet(ctx context.Context, req Request) (Page, error) {
	ub := stringpool.NewURLBuilder(baseURL)
	defer ub.Close()
	ub.AddPath(req.Path)
	for k, v := range req.Query {
		ub.AddParam(k, v)
	}
	return c.doGetURL(ctx, ub.String())
}

func (c *Client) doGetURL(ctx context.Context, url string) (Page, error) {
	start := time.Now()
	defer func() {
		metrics.ProcessingLatency.WithLabelValues(endpointLabel(url)).Observe(float64(time.Since(start).Nanoseconds()))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "klaviyoapi: build request")
	}
	if err := c.authenticate(ctx, httpReq); err != nil {
		return Page{}, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("revision", apiRevision)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Page{}, apperrors.Wrap(err, apperrors.ErrorTypeTransient, "klaviyoapi: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, apperrors.Wrap(err, apperrors.ErrorTypeTransient, "klaviyoapi: read response")
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Page{}, apperrors.Wrap(
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)),
			apperrors.ErrorTypeTransient, "klaviyoapi: retryable status",
		)
	}
	if resp.StatusCode >= 400 {
		return Page{}, apperrors.Wrap(
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body)),
			apperrors.ErrorTypeClientFault, "klaviyoapi: client-fault status",
		)
	}

	return decodePage(body)
}

func (c *Client) authenticate(ctx context.Context, httpReq *http.Request) error {
	switch c.authType {
	case config.AuthTypeOAuth:
		header, err := c.oauth.AuthorizationHeader(ctx)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Authorization", header)
	default:
		httpReq.Header.Set("Authorization", "Klaviyo-API-Key "+c.apiKey)
	}
	return nil
}

type jsonAPIEnvelope struct {
	Data []map[string]interface{} `json:"data"`
	Included []map[string]interface{} `json:"included,omitempty"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

func decodePage(body []byte) (Page, error) {
	var env jsonAPIEnvelope
	if err := jsonpool.Unmarshal(body, &env); err != nil {
		return Page{}, apperrors.Wrap(err, apperrors.ErrorTypeData, "klaviyoapi: decode page")
	}
	return Page{Data: env.Data, Included: env.Included, NextCursor: env.Links.Next}, nil
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}

// endpointLabel reduces a request URL to the resource segment used as
// the ProcessingLatency metric's label, stripping the base URL, query
// string and any trailing record id so pagination and per-record
// fetches (e.g. /campaign-messages/abc123) collapse into one series.
func endpointLabel(url string) string {
	path := strings.TrimPrefix(url, baseURL)
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 {
		return path
	}
	return "/" + segments[0]
}

// FilterGreaterOrEqual builds the `greater-or-equal(field,value)`
// filter fragment spec.md §6 describes, comma-joinable with other
// fragments at the top level.
func FilterGreaterOrEqual(field string, t time.Time) string {
	return fmt.Sprintf("greater-or-equal(%s,%s)", field, t.UTC().Format(time.RFC3339))
}

// FilterLessThan builds the `less-than(field,value)` filter fragment.
func FilterLessThan(field string, t time.Time) string {
	return fmt.Sprintf("less-than(%s,%s)", field, t.UTC().Format(time.RFC3339))
}

// JoinFilters comma-joins filter fragments into the single `filter`
// query parameter Klaviyo expects.
func JoinFilters(fragments ...string) string {
	return stringpool.Join(fragments, ",")
}
