// Package clients provides the connector's outbound HTTP collaborators:
// OAuth2 token management.
package clients

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/data-connectors/source-klaviyo/internal/retry"
	"github.com/data-connectors/source-klaviyo/pkg/config"
	apperrors "github.com/data-connectors/source-klaviyo/pkg/errors"
)

// OAuth2Config configures the refresh-token grant Klaviyo's OAuth
// credential mode uses (spec.md §6 credentials.client_id/secret/
// refresh_token).
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
	Scopes       []string

	// Reliability overrides the OAuth retry profile's timing; zero
	// fields keep retry.OAuthProfile's defaults.
	Reliability config.ReliabilityConfig
}

// OAuth2Client manages a single refresh-token-derived access token,
// refreshing it lazily and serializing concurrent refreshes (spec.md
// §4.2 "Refresh calls are serialized process-wide").
type OAuth2Client struct {
	cfg     *oauth2.Config
	mu      sync.Mutex
	source  oauth2.TokenSource
	invoker *retry.Invoker
}

// NewOAuth2Client builds a client wrapping golang.org/x/oauth2's
// refresh-token token source.
func NewOAuth2Client(config *OAuth2Config) *OAuth2Client {
	cfg := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Scopes:       config.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL: config.TokenURL,
		},
	}
	seed := &oauth2.Token{RefreshToken: config.RefreshToken}
	return &OAuth2Client{
		cfg:     cfg,
		source:  oauth2.ReuseTokenSource(nil, cfg.TokenSource(context.Background(), seed)),
		invoker: retry.New(retry.OAuthProfileFromConfig(config.Reliability), true),
	}
}

// AccessToken returns a valid bearer token, refreshing through the
// token endpoint if the cached one has expired. The refresh call runs
// through the OAuth retry profile (spec.md §4.2): rate_limit_exceeded
// responses are retried with backoff, everything else fails fast. The
// Invoker's own serialization keeps concurrent refreshes to one at a
// time process-wide, so the mutex here only protects the token source
// itself (ReuseTokenSource isn't safe for unsynchronized concurrent
// Token() calls).
func (c *OAuth2Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var tok *oauth2.Token
	err := c.invoker.WithRetry(ctx, func(ctx context.Context) error {
		var tokErr error
		tok, tokErr = c.source.Token()
		if tokErr != nil {
			return classifyOAuthError(tokErr)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// AuthorizationHeader returns the "Authorization: Bearer ..." header
// value for the current access token.
func (c *OAuth2Client) AuthorizationHeader(ctx context.Context) (string, error) {
	tok, err := c.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + tok, nil
}

// classifyOAuthError wraps a token-endpoint failure as a client-fault
// unless the endpoint signalled rate_limit_exceeded, in which case it
// is wrapped so internal/retry.OAuthProfile's predicate retries it
// (spec.md §4.2).
func classifyOAuthError(err error) error {
	if retrieveErr, ok := err.(*oauth2.RetrieveError); ok && retrieveErr.Response != nil {
		if isRateLimitExceeded(retrieveErr) {
			return apperrors.Wrap(&retry.OAuthRateLimitedError{Cause: err}, apperrors.ErrorTypeRateLimit, "oauth: token refresh rate limited")
		}
		if retrieveErr.Response.StatusCode >= http.StatusBadRequest && retrieveErr.Response.StatusCode < http.StatusInternalServerError {
			return apperrors.Wrap(err, apperrors.ErrorTypeClientFault, "oauth: token refresh rejected")
		}
	}
	return apperrors.Wrap(err, apperrors.ErrorTypeTransient, "oauth: token refresh failed")
}

func isRateLimitExceeded(e *oauth2.RetrieveError) bool {
	return e.ErrorCode == "rate_limit_exceeded" || strings.Contains(string(e.Body), "rate_limit_exceeded")
}

// ExpiresWithin reports whether the currently cached token (if any)
// expires within d, used by callers that want to pre-warm a refresh
// off the hot path. Returns true when no token has been fetched yet.
func (c *OAuth2Client) ExpiresWithin(d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, err := c.source.Token()
	if err != nil || tok == nil {
		return true
	}
	return tok.Expiry.IsZero() || time.Until(tok.Expiry) < d
}
