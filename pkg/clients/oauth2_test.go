package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/data-connectors/source-klaviyo/internal/retry"
	apperrors "github.com/data-connectors/source-klaviyo/pkg/errors"
)

func fastOAuthProfile() retry.Profile {
	p := retry.OAuthProfile()
	p.InitialDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond
	p.MaxAttempts = 3
	return p
}

func TestOAuth2Client_AuthorizationHeaderFetchesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok_1","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	c := NewOAuth2Client(&OAuth2Config{
		ClientID:     "id",
		ClientSecret: "secret",
		RefreshToken: "refresh",
		TokenURL:     srv.URL,
	})

	header, err := c.AuthorizationHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok_1", header)
}

func TestOAuth2Client_ClassifiesRejectedRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	c := NewOAuth2Client(&OAuth2Config{
		ClientID:     "id",
		ClientSecret: "secret",
		RefreshToken: "refresh",
		TokenURL:     srv.URL,
	})

	_, err := c.AccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeClientFault))
}

func TestOAuth2Client_ClassifiesRateLimited(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
	}))
	defer srv.Close()

	c := NewOAuth2Client(&OAuth2Config{
		ClientID:     "id",
		ClientSecret: "secret",
		RefreshToken: "refresh",
		TokenURL:     srv.URL,
	})
	c.invoker = retry.New(fastOAuthProfile(), true)

	_, err := c.AccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, retry.IsOAuthRateLimited(err), "rate_limit_exceeded refresh should be retried by OAuthProfile")
	assert.Equal(t, 3, calls, "every attempt up to MaxAttempts should have been sent")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeTransient), "exhausted retries surface as transient")
}

func TestOAuth2Client_RateLimitedThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok_2","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	c := NewOAuth2Client(&OAuth2Config{
		ClientID:     "id",
		ClientSecret: "secret",
		RefreshToken: "refresh",
		TokenURL:     srv.URL,
	})
	c.invoker = retry.New(fastOAuthProfile(), true)

	header, err := c.AuthorizationHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok_2", header)
	assert.Equal(t, 2, calls)
}

func TestOAuth2Client_ExpiresWithinTrueBeforeFirstFetch(t *testing.T) {
	c := NewOAuth2Client(&OAuth2Config{
		ClientID:     "id",
		ClientSecret: "secret",
		RefreshToken: "refresh",
		TokenURL:     "http://127.0.0.1:0",
	})
	assert.True(t, c.ExpiresWithin(0))
}
