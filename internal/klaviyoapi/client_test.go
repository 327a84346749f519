package klaviyoapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/data-connectors/source-klaviyo/pkg/config"
)

func TestDecodePage(t *testing.T) {
	body := []byte(`{"data":[{"id":"1"},{"id":"2"}],"included":[{"id":"r1"}],"links":{"next":"https://a.klaviyo.com/api/events?page[cursor]=abc"}}`)

	page, err := decodePage(body)
	require.NoError(t, err)
	assert.Len(t, page.Data, 2)
	assert.Len(t, page.Included, 1)
	assert.Equal(t, "https://a.klaviyo.com/api/events?page[cursor]=abc", page.NextCursor)
}

func TestDecodePage_MalformedBody(t *testing.T) {
	_, err := decodePage([]byte("not json"))
	assert.Error(t, err)
}

func TestEndpointLabel(t *testing.T) {
	cases := map[string]string{
		baseURL + "/events?page[size]=100":                "/events",
		baseURL + "/campaign-messages/abc123":              "/campaign-messages",
		baseURL + "/profiles":                              "/profiles",
		baseURL + "/flows/flw_1/flow-actions?filter=x":      "/flows",
	}
	for url, want := range cases {
		assert.Equal(t, want, endpointLabel(url), url)
	}
}

func TestFilterFragments(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ge := FilterGreaterOrEqual("datetime", ts)
	lt := FilterLessThan("datetime", ts)
	assert.Equal(t, "greater-or-equal(datetime,2026-01-02T03:04:05Z)", ge)
	assert.Equal(t, "less-than(datetime,2026-01-02T03:04:05Z)", lt)
	assert.Equal(t, ge+","+lt, JoinFilters(ge, lt))
}

func TestTruncate(t *testing.T) {
	short := []byte("short body")
	assert.Equal(t, "short body", truncate(short))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, truncate(long), 256)
}

func TestClient_Fetch_SetsAuthHeaderAndDecodes(t *testing.T) {
	var gotAuth, gotRevision string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRevision = r.Header.Get("revision")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"p1"}]}`))
	}))
	defer srv.Close()

	cfg := config.NewConfig()
	cfg.Credentials.AuthType = config.AuthTypeAPIKey
	cfg.Credentials.APIKey = "test-key"
	c := New(cfg)

	page, err := c.FetchURL(context.Background(), EndpointProfiles, srv.URL+"/profiles")
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)
	assert.Equal(t, "Klaviyo-API-Key test-key", gotAuth)
	assert.Equal(t, apiRevision, gotRevision)
}

func TestClient_Fetch_ClientFaultNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"detail":"bad"}]}`))
	}))
	defer srv.Close()

	cfg := config.NewConfig()
	cfg.Credentials.AuthType = config.AuthTypeAPIKey
	cfg.Credentials.APIKey = "test-key"
	c := New(cfg)

	_, err := c.FetchURL(context.Background(), EndpointProfiles, srv.URL+"/profiles")
	require.Error(t, err)
	assert.Equal(t, 1, calls, "client-fault statuses are not retried")
}
