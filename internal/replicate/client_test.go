package replicate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	parsed, err := url.Parse(srv.URL)
	require.NoError(t, err)

	client := NewClient(Config{
		APIToken: "fallback-token",
		APIHost:  parsed.Host,
		BaseURL:  srv.URL,
	})
	return client, srv
}

func TestResolveTarget(t *testing.T) {
	client, srv := newTestClient(t, http.NotFoundHandler())

	target, err := client.ResolveTarget("", "")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/v1/predictions", target)

	target, err = client.ResolveTarget("", "/v1/models/owner/name/predictions")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/v1/models/owner/name/predictions", target)

	target, err = client.ResolveTarget(srv.URL+"/v1/predictions", "")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/v1/predictions", target)
}

func TestResolveTargetRejectsForeignHost(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler())

	_, err := client.ResolveTarget("https://evil.example/v1/predictions", "")
	assert.ErrorIs(t, err, ErrDisallowedHost)

	_, err = client.ResolveTarget("ftp://api.replicate.com/v1/predictions", "")
	assert.ErrorIs(t, err, ErrDisallowedHost)
}

func TestSSRFGuardPreventsAnyNetworkCall(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	_, err := client.GetPrediction(context.Background(), "https://evil.example/v1/predictions/abc", "tok")
	assert.ErrorIs(t, err, ErrDisallowedHost)
	assert.Equal(t, int32(0), calls.Load())
}

func TestResolveToken(t *testing.T) {
	client := NewClient(Config{APIToken: "fallback-token"})

	token, err := client.ResolveToken("request-token")
	require.NoError(t, err)
	assert.Equal(t, "request-token", token)

	token, err = client.ResolveToken("")
	require.NoError(t, err)
	assert.Equal(t, "fallback-token", token)

	bare := NewClient(Config{})
	_, err = bare.ResolveToken("")
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.False(t, bare.TokenConfigured())
}

func TestCreatePrediction(t *testing.T) {
	var gotAuth string
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "abc", "status": "starting", "urls": {"get": "https://api.replicate.com/v1/predictions/abc"}}`)) //nolint:errcheck
	}))

	pred, err := client.CreatePrediction(context.Background(), srv.URL+"/v1/predictions", "tok",
		map[string]any{"input": map[string]any{"prompt": "a chair"}})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "abc", pred.ID)
	assert.Equal(t, StatusStarting, pred.Status)
}

func TestCreatePredictionUpstreamError(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"detail": "billing required"}`)) //nolint:errcheck
	}))

	_, err := client.CreatePrediction(context.Background(), srv.URL+"/v1/predictions", "tok", map[string]any{})

	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusPaymentRequired, upstreamErr.StatusCode)
	assert.JSONEq(t, `{"detail": "billing required"}`, string(upstreamErr.Body))
}

func TestGetPrediction(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/predictions/abc", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "abc", "status": "succeeded", "output": "https://files.example/a.png"}`)) //nolint:errcheck
	}))

	pred, err := client.GetPrediction(context.Background(), srv.URL+"/v1/predictions/abc", "tok")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, pred.Status)
}
