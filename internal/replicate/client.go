package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultAPIHost is the only upstream host the client will ever contact.
// Any request naming a different host is rejected before any network call.
const DefaultAPIHost = "api.replicate.com"

const defaultCreatePath = "/v1/predictions"

const requestTimeout = 30 * time.Second

var (
	ErrMissingToken   = errors.New("no Replicate API token available")
	ErrDisallowedHost = errors.New("target host is not allowed")
)

// UpstreamError is a non-2xx response from the prediction API. It is
// surfaced to callers with the upstream status code and body intact.
type UpstreamError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("replicate API returned status %d", e.StatusCode)
}

type Config struct {
	// APIToken is the deployment-configured fallback credential. Callers
	// may override it per request.
	APIToken string

	// APIHost and BaseURL override the upstream endpoint, used by tests.
	APIHost string
	BaseURL string
}

type Client struct {
	httpc   *resty.Client
	apiHost string
	baseURL string
	token   string
}

func NewClient(cfg Config) *Client {
	host := cfg.APIHost
	if host == "" {
		host = DefaultAPIHost
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://" + host
	}

	return &Client{
		httpc:   resty.New().SetTimeout(requestTimeout),
		apiHost: host,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   cfg.APIToken,
	}
}

// TokenConfigured reports whether a fallback credential is available. The
// credential value itself is never logged or echoed.
func (c *Client) TokenConfigured() bool {
	return c.token != ""
}

// ResolveToken picks the request-supplied token if present, otherwise the
// deployment fallback.
func (c *Client) ResolveToken(requestToken string) (string, error) {
	if requestToken != "" {
		return requestToken, nil
	}
	if c.token != "" {
		return c.token, nil
	}
	return "", ErrMissingToken
}

// ResolveTarget turns an explicit url or path from the request body into
// the upstream URL to call, enforcing the single-host allow rule. With
// neither given it falls back to the prediction-creation endpoint.
func (c *Client) ResolveTarget(rawURL, path string) (string, error) {
	if rawURL != "" {
		if err := c.ValidateURL(rawURL); err != nil {
			return "", err
		}
		return rawURL, nil
	}
	if path != "" {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return c.baseURL + path, nil
	}
	return c.baseURL + defaultCreatePath, nil
}

// ValidateURL rejects any URL whose host differs from the allowed API
// host. This is the SSRF guard for both job creation and polling.
func (c *Client) ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid target url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrDisallowedHost, parsed.Scheme)
	}
	if parsed.Host != c.apiHost {
		return fmt.Errorf("%w: %q", ErrDisallowedHost, parsed.Host)
	}
	return nil
}

// CreatePrediction relays the forward body verbatim to the upstream API.
func (c *Client) CreatePrediction(ctx context.Context, target, token string, forwardBody map[string]any) (*Prediction, error) {
	res, err := c.httpc.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetHeader("Content-Type", "application/json").
		SetBody(forwardBody).
		Post(target)
	if err != nil {
		return nil, fmt.Errorf("replicate request failed: %w", err)
	}

	return decodePrediction(res)
}

// GetPrediction re-queries a prediction's status URL.
func (c *Client) GetPrediction(ctx context.Context, statusURL, token string) (*Prediction, error) {
	if err := c.ValidateURL(statusURL); err != nil {
		return nil, err
	}

	res, err := c.httpc.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		Get(statusURL)
	if err != nil {
		return nil, fmt.Errorf("replicate request failed: %w", err)
	}

	return decodePrediction(res)
}

func decodePrediction(res *resty.Response) (*Prediction, error) {
	if !res.IsSuccess() {
		body := make(json.RawMessage, len(res.Body()))
		copy(body, res.Body())
		return nil, &UpstreamError{StatusCode: res.StatusCode(), Body: body}
	}

	var pred Prediction
	if err := json.Unmarshal(res.Body(), &pred); err != nil {
		return nil, fmt.Errorf("failed to decode prediction response: %w", err)
	}
	return &pred, nil
}
