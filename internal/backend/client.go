// Package backend is the HTTP client of the SupraChat gateway. It keeps the
// signed-in session, exposes the REST tables and opens realtime channels.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
)

// maxResponseBytes bounds REST responses. Conversations carry data URIs.
const maxResponseBytes = 64 << 20

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the gateway root, e.g. "http://localhost:8080".
	BaseURL string
	// HTTPClient is used for REST calls. Defaults to a client with a 30s
	// timeout. Realtime streams always use a client without timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
	// RetryDelay is the pause before a dropped realtime stream reconnects.
	RetryDelay time.Duration
}

// Client implements core.Backend against the gateway.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger
	retryDelay   time.Duration
	now          func() time.Time

	mu           sync.Mutex
	session      *models.Session
	listeners    map[int]core.AuthListener
	nextListener int
	channels     map[*Channel]struct{}
}

var _ core.Backend = (*Client)(nil)

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("backend: invalid base URL: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.RetryDelay
	if retry <= 0 {
		retry = 2 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   httpClient,
		streamClient: &http.Client{Transport: httpClient.Transport},
		logger:       logger,
		retryDelay:   retry,
		now:          time.Now,
		listeners:    map[int]core.AuthListener{},
		channels:     map[*Channel]struct{}{},
	}, nil
}

// doRequest performs a JSON request against the gateway.
// On 2xx, returns the body. On 4xx/5xx, returns a *core.BackendError.
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string, requestBody any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("backend: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("backend: failed to create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Accept", "application/json")
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("backend: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("backend: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	var backendErr core.BackendError
	if jsonErr := json.Unmarshal(responseBody, &backendErr); jsonErr != nil || backendErr.Code == "" {
		return nil, fmt.Errorf("backend: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, strings.TrimSpace(string(responseBody)))
	}
	backendErr.StatusCode = response.StatusCode
	return nil, &backendErr
}

// call is doRequest plus decoding of the response into out (if non-nil).
func (c *Client) call(ctx context.Context, method, path, accessToken string, body any, query url.Values, out any) error {
	responseBody, err := c.doRequest(ctx, method, path, accessToken, body, query)
	if err != nil {
		return err
	}
	if out == nil || len(responseBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("backend: failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// token returns the access token of the live session.
func (c *Client) token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.Expired(c.now()) {
		return "", &core.BackendError{Code: core.CodeUnauthorized, Message: "not signed in"}
	}
	return c.session.AccessToken, nil
}

// authed runs an authenticated call.
func (c *Client) authed(ctx context.Context, method, path string, body any, query url.Values, out any) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	return c.call(ctx, method, path, token, body, query, out)
}

// Profiles

func (c *Client) UpsertProfile(ctx context.Context, p models.ProfileUpsert) error {
	return c.authed(ctx, http.MethodPost, "/api/rest/profiles", p, nil, nil)
}

func (c *Client) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	var out []models.UserProfile
	if err := c.authed(ctx, http.MethodGet, "/api/rest/profiles", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages

func (c *Client) InsertMessage(ctx context.Context, msg models.NewMessage) (*models.Message, error) {
	var out models.Message
	if err := c.authed(ctx, http.MethodPost, "/api/rest/messages", msg, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error) {
	q := url.Values{"user_a": {userA}, "user_b": {userB}}
	var out []models.Message
	if err := c.authed(ctx, http.MethodGet, "/api/rest/messages", nil, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunSetup asks the gateway to create any missing tables.
func (c *Client) RunSetup(ctx context.Context) error {
	token, _ := c.token()
	return c.call(ctx, http.MethodPost, "/api/setup", token, nil, nil, nil)
}

// Close tears down every open channel.
func (c *Client) Close() {
	c.mu.Lock()
	open := make([]*Channel, 0, len(c.channels))
	for ch := range c.channels {
		open = append(open, ch)
	}
	c.mu.Unlock()
	for _, ch := range open {
		_ = c.RemoveChannel(ch)
	}
	c.httpClient.CloseIdleConnections()
}
