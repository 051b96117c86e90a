// Package remote implements the HTTP client for the remote service contract.
// Every failure is classified into the offsync error taxonomy.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jbctechsolutions/offsync/internal/application/ports"
	"github.com/jbctechsolutions/offsync/internal/domain/entity"
	"github.com/jbctechsolutions/offsync/internal/domain/errors"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/tracing"
)

const (
	// DefaultTimeout bounds every request.
	DefaultTimeout = 10 * time.Second

	// DefaultResourcePath is the collection listed by FetchByStatus.
	DefaultResourcePath = "/shoots"

	// maxBodySize caps how much of a response is read.
	maxBodySize = 8 << 20
)

var _ ports.RemoteClient = (*Client)(nil)

// Config holds client settings.
type Config struct {
	BaseURL      string
	ResourcePath string
	Timeout      time.Duration
}

// Client handles HTTP communication with the remote service.
type Client struct {
	httpClient *http.Client
	config     Config
	tokens     ports.TokenSource
	tracer     *tracing.Tracer
	logger     *logging.Logger
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. Its timeout is overridden by WithTimeout.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.config.Timeout = timeout
	}
}

// WithResourcePath sets the collection path used by FetchByStatus.
func WithResourcePath(path string) ClientOption {
	return func(c *Client) {
		c.config.ResourcePath = path
	}
}

// WithTracer enables remote.request spans.
func WithTracer(t *tracing.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for baseURL. The bearer token is resolved from tokens
// immediately before every request.
func NewClient(baseURL string, tokens ports.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{},
		config: Config{
			BaseURL:      strings.TrimRight(baseURL, "/"),
			ResourcePath: DefaultResourcePath,
			Timeout:      DefaultTimeout,
		},
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Timeout = c.config.Timeout
	c.logger = logging.OrDiscard(c.logger)
	return c
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// envelope is the response body shape shared by every endpoint.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// FetchByStatus lists remote records whose status matches.
func (c *Client) FetchByStatus(ctx context.Context, status string) ([]entity.Entity, error) {
	path := c.config.ResourcePath + "?status=" + url.QueryEscape(status)

	code, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	env, err := decodeEnvelope(code, body)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return []entity.Entity{}, nil
	}

	list, err := entity.FromJSONList(env.Data)
	if err != nil {
		return nil, errors.WithContext(
			errors.NewError(errors.CodeServer, "malformed entity list", err),
			"status", status,
		)
	}
	return list, nil
}

// Send issues a write. payload is sent verbatim.
func (c *Client) Send(ctx context.Context, method, endpoint string, payload []byte) (*ports.RemoteResponse, error) {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	code, body, err := c.do(ctx, method, endpoint, payload)
	if err != nil {
		return nil, err
	}

	resp := &ports.RemoteResponse{StatusCode: code}
	if len(bytes.TrimSpace(body)) == 0 {
		return resp, nil
	}

	env, err := decodeEnvelope(code, body)
	if err != nil {
		return nil, err
	}
	resp.Message = env.Message
	resp.Data = env.Data
	return resp, nil
}

// do performs a request and returns the status and body of any 2xx response.
// Non-2xx responses and transport failures are returned as classified errors.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	ctx, span := c.tracer.StartRemoteSpan(ctx, method, path)

	code, respBody, err := c.roundTrip(ctx, method, path, body)
	if code != 0 {
		span.SetStatusCode(code)
	}
	span.EndWithError(err)

	if err != nil {
		c.logger.DebugContext(ctx, "remote request failed",
			"method", method,
			"path", path,
			"status", code,
			"code", string(errors.CodeOf(err)),
		)
	}
	return code, respBody, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return 0, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, errors.WithContext(
			errors.NewError(errors.CodeConnectivity, "request failed", err),
			"path", path,
		)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, errors.NewError(errors.CodeConnectivity, "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sent := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		return resp.StatusCode, nil, classifyStatus(resp.StatusCode, respBody, sent)
	}
	return resp.StatusCode, respBody, nil
}

// newRequest creates a request with JSON and bearer headers.
func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return nil, errors.NewError(errors.CodeValidation, "failed to create request", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token, ok := c.tokens.AccessToken(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

// classifyStatus maps a non-2xx response to the error taxonomy. A 401 remembers
// the credential that was sent so stale rejections can be told apart.
func classifyStatus(status int, body []byte, credential string) error {
	msg := http.StatusText(status)
	var env envelope
	if json.Unmarshal(body, &env) == nil && env.Message != "" {
		msg = env.Message
	}
	msg = fmt.Sprintf("HTTP %d: %s", status, msg)

	switch {
	case status == http.StatusUnauthorized:
		err := errors.NewRemoteError(errors.CodeUnauthorized, status, msg)
		err.Cause = errors.ErrUnauthorized
		return errors.WithRejectedCredential(err, credential)
	case status == http.StatusRequestTimeout:
		return errors.NewRemoteError(errors.CodeConnectivity, status, msg)
	case status == http.StatusTooManyRequests, status >= 500:
		return errors.NewRemoteError(errors.CodeServer, status, msg)
	default:
		return errors.NewRemoteError(errors.CodeClient, status, msg)
	}
}

// decodeEnvelope parses a 2xx body. An unreadable body is a server failure;
// success=false is a client failure.
func decodeEnvelope(status int, body []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		se := errors.NewError(errors.CodeServer, "malformed response body", err)
		se.StatusCode = status
		return nil, se
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request rejected"
		}
		return nil, errors.NewRemoteError(errors.CodeClient, status, msg)
	}
	return &env, nil
}
