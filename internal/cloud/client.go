package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-logr/logr"
)

// Service names as they appear in signing scope and host selection.
const (
	ServiceAutoScaling  = "auto_scaling"
	ServiceCloudMonitor = "volc_observe"
)

// APIError is a non-200 response from the BytePlus gateway, carrying the
// error block from ResponseMetadata when the gateway provided one.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("byteplus api: http %d", e.HTTPStatus)
	}
	return fmt.Sprintf("byteplus api: http %d: %s: %s", e.HTTPStatus, e.Code, e.Message)
}

// Client issues signed requests against the BytePlus open API. The zero
// value is not usable; construct with NewClient.
type Client struct {
	creds      Credentials
	httpClient *http.Client
	now        func() time.Time

	// baseURL overrides the per-service host, for tests.
	baseURL string
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL routes every request to a fixed endpoint instead of the
// per-service public hosts. Signing still uses the service host.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

func NewClient(creds Credentials, opts ...ClientOption) *Client {
	c := &Client{
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// serviceHost maps a service to its regional API host.
func (c *Client) serviceHost(service string) string {
	switch service {
	case ServiceAutoScaling:
		return "auto-scaling." + c.creds.Region + ".byteplusapi.com"
	case ServiceCloudMonitor:
		return "volc-observe." + c.creds.Region + ".byteplusapi.com"
	default:
		return "open." + c.creds.Region + ".byteplusapi.com"
	}
}

// Call issues one signed request. Action and Version ride in the query
// string alongside the caller's parameters; body, when non-nil, is sent as
// JSON. The raw response body is returned for 200 responses; anything else
// becomes an *APIError.
func (c *Client) Call(ctx context.Context, method, service, version, action string, query url.Values, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encode request body: %w", service, action, err)
		}
	}

	fullQuery := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			fullQuery.Add(k, v)
		}
	}
	fullQuery.Set("Action", action)
	fullQuery.Set("Version", version)

	host := c.serviceHost(service)
	endpoint := "https://" + host + "/"
	if c.baseURL != "" {
		endpoint = c.baseURL + "/"
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint+"?"+fullQuery.Encode(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s %s: build request: %w", service, action, err)
	}

	headers := signRequest(c.creds, signInput{
		Method:  method,
		Host:    host,
		Service: service,
		Query:   fullQuery,
		Body:    payload,
		Now:     c.now(),
	})
	for name, values := range headers {
		for _, v := range values {
			req.Header.Set(name, v)
		}
	}
	req.Host = host

	logr.FromContextOrDiscard(ctx).V(2).Info("byteplus api request",
		"service", service, "action", action, "method", method)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", service, action, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", service, action, err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		var envelope struct {
			ResponseMetadata struct {
				Error struct {
					Code    string `json:"Code"`
					Message string `json:"Message"`
				} `json:"Error"`
			} `json:"ResponseMetadata"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			apiErr.Code = envelope.ResponseMetadata.Error.Code
			apiErr.Message = envelope.ResponseMetadata.Error.Message
		}
		return nil, fmt.Errorf("%s %s: %w", service, action, apiErr)
	}
	return raw, nil
}
