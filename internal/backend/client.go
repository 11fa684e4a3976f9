package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultGeneratePath = "/generate"
	DefaultHealthPath   = "/health"

	maxErrorBody = 512
)

// Generation is the payload a worker returns for a generate call.
type Generation struct {
	Number     int64   `json:"number"`
	FromServer string  `json:"from_server"`
	Timestamp  float64 `json:"timestamp"`
	LatencyMS  int     `json:"latency_ms"`
}

// StatusError is returned when a worker answers with a non-2xx status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Message)
}

type Client struct {
	httpClient   *http.Client
	generatePath string
	healthPath   string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithGeneratePath(path string) Option {
	return func(c *Client) { c.generatePath = path }
}

func WithHealthPath(path string) Option {
	return func(c *Client) { c.healthPath = path }
}

// NewClient builds a client. Deadlines come from the caller's context.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		generatePath: DefaultGeneratePath,
		healthPath:   DefaultHealthPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate forwards query unmodified to the worker's generate endpoint.
func (c *Client) Generate(ctx context.Context, endpoint *url.URL, query url.Values) (Generation, error) {
	target := endpoint.ResolveReference(&url.URL{Path: c.generatePath})
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Generation{}, fmt.Errorf("building generate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return Generation{}, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Generation{}, statusError(res)
	}

	var gen Generation
	if err := json.NewDecoder(res.Body).Decode(&gen); err != nil {
		return Generation{}, fmt.Errorf("decoding generate response: %w", err)
	}
	return gen, nil
}

// Probe returns nil when the worker's health endpoint answers 2xx.
func (c *Client) Probe(ctx context.Context, endpoint *url.URL) error {
	target := endpoint.ResolveReference(&url.URL{Path: c.healthPath})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxErrorBody))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &StatusError{Code: res.StatusCode}
	}
	return nil
}

func statusError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))

	var payload struct {
		Error string `json:"error"`
	}
	msg := string(body)
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &StatusError{Code: res.StatusCode, Message: msg}
}

// IsTimeout reports whether err came from a deadline rather than a refusal or bad status.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
