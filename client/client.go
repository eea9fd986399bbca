// Package client is the HTTP transport of the bookshelf API:
// request(endpoint, options) → decoded JSON body.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/querycache"
)

const (
	defaultUserAgent  = "bookshelf/0.1"
	defaultTimeout    = 15 * time.Second
	defaultTracerName = "github.com/unkn0wn-root/querycache/client"
)

// ErrReauthenticate is returned for every 401, after the unauthorized
// handler has run.
var ErrReauthenticate = errors.New("Please re-authenticate.")

// APIError is a non-2xx response. Message comes from the JSON body's
// "message" field when there is one.
type APIError struct {
	Status  int
	Message string
	Body    map[string]any
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api returned status %d", e.Status)
}

// Requester is the transport capability handed to data-layer code.
type Requester interface {
	Do(ctx context.Context, endpoint string, dest any, opts ...RequestOption) error
}

var _ Requester = (*Client)(nil)

type Client struct {
	baseURL      *url.URL
	http         *http.Client
	userAgent    string
	tracer       trace.Tracer
	log          querycache.Logger
	unauthorized func(ctx context.Context)
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithUserAgent(ua string) Option       { return func(c *Client) { c.userAgent = ua } }
func WithLogger(l querycache.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithTracer overrides the tracer taken from the global otel provider.
func WithTracer(t trace.Tracer) Option { return func(c *Client) { c.tracer = t } }

// OnUnauthorized sets what runs when a response is 401: typically clearing
// every cache and discarding stored credentials.
func OnUnauthorized(fn func(ctx context.Context)) Option {
	return func(c *Client) { c.unauthorized = fn }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
		log:       querycache.NopLogger{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(defaultTracerName)
	}
	return c, nil
}

type requestConfig struct {
	token   string
	method  string
	body    any
	hasBody bool
}

type RequestOption func(*requestConfig)

// WithToken sends "Authorization: Bearer <token>".
func WithToken(token string) RequestOption {
	return func(r *requestConfig) { r.token = token }
}

func WithMethod(method string) RequestOption {
	return func(r *requestConfig) { r.method = method }
}

// WithBody JSON-encodes v as the request body. Without WithMethod the
// request becomes a POST.
func WithBody(v any) RequestOption {
	return func(r *requestConfig) { r.body, r.hasBody = v, true }
}

func resolve(opts []RequestOption) requestConfig {
	cfg := requestConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.method == "" {
		cfg.method = http.MethodGet
		if cfg.hasBody {
			cfg.method = http.MethodPost
		}
	}
	return cfg
}

// Do calls endpoint (relative to the base URL, query string allowed) and
// decodes the JSON response into dest; dest may be nil.
func (c *Client) Do(ctx context.Context, endpoint string, dest any, opts ...RequestOption) (err error) {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	cfg := resolve(opts)

	rel, err := url.Parse(strings.TrimPrefix(endpoint, "/"))
	if err != nil {
		return fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	reqURL := c.baseURL.ResolveReference(rel)

	ctx, span := c.tracer.Start(ctx, "bookshelf "+cfg.method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", cfg.method),
			attribute.String("http.url", reqURL.String()),
			attribute.String("bookshelf.endpoint", rel.Path),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	var body io.Reader
	if cfg.hasBody {
		raw, err := json.Marshal(cfg.body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.method, reqURL.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if cfg.hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusUnauthorized {
		c.log.Info("unauthorized response; signing out", querycache.Fields{"endpoint": rel.Path})
		if c.unauthorized != nil {
			c.unauthorized(ctx)
		}
		return ErrReauthenticate
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if dest == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Call is Do with a typed result.
func Call[T any](ctx context.Context, r Requester, endpoint string, opts ...RequestOption) (T, error) {
	var out T
	err := r.Do(ctx, endpoint, &out, opts...)
	return out, err
}

// Bind returns a Requester that adds token to every request.
func Bind(r Requester, token string) Requester {
	return bound{r: r, token: token}
}

type bound struct {
	r     Requester
	token string
}

func (b bound) Do(ctx context.Context, endpoint string, dest any, opts ...RequestOption) error {
	return b.r.Do(ctx, endpoint, dest, append([]RequestOption{WithToken(b.token)}, opts...)...)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body map[string]any
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Body = body
		if msg, ok := body["message"].(string); ok {
			apiErr.Message = msg
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("api url is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse api url %q: %w", raw, err)
	}
	// endpoints resolve relative to the base path
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
