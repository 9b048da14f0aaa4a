// Package client talks to the remote verification service over JSON/HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"verifyflow/internal/verification/models"
	"verifyflow/internal/verification/ports"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
	tracerName      = "verifyflow/internal/verification/client"
)

// Call names, also used as span names and metric labels.
const (
	CallToken = "token"
	CallPhone = "phone"
	CallCode  = "code"
)

var _ ports.Verifier = (*Client)(nil)

// Client implements ports.Verifier against the remote verification service.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	tracer     trace.Tracer
}

type Option func(*Client)

// WithAPIKey sends the key as a bearer token on every call.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout bounds each call. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenRequest struct {
	Token string `json:"token"`
}

type phoneRequest struct {
	PhoneNumber string `json:"phone_number"`
}

func (c *Client) VerifyToken(ctx context.Context, token string) (models.TokenResult, error) {
	var result models.TokenResult
	if err := c.post(ctx, CallToken, "/token/verify", tokenRequest{Token: token}, &result); err != nil {
		return models.TokenResult{}, err
	}
	return result, nil
}

func (c *Client) VerifyPhone(ctx context.Context, phone string) error {
	return c.post(ctx, CallPhone, "/phone/verify", phoneRequest{PhoneNumber: phone}, nil)
}

func (c *Client) VerifyCode(ctx context.Context, req models.CodeSubmission) error {
	return c.post(ctx, CallCode, "/code/verify", req, nil)
}

func (c *Client) post(ctx context.Context, call, path string, in, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "verification."+call,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("verification.call", call)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, categoryOf(err))
		}
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", call, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", call, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(call, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return &RemoteError{Call: call, Category: CategoryOutage, Status: resp.StatusCode}
	case resp.StatusCode >= http.StatusBadRequest:
		return &RemoteError{Call: call, Category: CategoryRejected, Status: resp.StatusCode}
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return &RemoteError{Call: call, Category: CategoryBadData, Status: resp.StatusCode}
	}

	limited := io.LimitReader(resp.Body, maxResponseSize)
	if out == nil {
		_, _ = io.Copy(io.Discard, limited)
		return nil
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return &RemoteError{Call: call, Category: CategoryBadData, Status: resp.StatusCode, Err: err}
	}
	return nil
}

func transportError(call string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &RemoteError{Call: call, Category: CategoryTimeout, Err: err}
	}
	return &RemoteError{Call: call, Category: CategoryOutage, Err: err}
}

func categoryOf(err error) string {
	var rerr *RemoteError
	if errors.As(err, &rerr) {
		return string(rerr.Category)
	}
	return "error"
}
