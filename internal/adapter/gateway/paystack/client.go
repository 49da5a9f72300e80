// Package paystack is the hosted-payment gateway client.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"wallet-service/config"
	"wallet-service/internal/core/ports"
	"wallet-service/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const (
	opInitialize = "initialize"
	opVerify     = "verify"

	maxResponseBytes = 1 << 20
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements ports.PaymentGateway against the Paystack REST API.
// Calls go through a circuit breaker; 4xx answers do not count as failures.
type Client struct {
	httpClient  HTTPClient
	baseURL     string
	secretKey   string
	callbackURL string
	breaker     *gobreaker.CircuitBreaker
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(c HTTPClient) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient creates a Paystack client from config.
func NewClient(cfg config.PaystackConfig, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:   cfg.SecretKey,
		callbackURL: cfg.CallbackURL,
		metrics:     metrics.Get(),
		log:         log.With().Str("component", "paystack").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	threshold := uint32(1)
	if cfg.BreakerThreshold > 0 {
		threshold = uint32(cfg.BreakerThreshold)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "paystack",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var callErr *ports.GatewayCallError
			if errors.As(err, &callErr) && callErr.StatusCode >= 400 && callErr.StatusCode < 500 {
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			c.metrics.RecordBreakerTransition(name, from.String(), to.String(), int(to))
		},
	})

	return c
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeRequest struct {
	Email       string `json:"email"`
	Amount      string `json:"amount"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Reference string  `json:"reference"`
	Status    string  `json:"status"`
	Amount    int64   `json:"amount"`
	PaidAt    *string `json:"paid_at"`
}

// Initialize opens a hosted checkout for req.Amount minor units.
func (c *Client) Initialize(ctx context.Context, req ports.GatewayInitRequest) (*ports.GatewayInitResult, error) {
	body, err := json.Marshal(initializeRequest{
		Email:       req.Email,
		Amount:      strconv.FormatInt(req.Amount, 10),
		Reference:   req.Reference,
		CallbackURL: c.callbackURL,
	})
	if err != nil {
		return nil, &ports.GatewayCallError{Operation: opInitialize, Err: err}
	}

	var data initializeData
	if err := c.call(ctx, opInitialize, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, err
	}
	if data.AuthorizationURL == "" {
		return nil, &ports.GatewayCallError{
			Operation:   opInitialize,
			RequestSent: true,
			Err:         errors.New("response has no authorization_url"),
		}
	}

	return &ports.GatewayInitResult{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

// Verify fetches the provider's view of a transaction.
func (c *Client) Verify(ctx context.Context, reference string) (*ports.GatewayVerifyResult, error) {
	var data verifyData
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.call(ctx, opVerify, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}

	res := &ports.GatewayVerifyResult{
		Reference: data.Reference,
		Status:    data.Status,
		Amount:    data.Amount,
	}
	if data.PaidAt != nil && *data.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, *data.PaidAt); err == nil {
			res.PaidAt = &t
		}
	}
	return res, nil
}

func (c *Client) call(ctx context.Context, op, method, path string, body []byte, out any) error {
	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, op, method, path, body, out)
	})

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "breaker_open"
			err = &ports.GatewayCallError{Operation: op, Err: err}
		}
		c.log.Warn().Err(err).Str("operation", op).Msg("gateway call failed")
	}
	c.metrics.RecordGatewayCall(op, outcome, time.Since(start))
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	var sent atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				sent.Store(true)
			}
		},
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), method, c.baseURL+path, reader)
	if err != nil {
		return &ports.GatewayCallError{Operation: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ports.GatewayCallError{
			Operation:   op,
			RequestSent: sent.Load(),
			TimedOut:    isTimeout(err),
			Err:         err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &ports.GatewayCallError{Operation: op, RequestSent: true, TimedOut: isTimeout(err), StatusCode: resp.StatusCode, Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && env.Message != "" {
			msg = env.Message
		}
		return &ports.GatewayCallError{
			Operation:   op,
			RequestSent: true,
			StatusCode:  resp.StatusCode,
			Err:         fmt.Errorf("status %d: %s", resp.StatusCode, msg),
		}
	}
	if decodeErr != nil {
		return &ports.GatewayCallError{Operation: op, RequestSent: true, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if !env.Status {
		return &ports.GatewayCallError{Operation: op, RequestSent: true, StatusCode: resp.StatusCode, Err: fmt.Errorf("rejected: %s", env.Message)}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &ports.GatewayCallError{Operation: op, RequestSent: true, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
