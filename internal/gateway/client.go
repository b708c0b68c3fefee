package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	defaultTimeout         = 10 * time.Second
	responseBodyReadLimit  = 1024
	defaultFailureRatio    = 0.5
	defaultMinRequests     = 5
	defaultOpenStateWindow = 30 * time.Second
)

var (
	errBaseURLRequired = errors.New("payment gateway url is required")

	// ErrRejected marks a 4xx answer: the gateway is healthy but refused the payment.
	ErrRejected = errors.New("payment rejected by gateway")
)

// BreakerSettings tunes when the client stops calling an unhealthy gateway.
type BreakerSettings struct {
	FailureRatio float64
	MinRequests  uint32
	OpenTimeout  time.Duration
}

// Client initiates payments against the HTTP payment gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	breaker    *gobreaker.CircuitBreaker[string]
	logger     *zap.Logger
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default traced HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAPIKey sets the bearer credential sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithBreaker replaces the default circuit breaker thresholds.
func WithBreaker(settings BreakerSettings) Option {
	return func(c *Client) {
		c.breaker = newBreaker(settings, c.logger)
	}
}

// NewClient builds a gateway client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}

	logger := util.GetLogger().With(zap.String("component", "payment_gateway"))
	client := &Client{
		baseURL: trimmed,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
	client.breaker = newBreaker(BreakerSettings{}, logger)

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

func newBreaker(settings BreakerSettings, logger *zap.Logger) *gobreaker.CircuitBreaker[string] {
	if settings.FailureRatio <= 0 || settings.FailureRatio > 1 {
		settings.FailureRatio = defaultFailureRatio
	}
	if settings.MinRequests == 0 {
		settings.MinRequests = defaultMinRequests
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = defaultOpenStateWindow
	}

	return gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

type initiateRequest struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Method   string `json:"method"`
}

type initiateResponse struct {
	Reference string `json:"reference"`
}

// InitiatePayment asks the gateway to start collecting amount and returns its reference.
func (c *Client) InitiatePayment(ctx context.Context, req models.GatewayRequest) (string, error) {
	ctx, span := util.StartSpan(ctx, "PaymentGateway.InitiatePayment")
	reference, err := c.breaker.Execute(func() (string, error) {
		return c.initiate(ctx, req.IdempotencyKey, initiateRequest{
			OrderID:  req.OrderID,
			Amount:   req.Amount.Amount,
			Currency: req.Amount.Currency,
			Method:   string(req.Method),
		})
	})
	util.EndSpan(span, err)
	if err != nil {
		return "", fmt.Errorf("initiate payment for order %s: %w", req.OrderID, err)
	}
	return reference, nil
}

func (c *Client) initiate(ctx context.Context, idempotencyKey string, body initiateRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal initiate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build initiate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey == "" {
		idempotencyKey = body.OrderID
	}
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute initiate request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode < 500 {
			return "", fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return "", err
	}

	var out initiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode initiate response: %w", err)
	}
	if strings.TrimSpace(out.Reference) == "" {
		return "", errors.New("gateway returned an empty reference")
	}
	return out.Reference, nil
}
