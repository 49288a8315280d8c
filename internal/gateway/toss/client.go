// Package toss wraps the Toss Payments confirm/cancel REST endpoints.
package toss

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the production Toss Payments API host.
	DefaultBaseURL = "https://api.tosspayments.com"

	confirmPath = "/v2/payments/confirm"
	cancelPath  = "/v2/payments/%s/cancel"

	defaultTimeout      = 30 * time.Second
	defaultCancelReason = "customer request"
)

// ErrMissingSecretKey is returned when a client is constructed without the
// gateway secret. Every payment operation must fail up front in that case
// rather than go out unauthenticated.
var ErrMissingSecretKey = errors.New("toss secret key is not configured")

// Client issues confirm/cancel calls against the gateway. It never retries:
// confirm is not idempotent at the gateway, so retry policy belongs to the
// reconciliation layer.
type Client struct {
	baseURL    string
	authHeader string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host (tests).
func WithBaseURL(baseURL string) Option {
	return func(client *Client) {
		client.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		client.httpClient = httpClient
	}
}

// NewClient builds a gateway client from the secret key.
func NewClient(secretKey string, options ...Option) (*Client, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, ErrMissingSecretKey
	}
	client := &Client{
		baseURL:    DefaultBaseURL,
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(secretKey+":")),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client, nil
}

// Payment is the subset of the gateway confirm response the service uses.
type Payment struct {
	PaymentKey  string          `json:"paymentKey"`
	OrderID     string          `json:"orderId"`
	OrderName   string          `json:"orderName"`
	Status      string          `json:"status"`
	TotalAmount int64           `json:"totalAmount"`
	Raw         json.RawMessage `json:"-"`
}

// Error is a non-2xx gateway response translated into a Go error.
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
}

// Error formats the gateway failure.
func (gatewayError *Error) Error() string {
	return fmt.Sprintf("toss: %d %s: %s", gatewayError.HTTPStatus, gatewayError.Code, gatewayError.Message)
}

// Transient reports whether the failure is a "try again shortly" class of
// error: rate limits, gateway-side 5xx, and Toss provider hiccups.
func (gatewayError *Error) Transient() bool {
	if gatewayError.HTTPStatus == http.StatusTooManyRequests || gatewayError.HTTPStatus >= http.StatusInternalServerError {
		return true
	}
	switch gatewayError.Code {
	case "PROVIDER_ERROR", "FAILED_INTERNAL_SYSTEM_PROCESSING", "UNKNOWN_PAYMENT_ERROR":
		return true
	}
	return false
}

// IsTransient reports whether err is a transient gateway failure.
func IsTransient(err error) bool {
	var gatewayError *Error
	return errors.As(err, &gatewayError) && gatewayError.Transient()
}

type confirmRequest struct {
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
	PaymentKey string `json:"paymentKey"`
}

type cancelRequest struct {
	CancelReason string `json:"cancelReason"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Confirm captures an authorized payment. One outbound call, no retries.
func (client *Client) Confirm(ctx context.Context, orderID string, paymentKey string, amount int64) (Payment, error) {
	body, err := client.post(ctx, confirmPath, confirmRequest{
		OrderID:    orderID,
		Amount:     amount,
		PaymentKey: paymentKey,
	})
	if err != nil {
		return Payment{}, err
	}
	var payment Payment
	if err := json.Unmarshal(body, &payment); err != nil {
		return Payment{}, fmt.Errorf("toss: decode confirm response: %w", err)
	}
	payment.Raw = body
	return payment, nil
}

// Cancel voids a captured payment.
func (client *Client) Cancel(ctx context.Context, paymentKey string, reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = defaultCancelReason
	}
	_, err := client.post(ctx, fmt.Sprintf(cancelPath, paymentKey), cancelRequest{CancelReason: reason})
	return err
}

func (client *Client) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("toss: encode request: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("toss: build request: %w", err)
	}
	request.Header.Set("Authorization", client.authHeader)
	request.Header.Set("Content-Type", "application/json")

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("toss: %w", err)
	}
	defer response.Body.Close()

	var body bytes.Buffer
	if _, err := body.ReadFrom(response.Body); err != nil {
		return nil, fmt.Errorf("toss: read response: %w", err)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		var decoded errorResponse
		_ = json.Unmarshal(body.Bytes(), &decoded)
		if decoded.Message == "" {
			decoded.Message = strings.TrimSpace(body.String())
		}
		return nil, &Error{
			HTTPStatus: response.StatusCode,
			Code:       decoded.Code,
			Message:    decoded.Message,
		}
	}
	return json.RawMessage(body.Bytes()), nil
}
