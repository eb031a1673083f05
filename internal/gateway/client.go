package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/apperrors"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

// Client talks to the MercadoPago REST API with a bearer access token.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

func NewClient(baseURL, accessToken string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

// GetPayment fetches the authoritative payment state.
// GET /v1/payments/{id}
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	path := "/v1/payments/" + url.PathEscape(id)
	if err := c.do(ctx, "get_payment", http.MethodGet, path, nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePreference opens a checkout session.
// POST /checkout/preferences
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	var pref Preference
	if err := c.do(ctx, "create_preference", http.MethodPost, "/checkout/preferences", req, nil, &pref); err != nil {
		return nil, err
	}
	return &pref, nil
}

// CreateCardToken tokenizes raw card data server-side.
// POST /v1/card_tokens
func (c *Client) CreateCardToken(ctx context.Context, req CardTokenRequest) (*CardToken, error) {
	var tok CardToken
	if err := c.do(ctx, "create_card_token", http.MethodPost, "/v1/card_tokens", req, nil, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// CreatePayment charges a token. The idempotency key is forwarded as X-Idempotency-Key.
// POST /v1/payments
func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest, idempotencyKey string) (*Payment, error) {
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["X-Idempotency-Key"] = idempotencyKey
	}
	var p Payment
	if err := c.do(ctx, "create_payment", http.MethodPost, "/v1/payments", req, headers, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, headers map[string]string, out any) (err error) {
	ctx, span := telemetry.Tracer.Start(ctx, "gateway."+op)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("gateway.path", path))

	start := time.Now()
	status := "error"
	defer func() {
		telemetry.GatewayRequestDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &apperrors.UpstreamFetchError{Operation: op, Message: "failed to encode request", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &apperrors.UpstreamFetchError{Operation: op, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Gateway request failed", zap.String("operation", op), zap.Error(err))
		return &apperrors.UpstreamFetchError{Operation: op, Message: "gateway unreachable", Err: err}
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apperrors.UpstreamFetchError{Operation: op, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(respBody)
		c.logger.Error("Gateway returned an error",
			zap.String("operation", op),
			zap.Int("status_code", resp.StatusCode),
			zap.String("message", msg),
		)
		return &apperrors.UpstreamFetchError{Operation: op, StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &apperrors.UpstreamFetchError{Operation: op, StatusCode: resp.StatusCode, Message: "failed to parse response", Err: err}
		}
	}
	return nil
}

// errorMessage picks the most specific message from a gateway error body.
func errorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		if len(body) == 0 {
			return "empty response"
		}
		return string(body)
	}
	switch {
	case eb.Message != "":
		return eb.Message
	case len(eb.Cause) > 0 && eb.Cause[0].Description != "":
		return eb.Cause[0].Description
	case len(eb.Cause) > 0 && eb.Cause[0].Code != nil:
		return fmt.Sprint(eb.Cause[0].Code)
	case eb.Error != "":
		return eb.Error
	}
	return string(body)
}
