package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/engine/errs"
	"github.com/harborwave/humanizer/internal/pkg/httpretry"
	"github.com/harborwave/humanizer/internal/pkg/logger"
)

// HTTPGateway sends messages through a JSON HTTP webhook-style provider
// (the shape used by most WhatsApp Business Solution Providers), wrapping
// the call in a retrying client and a circuit breaker so a provider outage
// degrades into fast failures instead of piling up blocked goroutines.
type HTTPGateway struct {
	endpoint string
	doer     httpretry.HTTPDoer
	breaker  *gobreaker.CircuitBreaker
}

// NewHTTPGateway builds an HTTPGateway posting to endpoint. name is used as
// the circuit breaker's identity in logs and metrics.
func NewHTTPGateway(name, endpoint string, client *http.Client) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	retrying := httpretry.NewRetryClient(client, 3)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gateway:" + name,
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("gateway circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &HTTPGateway{endpoint: endpoint, doer: retrying, breaker: cb}
}

type httpSendRequest struct {
	To      string `json:"to"`
	Text    string `json:"text"`
	Media   string `json:"media,omitempty"`
	Context string `json:"context,omitempty"`
}

type httpSendResponse struct {
	MessageID string `json:"message_id"`
}

// Send posts spec to the configured endpoint through the circuit breaker,
// authenticating with spec.AccountCredential as a bearer token.
func (g *HTTPGateway) Send(ctx context.Context, spec domain.SendSpec) (*domain.SendResult, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		body, err := json.Marshal(httpSendRequest{To: spec.Address, Text: spec.Text, Media: spec.MediaRef, Context: spec.ContextRef})
		if err != nil {
			return nil, fmt.Errorf("gateway: marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gateway: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+spec.AccountCredential)
		req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }

		resp, err := g.doer.Do(req)
		if err != nil {
			return nil, fmt.Errorf("gateway: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(resp.Body)
			if isPermanentStatus(resp.StatusCode) {
				return nil, &errs.GatewayPermanentError{StatusCode: resp.StatusCode, Reason: string(respBody)}
			}
			return nil, fmt.Errorf("gateway: provider returned status %d", resp.StatusCode)
		}

		var parsed httpSendResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("gateway: decode response: %w", err)
		}
		if parsed.MessageID == "" {
			parsed.MessageID = uuid.New().String()
		}
		return &domain.SendResult{ProviderMessageID: parsed.MessageID, AcceptedAt: time.Now()}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.SendResult), nil
}

// isPermanentStatus reports whether a provider status code means the send
// will never succeed on retry: a malformed request, an authentication or
// authorization rejection, or an unknown/rejected recipient. Anything else
// (429, 5xx) is treated as transient.
func isPermanentStatus(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}
