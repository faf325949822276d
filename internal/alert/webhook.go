package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/gridshift-io/gridshift/pkg/types"
)

// Webhook HTTP delivery defaults.
const (
	webhookTimeout      = 10 * time.Second
	webhookBreakerTrips = 5
	webhookBreakerOpen  = 30 * time.Second
)

// WebhookSink sends alerts as JSON POST requests to a URL. A circuit breaker
// sheds load against an endpoint that keeps failing; alerts raised while the
// breaker is open are dropped with an error rather than queued.
type WebhookSink struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewWebhookSink creates a new webhook alert sink.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url: url,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "webhook",
			Timeout: webhookBreakerOpen,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= webhookBreakerTrips
			},
		}),
	}
}

// Name returns the sink identifier.
func (s *WebhookSink) Name() string { return "webhook" }

// Send posts the alert as JSON to the configured webhook URL.
func (s *WebhookSink) Send(alert types.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.doPost(data)
	})
	if err != nil {
		return fmt.Errorf("webhook POST failed: %w", err)
	}
	return nil
}

func (s *WebhookSink) doPost(data []byte) error {
	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
