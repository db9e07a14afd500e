// Package notify forwards finalized recordings to a configured webhook.
// Delivery is asynchronous with retries; the webhook can authenticate via
// OAuth2 client credentials.
package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/streekomroep/voxcap/internal/config"
	"github.com/streekomroep/voxcap/internal/metrics"
	"github.com/streekomroep/voxcap/internal/types"
	"github.com/streekomroep/voxcap/internal/util"
)

const (
	requestTimeout    = 10 * time.Second
	maxAttempts       = 3
	initialRetryDelay = 2 * time.Second
	maxRetryDelay     = 30 * time.Second
	queueCapacity     = 16
)

// WebhookPayload represents the data sent to the webhook endpoint.
type WebhookPayload struct {
	Event       string  `json:"event"`
	Timestamp   string  `json:"timestamp"`
	RecordingID string  `json:"recording_id,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
	SizeBytes   int     `json:"size_bytes,omitempty"`
	ContentType string  `json:"content_type,omitempty"`
	AudioBase64 string  `json:"audio_base64,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// PayloadSource resolves an artifact token to its encoded bytes.
type PayloadSource interface {
	Get(token string) (data []byte, contentType string, ok bool)
}

// Forwarder queues finalized recordings and delivers them to the webhook
// on a background worker. Recordings are dropped when the queue is full or
// no webhook is configured.
type Forwarder struct {
	config   *config.Config
	payloads PayloadSource
	metrics  *metrics.Metrics
	queue    chan types.Recording
	done     chan struct{}
}

// NewForwarder creates a forwarder and starts its delivery worker.
func NewForwarder(cfg *config.Config, payloads PayloadSource, m *metrics.Metrics) *Forwarder {
	f := &Forwarder{
		config:   cfg,
		payloads: payloads,
		metrics:  m,
		queue:    make(chan types.Recording, queueCapacity),
		done:     make(chan struct{}),
	}
	go f.worker()
	return f
}

// Enqueue schedules a recording for delivery. Non-blocking; the recording
// is dropped with a log entry when the queue is full.
func (f *Forwarder) Enqueue(rec types.Recording) {
	select {
	case f.queue <- rec:
	default:
		slog.Warn("webhook queue full, dropping recording", "id", rec.ID)
	}
}

// Close stops the worker after the queued recordings are delivered.
func (f *Forwarder) Close() {
	close(f.queue)
	<-f.done
}

// SendTest sends a test notification synchronously to verify configuration.
func (f *Forwarder) SendTest() error {
	snap := f.config.Snapshot()
	if !snap.HasWebhook() {
		return fmt.Errorf("webhook URL not configured")
	}

	return f.send(&snap, &WebhookPayload{
		Event:     "test",
		Message:   "This is a test notification from voxcap",
		Timestamp: timestampUTC(),
	})
}

// worker delivers queued recordings with exponential backoff retries.
func (f *Forwarder) worker() {
	defer close(f.done)

	for rec := range f.queue {
		snap := f.config.Snapshot()
		if !snap.HasWebhook() {
			continue
		}

		payload, err := f.buildPayload(&rec)
		if err != nil {
			slog.Warn("skipping webhook delivery", "id", rec.ID, "error", err)
			continue
		}

		f.deliver(&snap, payload)
	}
}

// deliver retries a payload until it succeeds or attempts run out.
func (f *Forwarder) deliver(snap *config.Snapshot, payload *WebhookPayload) {
	backoff := util.NewBackoff(initialRetryDelay, maxRetryDelay)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := f.send(snap, payload)
		if err == nil {
			f.metrics.WebhookDelivered()
			slog.Info("webhook delivered", "recording_id", payload.RecordingID)
			return
		}

		slog.Warn("webhook delivery failed",
			"recording_id", payload.RecordingID, "attempt", attempt, "error", err)
		if attempt < maxAttempts {
			time.Sleep(backoff.Next())
		}
	}

	f.metrics.WebhookFailed()
	slog.Error("webhook delivery gave up", "recording_id", payload.RecordingID, "attempts", maxAttempts)
}

// buildPayload embeds the recording's encoded bytes as base64.
func (f *Forwarder) buildPayload(rec *types.Recording) (*WebhookPayload, error) {
	data, contentType, ok := f.payloads.Get(rec.Artifact.Token)
	if !ok {
		return nil, fmt.Errorf("artifact released before delivery")
	}

	return &WebhookPayload{
		Event:       "recording_finalized",
		Timestamp:   rec.Timestamp.UTC().Format(time.RFC3339),
		RecordingID: rec.ID,
		DurationSec: rec.DurationSec,
		SizeBytes:   rec.Artifact.SizeBytes,
		ContentType: contentType,
		AudioBase64: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// send posts one payload to the webhook endpoint.
func (f *Forwarder) send(snap *config.Snapshot, payload *WebhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := httpClient(snap)
	resp, err := client.Post(snap.WebhookURL, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Response body is drained and discarded

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// httpClient returns a client that attaches OAuth2 client-credentials
// tokens when the webhook is configured for them.
func httpClient(snap *config.Snapshot) *http.Client {
	base := &http.Client{Timeout: requestTimeout}
	if !snap.HasOAuth() {
		return base
	}

	cc := clientcredentials.Config{
		ClientID:     snap.WebhookClientID,
		ClientSecret: snap.WebhookClientSecret,
		TokenURL:     snap.WebhookTokenURL,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	return cc.Client(ctx)
}

// timestampUTC returns the current UTC time in RFC3339 format.
func timestampUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
