// Package notify delivers push notifications to user devices.
//
// Delivery goes through a single push relay endpoint (the mobile teams
// own the provider integration behind it). All sends are fire-and-forget:
// a dispatch invite the device never sees is recoverable, a search that
// blocks on a push provider is not.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cashxhq/cashx/internal/metrics"
)

// Notification is a push message for a single device.
type Notification struct {
	DeviceToken string         `json:"device_token"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Data        map[string]any `json:"data,omitempty"`
}

// Dispatcher sends notifications to the push relay.
type Dispatcher struct {
	endpoint string
	secret   string
	client   *http.Client
	logger   *slog.Logger
}

// NewDispatcher creates a push dispatcher. An empty endpoint disables
// delivery; sends then only log.
func NewDispatcher(endpoint, secret string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		endpoint: endpoint,
		secret:   secret,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// Send delivers a notification asynchronously. Errors are logged and
// counted, never returned.
func (d *Dispatcher) Send(n Notification) {
	if d.endpoint == "" {
		d.logger.Debug("push delivery disabled, dropping notification", "title", n.Title)
		return
	}
	if n.DeviceToken == "" {
		return
	}
	go d.send(n)
}

func (d *Dispatcher) send(n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	payload, err := json.Marshal(n)
	if err != nil {
		d.fail(n, fmt.Sprintf("marshal: %v", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		d.fail(n, fmt.Sprintf("build request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if d.secret != "" {
		req.Header.Set("X-CashX-Signature", d.sign(payload))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.fail(n, fmt.Sprintf("request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.fail(n, fmt.Sprintf("status %d", resp.StatusCode))
		return
	}
	metrics.PushNotificationsTotal.WithLabelValues("ok").Inc()
}

func (d *Dispatcher) fail(n Notification, reason string) {
	metrics.PushNotificationsTotal.WithLabelValues("error").Inc()
	d.logger.Warn("push delivery failed", "title", n.Title, "reason", reason)
}

func (d *Dispatcher) sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(d.secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
