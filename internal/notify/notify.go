// Package notify posts trade and settlement alerts to a webhook. With no
// webhook configured every call is a no-op, so callers never guard.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/internal/store"
)

// Notifier delivers alerts to a Slack-compatible webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
	logger     zerolog.Logger
	enabled    bool
}

// message is the webhook payload.
type message struct {
	Text string `json:"text"`
}

// New creates a notifier. An empty webhook URL disables delivery.
func New(webhookURL string, enabled bool, logger zerolog.Logger) *Notifier {
	n := &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		enabled:    enabled && webhookURL != "",
	}
	if n.enabled {
		logger.Info().Msg("webhook notifications enabled")
	}
	return n
}

// IsEnabled reports whether alerts will actually be delivered.
func (n *Notifier) IsEnabled() bool { return n.enabled }

// Send posts a plain text message. Delivery failures are logged, never
// surfaced: notifications must not affect the trading path.
func (n *Notifier) Send(ctx context.Context, text string) {
	if !n.enabled {
		return
	}

	body, err := json.Marshal(message{Text: text})
	if err != nil {
		n.logger.Warn().Err(err).Msg("marshal notification")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn().Err(err).Msg("build notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn().Err(err).Msg("deliver notification")
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn().Int("status", resp.StatusCode).Msg("notification rejected")
	}
}

// TradeAlert announces an executed trade.
func (n *Notifier) TradeAlert(ctx context.Context, t *store.Trade) {
	n.Send(ctx, fmt.Sprintf("Trade executed: %s %s %s %dx @ %dc (EV %.2f, order %s)",
		t.City, t.Bracket, t.Side, t.Quantity, t.PriceCents, t.EVAtEntry, t.OrderID))
}

// SettlementAlert announces a settled trade using its stored narrative.
func (n *Notifier) SettlementAlert(ctx context.Context, t *store.Trade, narrative string) {
	n.Send(ctx, fmt.Sprintf("Trade settled: %s %s\n%s", t.City, t.Ticker, narrative))
}

// QueuedAlert announces a signal waiting for manual approval.
func (n *Notifier) QueuedAlert(ctx context.Context, p *store.PendingTrade) {
	n.Send(ctx, fmt.Sprintf("Trade queued for approval: %s %s %s %dx @ %dc (EV %.2f, expires %s)",
		p.City, p.Bracket, p.Side, p.Quantity, p.PriceCents, p.EV,
		p.ExpiresAt.Format(time.Kitchen)))
}

// ErrorAlert announces a component failure.
func (n *Notifier) ErrorAlert(ctx context.Context, component string, err error) {
	n.Send(ctx, fmt.Sprintf("Error in %s: %v", component, err))
}
