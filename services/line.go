package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const linePushEndpoint = "https://api.line.me/v2/bot/message/push"

// LINENotifier pushes text messages to a LINE recipient through the
// Messaging API. A nil notifier is safe to call and does nothing, so
// callers never have to branch on whether LINE is configured.
type LINENotifier struct {
	channelToken string
	recipientID  string
	client       *http.Client
}

// NewLINENotifier returns a notifier, or nil when the channel token or
// recipient is missing.
func NewLINENotifier(channelToken, recipientID string) *LINENotifier {
	if channelToken == "" || recipientID == "" {
		return nil
	}
	return &LINENotifier{
		channelToken: channelToken,
		recipientID:  recipientID,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

// PushText sends a single text message
func (n *LINENotifier) PushText(ctx context.Context, text string) error {
	if n == nil {
		return nil
	}

	payload := map[string]interface{}{
		"to": n.recipientID,
		"messages": []map[string]string{
			{"type": "text", "text": text},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal LINE message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, linePushEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build LINE request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.channelToken)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("LINE push failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("LINE push returned status %d", resp.StatusCode)
	}
	return nil
}

// NotifyDailySummary formats and pushes an end-of-day summary for a store
func (n *LINENotifier) NotifyDailySummary(ctx context.Context, storeName string, orders int, revenue float64) {
	if n == nil {
		return
	}
	text := fmt.Sprintf("%s closed for the day\nOrders: %d\nRevenue: %.2f THB", storeName, orders, revenue)
	if err := n.PushText(ctx, text); err != nil {
		log.Printf("⚠️ Failed to push LINE daily summary: %v", err)
	}
}
