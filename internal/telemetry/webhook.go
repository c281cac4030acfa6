package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier posts events to a chat webhook. Only the noisy, decision-
// grade kinds are forwarded; routine fills stay in the log.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier returns a notifier for the given URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ev Event) error {
	switch ev.Kind {
	case KindOrderRejected, KindRiskVeto, KindStopLoss, KindTakeProfit, KindLedgerViolation:
	default:
		return nil
	}

	payload := map[string]interface{}{
		"text": fmt.Sprintf("[%s] %s %s qty=%d price=%.2f: %s",
			ev.Kind, ev.Symbol, ev.OrderID, ev.Quantity, ev.Price, ev.Reason),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
