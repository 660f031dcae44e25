package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// WebhookNotifier posts alerts to a chat webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// NewWebhookNotifier constructs a notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends an alert to the webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, msg AlertMessage) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: formatAlertMessage(msg)},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: status %d", resp.StatusCode)
	}
	return nil
}

func formatAlertMessage(msg AlertMessage) string {
	var b strings.Builder
	b.WriteString("[Debt Reconciliation Alert]\n")
	if msg.TenantID != "" {
		fmt.Fprintf(&b, "Tenant: %s\n", msg.TenantID)
	}
	if msg.RouteID != "" {
		fmt.Fprintf(&b, "Route: %s\n", msg.RouteID)
	}
	if msg.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", msg.RunID)
	}
	fmt.Fprintf(&b, "Mismatches: %d\n", msg.Mismatches)
	if msg.Healed {
		b.WriteString("Cached debts were healed\n")
	}
	if msg.RecommendedAction != "" {
		fmt.Fprintf(&b, "Suggested: %s\n", msg.RecommendedAction)
	}
	if len(msg.Summary) > 0 {
		if raw, err := json.Marshal(msg.Summary); err == nil {
			fmt.Fprintf(&b, "Summary: %s\n", string(raw))
		}
	}
	if len(msg.Meta) > 0 {
		keys := make([]string, 0, len(msg.Meta))
		for k := range msg.Meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, msg.Meta[k])
		}
	}
	return strings.TrimSpace(b.String())
}
