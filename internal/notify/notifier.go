package notify

import "context"

// AlertMessage is a debt reconciliation alert.
type AlertMessage struct {
	TenantID          string            `json:"tenant_id"`
	RouteID           string            `json:"route_id"`
	RunID             string            `json:"run_id"`
	Mismatches        int               `json:"mismatches"`
	Healed            bool              `json:"healed"`
	Summary           map[string]any    `json:"summary"`
	RecommendedAction string            `json:"recommended_action"`
	Meta              map[string]string `json:"meta,omitempty"`
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, msg AlertMessage) error
}
