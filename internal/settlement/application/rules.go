package application

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	settlement "route-ledger/internal/settlement/domain"
)

// Rules are the business constants applied to a route.
type Rules struct {
	DriverRate     float64 `yaml:"driver_rate"`
	OperatorRate   float64 `yaml:"operator_rate"`
	DebtThreshold  float64 `yaml:"debt_threshold"`
	PendingMonths  int     `yaml:"pending_months"`
	TravelCategory string  `yaml:"travel_category"`
}

// RuleOverride is a partial Rules block; nil fields inherit, so an
// explicit zero is kept.
type RuleOverride struct {
	DriverRate     *float64 `yaml:"driver_rate"`
	OperatorRate   *float64 `yaml:"operator_rate"`
	DebtThreshold  *float64 `yaml:"debt_threshold"`
	PendingMonths  *int     `yaml:"pending_months"`
	TravelCategory *string  `yaml:"travel_category"`
}

// Apply returns base with every set field replaced.
func (o RuleOverride) Apply(base Rules) Rules {
	if o.DriverRate != nil {
		base.DriverRate = *o.DriverRate
	}
	if o.OperatorRate != nil {
		base.OperatorRate = *o.OperatorRate
	}
	if o.DebtThreshold != nil {
		base.DebtThreshold = *o.DebtThreshold
	}
	if o.PendingMonths != nil {
		base.PendingMonths = *o.PendingMonths
	}
	if o.TravelCategory != nil && strings.TrimSpace(*o.TravelCategory) != "" {
		base.TravelCategory = *o.TravelCategory
	}
	return base
}

// UnmarshalYAML decodes a partial block over the current values.
func (r *Rules) UnmarshalYAML(node *yaml.Node) error {
	var o RuleOverride
	if err := node.Decode(&o); err != nil {
		return err
	}
	*r = o.Apply(*r)
	return nil
}

// RulesConfig holds default rules, per-route overrides and the
// reconciliation schedule.
type RulesConfig struct {
	Defaults   Rules                   `yaml:"defaults"`
	Routes     map[string]RuleOverride `yaml:"routes"`
	Schedule   ScheduleConfig          `yaml:"schedule"`
	WebhookURL string                  `yaml:"webhook_url"`
	Heal       bool                    `yaml:"heal"`
}

// ScheduleConfig defines when debt reconciliation runs.
type ScheduleConfig struct {
	DailyAt string   `yaml:"daily_at"`
	Routes  []string `yaml:"routes"`
}

// DefaultRules returns the standard commission and pendency constants.
func DefaultRules() Rules {
	return Rules{
		DriverRate:     0.03,
		OperatorRate:   0.02,
		DebtThreshold:  400,
		PendingMonths:  4,
		TravelCategory: settlement.DefaultTravelCategory,
	}
}

// LoadRulesConfig loads rules from the RULES_CONFIG yaml file and env.
func LoadRulesConfig() (RulesConfig, error) {
	cfg := RulesConfig{
		Defaults:   DefaultRules(),
		WebhookURL: os.Getenv("RECONCILE_WEBHOOK_URL"),
		Heal:       getenvBool("RECONCILE_HEAL", false),
	}

	if path := os.Getenv("RULES_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := ParseRulesConfig(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Schedule.DailyAt == "" {
		cfg.Schedule.DailyAt = getenvDefault("RECONCILE_DAILY_AT", "03:00")
	}
	if len(cfg.Schedule.Routes) == 0 {
		cfg.Schedule.Routes = splitCSV(os.Getenv("RECONCILE_ROUTES"))
	}
	if cfg.WebhookURL == "" {
		cfg.WebhookURL = os.Getenv("RECONCILE_WEBHOOK_URL")
	}
	return cfg, nil
}

// ParseRulesConfig decodes yaml over cfg. Keys absent from the yaml keep
// their current value, or the standard constants for unset defaults.
func ParseRulesConfig(data []byte, cfg *RulesConfig) error {
	if cfg.Defaults == (Rules{}) {
		cfg.Defaults = DefaultRules()
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	if err := cfg.Defaults.validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	for routeID := range cfg.Routes {
		if err := cfg.RulesForRoute(routeID).validate(); err != nil {
			return fmt.Errorf("routes.%s: %w", routeID, err)
		}
	}
	return nil
}

// RulesForRoute returns the rules for a route.
func (c RulesConfig) RulesForRoute(routeID string) Rules {
	base := c.Defaults
	if base == (Rules{}) {
		base = DefaultRules()
	}
	if override, ok := c.Routes[routeID]; ok {
		return override.Apply(base)
	}
	return base
}

func (r Rules) validate() error {
	switch {
	case r.DriverRate < 0 || r.DriverRate > 1:
		return &settlement.ValidationError{Field: "driver_rate", Reason: "must be within [0, 1]"}
	case r.OperatorRate < 0 || r.OperatorRate > 1:
		return &settlement.ValidationError{Field: "operator_rate", Reason: "must be within [0, 1]"}
	case r.DebtThreshold < 0:
		return &settlement.ValidationError{Field: "debt_threshold", Reason: "must not be negative"}
	case r.PendingMonths < 0:
		return &settlement.ValidationError{Field: "pending_months", Reason: "must not be negative"}
	}
	return nil
}

func (r Rules) driverRate() decimal.Decimal    { return decimal.NewFromFloat(r.DriverRate) }
func (r Rules) operatorRate() decimal.Decimal  { return decimal.NewFromFloat(r.OperatorRate) }
func (r Rules) debtThreshold() decimal.Decimal { return decimal.NewFromFloat(r.DebtThreshold) }

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
