package interfaces

import (
	"context"

	"github.com/sirupsen/logrus"

	"route-ledger/internal/eventing"
	"route-ledger/internal/settlement/application"
)

// SubscribeEventLog logs every ledger event delivered from the outbox.
func SubscribeEventLog(bus *eventing.Bus, logger logrus.FieldLogger) {
	if bus == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	for _, sample := range application.EventSamples() {
		bus.Subscribe(eventing.TypeName(sample), func(ctx context.Context, event any) error {
			fields := logrus.Fields{"event_type": eventing.TypeName(event)}
			if env, ok := eventing.EnvelopeFromContext(ctx); ok {
				fields["event_id"] = env.EventID
				fields["route_id"] = env.RouteID
				fields["tenant_id"] = env.TenantID
			}
			switch e := event.(type) {
			case application.CycleClosed:
				fields["cycle_id"] = e.CycleID
				fields["revenue"] = e.Revenue.String()
				fields["debt_total"] = e.DebtTotal.String()
			case application.SettlementRecorded:
				fields["settlement_id"] = e.SettlementID
				fields["client_id"] = e.ClientID
				fields["resulting_debt"] = e.ResultingDebt.String()
			}
			logger.WithFields(fields).Info("ledger event delivered")
			return nil
		})
	}
}
