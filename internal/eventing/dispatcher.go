package eventing

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"route-ledger/internal/observability/metrics"
)

// Publisher is the minimal publish interface.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit, maxAttempts int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
	Attempts int
}

// Dispatcher sends outbox events to an in-process publisher.
type Dispatcher struct {
	bus         Publisher
	outbox      OutboxStore
	registry    *Registry
	logger      logrus.FieldLogger
	maxAttempts int
}

// NewDispatcher constructs a dispatcher. Records that failed maxAttempts
// times stay in the outbox as failed and are no longer retried.
func NewDispatcher(bus Publisher, outbox OutboxStore, registry *Registry, logger logrus.FieldLogger, maxAttempts int) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Dispatcher{bus: bus, outbox: outbox, registry: registry, logger: logger, maxAttempts: maxAttempts}
}

// Dispatch pulls pending outbox messages and delivers them.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) error {
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		return nil
	}
	if limit <= 0 {
		limit = 50
	}
	records, err := d.outbox.ListPending(ctx, limit, d.maxAttempts)
	if err != nil {
		return err
	}

	for _, record := range records {
		env := record.Envelope
		payload, err := d.registry.DecodePayload(env)
		if err == nil {
			err = d.bus.Publish(WithEnvelope(ctx, env), payload)
		}
		if err != nil {
			metrics.IncOutboxDispatch(metrics.ResultError)
			d.logger.WithFields(logrus.Fields{
				"event_id":   env.EventID,
				"event_type": env.EventType,
				"attempt":    record.Attempts + 1,
			}).WithError(err).Warn("outbox delivery failed")
			_ = d.outbox.MarkFailed(ctx, record.ID)
			continue
		}
		metrics.IncOutboxDispatch(metrics.ResultSuccess)
		_ = d.outbox.MarkSent(ctx, record.ID)
	}
	return nil
}

// Run dispatches on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, batch int) {
	if d == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Dispatch(ctx, batch); err != nil {
				d.logger.WithError(err).Error("outbox dispatch error")
			}
		}
	}
}
