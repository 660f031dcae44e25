package application

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// RouteLocker serializes mutations of one route across callers.
type RouteLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

type options struct {
	clock    Clock
	locker   RouteLocker
	logger   logrus.FieldLogger
	tenantID string
	rules    RulesConfig
}

// Option configures an application service.
type Option func(*options)

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLocker sets the per-route lock. Services that mutate the same
// routes must share one locker.
func WithLocker(locker RouteLocker) Option {
	return func(o *options) {
		if locker != nil {
			o.locker = locker
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTenantID sets the tenant stamped on outbox events.
func WithTenantID(tenantID string) Option {
	return func(o *options) {
		o.tenantID = tenantID
	}
}

// WithRules sets the business rules.
func WithRules(rules RulesConfig) Option {
	return func(o *options) {
		o.rules = rules
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:  SystemClock{},
		locker: noopLocker{},
		logger: logrus.StandardLogger(),
		rules:  RulesConfig{Defaults: DefaultRules()},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type actorKey struct{}

// WithActor records who performs the operations run under ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

func (o options) lockRoute(ctx context.Context, routeID string) (func(), error) {
	return o.locker.Lock(ctx, "route:"+routeID)
}
