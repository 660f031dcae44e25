package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	settlement "route-ledger/internal/settlement/domain"
)

const (
	defaultTTL    = 5 * time.Minute
	defaultPrefix = "ledger"
)

// Store wraps a ledger store with a redis read-through cache for routes,
// clients and a route's active client list. Reads inside a transaction
// bypass the cache; keys touched by a transaction are dropped after commit.
type Store struct {
	settlement.Store
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger logrus.FieldLogger

	tx *txKeys
}

type txKeys struct {
	mu   sync.Mutex
	keys []string
}

func (t *txKeys) add(keys ...string) {
	t.mu.Lock()
	t.keys = append(t.keys, keys...)
	t.mu.Unlock()
}

// Option configures Store.
type Option func(*Store)

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithLogger sets the logger for cache failures.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New wraps inner with a redis cache.
func New(inner settlement.Store, rdb redis.UniversalClient, opts ...Option) (*Store, error) {
	if inner == nil {
		return nil, errors.New("ledger cache: nil store")
	}
	if rdb == nil {
		return nil, errors.New("ledger cache: nil redis client")
	}
	s := &Store{
		Store:  inner,
		rdb:    rdb,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// WithinTx runs fn on the inner store and invalidates touched keys on commit.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx settlement.Store) error) error {
	if s.tx != nil {
		return fn(ctx, s)
	}
	touched := &txKeys{}
	err := s.Store.WithinTx(ctx, func(ctx context.Context, inner settlement.Store) error {
		return fn(ctx, &Store{
			Store:  inner,
			rdb:    s.rdb,
			ttl:    s.ttl,
			prefix: s.prefix,
			logger: s.logger,
			tx:     touched,
		})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, touched.keys...)
	return nil
}

// GetRoute reads a route through the cache.
func (s *Store) GetRoute(ctx context.Context, id string) (*settlement.Route, error) {
	if s.tx != nil {
		return s.Store.GetRoute(ctx, id)
	}
	var route settlement.Route
	if s.get(ctx, s.routeKey(id), &route) {
		return &route, nil
	}
	loaded, err := s.Store.GetRoute(ctx, id)
	if err != nil || loaded == nil {
		return loaded, err
	}
	s.set(ctx, s.routeKey(id), loaded)
	return loaded, nil
}

// GetClient reads a client through the cache.
func (s *Store) GetClient(ctx context.Context, id string) (*settlement.Client, error) {
	if s.tx != nil {
		return s.Store.GetClient(ctx, id)
	}
	var client settlement.Client
	if s.get(ctx, s.clientKey(id), &client) {
		return &client, nil
	}
	loaded, err := s.Store.GetClient(ctx, id)
	if err != nil || loaded == nil {
		return loaded, err
	}
	s.set(ctx, s.clientKey(id), loaded)
	return loaded, nil
}

// FindActiveClientsByRoute reads a route's active clients through the cache.
func (s *Store) FindActiveClientsByRoute(ctx context.Context, routeID string) ([]settlement.Client, error) {
	if s.tx != nil {
		return s.Store.FindActiveClientsByRoute(ctx, routeID)
	}
	var clients []settlement.Client
	if s.get(ctx, s.routeClientsKey(routeID), &clients) {
		return clients, nil
	}
	loaded, err := s.Store.FindActiveClientsByRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, s.routeClientsKey(routeID), loaded)
	return loaded, nil
}

// UpsertRoute writes through and drops the cached route.
func (s *Store) UpsertRoute(ctx context.Context, route *settlement.Route) error {
	if err := s.Store.UpsertRoute(ctx, route); err != nil {
		return err
	}
	s.touch(ctx, s.routeKey(route.ID))
	return nil
}

// UpsertClient writes through and drops the cached client and its route list.
func (s *Store) UpsertClient(ctx context.Context, client *settlement.Client) error {
	previous := ""
	if s.tx == nil {
		if existing, err := s.Store.GetClient(ctx, client.ID); err == nil && existing != nil {
			previous = existing.RouteID
		}
	}
	if err := s.Store.UpsertClient(ctx, client); err != nil {
		return err
	}
	keys := []string{s.clientKey(client.ID), s.routeClientsKey(client.RouteID)}
	if previous != "" && previous != client.RouteID {
		keys = append(keys, s.routeClientsKey(previous))
	}
	s.touch(ctx, keys...)
	return nil
}

func (s *Store) touch(ctx context.Context, keys ...string) {
	if s.tx != nil {
		s.tx.add(keys...)
		return
	}
	s.invalidate(ctx, keys...)
}

func (s *Store) get(ctx context.Context, key string, dest any) bool {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		s.logger.WithField("key", key).WithError(err).Warn("ledger cache read failed")
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.logger.WithField("key", key).WithError(err).Warn("ledger cache entry corrupt")
		return false
	}
	return true
}

func (s *Store) set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.logger.WithField("key", key).WithError(err).Warn("ledger cache write failed")
	}
}

func (s *Store) invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.logger.WithField("keys", keys).WithError(err).Warn("ledger cache invalidation failed")
	}
}

func (s *Store) routeKey(id string) string {
	return fmt.Sprintf("%s:route:%s", s.prefix, id)
}

func (s *Store) clientKey(id string) string {
	return fmt.Sprintf("%s:client:%s", s.prefix, id)
}

func (s *Store) routeClientsKey(routeID string) string {
	return fmt.Sprintf("%s:route:%s:clients", s.prefix, routeID)
}
