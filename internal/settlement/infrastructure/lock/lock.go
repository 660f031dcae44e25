package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrNotObtained is returned when a route lock could not be acquired in time.
var ErrNotObtained = errors.New("lock: not obtained")

// KeyedMutex serializes callers per key within one process.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex constructs an in-process keyed lock.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free or ctx is done.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	entry, ok := m.locks[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		m.locks[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, entry, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(key, entry, true) })
	}, nil
}

func (m *KeyedMutex) release(key string, entry *keyedEntry, held bool) {
	if held {
		<-entry.ch
	}
	m.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}

// RedisLocker is a distributed lock shared by every API replica.
type RedisLocker struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	retry  redislock.RetryStrategy
	logger logrus.FieldLogger
}

// RedisOption configures RedisLocker.
type RedisOption func(*RedisLocker)

// WithTTL sets the lock lease.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithLogger sets the logger used for release failures.
func WithLogger(logger logrus.FieldLogger) RedisOption {
	return func(l *RedisLocker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewRedisLocker constructs a redis-backed locker.
func NewRedisLocker(rdb redis.UniversalClient, opts ...RedisOption) (*RedisLocker, error) {
	if rdb == nil {
		return nil, errors.New("redis locker: nil client")
	}
	l := &RedisLocker{
		client: redislock.New(rdb),
		prefix: "route-lock",
		ttl:    30 * time.Second,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 100),
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Lock obtains the lock for key, retrying until the retry budget or ctx runs out.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := fmt.Sprintf("%s:%s", l.prefix, key)
	held, err := l.client.Obtain(ctx, lockKey, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		if releaseErr := held.Release(context.Background()); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			l.logger.WithField("key", lockKey).WithError(releaseErr).Warn("release route lock")
		}
	}, nil
}
