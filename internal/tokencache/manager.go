package tokencache

import (
	"context"
	"io"
	"log"
	"sync"
	"time"
)

// Config selects the cache backends.
type Config struct {
	TTL      time.Duration
	Size     int
	RedisURL string // empty keeps tokens in process memory only
}

// ttlGetter and ttlSetter let the manager copy a fallback hit into the
// primary cache without extending the token's lifetime.
type ttlGetter interface {
	GetTTL(ctx context.Context, key string) (string, time.Duration, bool)
}

type ttlSetter interface {
	SetTTL(ctx context.Context, key, token string, ttl time.Duration)
}

// Manager coordinates a primary and an optional fallback cache.
type Manager struct {
	primary  Cache
	fallback Cache
	logger   *log.Logger

	mu     sync.RWMutex
	hits   int64
	misses int64
}

// NewManager builds a Redis-backed manager with an in-memory fallback, or a
// memory-only one when Redis is not configured or unreachable.
func NewManager(cfg Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	mem := NewMemoryCache(MemoryOptions{
		TTL:           cfg.TTL,
		MaxSize:       cfg.Size,
		SweepInterval: time.Minute,
		Logger:        logger,
	})
	if cfg.RedisURL == "" {
		return &Manager{primary: mem, logger: logger}
	}
	rc, err := NewRedisCache(cfg.RedisURL, cfg.TTL, logger)
	if err != nil {
		logger.Printf("Redis token cache unavailable, using memory: %v", err)
		return &Manager{primary: mem, logger: logger}
	}
	return &Manager{primary: rc, fallback: mem, logger: logger}
}

// NewLayered wraps explicit caches; fallback may be nil.
func NewLayered(primary, fallback Cache, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{primary: primary, fallback: fallback, logger: logger}
}

func (m *Manager) Get(ctx context.Context, key string) (string, bool) {
	if v, ok := m.primary.Get(ctx, key); ok {
		m.record(true)
		return v, true
	}
	if v, ok := m.fromFallback(ctx, key); ok {
		m.record(true)
		return v, true
	}
	m.record(false)
	return "", false
}

// fromFallback reads key from the fallback cache. A hit is written back to the
// primary with the remaining lifetime only; without one it is not written back.
func (m *Manager) fromFallback(ctx context.Context, key string) (string, bool) {
	if m.fallback == nil {
		return "", false
	}
	tg, ok := m.fallback.(ttlGetter)
	if !ok {
		return m.fallback.Get(ctx, key)
	}
	v, left, ok := tg.GetTTL(ctx, key)
	if !ok {
		return "", false
	}
	if ts, ok := m.primary.(ttlSetter); ok {
		ts.SetTTL(ctx, key, v, left)
	}
	return v, true
}

func (m *Manager) Set(ctx context.Context, key, token string) {
	m.primary.Set(ctx, key, token)
	if m.fallback != nil {
		m.fallback.Set(ctx, key, token)
	}
}

func (m *Manager) Close() error {
	err := m.primary.Close()
	if m.fallback != nil {
		if e := m.fallback.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

func (m *Manager) record(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

// Stats returns hit/miss counters and the hit ratio.
func (m *Manager) Stats() (hits, misses int64, ratio float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hits, misses = m.hits, m.misses
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return
}
