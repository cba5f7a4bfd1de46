package tokencache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"sync"
	"time"
)

// DefaultTTL keeps session tokens a little under the API's ten minute validity.
const DefaultTTL = 10 * 59 * time.Second

// Cache stores session tokens keyed by endpoint and credential.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, token string)
	Close() error
}

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// Key builds the cache key for an (endpoint, security token) pair. The token
// is digested so the raw credential never becomes a cache key.
func Key(baseURL, securityToken string) string {
	sum := sha256.Sum256([]byte(securityToken))
	return baseURL + "|" + hex.EncodeToString(sum[:])
}

type entry struct {
	token  string
	expiry time.Time
}

// MemoryCache is an in-process TTL cache with a size cap.
type MemoryCache struct {
	mu      sync.RWMutex
	data    map[string]entry
	ttl     time.Duration
	maxSize int
	now     Clock
	logger  *log.Logger
	quit    chan struct{}
	once    sync.Once
}

// MemoryOptions configures a MemoryCache.
type MemoryOptions struct {
	TTL           time.Duration
	MaxSize       int
	Clock         Clock
	SweepInterval time.Duration // zero disables the background sweep
	Logger        *log.Logger
}

func NewMemoryCache(opts MemoryOptions) *MemoryCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1000
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	mc := &MemoryCache{
		data:    make(map[string]entry),
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
		now:     opts.Clock,
		logger:  opts.Logger,
		quit:    make(chan struct{}),
	}
	if opts.SweepInterval > 0 {
		go mc.sweep(opts.SweepInterval)
	}
	return mc
}

func (mc *MemoryCache) Get(_ context.Context, key string) (string, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	e, ok := mc.data[key]
	if !ok || !mc.now().Before(e.expiry) {
		return "", false
	}
	return e.token, true
}

// GetTTL is Get plus the time the token has left.
func (mc *MemoryCache) GetTTL(_ context.Context, key string) (string, time.Duration, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	e, ok := mc.data[key]
	if !ok {
		return "", 0, false
	}
	left := e.expiry.Sub(mc.now())
	if left <= 0 {
		return "", 0, false
	}
	return e.token, left, true
}

func (mc *MemoryCache) Set(ctx context.Context, key, token string) {
	mc.SetTTL(ctx, key, token, mc.ttl)
}

// SetTTL stores token with an explicit lifetime instead of the cache TTL.
func (mc *MemoryCache) SetTTL(_ context.Context, key, token string, ttl time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, exists := mc.data[key]; !exists && len(mc.data) >= mc.maxSize {
		mc.evictOldest()
	}
	mc.data[key] = entry{token: token, expiry: mc.now().Add(ttl)}
}

// Len reports the number of stored entries, expired ones included.
func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.data)
}

func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.quit) })
	mc.mu.Lock()
	mc.data = make(map[string]entry)
	mc.mu.Unlock()
	return nil
}

func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, v := range mc.data {
		if first || v.expiry.Before(oldest) {
			oldestKey = k
			oldest = v.expiry
			first = false
		}
	}
	if !first {
		delete(mc.data, oldestKey)
	}
}

// purgeExpired drops entries whose TTL has elapsed and returns how many went.
func (mc *MemoryCache) purgeExpired() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := mc.now()
	n := 0
	for k, v := range mc.data {
		if !now.Before(v.expiry) {
			delete(mc.data, k)
			n++
		}
	}
	return n
}

func (mc *MemoryCache) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-mc.quit:
			return
		case <-t.C:
			if n := mc.purgeExpired(); n > 0 {
				mc.logger.Printf("Purged %d expired session tokens", n)
			}
		}
	}
}
