package cmd

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/Ashfaaq98/assetintel/internal/lookup"
	"github.com/Ashfaaq98/assetintel/internal/store"
	"github.com/Ashfaaq98/assetintel/internal/tokencache"
)

func newLogger(component string) *log.Logger {
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
}

func debugEnabled(cfg Config) bool {
	return strings.EqualFold(cfg.Log.Level, "debug")
}

// runtime bundles the long-lived pieces every lookup command needs.
type runtime struct {
	engine  *lookup.Engine
	cache   *tokencache.Manager
	history *store.Store
}

func (r *runtime) Close() {
	if r.history != nil {
		r.history.Close()
	}
	if r.cache != nil {
		r.cache.Close()
	}
}

// newRuntime builds the HTTP client, token cache and engine from cfg. The
// history store is opened only when history.db is set.
func newRuntime(cfg Config, logger *log.Logger) (*runtime, error) {
	policy, err := lookup.ParseFailurePolicy(cfg.Lookup.FailurePolicy)
	if err != nil {
		return nil, err
	}

	client, err := lookup.NewHTTPClient(cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP client: %w", err)
	}

	cache := tokencache.NewManager(tokencache.Config{
		TTL:      cfg.Cache.TTL,
		Size:     cfg.Cache.Size,
		RedisURL: cfg.Cache.RedisURL,
	}, newLogger("tokencache"))

	rt := &runtime{cache: cache}
	rt.engine = lookup.NewEngine(client, cache, lookup.Config{
		MaxConcurrent:  cfg.Lookup.MaxConcurrent,
		RequestTimeout: cfg.Lookup.RequestTimeout,
		FailurePolicy:  policy,
		UserAgent:      "assetintel/" + versionString(),
		Debug:          debugEnabled(cfg),
	}, newLogger("lookup"))

	if cfg.History.DB != "" {
		st, err := store.NewStore(cfg.History.DB)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to initialize history store: %w", err)
		}
		rt.history = st
	}

	logger.Printf("Engine ready (max_concurrent=%d policy=%s cache=%s history=%t)",
		cfg.Lookup.MaxConcurrent, policy, cacheBackend(cfg), rt.history != nil)
	return rt, nil
}

func cacheBackend(cfg Config) string {
	if cfg.Cache.RedisURL != "" {
		return "redis"
	}
	return "memory"
}
