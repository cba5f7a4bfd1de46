package lookup

import (
	"context"
	"io"
	"log"
	"sync"
	"time"
)

// Config tunes an Engine.
type Config struct {
	MaxConcurrent  int
	RequestTimeout time.Duration
	FailurePolicy  FailurePolicy
	UserAgent      string
	Debug          bool
}

// Engine runs lookup batches: authenticate, classify, dispatch, assemble.
type Engine struct {
	auth       *Authenticator
	dispatcher *Dispatcher
	logger     *log.Logger
	debug      bool

	mu      sync.RWMutex
	metrics Metrics
}

// NewEngine wires an Engine around the request executor and a token cache.
// The cache is shared process-wide; pass the same one to every Engine.
func NewEngine(doer Doer, cache TokenCache, cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = FailFast
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "assetintel/1.0"
	}
	d := &Dispatcher{
		doer:           doer,
		maxConcurrent:  cfg.MaxConcurrent,
		requestTimeout: cfg.RequestTimeout,
		policy:         cfg.FailurePolicy,
		userAgent:      cfg.UserAgent,
		logger:         logger,
		debug:          cfg.Debug,
	}
	return &Engine{
		auth:       NewAuthenticator(doer, cache, cfg.UserAgent, logger),
		dispatcher: d,
		logger:     logger,
		debug:      cfg.Debug,
	}
}

// DoLookup enriches observables against the API described by opts. It
// returns one Result per observable, in input order, or a single error for
// the whole batch (*AuthError, *BatchError or ValidationError).
func (e *Engine) DoLookup(ctx context.Context, observables []Observable, opts Options) ([]Result, error) {
	if errs := ValidateOptions(opts); len(errs) > 0 {
		return nil, ValidationError(errs)
	}
	opts.BaseURL = normalizeBaseURL(opts.BaseURL)

	if e.debug {
		e.logger.Printf("Lookup batch of %d observables against %s", len(observables), opts.BaseURL)
	}

	token, err := e.auth.Authenticate(ctx, opts)
	if err != nil {
		e.logger.Printf("get token errored: %v", err)
		e.record(func(m *Metrics) { m.Errors++ })
		return nil, err
	}

	results := make([]Result, len(observables))
	specs := make([]QuerySpec, 0, len(observables))
	positions := make([]int, 0, len(observables))
	skipped := 0
	for i, obs := range observables {
		spec, ok := Classify(obs)
		if !ok {
			results[i] = Result{Observable: obs}
			skipped++
			continue
		}
		specs = append(specs, spec)
		positions = append(positions, i)
	}

	outcomes, err := e.dispatcher.Dispatch(ctx, opts.BaseURL, token, specs)
	if err != nil {
		e.logger.Printf("Error performing lookup: %v", err)
		e.record(func(m *Metrics) {
			m.Skipped += int64(skipped)
			m.Errors++
		})
		return nil, err
	}

	var hits, misses, failed int64
	for j, out := range outcomes {
		i := positions[j]
		res := assemble(observables[i], out)
		switch {
		case res.Err != nil:
			failed++
		case res.Data != nil:
			hits++
		default:
			misses++
		}
		results[i] = res
	}

	e.record(func(m *Metrics) {
		m.Hits += hits
		m.Misses += misses
		m.Skipped += int64(skipped)
		m.Errors += failed
	})
	if e.debug {
		e.logger.Printf("Lookup batch done: hits=%d misses=%d skipped=%d errors=%d", hits, misses, skipped, failed)
	}
	return results, nil
}

func (e *Engine) record(fn func(m *Metrics)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics.Batches++
	fn(&e.metrics)
	e.metrics.LastActivity = time.Now()
}

// Metrics returns a snapshot of the engine counters.
func (e *Engine) Metrics() Metrics {
	e.mu.RLock()
	m := e.metrics
	e.mu.RUnlock()
	m.AuthCalls = e.auth.Calls()
	m.TokenCacheHits = e.auth.CacheHits()
	m.Requests = e.dispatcher.requests.Load()
	return m
}

// PeakInFlight is the highest number of concurrent lookup requests seen.
func (e *Engine) PeakInFlight() int64 { return e.dispatcher.PeakInFlight() }
