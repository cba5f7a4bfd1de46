package lookup

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrent caps in-flight lookup requests per batch.
const DefaultMaxConcurrent = 10

// FailurePolicy decides what a named HTTP error does to the rest of a batch.
type FailurePolicy string

const (
	// FailFast aborts the batch on the first error and discards other results.
	FailFast FailurePolicy = "fail-fast"
	// Isolate attaches named HTTP errors to their observable and keeps going.
	// Transport errors still abort the batch.
	Isolate FailurePolicy = "isolate"
)

// ParseFailurePolicy accepts "fail-fast" (or empty) and "isolate".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailFast:
		return FailFast, nil
	case Isolate:
		return Isolate, nil
	}
	return "", fmt.Errorf("unknown failure policy %q (want fail-fast or isolate)", s)
}

// Dispatcher runs one request per QuerySpec with a global concurrency cap.
type Dispatcher struct {
	doer           Doer
	maxConcurrent  int
	requestTimeout time.Duration
	policy         FailurePolicy
	userAgent      string
	logger         *log.Logger
	debug          bool

	requests atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

// Dispatch executes specs against baseURL using token. The returned outcomes
// line up with specs. Under FailFast the first error is returned and no
// outcomes are surfaced.
func (d *Dispatcher) Dispatch(ctx context.Context, baseURL, token string, specs []QuerySpec) ([]Outcome, error) {
	outcomes := make([]Outcome, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxConcurrent)

	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			// Batch already failed; admit nothing new.
			if gctx.Err() != nil {
				return nil
			}
			out, err := d.execute(gctx, baseURL, token, spec)
			if err != nil {
				return err
			}
			if out.Type == OutcomeError && d.policy != Isolate {
				return out.Err
			}
			outcomes[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &BatchError{Kind: KindTransport, Detail: "Error Performing Lookup", Err: err}
	}
	return outcomes, nil
}

func (d *Dispatcher) execute(ctx context.Context, baseURL, token string, spec QuerySpec) (Outcome, error) {
	d.track(1)
	defer d.track(-1)

	if d.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.requestTimeout)
		defer cancel()
	}

	q := url.Values{}
	q.Set("dsl_filter", spec.Filter)
	endpoint := baseURL + spec.Path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Outcome{}, transportError(spec.Observable, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	if d.debug {
		d.logger.Printf("GET %s (%s %s)", spec.Path, spec.Observable.Kind, spec.Observable.Value)
	}

	d.requests.Add(1)
	resp, err := d.doer.Do(req)
	if err != nil {
		return Outcome{}, transportError(spec.Observable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, transportError(spec.Observable, fmt.Errorf("read response: %w", err))
	}

	if d.debug {
		d.logger.Printf("Result of lookup for %s: status=%d bytes=%d", spec.Observable.Value, resp.StatusCode, len(body))
	}

	out := ClassifyResponse(resp.StatusCode, body)
	if out.Err != nil {
		out.Err.Observable = spec.Observable
	}
	return out, nil
}

func transportError(obs Observable, err error) *BatchError {
	return &BatchError{Kind: KindTransport, Detail: "Error Performing Lookup", Observable: obs, Err: err}
}

func (d *Dispatcher) track(delta int64) {
	n := d.inFlight.Add(delta)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// PeakInFlight is the highest number of simultaneous requests observed.
func (d *Dispatcher) PeakInFlight() int64 { return d.peak.Load() }
