// Package enricher runs asset lookups for the observables of OCSF events and
// publishes the results as flat enrichment fields.
package enricher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Ashfaaq98/assetintel/internal/bus"
	"github.com/Ashfaaq98/assetintel/internal/lookup"
	"github.com/Ashfaaq98/assetintel/internal/observable"
	"github.com/Ashfaaq98/assetintel/internal/ocsf"
	"github.com/Ashfaaq98/assetintel/internal/store"
)

const (
	// Source is stamped on every published enrichment.
	Source = "assetintel"
	// EnrichmentType labels asset lookup enrichments.
	EnrichmentType = "asset_lookup"

	maxDetailsJSON = 2048
)

// Lookuper is the part of *lookup.Engine the enricher needs.
type Lookuper interface {
	DoLookup(ctx context.Context, observables []lookup.Observable, opts lookup.Options) ([]lookup.Result, error)
}

// Publisher receives finished enrichments. bus.Bus satisfies it.
type Publisher interface {
	PublishEnrichment(ctx context.Context, msg bus.EnrichmentMessage) error
}

// HistoryRecorder persists batch summaries. *store.Store satisfies it.
type HistoryRecorder interface {
	SaveBatch(ctx context.Context, b store.Batch) (string, error)
}

// Metrics tracks basic runtime metrics
type Metrics struct {
	EventsProcessed    int64
	EventsWithoutHits  int64
	EnrichmentsAdded   int64
	LookupFailures     int64
	MalformedEvents    int64
	AverageProcessTime time.Duration
	LastActivity       time.Time
}

// Config selects where results go besides the publisher.
type Config struct {
	// Source is recorded in lookup history ("serve", "watch").
	Source  string
	History HistoryRecorder
}

// Enricher turns events into enrichment messages.
type Enricher struct {
	engine  Lookuper
	opts    lookup.Options
	pub     Publisher
	history HistoryRecorder
	source  string
	logger  *log.Logger

	mu      sync.Mutex
	metrics Metrics
}

func New(engine Lookuper, opts lookup.Options, pub Publisher, cfg Config, logger *log.Logger) *Enricher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.Source == "" {
		cfg.Source = "serve"
	}
	return &Enricher{
		engine:  engine,
		opts:    opts,
		pub:     pub,
		history: cfg.History,
		source:  cfg.Source,
		logger:  logger,
	}
}

// HandleEvent is a bus.EventHandler. Lookup failures are logged and the
// event is treated as handled; only a failed publish is returned.
func (e *Enricher) HandleEvent(ctx context.Context, msg bus.EventMessage) error {
	eventID := msg.EventID
	if eventID == "" {
		eventID = "unknown"
	}
	return e.ProcessRaw(ctx, eventID, []byte(msg.RawJSON))
}

// ProcessRaw enriches one raw OCSF event. An empty eventID falls back to the
// event's metadata.uid.
func (e *Enricher) ProcessRaw(ctx context.Context, eventID string, raw []byte) error {
	start := time.Now()
	defer e.observe(start)

	ev, err := ocsf.Parse(raw)
	if err != nil {
		e.logger.Printf("Skipping malformed event %s: %v", eventID, err)
		e.update(func(m *Metrics) { m.MalformedEvents++ })
		return nil
	}
	if eventID == "" {
		eventID = ev.ID()
	}

	observables := observable.FromEvent(ev)
	if len(observables) == 0 {
		e.update(func(m *Metrics) { m.EventsWithoutHits++ })
		return nil
	}

	results, err := e.engine.DoLookup(ctx, observables, e.opts)
	e.record(ctx, eventID, observables, results, err, start)
	if err != nil {
		e.logger.Printf("Lookup failed for event %s: %v", eventID, err)
		e.update(func(m *Metrics) { m.LookupFailures++ })
		return nil
	}

	fields := ConvertToFields(results)
	if !hasHit(results) {
		e.update(func(m *Metrics) { m.EventsWithoutHits++ })
	}
	if len(fields) == 0 {
		return nil
	}

	msg := bus.EnrichmentMessage{
		EventID:   eventID,
		Source:    Source,
		Type:      EnrichmentType,
		Data:      fields,
		Timestamp: time.Now().Unix(),
	}
	if err := e.pub.PublishEnrichment(ctx, msg); err != nil {
		return fmt.Errorf("publish enrichment for %s: %w", eventID, err)
	}
	e.update(func(m *Metrics) { m.EnrichmentsAdded++ })
	return nil
}

func (e *Enricher) record(ctx context.Context, eventID string, observables []lookup.Observable, results []lookup.Result, err error, start time.Time) {
	if e.history == nil {
		return
	}
	b := store.NewBatch(e.source, e.opts.BaseURL, observables, results, err, start)
	b.EventID = eventID
	if _, serr := e.history.SaveBatch(ctx, b); serr != nil {
		e.logger.Printf("Failed to record lookup history for %s: %v", eventID, serr)
	}
}

func (e *Enricher) observe(start time.Time) {
	dur := time.Since(start)
	e.update(func(m *Metrics) {
		m.EventsProcessed++
		m.AverageProcessTime = time.Duration(
			(int64(m.AverageProcessTime)*(m.EventsProcessed-1) + int64(dur)) / m.EventsProcessed,
		)
	})
}

func (e *Enricher) update(fn func(m *Metrics)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.metrics)
	e.metrics.LastActivity = time.Now()
}

// Metrics returns a snapshot of the enricher counters.
func (e *Enricher) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

func hasHit(results []lookup.Result) bool {
	for _, r := range results {
		if r.Data != nil {
			return true
		}
	}
	return false
}

// ConvertToFields flattens results into enrichment fields keyed
// assetintel_<kind>_<value>_<field>. Skipped observables produce no fields.
func ConvertToFields(results []lookup.Result) map[string]string {
	fields := make(map[string]string)
	for _, r := range results {
		if _, ok := lookup.Classify(r.Observable); !ok {
			continue
		}
		prefix := fmt.Sprintf("%s_%s_%s_", Source, r.Observable.Kind, sanitizeKey(r.Observable.Value))
		put := func(k, v string) { fields[prefix+k] = v }

		put("artifact", r.Observable.Value)
		if r.Err != nil {
			put("hit", "false")
			var be *lookup.BatchError
			if errors.As(r.Err, &be) {
				put("error", string(be.Kind))
			} else {
				put("error", r.Err.Error())
			}
			continue
		}
		if r.Data == nil {
			put("hit", "false")
			continue
		}
		put("hit", "true")
		put("asset_count", fmt.Sprintf("%d", recordCount(r.Data.Details)))
		put("details_json", compactDetails(r.Data.Details))
	}
	return fields
}

func recordCount(details json.RawMessage) int {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(details, &env); err != nil {
		return 0
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(env.Data, &arr); err == nil {
		return len(arr)
	}
	return 1
}

func compactDetails(details json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, details); err != nil {
		buf.Reset()
		buf.Write(details)
	}
	s := buf.String()
	// Cap to avoid stream bloat
	if len(s) > maxDetailsJSON {
		s = s[:maxDetailsJSON] + "..."
	}
	return s
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// sanitizeKey converts an observable value into a Redis field-safe token.
func sanitizeKey(v string) string {
	v = nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(v)), "_")
	v = strings.Trim(v, "_")
	if v == "" {
		v = "na"
	}
	return v
}
