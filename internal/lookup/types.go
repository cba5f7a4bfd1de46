package lookup

import (
	"encoding/json"
	"time"
)

// Kind identifies what an observable is.
type Kind string

const (
	KindIPv4   Kind = "ipv4"
	KindDomain Kind = "domain"
	KindCVE    Kind = "cve"
	KindOther  Kind = "other"
)

// Observable is a single indicator submitted for enrichment.
type Observable struct {
	Value            string `json:"value"`
	Kind             Kind   `json:"kind"`
	IsIgnoredAddress bool   `json:"is_ignored_address,omitempty"`
}

// Options carries the per-call API settings.
type Options struct {
	BaseURL       string `json:"url" mapstructure:"url"`
	SecurityToken string `json:"security_token" mapstructure:"security_token"`
}

// Data is the enrichment payload for a hit.
type Data struct {
	Summary []string        `json:"summary"`
	Details json.RawMessage `json:"details"`
}

// Result is the per-observable lookup result. Data is nil for misses and
// skipped observables. Err is only ever set under the Isolate failure policy.
type Result struct {
	Observable Observable `json:"entity"`
	Data       *Data      `json:"data"`
	Err        error      `json:"-"`
}

// QuerySpec is the request shape for one classified observable.
type QuerySpec struct {
	Observable Observable
	Path       string
	Filter     string
}

// OutcomeType tags an Outcome.
type OutcomeType int

const (
	OutcomeHit OutcomeType = iota
	OutcomeMiss
	OutcomeError
)

func (t OutcomeType) String() string {
	switch t {
	case OutcomeHit:
		return "hit"
	case OutcomeMiss:
		return "miss"
	case OutcomeError:
		return "error"
	}
	return "unknown"
}

// Outcome is the classified result of one lookup request.
type Outcome struct {
	Type OutcomeType
	Body []byte
	Err  *BatchError
}

// Metrics tracks basic runtime counters for an Engine.
type Metrics struct {
	Batches        int64
	AuthCalls      int64
	TokenCacheHits int64
	Requests       int64
	Hits           int64
	Misses         int64
	Skipped        int64
	Errors         int64
	LastActivity   time.Time
}
