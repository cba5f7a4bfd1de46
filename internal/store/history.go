package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Ashfaaq98/assetintel/internal/lookup"
	"github.com/google/uuid"
)

// Outcome labels recorded per observable.
const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Batch is one recorded DoLookup invocation.
type Batch struct {
	ID              string        `json:"id"`
	Source          string        `json:"source"`             // "cli", "serve", "watch"
	EventID         string        `json:"event_id,omitempty"` // set when the batch came from an event
	BaseURL         string        `json:"base_url"`
	ObservableCount int           `json:"observable_count"`
	Hits            int           `json:"hits"`
	Misses          int           `json:"misses"`
	Skipped         int           `json:"skipped"`
	Errors          int           `json:"errors"`
	FailureKind     string        `json:"failure_kind,omitempty"`
	FailureDetail   string        `json:"failure_detail,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`

	Results []BatchResult `json:"results,omitempty"`
}

// BatchResult is the outcome for one observable of a batch.
type BatchResult struct {
	Position int    `json:"position"`
	Kind     string `json:"kind"`
	Value    string `json:"value"`
	Outcome  string `json:"outcome"`
	Detail   string `json:"detail,omitempty"`
}

// NewBatch summarises a finished lookup. batchErr is the error DoLookup
// returned, if any; results is nil in that case.
func NewBatch(source, baseURL string, observables []lookup.Observable, results []lookup.Result, batchErr error, started time.Time) Batch {
	b := Batch{
		Source:          source,
		BaseURL:         baseURL,
		ObservableCount: len(observables),
		StartedAt:       started,
		Duration:        time.Since(started),
	}

	if batchErr != nil {
		b.FailureKind, b.FailureDetail = describeFailure(batchErr)
		for i, obs := range observables {
			b.Results = append(b.Results, BatchResult{Position: i, Kind: string(obs.Kind), Value: obs.Value, Outcome: OutcomeError})
		}
		b.Errors = 1
		return b
	}

	for i, res := range results {
		r := BatchResult{Position: i, Kind: string(res.Observable.Kind), Value: res.Observable.Value}
		switch {
		case res.Err != nil:
			r.Outcome = OutcomeError
			r.Detail = res.Err.Error()
			b.Errors++
		case res.Data != nil:
			r.Outcome = OutcomeHit
			b.Hits++
		default:
			if _, ok := lookup.Classify(res.Observable); ok {
				r.Outcome = OutcomeMiss
				b.Misses++
			} else {
				r.Outcome = OutcomeSkipped
				b.Skipped++
			}
		}
		b.Results = append(b.Results, r)
	}
	return b
}

func describeFailure(err error) (string, string) {
	var be *lookup.BatchError
	var ae *lookup.AuthError
	var ve lookup.ValidationError
	switch {
	case errors.As(err, &be):
		return string(be.Kind), be.Error()
	case errors.As(err, &ae):
		return "Auth Error", ae.Error()
	case errors.As(err, &ve):
		return "Validation Error", ve.Error()
	}
	return "Error", err.Error()
}

// SaveBatch records a batch and its per-observable results, assigning an ID
// when b.ID is empty.
func (s *Store) SaveBatch(ctx context.Context, b Batch) (string, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (id, source, event_id, base_url, observable_count, hits, misses, skipped, errors,
			failure_kind, failure_detail, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Source, nullString(b.EventID), b.BaseURL, b.ObservableCount, b.Hits, b.Misses, b.Skipped, b.Errors,
		nullString(b.FailureKind), nullString(b.FailureDetail), b.StartedAt.UnixMilli(), b.Duration.Milliseconds())
	if err != nil {
		return "", fmt.Errorf("failed to insert batch: %w", err)
	}

	for _, r := range b.Results {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batch_results (batch_id, position, kind, value, outcome, detail)
			VALUES (?, ?, ?, ?, ?, ?)`,
			b.ID, r.Position, r.Kind, r.Value, r.Outcome, nullString(r.Detail))
		if err != nil {
			return "", fmt.Errorf("failed to insert batch result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit batch: %w", err)
	}
	return b.ID, nil
}

// ListBatches returns the most recent batches first, without results.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, event_id, base_url, observable_count, hits, misses, skipped, errors,
			failure_kind, failure_detail, started_at, duration_ms
		FROM batches
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// GetBatch returns one batch with its results in position order.
func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, event_id, base_url, observable_count, hits, misses, skipped, errors,
			failure_kind, failure_detail, started_at, duration_ms
		FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch %s not found", id)
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, kind, value, outcome, detail
		FROM batch_results WHERE batch_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r BatchResult
		var detail sql.NullString
		if err := rows.Scan(&r.Position, &r.Kind, &r.Value, &r.Outcome, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan batch result: %w", err)
		}
		r.Detail = detail.String
		b.Results = append(b.Results, r)
	}
	return &b, rows.Err()
}

// PurgeBefore deletes batches started before cutoff and returns how many
// were removed.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM batch_results WHERE batch_id IN (SELECT id FROM batches WHERE started_at < ?)`,
		cutoff.UnixMilli()); err != nil {
		return 0, fmt.Errorf("failed to purge batch results: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM batches WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge batches: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(sc scanner) (Batch, error) {
	var b Batch
	var eventID, kind, detail sql.NullString
	var startedMs, durationMs int64
	err := sc.Scan(&b.ID, &b.Source, &eventID, &b.BaseURL, &b.ObservableCount, &b.Hits, &b.Misses, &b.Skipped, &b.Errors,
		&kind, &detail, &startedMs, &durationMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, err
		}
		return b, fmt.Errorf("failed to scan batch: %w", err)
	}
	b.EventID = eventID.String
	b.FailureKind = kind.String
	b.FailureDetail = detail.String
	b.StartedAt = time.UnixMilli(startedMs)
	b.Duration = time.Duration(durationMs) * time.Millisecond
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
