package bus

import (
	"context"
	"io"
	"log"
)

// Stream names shared with the rest of the pipeline.
const (
	EventsStream      = "events"
	EnrichmentsStream = "enrichments"
)

// EventHandler processes one event read from the events stream.
type EventHandler func(ctx context.Context, event EventMessage) error

// Bus defines the interface for event bus implementations
type Bus interface {
	// PublishEvent publishes an event to the events stream
	PublishEvent(ctx context.Context, eventMsg EventMessage) error

	// PublishEnrichment publishes an enrichment to the enrichments stream
	PublishEnrichment(ctx context.Context, enrichmentMsg EnrichmentMessage) error

	// ReadEventsStream consumes the events stream until ctx is done
	ReadEventsStream(ctx context.Context, group, consumer string, handler EventHandler) error

	// GetStats returns basic statistics about the bus
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// HealthCheck performs a health check on the bus connection
	HealthCheck(ctx context.Context) error

	// Close closes the bus connection
	Close() error
}

// NewBus creates a new bus instance based on the Redis URL
// If redisURL is empty or unreachable, returns a NullBus
func NewBus(redisURL string, logger *log.Logger) Bus {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if redisURL == "" {
		return NewNullBus(logger)
	}

	redisBus, err := NewRedisBus(redisURL, logger)
	if err == nil {
		return redisBus
	}

	// Fall back to null bus if Redis fails
	logger.Printf("Redis bus unavailable, falling back to null bus: %v", err)
	return NewNullBus(logger)
}
