package bus

import (
	"context"
	"log"
)

// NullBus is a no-op implementation of the bus interface for when Redis is disabled
type NullBus struct {
	logger *log.Logger
}

// NewNullBus creates a new null bus instance
func NewNullBus(logger *log.Logger) *NullBus {
	if logger == nil {
		logger = log.New(log.Writer(), "[NullBus] ", log.LstdFlags)
	}
	return &NullBus{logger: logger}
}

func (nb *NullBus) Close() error { return nil }

// PublishEvent logs the event but doesn't actually publish it
func (nb *NullBus) PublishEvent(ctx context.Context, eventMsg EventMessage) error {
	nb.logger.Printf("Would publish event %s (Redis disabled)", eventMsg.EventID)
	return nil
}

// PublishEnrichment logs the enrichment but doesn't actually publish it
func (nb *NullBus) PublishEnrichment(ctx context.Context, enrichmentMsg EnrichmentMessage) error {
	nb.logger.Printf("Would publish %d enrichment fields for event %s (Redis disabled)",
		len(enrichmentMsg.Data), enrichmentMsg.EventID)
	return nil
}

// ReadEventsStream blocks until ctx is cancelled.
func (nb *NullBus) ReadEventsStream(ctx context.Context, group, consumer string, handler EventHandler) error {
	nb.logger.Printf("Would read events stream %s:%s (Redis disabled)", group, consumer)
	<-ctx.Done()
	return ctx.Err()
}

func (nb *NullBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":   "null",
		"status": "disabled",
	}, nil
}

func (nb *NullBus) HealthCheck(ctx context.Context) error { return nil }
