package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisBus provides Redis Streams-based messaging between ingest and the
// enrichment worker.
type RedisBus struct {
	client *redis.Client
	logger *log.Logger

	block      time.Duration
	retryDelay time.Duration
}

// StreamMessage represents a message in a Redis Stream
type StreamMessage struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// EventMessage represents an event message published to the events stream
type EventMessage struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	RawJSON   string `json:"raw_json"`
	Timestamp int64  `json:"timestamp"`
}

// EnrichmentMessage carries the flattened lookup results for one event.
type EnrichmentMessage struct {
	EventID   string            `json:"event_id"`
	Source    string            `json:"source"`
	Type      string            `json:"type"`
	Data      map[string]string `json:"data"`
	Timestamp int64             `json:"timestamp"`
}

// StreamHandler is a function that processes stream messages
type StreamHandler func(ctx context.Context, message StreamMessage) error

// NewRedisBus creates a new Redis bus instance
func NewRedisBus(redisURL string, logger *log.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		logger = log.New(log.Writer(), "[RedisBus] ", log.LstdFlags)
	}

	return &RedisBus{
		client:     client,
		logger:     logger,
		block:      time.Second,
		retryDelay: 5 * time.Second,
	}, nil
}

// Close closes the Redis connection
func (rb *RedisBus) Close() error {
	return rb.client.Close()
}

// PublishEvent publishes an event to the events stream
func (rb *RedisBus) PublishEvent(ctx context.Context, eventMsg EventMessage) error {
	fields := map[string]interface{}{
		"event_id":   eventMsg.EventID,
		"event_type": eventMsg.EventType,
		"raw_json":   eventMsg.RawJSON,
		"timestamp":  eventMsg.Timestamp,
	}

	if err := rb.client.XAdd(ctx, &redis.XAddArgs{Stream: EventsStream, Values: fields}).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	rb.logger.Printf("Published event %s to events stream", eventMsg.EventID)
	return nil
}

// PublishEnrichment publishes an enrichment to the enrichments stream
func (rb *RedisBus) PublishEnrichment(ctx context.Context, enrichmentMsg EnrichmentMessage) error {
	dataJSON, err := json.Marshal(enrichmentMsg.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal enrichment data: %w", err)
	}

	fields := map[string]interface{}{
		"event_id":  enrichmentMsg.EventID,
		"source":    enrichmentMsg.Source,
		"type":      enrichmentMsg.Type,
		"data":      string(dataJSON),
		"timestamp": enrichmentMsg.Timestamp,
	}

	if err := rb.client.XAdd(ctx, &redis.XAddArgs{Stream: EnrichmentsStream, Values: fields}).Err(); err != nil {
		return fmt.Errorf("failed to publish enrichment: %w", err)
	}

	rb.logger.Printf("Published %d enrichment fields for event %s", len(enrichmentMsg.Data), enrichmentMsg.EventID)
	return nil
}

// CreateConsumerGroup creates a consumer group for a stream if it doesn't exist
func (rb *RedisBus) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	if err := rb.client.XGroupCreateMkStream(ctx, stream, group, "0").Err(); err != nil {
		if !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group %s for stream %s: %w", group, stream, err)
		}
	}

	rb.logger.Printf("Consumer group %s ready for stream %s", group, stream)
	return nil
}

// ReadStream reads messages from a stream using consumer groups. A message
// is acknowledged only when handler returns nil.
func (rb *RedisBus) ReadStream(ctx context.Context, stream, group, consumer string, handler StreamHandler) error {
	if err := rb.CreateConsumerGroup(ctx, stream, group); err != nil {
		return err
	}

	rb.logger.Printf("Starting stream reader for %s (group: %s, consumer: %s)", stream, group, consumer)

	for {
		if ctx.Err() != nil {
			rb.logger.Printf("Stream reader for %s stopping due to context cancellation", stream)
			return ctx.Err()
		}

		result := rb.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    rb.block,
		})
		if err := result.Err(); err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			rb.logger.Printf("Error reading from stream %s: %v", stream, err)
			select {
			case <-ctx.Done():
			case <-time.After(rb.retryDelay):
			}
			continue
		}

		for _, s := range result.Val() {
			for _, message := range s.Messages {
				streamMsg := StreamMessage{ID: message.ID, Fields: make(map[string]string, len(message.Values))}
				for key, value := range message.Values {
					if strValue, ok := value.(string); ok {
						streamMsg.Fields[key] = strValue
					}
				}

				if err := handler(ctx, streamMsg); err != nil {
					rb.logger.Printf("Error processing message %s: %v", message.ID, err)
					continue
				}

				if err := rb.client.XAck(ctx, s.Stream, group, message.ID).Err(); err != nil {
					rb.logger.Printf("Error acknowledging message %s: %v", message.ID, err)
				}
			}
		}
	}
}

// ReadEventsStream reads from the events stream
func (rb *RedisBus) ReadEventsStream(ctx context.Context, group, consumer string, handler EventHandler) error {
	streamHandler := func(ctx context.Context, message StreamMessage) error {
		eventMsg := EventMessage{
			EventID:   message.Fields["event_id"],
			EventType: message.Fields["event_type"],
			RawJSON:   message.Fields["raw_json"],
		}
		if timestamp := message.Fields["timestamp"]; timestamp != "" {
			if ts, err := parseTimestamp(timestamp); err == nil {
				eventMsg.Timestamp = ts
			}
		}
		return handler(ctx, eventMsg)
	}

	return rb.ReadStream(ctx, EventsStream, group, consumer, streamHandler)
}

// Pending returns the number of delivered but unacknowledged messages for group.
func (rb *RedisBus) Pending(ctx context.Context, stream, group string) (int64, error) {
	res, err := rb.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read pending count for %s: %w", stream, err)
	}
	return res.Count, nil
}

// CleanupOldMessages removes old messages from streams to prevent memory issues
func (rb *RedisBus) CleanupOldMessages(ctx context.Context, stream string, maxLen int64) error {
	if err := rb.client.XTrimMaxLen(ctx, stream, maxLen).Err(); err != nil {
		return fmt.Errorf("failed to trim stream %s: %w", stream, err)
	}

	rb.logger.Printf("Trimmed stream %s to max length %d", stream, maxLen)
	return nil
}

// parseTimestamp parses a timestamp string to int64
func parseTimestamp(timestamp string) (int64, error) {
	if timestamp == "" {
		return time.Now().Unix(), nil
	}

	// Numeric epoch, seconds or milliseconds
	if n, err := strconv.ParseInt(timestamp, 10, 64); err == nil {
		if n > 1_000_000_000_000 {
			return n / 1000, nil
		}
		return n, nil
	}

	if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		return ts.Unix(), nil
	}

	return time.Now().Unix(), fmt.Errorf("unable to parse timestamp: %s", timestamp)
}

// HealthCheck performs a health check on the Redis connection
func (rb *RedisBus) HealthCheck(ctx context.Context) error {
	return rb.client.Ping(ctx).Err()
}

// GetStats returns stream lengths.
func (rb *RedisBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"type": "redis"}

	for _, stream := range []string{EventsStream, EnrichmentsStream} {
		n, err := rb.client.XLen(ctx, stream).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read length of %s: %w", stream, err)
		}
		stats[stream+"_length"] = n
	}
	return stats, nil
}
