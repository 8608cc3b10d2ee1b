// Package broadcast delivers finalized provenance records to display and
// notification consumers. Transport to end clients is out of scope; the
// publishers here hand records to whatever fans them out.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/witnesslabs/witness/pkg/provenance"
)

// Publisher announces finalized records.
type Publisher interface {
	Publish(ctx context.Context, res *provenance.CreateResult) error
}

// DefaultChannel is the Redis pub/sub channel for finalized records.
const DefaultChannel = "witness.events"

// RedisPublisher publishes records as JSON on a Redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(addr, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, res *provenance.CreateResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("broadcast: marshal failed: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("broadcast: redis publish failed: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// LogPublisher writes finalized records to the structured log. Used when no
// Redis endpoint is configured; a lost broadcast never blocks creation.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, res *provenance.CreateResult) error {
	p.logger.Info("event finalized",
		"event_id", res.Record.EventID,
		"position", res.Position,
		"current_hash", res.CurrentHash,
		"signed", res.Signed,
		"trust", res.Record.SignatureMetadata.Trust)
	return nil
}
