package events

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher that logs every event at info level.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

var _ Publisher = (*LogPublisher)(nil)

// Publish logs the event.
func (p *LogPublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	p.logger.Info("event published",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.ByteString("payload", payload),
	)
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }
