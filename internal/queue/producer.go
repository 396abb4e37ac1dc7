package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	Enqueue(ctx context.Context, task TurnTask) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, task TurnTask) error {
	attempt := task.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"brand_key":  task.BrandKey,
		"user_id":    task.UserID,
		"message_id": task.MessageID,
		"attempt":    attempt,
	}
	if task.Text != "" {
		fields["text"] = task.Text
	}
	if task.ButtonID != "" {
		fields["button_id"] = task.ButtonID
	}
	if task.UserName != "" {
		fields["user_name"] = task.UserName
	}
	if !task.ReceivedAt.IsZero() {
		fields["received_at"] = task.ReceivedAt.UTC().Unix()
	}
	if task.TraceID != nil && *task.TraceID != "" {
		fields["trace_id"] = *task.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue turn: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued turn", "brand_key", task.BrandKey, "user_id", task.UserID, "message_id", task.MessageID, "attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
