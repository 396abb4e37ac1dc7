package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"vozlab.mx/conversa/common/logger"
	"vozlab.mx/conversa/internal/channel"
	"vozlab.mx/conversa/internal/model"
	"vozlab.mx/conversa/internal/queue"
)

type Config struct {
	MaxAttempts int
}

type Worker struct {
	consumer  Consumer
	processor TurnProcessor
	channel   channel.Client
	cfg       Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, processor TurnProcessor, channelClient channel.Client, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Worker{
		consumer:  consumer,
		processor: processor,
		channel:   channelClient,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	// Stream order plus the per-conversation lock keeps same-user messages
	// in receipt order even though each turn is independent here.
	for _, msg := range messages {
		if err := w.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "turn processing failed",
				"error", err,
				"stream_id", msg.ID,
				"message_id", msg.MessageID)
			w.handleFailedMessage(ctx, msg, err)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in turn processing",
				"panic", r,
				"stream_id", msg.ID,
				"message_id", msg.MessageID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// Exported so it can be reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_turn",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		BrandKey:  &msg.BrandKey,
		UserID:    &msg.UserID,
		MessageID: &msg.MessageID,
		StreamID:  &msg.ID,
		Component: "conversa.worker",
	})

	slog.InfoContext(ctx, "processing turn",
		"attempt", msg.Attempt,
		"text", logger.Truncate(msg.Text, 120))

	reply, err := w.processor.Handle(ctx, model.InboundMessage{
		BrandKey:   msg.BrandKey,
		UserID:     msg.UserID,
		UserName:   msg.UserName,
		Text:       msg.Text,
		MessageID:  msg.MessageID,
		ButtonID:   msg.ButtonID,
		ReceivedAt: msg.ReceivedAt,
	})
	if err != nil {
		sc.RecordError(err)
		return fmt.Errorf("handling turn: %w", err)
	}

	// State is committed at this point. Delivery is best effort: a replayed
	// message would be suppressed as a duplicate, so failing the turn here
	// could never resend the reply anyway.
	if reply != nil {
		w.deliverReply(ctx, reply)
	}

	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Log but don't fail - message will be reclaimed but that's safe
		slog.WarnContext(ctx, "failed to ACK message",
			"error", err,
			"stream_id", msg.ID)
	}

	return nil
}

func (w *Worker) deliverReply(ctx context.Context, reply *model.OutboundMessage) {
	var err error
	if len(reply.Buttons) > 0 {
		err = w.channel.SendButtons(ctx, reply.UserID, reply.Text, reply.Buttons)
	} else {
		err = w.channel.SendText(ctx, reply.UserID, reply.Text)
	}
	if err == nil {
		return
	}

	if errors.Is(err, channel.ErrTokenExpired) {
		slog.ErrorContext(ctx, "channel access token expired, all sends will fail until rotated", "error", err)
		return
	}
	slog.ErrorContext(ctx, "reply delivery failed after state committed", "error", err)
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"stream_id", msg.ID,
			"message_id", msg.MessageID,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message",
		"stream_id", msg.ID,
		"message_id", msg.MessageID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
