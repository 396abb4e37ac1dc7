package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vozlab.mx/conversa/common/logger"
	"vozlab.mx/conversa/internal/brand"
	"vozlab.mx/conversa/internal/conversation"
	"vozlab.mx/conversa/internal/queue"
)

// IngestStatus tells the webhook handler what happened to a delivery.
type IngestStatus string

const (
	IngestAccepted  IngestStatus = "accepted"  // enqueued for the worker
	IngestDuplicate IngestStatus = "duplicate" // message ID already processed
	IngestSkipped   IngestStatus = "skipped"   // nothing processable in the delivery
)

type IngestParams struct {
	BrandKey   string
	UserID     string
	UserName   string
	Text       string
	MessageID  string
	ButtonID   string
	ReceivedAt time.Time
	TraceID    *string
}

type IngestResult struct {
	Status IngestStatus
}

// IngestService accepts webhook deliveries and hands them to the queue.
// It never blocks on turn processing: the webhook must answer fast or the
// channel retries the delivery.
type IngestService interface {
	Ingest(ctx context.Context, params IngestParams) (*IngestResult, error)
}

type ingestService struct {
	registry *brand.Registry
	dedup    conversation.Dedup
	producer queue.Producer
}

func NewIngestService(registry *brand.Registry, dedup conversation.Dedup, producer queue.Producer) IngestService {
	return &ingestService{
		registry: registry,
		dedup:    dedup,
		producer: producer,
	}
}

func (s *ingestService) Ingest(ctx context.Context, params IngestParams) (*IngestResult, error) {
	if params.BrandKey == "" || params.UserID == "" || params.MessageID == "" {
		return nil, fmt.Errorf("brand key, user ID, and message ID are required")
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		BrandKey:  logger.Ptr(params.BrandKey),
		UserID:    logger.Ptr(params.UserID),
		MessageID: logger.Ptr(params.MessageID),
		Component: "conversa.service.ingest",
	})

	// Status callbacks and media-only deliveries carry no processable
	// content.
	if params.Text == "" && params.ButtonID == "" {
		slog.InfoContext(ctx, "delivery without text skipped")
		return &IngestResult{Status: IngestSkipped}, nil
	}

	if _, err := s.registry.Get(params.BrandKey); err != nil {
		if errors.Is(err, brand.ErrUnknownBrand) {
			slog.WarnContext(ctx, "delivery for unknown brand skipped")
			return &IngestResult{Status: IngestSkipped}, nil
		}
		return nil, fmt.Errorf("resolving brand: %w", err)
	}

	// Cheap peek only: the worker owns the authoritative claim, so a
	// failed peek degrades to an enqueue rather than a lost message.
	seen, err := s.dedup.Seen(ctx, params.MessageID)
	if err != nil {
		slog.WarnContext(ctx, "dedup peek failed, enqueueing anyway", "error", err)
	} else if seen {
		slog.InfoContext(ctx, "duplicate delivery suppressed at ingest")
		return &IngestResult{Status: IngestDuplicate}, nil
	}

	task := queue.TurnTask{
		BrandKey:   params.BrandKey,
		UserID:     params.UserID,
		UserName:   params.UserName,
		MessageID:  params.MessageID,
		Text:       params.Text,
		ButtonID:   params.ButtonID,
		ReceivedAt: params.ReceivedAt,
		TraceID:    params.TraceID,
		Attempt:    1,
	}
	if err := s.producer.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueueing turn: %w", err)
	}

	return &IngestResult{Status: IngestAccepted}, nil
}
