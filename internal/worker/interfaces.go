package worker

import (
	"context"

	"vozlab.mx/conversa/internal/model"
	"vozlab.mx/conversa/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// TurnProcessor abstracts the orchestrator for testability. A nil reply
// means the turn produced nothing to send (duplicate, unknown brand,
// opted-out user).
type TurnProcessor interface {
	Handle(ctx context.Context, msg model.InboundMessage) (*model.OutboundMessage, error)
}
