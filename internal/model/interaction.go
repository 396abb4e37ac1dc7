package model

import "time"

// InteractionKind classifies what the assistant did in a turn.
type InteractionKind string

const (
	InteractionRAGAnswer       InteractionKind = "rag_answer"
	InteractionFallback        InteractionKind = "fallback"
	InteractionSchedulingOffer InteractionKind = "scheduling_offer"
	InteractionBooking         InteractionKind = "booking"
	InteractionOptOut          InteractionKind = "opt_out"
	InteractionOptIn           InteractionKind = "opt_in"
	InteractionReset           InteractionKind = "reset"
	InteractionFarewell        InteractionKind = "farewell"
)

// Interaction is an audit row recorded for each answered turn.
type Interaction struct {
	ID        int64
	BrandID   int64
	UserID    string
	Kind      InteractionKind
	UserText  string
	ReplyText string
	CreatedAt time.Time
}
