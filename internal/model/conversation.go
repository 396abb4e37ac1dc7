package model

import "time"

// Stage identifies where a conversation is in the scheduling flow.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageOffering   Stage = "offering_slots"
	StageConfirming Stage = "awaiting_confirmation"
	StageBooked     Stage = "booked"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single message in the conversation history, most recent last.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// Conversation is the per-(brand,user) dialogue state. It is only ever
// mutated while the turn lock for its key is held, so no internal locking.
type Conversation struct {
	BrandKey     string    `json:"brand_key"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name,omitempty"`
	History      []Turn    `json:"history"`
	Stage        Stage     `json:"stage"`
	OfferedSlots []Slot    `json:"offered_slots,omitempty"`
	Retries      int       `json:"retries"` // invalid confirmation attempts so far
	Greeted      bool      `json:"greeted"` // first reply already sent
	Subscribed   bool      `json:"subscribed"`
	LastActivity time.Time `json:"last_activity"`
}

// NewConversation returns a fresh idle conversation for the given key.
func NewConversation(brandKey, userID string) *Conversation {
	return &Conversation{
		BrandKey:   brandKey,
		UserID:     userID,
		History:    []Turn{},
		Stage:      StageIdle,
		Subscribed: true,
	}
}

// Key returns the serialization key shared by the lock and the store.
func (c *Conversation) Key() string {
	return c.BrandKey + ":" + c.UserID
}

// Append records a turn at the end of the history.
func (c *Conversation) Append(role, content string, at time.Time) {
	c.History = append(c.History, Turn{Role: role, Content: content, Timestamp: at})
}

// TrimHistory drops the oldest entries so at most maxMessages remain.
func (c *Conversation) TrimHistory(maxMessages int) {
	if maxMessages <= 0 || len(c.History) <= maxMessages {
		return
	}
	c.History = c.History[len(c.History)-maxMessages:]
}

// ResetFlow clears scheduling state back to idle. History is left alone.
func (c *Conversation) ResetFlow() {
	c.Stage = StageIdle
	c.OfferedSlots = nil
	c.Retries = 0
}
