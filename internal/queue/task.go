package queue

import "time"

// TurnTask is one inbound message waiting to be orchestrated. The webhook
// side enqueues these; the worker consumes them.
type TurnTask struct {
	BrandKey   string
	UserID     string
	UserName   string
	MessageID  string // channel message identifier, drives deduplication
	Text       string
	ButtonID   string // set when the user tapped a quick-reply button
	ReceivedAt time.Time
	TraceID    *string
	Attempt    int
}
