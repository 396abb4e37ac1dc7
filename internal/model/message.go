package model

import "time"

// InboundMessage is a single user message accepted from the webhook.
type InboundMessage struct {
	BrandKey   string
	UserID     string // external user ID (phone number)
	UserName   string // profile name from the webhook payload, may be empty
	Text       string
	MessageID  string // channel message ID, the dedup key
	ButtonID   string // quick reply ID when the user tapped a button
	ReceivedAt time.Time
}

// Button is a quick reply option attached to an outbound message.
// Titles longer than 20 characters are rejected by the channel.
type Button struct {
	ID    string
	Title string
}

// OutboundMessage is a reply to deliver through the channel.
type OutboundMessage struct {
	UserID  string
	Text    string
	Buttons []Button
}
