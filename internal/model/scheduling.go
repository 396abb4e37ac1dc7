package model

import "time"

// Slot is a bookable window offered to the user.
type Slot struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"tz,omitempty"`
}

// Booking status values.
type BookingStatus string

const (
	BookingStatusScheduled BookingStatus = "scheduled"
	BookingStatusCanceled  BookingStatus = "canceled"
)

// Booking is a confirmed calendar event, persisted after the calendar API
// acknowledges creation.
type Booking struct {
	ID         int64
	BrandID    int64
	UserID     string
	EventURI   string // calendar event resource
	InviteeURI string // unique per invitee, guards duplicate rows
	Start      time.Time
	End        time.Time
	Status     BookingStatus
	CreatedAt  time.Time
}
