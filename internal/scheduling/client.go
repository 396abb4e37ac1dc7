package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"vozlab.mx/conversa/internal/model"
)

// Attendee is the person a booking is created for. Email may be synthesized
// from the channel identifier when the channel does not collect one.
type Attendee struct {
	Name  string
	Email string
	Phone string
}

// Client wraps the external calendar API. Book is intentionally not
// retried: invitee creation is not idempotent and a duplicate booking is
// worse than a surfaced failure.
type Client interface {
	ListSlots(ctx context.Context, eventTypeURI string, daysAhead int, tz string) ([]model.Slot, error)
	Book(ctx context.Context, eventTypeURI string, slot model.Slot, attendee Attendee) (*model.Booking, error)
}

type Config struct {
	BaseURL      string
	Token        string
	EventTypeURI string // default event type when the brand has none
	SlotDuration time.Duration
	Timeout      time.Duration
}

type client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("calendar base URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("calendar API token is required")
	}
	if cfg.SlotDuration <= 0 {
		cfg.SlotDuration = 30 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type availableTimesResponse struct {
	Collection []struct {
		Status    string    `json:"status"`
		StartTime time.Time `json:"start_time"`
	} `json:"collection"`
}

func (c *client) ListSlots(ctx context.Context, eventTypeURI string, daysAhead int, tz string) ([]model.Slot, error) {
	if eventTypeURI == "" {
		eventTypeURI = c.cfg.EventTypeURI
	}
	if eventTypeURI == "" {
		return nil, fmt.Errorf("no event type configured")
	}
	if daysAhead <= 0 {
		daysAhead = 7
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
	}

	now := time.Now().In(loc)
	q := url.Values{}
	q.Set("event_type", eventTypeURI)
	q.Set("start_time", now.UTC().Format(time.RFC3339))
	q.Set("end_time", now.AddDate(0, 0, daysAhead).UTC().Format(time.RFC3339))

	var parsed availableTimesResponse
	if err := c.do(ctx, http.MethodGet, "/event_type_available_times?"+q.Encode(), nil, &parsed); err != nil {
		return nil, fmt.Errorf("listing available times: %w", err)
	}

	slots := make([]model.Slot, 0, len(parsed.Collection))
	for _, item := range parsed.Collection {
		if item.Status != "available" {
			continue
		}
		slots = append(slots, model.Slot{
			Start:    item.StartTime,
			End:      item.StartTime.Add(c.cfg.SlotDuration),
			Timezone: tz,
		})
	}
	return slots, nil
}

type bookRequest struct {
	EventType string      `json:"event_type"`
	StartTime time.Time   `json:"start_time"`
	Timezone  string      `json:"timezone"`
	Invitee   bookInvitee `json:"invitee"`
}

type bookInvitee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone_number,omitempty"`
}

type bookResponse struct {
	Resource struct {
		URI       string    `json:"uri"`
		Event     string    `json:"event"`
		StartTime time.Time `json:"start_time"`
		EndTime   time.Time `json:"end_time"`
	} `json:"resource"`
}

func (c *client) Book(ctx context.Context, eventTypeURI string, slot model.Slot, attendee Attendee) (*model.Booking, error) {
	if eventTypeURI == "" {
		eventTypeURI = c.cfg.EventTypeURI
	}
	if attendee.Email == "" {
		return nil, fmt.Errorf("attendee email is required")
	}

	req := bookRequest{
		EventType: eventTypeURI,
		StartTime: slot.Start.UTC(),
		Timezone:  slot.Timezone,
		Invitee: bookInvitee{
			Name:  attendee.Name,
			Email: attendee.Email,
			Phone: attendee.Phone,
		},
	}

	var parsed bookResponse
	if err := c.do(ctx, http.MethodPost, "/invitees", req, &parsed); err != nil {
		return nil, fmt.Errorf("creating booking: %w", err)
	}

	end := parsed.Resource.EndTime
	if end.IsZero() {
		end = slot.End
	}
	return &model.Booking{
		EventURI:   parsed.Resource.Event,
		InviteeURI: parsed.Resource.URI,
		Start:      parsed.Resource.StartTime,
		End:        end,
		Status:     model.BookingStatusScheduled,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, payload)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling calendar api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("calendar api status %d: %s", resp.StatusCode, detail)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
