package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"vozlab.mx/conversa/internal/model"
)

const (
	maxButtons     = 3
	maxButtonTitle = 20 // channel rejects longer titles
)

// ErrTokenExpired marks a send rejected because the channel access token is
// no longer valid. The worker logs these loudly since every send will fail
// until the token is rotated.
var ErrTokenExpired = errors.New("channel access token expired")

// Client delivers outbound messages through the messaging channel's Graph
// API.
type Client interface {
	SendText(ctx context.Context, to, text string) error
	SendButtons(ctx context.Context, to, text string, buttons []model.Button) error
}

type Config struct {
	BaseURL       string
	AccessToken   string
	PhoneNumberID string
	Timeout       time.Duration
}

type client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("channel base URL is required")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("channel access token is required")
	}
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("channel phone number ID is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *client) SendText(ctx context.Context, to, text string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                normalizeRecipient(to),
		"type":              "text",
		"text": map[string]any{
			"preview_url": false,
			"body":        text,
		},
	}
	return c.send(ctx, payload)
}

func (c *client) SendButtons(ctx context.Context, to, text string, buttons []model.Button) error {
	if len(buttons) == 0 {
		return c.SendText(ctx, to, text)
	}
	if len(buttons) > maxButtons {
		buttons = buttons[:maxButtons]
	}

	replies := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		replies = append(replies, map[string]any{
			"type": "reply",
			"reply": map[string]any{
				"id":    b.ID,
				"title": truncateTitle(b.Title),
			},
		})
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                normalizeRecipient(to),
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]any{"text": text},
			"action": map[string]any{"buttons": replies},
		},
	}
	return c.send(ctx, payload)
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *client) send(ctx context.Context, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.cfg.BaseURL, c.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling channel api: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err != nil && resp.StatusCode < 300 {
		return fmt.Errorf("decoding channel response: %w", err)
	}

	if resp.StatusCode >= 300 || parsed.Error != nil {
		if parsed.Error != nil {
			if parsed.Error.Code == 190 {
				return fmt.Errorf("channel api code 190 (%s): %w", parsed.Error.Message, ErrTokenExpired)
			}
			return fmt.Errorf("channel api code %d: %s", parsed.Error.Code, parsed.Error.Message)
		}
		return fmt.Errorf("channel api status %d: %s", resp.StatusCode, body)
	}

	if len(parsed.Messages) > 0 {
		slog.DebugContext(ctx, "message delivered to channel", "channel_message_id", parsed.Messages[0].ID)
	}
	return nil
}

// normalizeRecipient strips everything but digits; the channel rejects
// "+"-prefixed or formatted numbers.
func normalizeRecipient(to string) string {
	var b strings.Builder
	b.Grow(len(to))
	for _, r := range to {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= maxButtonTitle {
		return title
	}
	return string(runes[:maxButtonTitle])
}
