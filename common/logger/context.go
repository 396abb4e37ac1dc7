package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where conversation
// context (brand_key, user_id, etc.) is automatically included in all log statements.
type LogFields struct {
	BrandKey  *string // Brand the conversation belongs to
	UserID    *string // External user ID (phone number)
	MessageID *string // Channel message ID of the inbound message
	StreamID  *string // Redis stream entry ID
	Stage     *string // Dialogue stage at the start of the turn
	Component string  // Component name (OTel semantic convention style, e.g., "conversa.service.orchestrator")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.BrandKey != nil {
		result.BrandKey = new.BrandKey
	}
	if new.UserID != nil {
		result.UserID = new.UserID
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.StreamID != nil {
		result.StreamID = new.StreamID
	}
	if new.Stage != nil {
		result.Stage = new.Stage
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{BrandKey: logger.Ptr(key)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like user messages or error bodies.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
