package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Handlers and workers enrich the context once; every slog call downstream picks the
// fields up without repeating them.
type LogFields struct {
	SessionKey *string // Mailbox session key, logged redacted
	MessageID  *int64  // Chat or mailbox message ID
	ChatID     *string // Durable log chat ID
	TaskID     *string // Redis stream entry ID of a dispatch task
	UserID     *string // External user ID on the callback path
	Component  string  // Component name (OTel semantic convention style, e.g., "relay.mailbox.redis")
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

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.SessionKey != nil {
		result.SessionKey = new.SessionKey
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.ChatID != nil {
		result.ChatID = new.ChatID
	}
	if new.TaskID != nil {
		result.TaskID = new.TaskID
	}
	if new.UserID != nil {
		result.UserID = new.UserID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{MessageID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// RedactKey keeps enough of a session key to correlate log lines without
// making the full key recoverable from logs.
func RedactKey(key string) string {
	const visible = 8
	if len(key) <= visible {
		return "***"
	}
	return key[:visible] + "…"
}
