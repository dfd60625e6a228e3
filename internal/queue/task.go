package queue

import (
	"fmt"
	"strconv"
)

// DispatchTask asks the worker to hand one outbound message to the workflow engine.
type DispatchTask struct {
	MessageID  int64
	SessionKey string
	Body       string
	UserID     string
	Module     string
	TraceID    string
	Attempt    int
}

func (t DispatchTask) values(attempt int) map[string]any {
	if attempt <= 0 {
		attempt = 1
	}
	values := map[string]any{
		"message_id":  strconv.FormatInt(t.MessageID, 10),
		"session_key": t.SessionKey,
		"body":        t.Body,
		"attempt":     attempt,
	}
	if t.UserID != "" {
		values["user_id"] = t.UserID
	}
	if t.Module != "" {
		values["module"] = t.Module
	}
	if t.TraceID != "" {
		values["trace_id"] = t.TraceID
	}
	return values
}

func parseTask(values map[string]any) (DispatchTask, error) {
	messageID, err := parseInt64(values, "message_id")
	if err != nil {
		return DispatchTask{}, err
	}
	sessionKey, err := parseString(values, "session_key")
	if err != nil {
		return DispatchTask{}, err
	}
	if sessionKey == "" {
		return DispatchTask{}, fmt.Errorf("empty session_key")
	}
	body, err := parseString(values, "body")
	if err != nil {
		return DispatchTask{}, err
	}
	attempt, err := parseOptionalInt(values, "attempt")
	if err != nil {
		return DispatchTask{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	return DispatchTask{
		MessageID:  messageID,
		SessionKey: sessionKey,
		Body:       body,
		UserID:     parseOptionalString(values, "user_id"),
		Module:     parseOptionalString(values, "module"),
		TraceID:    parseOptionalString(values, "trace_id"),
		Attempt:    attempt,
	}, nil
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}
