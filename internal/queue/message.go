package queue

import (
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// CommandMessage is one queued command awaiting asynchronous processing.
type CommandMessage struct {
	ID        string // Redis stream message ID, set on read
	CommandID int64
	SessionID string
	Utterance string
	TraceID   string
	Attempt   int
	Raw       redis.XMessage
}

// ParseMessage decodes a raw stream entry. A message without command_id or
// utterance is undeliverable and gets acked away by the consumer.
func ParseMessage(msg redis.XMessage) (CommandMessage, error) {
	commandID, err := parseInt64(msg.Values, "command_id")
	if err != nil {
		return CommandMessage{}, err
	}

	utterance, err := parseString(msg.Values, "utterance")
	if err != nil {
		return CommandMessage{}, err
	}
	if utterance == "" {
		return CommandMessage{}, fmt.Errorf("empty utterance")
	}

	sessionID, err := parseOptionalString(msg.Values, "session_id")
	if err != nil {
		return CommandMessage{}, err
	}
	traceID, err := parseOptionalString(msg.Values, "trace_id")
	if err != nil {
		return CommandMessage{}, err
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return CommandMessage{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	return CommandMessage{
		ID:        msg.ID,
		CommandID: commandID,
		SessionID: sessionID,
		Utterance: utterance,
		TraceID:   traceID,
		Attempt:   attempt,
		Raw:       msg,
	}, nil
}

func messageValues(msg CommandMessage, attempt int) map[string]any {
	values := map[string]any{
		"command_id": msg.CommandID,
		"utterance":  msg.Utterance,
		"attempt":    attempt,
	}
	if msg.SessionID != "" {
		values["session_id"] = msg.SessionID
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	str := fmt.Sprint(raw)
	num, err := strconv.ParseInt(str, 10, 64)
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
	str := fmt.Sprint(raw)
	num, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}
