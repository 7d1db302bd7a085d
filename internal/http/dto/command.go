package dto

import (
	"encoding/json"
	"time"
)

type SubmitCommandRequest struct {
	Utterance string `json:"utterance" binding:"required"`
	SessionID string `json:"session_id,omitempty"`
}

type EnqueueCommandResponse struct {
	CommandID int64 `json:"command_id"`
	Enqueued  bool  `json:"enqueued"`
}

// CommandErrorResponse reports a classification rejection.
type CommandErrorResponse struct {
	ErrorKind     string   `json:"error_kind"`
	Message       string   `json:"message"`
	EventType     string   `json:"event_type,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

type CommandLogEntryResponse struct {
	CommandID        int64           `json:"command_id"`
	SessionID        *string         `json:"session_id,omitempty"`
	Utterance        string          `json:"utterance"`
	Status           string          `json:"status"`
	EventsProcessed  int             `json:"events_processed"`
	PrimaryEventType *string         `json:"primary_event_type,omitempty"`
	FailureKind      *string         `json:"failure_kind,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	DurationMS       int64           `json:"duration_ms"`
	CreatedAt        time.Time       `json:"created_at"`
}
