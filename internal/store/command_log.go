package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"lifeboard.app/core/core/db"
	"lifeboard.app/core/internal/domain"
	"lifeboard.app/core/internal/orchestrator"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// CommandLogEntry is one processed command as persisted.
type CommandLogEntry struct {
	CommandID        int64
	SessionID        *string
	Utterance        string
	Status           domain.Status
	EventsProcessed  int
	PrimaryEventType *string
	FailureKind      *string
	Result           json.RawMessage
	DurationMS       int64
	CreatedAt        time.Time
}

// CommandLog persists an audit record per processed command. It implements
// orchestrator.AuditLog.
type CommandLog struct {
	db *db.DB
}

func NewCommandLog(database *db.DB) *CommandLog {
	return &CommandLog{db: database}
}

func (s *CommandLog) RecordCommand(ctx context.Context, rec orchestrator.AuditRecord) error {
	var (
		sessionID   *string
		primaryType *string
		failureKind *string
		resultJSON  []byte
		processed   int
	)

	if rec.SessionID != "" {
		sessionID = &rec.SessionID
	}
	if rec.FailureKind != "" {
		k := string(rec.FailureKind)
		failureKind = &k
	}
	if rec.Result != nil {
		processed = rec.Result.EventsProcessed
		t := string(rec.Result.Classification.PrimaryEventType)
		primaryType = &t

		var err error
		resultJSON, err = json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("marshaling command result: %w", err)
		}
	}

	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO command_log (
			command_id, session_id, utterance, status, events_processed,
			primary_event_type, failure_kind, result, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.CommandID, sessionID, rec.Utterance, string(rec.Status), processed,
		primaryType, failureKind, resultJSON, rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("inserting command log entry: %w", err)
	}
	return nil
}

// GetByCommandID fetches a single audit entry.
func (s *CommandLog) GetByCommandID(ctx context.Context, commandID int64) (*CommandLogEntry, error) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT command_id, session_id, utterance, status, events_processed,
		       primary_event_type, failure_kind, result, duration_ms, created_at
		FROM command_log
		WHERE command_id = $1`, commandID)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching command log entry: %w", err)
	}
	return entry, nil
}

// ListRecent returns the most recent entries, optionally filtered by session.
func (s *CommandLog) ListRecent(ctx context.Context, sessionID string, limit int32) ([]CommandLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows pgx.Rows
		err  error
	)
	if sessionID != "" {
		rows, err = s.db.Pool().Query(ctx, `
			SELECT command_id, session_id, utterance, status, events_processed,
			       primary_event_type, failure_kind, result, duration_ms, created_at
			FROM command_log
			WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2`, sessionID, limit)
	} else {
		rows, err = s.db.Pool().Query(ctx, `
			SELECT command_id, session_id, utterance, status, events_processed,
			       primary_event_type, failure_kind, result, duration_ms, created_at
			FROM command_log
			ORDER BY created_at DESC
			LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing command log entries: %w", err)
	}
	defer rows.Close()

	var entries []CommandLogEntry
	for rows.Next() {
		entry, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning command log entry: %w", scanErr)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (*CommandLogEntry, error) {
	var (
		entry  CommandLogEntry
		status string
	)
	if err := row.Scan(
		&entry.CommandID, &entry.SessionID, &entry.Utterance, &status,
		&entry.EventsProcessed, &entry.PrimaryEventType, &entry.FailureKind,
		&entry.Result, &entry.DurationMS, &entry.CreatedAt,
	); err != nil {
		return nil, err
	}
	entry.Status = domain.Status(status)
	return &entry, nil
}
