package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"lifeboard.app/core/common/id"
	"lifeboard.app/core/internal/domain"
	"lifeboard.app/core/internal/http/dto"
	"lifeboard.app/core/internal/orchestrator"
	"lifeboard.app/core/internal/queue"
	"lifeboard.app/core/internal/store"
)

// CommandProcessor runs one command through the pipeline. Satisfied by
// orchestrator.Orchestrator.
type CommandProcessor interface {
	ProcessCommand(ctx context.Context, cmd orchestrator.Command) (*domain.CommandResult, error)
}

// AuditReader reads back processed commands. Satisfied by store.CommandLog.
type AuditReader interface {
	GetByCommandID(ctx context.Context, commandID int64) (*store.CommandLogEntry, error)
	ListRecent(ctx context.Context, sessionID string, limit int32) ([]store.CommandLogEntry, error)
}

// CommandHandler serves the command endpoints. Submit runs the pipeline
// inline; Enqueue hands the command to the worker via the stream.
type CommandHandler struct {
	orchestrator CommandProcessor
	producer     queue.Producer
	log          AuditReader
	traceHeader  string
}

func NewCommandHandler(o CommandProcessor, producer queue.Producer, log AuditReader, traceHeader string) *CommandHandler {
	return &CommandHandler{
		orchestrator: o,
		producer:     producer,
		log:          log,
		traceHeader:  traceHeader,
	}
}

func (h *CommandHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SubmitCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid command request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.orchestrator.ProcessCommand(ctx, orchestrator.Command{
		Utterance: req.Utterance,
		SessionID: req.SessionID,
	})
	if err != nil {
		h.writeCommandError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *CommandHandler) Enqueue(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SubmitCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid command request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	traceID := c.GetHeader(h.traceHeader)
	if traceID == "" {
		if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
			traceID = spanCtx.TraceID().String()
		}
	}

	commandID := id.New()
	msg := queue.CommandMessage{
		CommandID: commandID,
		SessionID: req.SessionID,
		Utterance: req.Utterance,
		TraceID:   traceID,
	}
	if err := h.producer.Enqueue(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue command", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue command"})
		return
	}

	c.JSON(http.StatusAccepted, dto.EnqueueCommandResponse{
		CommandID: commandID,
		Enqueued:  true,
	})
}

func (h *CommandHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	commandID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid command id"})
		return
	}

	entry, err := h.log.GetByCommandID(ctx, commandID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "command not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to fetch command", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch command"})
		return
	}

	c.JSON(http.StatusOK, toEntryResponse(entry))
}

func (h *CommandHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var limit int32 = 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed <= 0 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = int32(parsed)
	}

	entries, err := h.log.ListRecent(ctx, c.Query("session_id"), limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list commands", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list commands"})
		return
	}

	responses := make([]dto.CommandLogEntryResponse, 0, len(entries))
	for i := range entries {
		responses = append(responses, toEntryResponse(&entries[i]))
	}
	c.JSON(http.StatusOK, gin.H{"commands": responses})
}

// writeCommandError maps the taxonomy onto HTTP status codes. Classification
// rejections are client errors; everything else is a server fault.
func (h *CommandHandler) writeCommandError(c *gin.Context, err error) {
	ctx := c.Request.Context()

	resp := dto.CommandErrorResponse{
		ErrorKind: string(domain.KindOf(err)),
		Message:   err.Error(),
	}
	var derr *domain.Error
	if errors.As(err, &derr) {
		resp.EventType = string(derr.EventType)
		resp.MissingFields = derr.Missing
	}

	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindUnclassifiable, domain.KindLowConfidence:
		c.JSON(http.StatusUnprocessableEntity, resp)
	case domain.KindCancelled:
		c.JSON(http.StatusRequestTimeout, resp)
	default:
		slog.ErrorContext(ctx, "command processing failed", "error", err)
		c.JSON(http.StatusInternalServerError, resp)
	}
}

func toEntryResponse(entry *store.CommandLogEntry) dto.CommandLogEntryResponse {
	return dto.CommandLogEntryResponse{
		CommandID:        entry.CommandID,
		SessionID:        entry.SessionID,
		Utterance:        entry.Utterance,
		Status:           string(entry.Status),
		EventsProcessed:  entry.EventsProcessed,
		PrimaryEventType: entry.PrimaryEventType,
		FailureKind:      entry.FailureKind,
		Result:           entry.Result,
		DurationMS:       entry.DurationMS,
		CreatedAt:        entry.CreatedAt,
	}
}
