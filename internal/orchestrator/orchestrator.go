package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lifeboard.app/core/common/id"
	"lifeboard.app/core/common/logger"
	"lifeboard.app/core/internal/classifier"
	"lifeboard.app/core/internal/dispatch"
	"lifeboard.app/core/internal/domain"
	"lifeboard.app/core/internal/parser"
)

// AuditLog records processed commands for later inspection. Recording is
// best-effort; failures never affect the command result.
type AuditLog interface {
	RecordCommand(ctx context.Context, rec AuditRecord) error
}

// AuditRecord captures one processed command.
type AuditRecord struct {
	CommandID   int64
	SessionID   string
	Utterance   string
	Status      domain.Status
	Result      *domain.CommandResult
	FailureKind domain.ErrorKind
	Duration    time.Duration
}

// Orchestrator is the thin composition layer over the pipeline: parser,
// classifier, dispatcher. Parser failures are non-fatal; classifier failures
// fail the command before any handler runs.
type Orchestrator struct {
	parser     parser.Interpreter
	classifier *classifier.Classifier
	dispatcher *dispatch.Dispatcher
	audit      AuditLog // optional
}

func New(p parser.Interpreter, c *classifier.Classifier, d *dispatch.Dispatcher, audit AuditLog) *Orchestrator {
	return &Orchestrator{
		parser:     p,
		classifier: c,
		dispatcher: d,
		audit:      audit,
	}
}

// Command is one utterance to process. A zero CommandID is assigned on
// entry; the async path pre-assigns it at enqueue time so the caller can
// correlate the audit record.
type Command struct {
	CommandID int64
	Utterance string
	SessionID string
}

// ProcessCommand runs one command through the full pipeline. The returned
// error is always a taxonomy error; on success the CommandResult carries the
// composed status (ok, partial, error).
func (o *Orchestrator) ProcessCommand(ctx context.Context, cmd Command) (*domain.CommandResult, error) {
	commandID := cmd.CommandID
	if commandID == 0 {
		commandID = id.New()
	}
	utterance, sessionID := cmd.Utterance, cmd.SessionID
	start := time.Now()

	fields := logger.LogFields{
		CommandID: logger.Ptr(commandID),
		Component: "core.orchestrator",
	}
	if sessionID != "" {
		fields.SessionID = logger.Ptr(sessionID)
	}
	ctx = logger.WithLogFields(ctx, fields)

	slog.InfoContext(ctx, "processing command",
		"utterance", logger.Truncate(utterance, 200))

	var diags []string
	po, err := o.parser.Interpret(ctx, utterance)
	if err != nil {
		kind := domain.KindOf(err)
		if kind == domain.KindCancelled {
			return nil, err
		}
		if !domain.IsParserKind(kind) {
			// Defensive: anything unexpected from the parser degrades to
			// unavailable rather than failing the command.
			kind = domain.KindParserUnavailable
		}
		slog.WarnContext(ctx, "parser failed, classifying from keywords only",
			"error_kind", kind, "error", err)
		diags = append(diags, fmt.Sprintf("parser failed: %s", kind))
		po = nil
	}

	cr, err := o.classifier.Classify(utterance, po)
	if err != nil {
		slog.InfoContext(ctx, "classification failed",
			"error_kind", domain.KindOf(err), "error", err)
		o.record(ctx, AuditRecord{
			CommandID:   commandID,
			SessionID:   sessionID,
			Utterance:   utterance,
			Status:      domain.StatusError,
			FailureKind: domain.KindOf(err),
			Duration:    time.Since(start),
		})
		return nil, err
	}
	cr.Diagnostics = append(diags, cr.Diagnostics...)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventType: logger.Ptr(string(cr.Primary.EventType)),
		Module:    logger.Ptr(string(cr.Primary.Module)),
	})

	result := o.dispatcher.Dispatch(ctx, cr)
	result.CommandID = commandID

	o.record(ctx, AuditRecord{
		CommandID: commandID,
		SessionID: sessionID,
		Utterance: utterance,
		Status:    result.Status,
		Result:    result,
		Duration:  time.Since(start),
	})

	return result, nil
}

func (o *Orchestrator) record(ctx context.Context, rec AuditRecord) {
	if o.audit == nil {
		return
	}
	if err := o.audit.RecordCommand(ctx, rec); err != nil {
		slog.WarnContext(ctx, "failed to record command audit entry", "error", err)
	}
}
