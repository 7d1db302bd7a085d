package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"lifeboard.app/core/common/logger"
	"lifeboard.app/core/internal/domain"
	"lifeboard.app/core/internal/orchestrator"
	"lifeboard.app/core/internal/queue"
)

type Config struct {
	MaxAttempts int
}

// Worker consumes command messages from the stream and runs each one
// through the orchestrator pipeline.
type Worker struct {
	consumer     *queue.RedisConsumer
	orchestrator *orchestrator.Orchestrator
	cfg          Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer *queue.RedisConsumer, o *orchestrator.Orchestrator, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Worker{
		consumer:     consumer,
		orchestrator: o,
		cfg:          cfg,
		stopCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
	}
}

// Run starts the consume loop. Blocks until Stop() is called or the
// context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "core.worker",
	})

	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started", "max_attempts", w.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return
		default:
		}

		if err := w.processOneBatch(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.ErrorContext(ctx, "batch processing error", "error", err)
			// Back off so a dead Redis doesn't turn this into a busy loop.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			}
		}
	}
}

// Stop signals the worker to stop gracefully and waits for the loop to exit.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading batch: %w", err)
	}

	for _, msg := range messages {
		w.processMessageSafe(ctx, msg)
	}

	return nil
}

// processMessageSafe wraps ProcessMessage with panic recovery so a single
// poisonous message cannot take the worker down.
func (w *Worker) processMessageSafe(ctx context.Context, msg queue.CommandMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic while processing message",
				"panic", r,
				"message_id", msg.ID,
				"command_id", msg.CommandID)
			w.handleFailedMessage(ctx, msg, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := w.ProcessMessage(ctx, msg); err != nil {
		w.handleFailedMessage(ctx, msg, err.Error())
	}
}

// ProcessMessage runs a single command message through the orchestrator.
// Classification rejections are terminal: the pipeline is deterministic for
// a given utterance, so retrying cannot change the outcome and the message
// is acknowledged. Only infrastructure-level failures propagate to the
// caller for requeue handling.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.CommandMessage) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID: logger.Ptr(msg.ID),
		CommandID: logger.Ptr(msg.CommandID),
	})

	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_command",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	slog.InfoContext(ctx, "processing queued command", "attempt", msg.Attempt)

	start := time.Now()
	result, err := w.orchestrator.ProcessCommand(ctx, orchestrator.Command{
		CommandID: msg.CommandID,
		Utterance: msg.Utterance,
		SessionID: msg.SessionID,
	})
	if err != nil {
		sc.RecordError(err)
		kind := domain.KindOf(err)
		switch kind {
		case domain.KindUnclassifiable, domain.KindValidation, domain.KindLowConfidence:
			// Deterministic rejection. The audit log already has the record;
			// requeueing would just fail the same way again.
			slog.InfoContext(ctx, "command rejected, acknowledging",
				"error_kind", kind, "error", err)
			return w.consumer.Ack(ctx, msg)
		default:
			return fmt.Errorf("processing command: %w", err)
		}
	}

	slog.InfoContext(ctx, "queued command processed",
		"status", result.Status,
		"events_processed", result.EventsProcessed,
		"duration_ms", time.Since(start).Milliseconds())

	return w.consumer.Ack(ctx, msg)
}

// handleFailedMessage requeues a failed message or sends it to the DLQ once
// the attempt budget is exhausted.
func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.CommandMessage, errMsg string) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "message exhausted retry attempts, sending to DLQ",
			"message_id", msg.ID,
			"command_id", msg.CommandID,
			"attempt", msg.Attempt,
			"error", errMsg)
		if err := w.consumer.SendDLQ(ctx, msg, errMsg); err != nil {
			slog.ErrorContext(ctx, "failed to send message to DLQ",
				"error", err, "message_id", msg.ID)
		}
		return
	}

	slog.WarnContext(ctx, "message failed, requeueing",
		"message_id", msg.ID,
		"command_id", msg.CommandID,
		"attempt", msg.Attempt,
		"error", errMsg)
	if err := w.consumer.Requeue(ctx, msg, errMsg); err != nil {
		slog.ErrorContext(ctx, "failed to requeue message",
			"error", err, "message_id", msg.ID)
	}
}
