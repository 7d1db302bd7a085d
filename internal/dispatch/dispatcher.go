package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"lifeboard.app/core/internal/domain"
)

// minHandlerBudget is the floor for a per-handler deadline slice.
const minHandlerBudget = 50 * time.Millisecond

// Config tunes retry and fan-out behavior. Zero values fall back to
// defaults.
type Config struct {
	PrimaryRetry   int           // default 2
	SecondaryRetry int           // default 1
	BackoffInitial time.Duration // default 100ms
	BackoffFactor  float64       // default 2.0
	BackoffMax     time.Duration // default 1s
	MaxParallel    int64         // default 8, shared across commands
}

func (c Config) withDefaults() Config {
	if c.PrimaryRetry == 0 {
		c.PrimaryRetry = 2
	}
	if c.SecondaryRetry == 0 {
		c.SecondaryRetry = 1
	}
	if c.BackoffInitial == 0 {
		c.BackoffInitial = 100 * time.Millisecond
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = 2.0
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = time.Second
	}
	if c.MaxParallel == 0 {
		c.MaxParallel = 8
	}
	return c
}

// Dispatcher routes classified events to their module handlers: primary
// synchronously first, then secondaries fanned out concurrently under a
// parallelism bound shared across all in-flight commands.
type Dispatcher struct {
	registry *Registry
	sem      *semaphore.Weighted
	cfg      Config
}

func New(registry *Registry, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		registry: registry,
		sem:      semaphore.NewWeighted(cfg.MaxParallel),
		cfg:      cfg,
	}
}

// Dispatch executes a classification. The primary handler runs first and
// observes all its effects before any secondary starts; a primary failure
// skips fan-out entirely. Secondary outcomes keep declaration order
// regardless of completion order.
func (d *Dispatcher) Dispatch(ctx context.Context, cr *domain.ClassificationResult) *domain.CommandResult {
	tasks := 1 + len(cr.Secondaries)

	primary := cr.Primary
	primary.EventID = uuid.New()

	result := &domain.CommandResult{
		Classification: domain.Summarize(*cr),
		Diagnostics:    append([]string{}, cr.Diagnostics...),
	}

	result.Primary = d.invoke(ctx, primary, d.cfg.PrimaryRetry, d.perCallBudget(ctx, tasks))
	if !result.Primary.Result.OK {
		slog.WarnContext(ctx, "primary handler failed, skipping secondary fan-out",
			"event_type", primary.EventType,
			"module", primary.Module,
			"error_kind", errKind(result.Primary.Result))
		result.Status = domain.StatusError
		result.EventsProcessed = 1
		result.Secondaries = []domain.EventOutcome{}
		if len(cr.Secondaries) > 0 {
			result.Diagnostics = append(result.Diagnostics, "secondary fan-out skipped: primary failed")
		}
		return result
	}

	result.Secondaries = d.fanOut(ctx, cr.Secondaries)
	result.EventsProcessed = 1 + len(result.Secondaries)

	result.Status = domain.StatusOK
	for _, sec := range result.Secondaries {
		if !sec.Result.OK {
			result.Status = domain.StatusPartial
			break
		}
	}

	slog.InfoContext(ctx, "command dispatched",
		"status", result.Status,
		"primary", primary.EventType,
		"events_processed", result.EventsProcessed)

	return result
}

// fanOut runs secondaries concurrently. Each is independent: one failure
// neither cancels the others nor fails the command.
func (d *Dispatcher) fanOut(ctx context.Context, secondaries []domain.ClassifiedEvent) []domain.EventOutcome {
	outcomes := make([]domain.EventOutcome, len(secondaries))
	if len(secondaries) == 0 {
		return outcomes
	}

	budget := d.perCallBudget(ctx, len(secondaries))

	var wg sync.WaitGroup
	for i, sec := range secondaries {
		sec.EventID = uuid.New()

		wg.Add(1)
		go func(i int, event domain.ClassifiedEvent) {
			defer wg.Done()

			if err := d.sem.Acquire(ctx, 1); err != nil {
				outcomes[i] = interruptedOutcome(ctx, event)
				return
			}
			defer d.sem.Release(1)

			outcomes[i] = d.invoke(ctx, event, d.cfg.SecondaryRetry, budget)
		}(i, sec)
	}
	wg.Wait()

	return outcomes
}

// invoke runs one handler with the retry policy: retriable failures
// (handler_timeout, handler_unavailable) back off exponentially, anything
// else returns immediately.
func (d *Dispatcher) invoke(ctx context.Context, event domain.ClassifiedEvent, retries int, budget time.Duration) domain.EventOutcome {
	outcome := domain.EventOutcome{EventType: event.EventType, Module: event.Module}

	handler, ok := d.registry.HandlerFor(event.Module)
	if !ok {
		outcome.Result = failure(domain.KindHandlerNotFound,
			"no handler registered for module "+string(event.Module))
		return outcome
	}

	backoff := d.cfg.BackoffInitial
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return interruptedOutcome(ctx, event)
		}

		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if budget > 0 {
			callCtx, cancel = context.WithTimeout(ctx, budget)
		}
		res := handler.Invoke(callCtx, string(event.EventType), event)
		cancel()

		if res.OK || attempt >= retries || !domain.IsRetriable(domain.ErrorKind(errKind(res))) {
			outcome.Result = res
			return outcome
		}

		slog.DebugContext(ctx, "retrying handler",
			"module", event.Module,
			"event_type", event.EventType,
			"attempt", attempt+1,
			"backoff", backoff)

		select {
		case <-ctx.Done():
			return interruptedOutcome(ctx, event)
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * d.cfg.BackoffFactor)
		if backoff > d.cfg.BackoffMax {
			backoff = d.cfg.BackoffMax
		}
	}
}

// perCallBudget slices the remaining deadline evenly across tasks with a
// 50ms floor. Zero means the context carries no deadline.
func (d *Dispatcher) perCallBudget(ctx context.Context, tasks int) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	per := time.Until(deadline) / time.Duration(tasks)
	if per < minHandlerBudget {
		per = minHandlerBudget
	}
	return per
}

func interruptedOutcome(ctx context.Context, event domain.ClassifiedEvent) domain.EventOutcome {
	kind := domain.KindHandlerTimeout
	msg := "deadline exceeded before handler completed"
	if ctx.Err() == context.Canceled {
		kind = domain.KindCancelled
		msg = "command cancelled"
	}
	return domain.EventOutcome{
		EventType: event.EventType,
		Module:    event.Module,
		Result:    failure(kind, msg),
	}
}

func failure(kind domain.ErrorKind, message string) domain.HandlerResult {
	return domain.HandlerResult{
		OK:  false,
		Err: &domain.HandlerError{Kind: string(kind), Message: message},
	}
}

func errKind(res domain.HandlerResult) string {
	if res.Err == nil {
		return ""
	}
	return res.Err.Kind
}
