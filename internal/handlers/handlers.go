// Package handlers provides the built-in module handlers. Each handler
// accepts the classified events for its module, applies module-level
// bookkeeping, and reports the accepted record back to the dispatcher.
//
// These are intentionally thin: the heavy lifting (field derivation,
// validation) has already happened upstream, so a handler's job is to
// accept a well-formed event and turn it into a module record.
package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"lifeboard.app/core/common/logger"
	"lifeboard.app/core/internal/dispatch"
	"lifeboard.app/core/internal/domain"
)

// NewRegistry builds a registry with the built-in handler for every module.
func NewRegistry() *dispatch.Registry {
	r := dispatch.NewRegistry()
	r.Register(domain.ModuleAccounting, &accountingHandler{})
	r.Register(domain.ModuleFleet, &fleetHandler{})
	r.Register(domain.ModuleHealth, &healthHandler{})
	r.Register(domain.ModulePantry, &pantryHandler{})
	r.Register(domain.ModuleCalendar, &calendarHandler{})
	return r
}

// record builds the handler response data shared by all built-in handlers.
func record(event domain.ClassifiedEvent, extra map[string]any) map[string]any {
	data := map[string]any{
		"event_id":   event.EventID,
		"event_type": string(event.EventType),
		"recorded":   true,
	}
	for name, v := range event.ExtractedData {
		data[name] = v.String()
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

func accepted(ctx context.Context, event domain.ClassifiedEvent, extra map[string]any) domain.HandlerResult {
	slog.InfoContext(ctx, "event accepted",
		"event_type", event.EventType,
		"event_id", event.EventID)
	return domain.HandlerResult{OK: true, Data: record(event, extra)}
}

func rejected(event domain.ClassifiedEvent) domain.HandlerResult {
	return domain.HandlerResult{
		OK: false,
		Err: &domain.HandlerError{
			Kind:    string(domain.KindHandlerError),
			Message: fmt.Sprintf("unsupported event type %q", event.EventType),
		},
	}
}

type accountingHandler struct{}

func (h *accountingHandler) Invoke(ctx context.Context, action string, event domain.ClassifiedEvent) domain.HandlerResult {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "core.handlers.accounting"})

	switch event.EventType {
	case domain.EventTypePurchase, domain.EventTypeAPPayment, domain.EventTypeAPInvoice,
		domain.EventTypeACH, domain.EventTypeTransfer:
		return accepted(ctx, event, map[string]any{"direction": "debit"})
	case domain.EventTypeReturn, domain.EventTypeDeposit, domain.EventTypeSales:
		return accepted(ctx, event, map[string]any{"direction": "credit"})
	default:
		return rejected(event)
	}
}

type fleetHandler struct{}

func (h *fleetHandler) Invoke(ctx context.Context, action string, event domain.ClassifiedEvent) domain.HandlerResult {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "core.handlers.fleet"})

	switch event.EventType {
	case domain.EventTypePump, domain.EventTypeRepair,
		domain.EventTypeMaintenance, domain.EventTypeTravel:
		return accepted(ctx, event, nil)
	default:
		return rejected(event)
	}
}

type healthHandler struct{}

func (h *healthHandler) Invoke(ctx context.Context, action string, event domain.ClassifiedEvent) domain.HandlerResult {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "core.handlers.health"})

	switch event.EventType {
	case domain.EventTypeMeal, domain.EventTypeExercise, domain.EventTypeHike:
		return accepted(ctx, event, nil)
	default:
		return rejected(event)
	}
}

type pantryHandler struct{}

func (h *pantryHandler) Invoke(ctx context.Context, action string, event domain.ClassifiedEvent) domain.HandlerResult {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "core.handlers.pantry"})

	switch event.EventType {
	case domain.EventTypeStock, domain.EventTypeUseFood, domain.EventTypeFoodExpiryCheck:
		return accepted(ctx, event, nil)
	default:
		return rejected(event)
	}
}

type calendarHandler struct{}

func (h *calendarHandler) Invoke(ctx context.Context, action string, event domain.ClassifiedEvent) domain.HandlerResult {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "core.handlers.calendar"})

	switch event.EventType {
	case domain.EventTypeAppointment, domain.EventTypeReminder, domain.EventTypeTask:
		return accepted(ctx, event, nil)
	default:
		return rejected(event)
	}
}
