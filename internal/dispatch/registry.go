package dispatch

import (
	"context"

	"lifeboard.app/core/internal/domain"
)

// Handler executes the business effect of one classified event. Handlers are
// expected to be idempotent per event ID; the dispatcher assigns one before
// every invocation so retries can be deduplicated.
type Handler interface {
	Invoke(ctx context.Context, action string, event domain.ClassifiedEvent) domain.HandlerResult
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, action string, event domain.ClassifiedEvent) domain.HandlerResult

func (f HandlerFunc) Invoke(ctx context.Context, action string, event domain.ClassifiedEvent) domain.HandlerResult {
	return f(ctx, action, event)
}

// Registry maps modules to handlers. It is populated at startup and
// immutable afterwards, so lookups need no locking.
type Registry struct {
	handlers map[domain.Module]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.Module]Handler)}
}

func (r *Registry) Register(module domain.Module, h Handler) {
	r.handlers[module] = h
}

func (r *Registry) HandlerFor(module domain.Module) (Handler, bool) {
	h, ok := r.handlers[module]
	return h, ok
}

// Modules returns the registered module names.
func (r *Registry) Modules() []domain.Module {
	out := make([]domain.Module, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	return out
}
