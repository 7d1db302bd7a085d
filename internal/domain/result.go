package domain

// Status is the terminal state of a dispatched command.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// HandlerError is a structured failure returned by a handler. Kind uses the
// core taxonomy for transport failures (handler_timeout, cancelled) and is
// handler-defined for business failures (e.g. "ledger_closed").
type HandlerError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// HandlerResult is the uniform outcome of one handler invocation.
type HandlerResult struct {
	OK   bool           `json:"ok"`
	Data map[string]any `json:"data,omitempty"`
	Err  *HandlerError  `json:"error,omitempty"`
}

// EventOutcome pairs a dispatched event with its handler result.
type EventOutcome struct {
	EventType EventType     `json:"event_type"`
	Module    Module        `json:"module"`
	Result    HandlerResult `json:"result"`
}

// ClassificationSummary is the classification slice of the command result
// wire shape.
type ClassificationSummary struct {
	PrimaryEventType EventType `json:"primary_event_type"`
	Source           Source    `json:"source"`
	Confidence       float64   `json:"confidence"`
	UnresolvedFields []string  `json:"unresolved_fields"`
}

// CommandResult is the dispatcher's composed response for one command.
// Secondary outcomes appear in catalog declaration order regardless of
// completion order.
type CommandResult struct {
	CommandID       int64                 `json:"command_id"`
	Status          Status                `json:"status"`
	EventsProcessed int                   `json:"events_processed"`
	Primary         EventOutcome          `json:"primary"`
	Secondaries     []EventOutcome        `json:"secondaries"`
	Classification  ClassificationSummary `json:"classification"`
	Diagnostics     []string              `json:"diagnostics"`
}

// Summarize builds the wire-shape classification summary from a full
// classification result.
func Summarize(cr ClassificationResult) ClassificationSummary {
	unresolved := cr.Unresolved
	if unresolved == nil {
		unresolved = []string{}
	}
	return ClassificationSummary{
		PrimaryEventType: cr.Primary.EventType,
		Source:           cr.Source,
		Confidence:       cr.Primary.Confidence,
		UnresolvedFields: unresolved,
	}
}
