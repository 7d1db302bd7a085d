package domain

import (
	"github.com/google/uuid"
)

// EventType identifies a business action a command maps to (e.g. pump,
// purchase). The set is closed; the catalog validates membership at startup.
type EventType string

const (
	// Money
	EventTypePurchase  EventType = "purchase"
	EventTypeReturn    EventType = "return"
	EventTypeTransfer  EventType = "transfer"
	EventTypeAPPayment EventType = "ap_payment"
	EventTypeAPInvoice EventType = "ap_invoice"
	EventTypeDeposit   EventType = "deposit"
	EventTypeACH       EventType = "ach"
	EventTypeSales     EventType = "sales"

	// Fleet
	EventTypePump        EventType = "pump"
	EventTypeRepair      EventType = "repair"
	EventTypeMaintenance EventType = "maintenance"
	EventTypeTravel      EventType = "travel"

	// Health
	EventTypeMeal     EventType = "meal"
	EventTypeExercise EventType = "exercise"
	EventTypeHike     EventType = "hike"

	// Food inventory
	EventTypeStock           EventType = "stock"
	EventTypeUseFood         EventType = "use_food"
	EventTypeFoodExpiryCheck EventType = "food_expiry_check"

	// Calendar
	EventTypeAppointment EventType = "appointment"
	EventTypeReminder    EventType = "reminder"
	EventTypeTask        EventType = "task"
)

// Category groups event types by life domain. Orthogonal to Module, which
// determines the handler.
type Category string

const (
	CategoryMoney    Category = "money"
	CategoryFleet    Category = "fleet"
	CategoryHealth   Category = "health"
	CategoryFood     Category = "food_inventory"
	CategoryCalendar Category = "calendar"
)

// Module names the handler a dispatched event routes to.
type Module string

const (
	ModuleAccounting Module = "accounting"
	ModuleFleet      Module = "fleet"
	ModuleHealth     Module = "health"
	ModulePantry     Module = "pantry"
	ModuleCalendar   Module = "calendar"
)

// ClassifiedEvent is one concrete event produced by the classifier.
// Immutable once constructed; the dispatcher assigns EventID just before
// handler invocation so handlers can deduplicate retries.
type ClassifiedEvent struct {
	EventID       uuid.UUID        `json:"event_id"`
	EventType     EventType        `json:"event_type"`
	Category      Category         `json:"category"`
	Module        Module           `json:"module"`
	ExtractedData map[string]Value `json:"extracted_data"`
	Confidence    float64          `json:"confidence"`
	IsSecondary   bool             `json:"is_secondary"`
}

// Source records which side of the hybrid classifier picked the primary.
type Source string

const (
	SourceParser  Source = "parser"
	SourceKeyword Source = "keyword"
	SourceMerged  Source = "merged"
)

// ClassificationResult is the classifier's canonical output: exactly one
// primary, zero or more secondaries in deterministic catalog order.
type ClassificationResult struct {
	Primary     ClassifiedEvent
	Secondaries []ClassifiedEvent
	Unresolved  []string
	Source      Source
	Diagnostics []string
}
