package parser

import (
	"context"

	"lifeboard.app/core/internal/domain"
)

// Output is the parser's schema-validated interpretation of an utterance.
// Every field is optional on the wire; validation happens once at the client
// boundary and everything downstream operates on typed values.
type Output struct {
	Module             string
	Action             string
	ProposedEventTypes []domain.EventType
	PrimaryEvent       domain.EventType
	ExtractedData      map[string]domain.Value
	Confidence         float64
	Diagnostics        []string
}

// Interpreter turns free text into a structured interpretation. Failure kinds
// are parser_timeout, parser_unavailable, and parser_malformed; callers treat
// all three as non-fatal.
type Interpreter interface {
	Interpret(ctx context.Context, utterance string) (*Output, error)
}

// Disabled returns an Interpreter that always reports the parser as
// unavailable. Used when no LLM credentials are configured; classification
// falls back to keywords alone.
func Disabled() Interpreter {
	return disabledInterpreter{}
}

type disabledInterpreter struct{}

func (disabledInterpreter) Interpret(ctx context.Context, utterance string) (*Output, error) {
	return nil, domain.E(domain.KindParserUnavailable, "parser llm not configured")
}
