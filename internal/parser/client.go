package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"lifeboard.app/core/common/llm"
	"lifeboard.app/core/internal/catalog"
	"lifeboard.app/core/internal/domain"
)

const systemPrompt = `You interpret short free-text commands about someone's daily life
(money, vehicles, health, food inventory, calendar) into structured events.

Rules:
- propose only event types from the provided list
- extract only values literally present in the command, as name/value fields
- numeric values are plain numbers without currency symbols or units
- confidence reflects how certain you are of the primary event type, 0 to 1
- when the command is ambiguous, propose multiple event types and lower the confidence`

// rawInterpretation is the structured-output wire shape. Extracted data is a
// list of name/value pairs because strict schemas cannot express free-form
// maps; values arrive as strings and are coerced against the catalog.
type rawInterpretation struct {
	Module             string     `json:"module"`
	Action             string     `json:"action"`
	ProposedEventTypes []string   `json:"proposed_event_types"`
	PrimaryEvent       string     `json:"primary_event"`
	ExtractedData      []rawField `json:"extracted_data"`
	Confidence         float64    `json:"confidence"`
}

type rawField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

var interpretationSchema = llm.GenerateSchema[rawInterpretation]()

// Client interprets utterances through an LLM behind a circuit breaker. The
// model is untrusted: its output is schema-validated, unknown event types are
// dropped with a diagnostic, and out-of-range confidence is clamped.
type Client struct {
	llm       llm.Client
	catalog   *catalog.Catalog
	timeout   time.Duration
	maxTokens int
	breaker   *gobreaker.CircuitBreaker
}

type Config struct {
	Timeout   time.Duration // per-call deadline, default 2s
	MaxTokens int           // response budget, default 1000
}

func NewClient(llmClient llm.Client, cat *catalog.Catalog, cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1000
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "parser",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("parser circuit breaker state change",
				"name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		llm:       llmClient,
		catalog:   cat,
		timeout:   timeout,
		maxTokens: maxTokens,
		breaker:   breaker,
	}
}

func (c *Client) Interpret(ctx context.Context, utterance string) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		var raw rawInterpretation
		_, err := c.llm.Chat(ctx, llm.Request{
			SystemPrompt: systemPrompt,
			UserPrompt:   c.userPrompt(utterance),
			SchemaName:   "interpretation",
			Schema:       interpretationSchema,
			MaxTokens:    c.maxTokens,
			Temperature:  llm.Temp(0),
		}, &raw)
		if err != nil {
			return nil, err
		}
		return &raw, nil
	})
	if err != nil {
		return nil, c.mapError(ctx, err)
	}

	out := c.validate(ctx, result.(*rawInterpretation))

	slog.DebugContext(ctx, "parser interpretation completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"proposed", len(out.ProposedEventTypes),
		"confidence", out.Confidence)

	return out, nil
}

func (c *Client) userPrompt(utterance string) string {
	types := c.catalog.EventTypes()
	names := make([]string, len(types))
	for i, et := range types {
		names[i] = string(et)
	}
	return fmt.Sprintf("Known event types: %s\n\nCommand: %s",
		strings.Join(names, ", "), utterance)
}

// validate converts the untrusted wire shape into a typed Output. Unknown
// event types become diagnostics rather than errors.
func (c *Client) validate(ctx context.Context, raw *rawInterpretation) *Output {
	out := &Output{
		Module:        raw.Module,
		Action:        raw.Action,
		ExtractedData: make(map[string]domain.Value),
	}

	for _, name := range raw.ProposedEventTypes {
		et := domain.EventType(name)
		if _, ok := c.catalog.DescriptorFor(et); !ok {
			out.Diagnostics = append(out.Diagnostics,
				fmt.Sprintf("parser proposed unknown event type %q", name))
			continue
		}
		out.ProposedEventTypes = append(out.ProposedEventTypes, et)
	}

	if raw.PrimaryEvent != "" {
		et := domain.EventType(raw.PrimaryEvent)
		if _, ok := c.catalog.DescriptorFor(et); ok {
			out.PrimaryEvent = et
		} else {
			out.Diagnostics = append(out.Diagnostics,
				fmt.Sprintf("parser primary hint %q is not a known event type", raw.PrimaryEvent))
		}
	}

	for _, f := range raw.ExtractedData {
		if f.Name == "" || f.Value == "" {
			continue
		}
		out.ExtractedData[f.Name] = c.coerce(out.ProposedEventTypes, f)
	}

	out.Confidence = raw.Confidence
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		slog.DebugContext(ctx, "parser confidence out of range, clamping",
			"confidence", raw.Confidence)
		out.Confidence = 1
	}

	return out
}

// coerce types a raw string value using the first proposed descriptor that
// declares the field. Fields no descriptor knows stay strings; the classifier
// discards them during data assembly anyway.
func (c *Client) coerce(proposed []domain.EventType, f rawField) domain.Value {
	for _, et := range proposed {
		d, ok := c.catalog.DescriptorFor(et)
		if !ok {
			continue
		}
		spec := d.Field(f.Name)
		if spec == nil {
			continue
		}
		if spec.Kind.Numeric() {
			dec, err := decimal.NewFromString(strings.TrimSpace(f.Value))
			if err != nil {
				break
			}
			return domain.Number(dec.RoundBank(spec.Kind.Precision()))
		}
		break
	}
	return domain.String(f.Value)
}

func (c *Client) mapError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Wrap(domain.KindParserTimeout, err, "parser call exceeded deadline")
	case errors.Is(err, context.Canceled):
		return domain.Wrap(domain.KindCancelled, err, "parser call cancelled")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return domain.Wrap(domain.KindParserUnavailable, err, "parser circuit open")
	case errors.Is(err, llm.ErrMalformedResponse):
		return domain.Wrap(domain.KindParserMalformed, err, "parser output failed schema validation")
	default:
		slog.WarnContext(ctx, "parser call failed", "error", err)
		return domain.Wrap(domain.KindParserUnavailable, err, "parser unavailable")
	}
}
