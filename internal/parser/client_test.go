package parser_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"lifeboard.app/core/common/llm"
	"lifeboard.app/core/internal/catalog"
	"lifeboard.app/core/internal/domain"
	"lifeboard.app/core/internal/parser"
)

type mockLLM struct {
	chatFn func(ctx context.Context, req llm.Request, result any) (*llm.Response, error)
	calls  int
}

func (m *mockLLM) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	m.calls++
	return m.chatFn(ctx, req, result)
}

func (m *mockLLM) Model() string { return "mock" }

// respond fills the schema-validated result from a JSON fixture, the same way
// a real provider response is decoded.
func respond(fixture string) func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	return func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
		if err := json.Unmarshal([]byte(fixture), result); err != nil {
			return nil, fmt.Errorf("%w: %v", llm.ErrMalformedResponse, err)
		}
		return &llm.Response{PromptTokens: 10, CompletionTokens: 5}, nil
	}
}

var _ = Describe("Client", func() {
	var (
		cat *catalog.Catalog
		mck *mockLLM
	)

	BeforeEach(func() {
		var err error
		cat, err = catalog.Default()
		Expect(err).NotTo(HaveOccurred())
		mck = &mockLLM{}
	})

	newClient := func() *parser.Client {
		return parser.NewClient(mck, cat, parser.Config{Timeout: 200 * time.Millisecond})
	}

	It("returns a typed interpretation with coerced field values", func() {
		mck.chatFn = respond(`{
			"module": "fleet",
			"action": "create",
			"proposed_event_types": ["pump"],
			"primary_event": "pump",
			"extracted_data": [
				{"name": "cost", "value": "45.678"},
				{"name": "quantity", "value": "12.0005"},
				{"name": "fuel_type", "value": "diesel"}
			],
			"confidence": 0.87
		}`)

		out, err := newClient().Interpret(context.Background(), "filled up 12 gallons")
		Expect(err).NotTo(HaveOccurred())

		Expect(out.ProposedEventTypes).To(Equal([]domain.EventType{domain.EventTypePump}))
		Expect(out.PrimaryEvent).To(Equal(domain.EventTypePump))
		Expect(out.Confidence).To(Equal(0.87))

		cost, ok := out.ExtractedData["cost"].Decimal()
		Expect(ok).To(BeTrue())
		Expect(cost).To(Equal(decimal.RequireFromString("45.68")))

		qty, ok := out.ExtractedData["quantity"].Decimal()
		Expect(ok).To(BeTrue())
		Expect(qty).To(Equal(decimal.RequireFromString("12.000")))

		Expect(out.ExtractedData["fuel_type"].String()).To(Equal("diesel"))
	})

	It("drops unknown event types with a diagnostic", func() {
		mck.chatFn = respond(`{
			"proposed_event_types": ["pump", "teleport"],
			"primary_event": "teleport",
			"extracted_data": [],
			"confidence": 0.9
		}`)

		out, err := newClient().Interpret(context.Background(), "beam me up")
		Expect(err).NotTo(HaveOccurred())

		Expect(out.ProposedEventTypes).To(Equal([]domain.EventType{domain.EventTypePump}))
		Expect(out.PrimaryEvent).To(BeEmpty())
		Expect(out.Diagnostics).To(ContainElement(ContainSubstring(`unknown event type "teleport"`)))
	})

	It("clamps out-of-range confidence", func() {
		mck.chatFn = respond(`{"proposed_event_types": ["pump"], "extracted_data": [], "confidence": 1.7}`)

		out, err := newClient().Interpret(context.Background(), "gas")
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Confidence).To(Equal(1.0))

		mck.chatFn = respond(`{"proposed_event_types": ["pump"], "extracted_data": [], "confidence": -0.3}`)
		out, err = newClient().Interpret(context.Background(), "gas")
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Confidence).To(BeZero())
	})

	It("maps a deadline overrun to parser_timeout", func() {
		mck.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		c := parser.NewClient(mck, cat, parser.Config{Timeout: 10 * time.Millisecond})

		_, err := c.Interpret(context.Background(), "gas")
		Expect(domain.KindOf(err)).To(Equal(domain.KindParserTimeout))
	})

	It("maps caller cancellation to cancelled", func() {
		mck.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(5 * time.Millisecond)
			cancel()
		}()

		_, err := newClient().Interpret(ctx, "gas")
		Expect(domain.KindOf(err)).To(Equal(domain.KindCancelled))
	})

	It("maps schema violations to parser_malformed", func() {
		mck.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			return nil, fmt.Errorf("%w: unexpected end of input", llm.ErrMalformedResponse)
		}

		_, err := newClient().Interpret(context.Background(), "gas")
		Expect(domain.KindOf(err)).To(Equal(domain.KindParserMalformed))
	})

	It("opens the circuit after consecutive failures", func() {
		mck.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
			return nil, errors.New("connection refused")
		}
		c := newClient()

		for i := 0; i < 5; i++ {
			_, err := c.Interpret(context.Background(), "gas")
			Expect(domain.KindOf(err)).To(Equal(domain.KindParserUnavailable))
		}
		Expect(mck.calls).To(Equal(5))

		// Circuit is open now; the llm must not be called again.
		_, err := c.Interpret(context.Background(), "gas")
		Expect(domain.KindOf(err)).To(Equal(domain.KindParserUnavailable))
		Expect(mck.calls).To(Equal(5))
	})
})
