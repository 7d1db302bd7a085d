package orchestrator_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lifeboard.app/core/internal/catalog"
	"lifeboard.app/core/internal/classifier"
	"lifeboard.app/core/internal/dispatch"
	"lifeboard.app/core/internal/domain"
	"lifeboard.app/core/internal/orchestrator"
	"lifeboard.app/core/internal/parser"
)

type mockParser struct {
	interpretFunc func(ctx context.Context, utterance string) (*parser.Output, error)
}

func (m *mockParser) Interpret(ctx context.Context, utterance string) (*parser.Output, error) {
	return m.interpretFunc(ctx, utterance)
}

type mockAudit struct {
	records []orchestrator.AuditRecord
}

func (m *mockAudit) RecordCommand(ctx context.Context, rec orchestrator.AuditRecord) error {
	m.records = append(m.records, rec)
	return nil
}

var _ = Describe("Orchestrator", func() {
	var (
		registry     *dispatch.Registry
		audit        *mockAudit
		handlerCalls atomic.Int32
	)

	newOrchestrator := func(p parser.Interpreter) *orchestrator.Orchestrator {
		cat, err := catalog.Default()
		Expect(err).NotTo(HaveOccurred())

		registry = dispatch.NewRegistry()
		counting := dispatch.HandlerFunc(
			func(ctx context.Context, action string, ev domain.ClassifiedEvent) domain.HandlerResult {
				handlerCalls.Add(1)
				return domain.HandlerResult{OK: true}
			})
		for _, m := range []domain.Module{
			domain.ModuleAccounting, domain.ModuleFleet, domain.ModuleHealth,
			domain.ModulePantry, domain.ModuleCalendar,
		} {
			registry.Register(m, counting)
		}

		audit = &mockAudit{}
		return orchestrator.New(
			p,
			classifier.New(cat, classifier.Config{}),
			dispatch.New(registry, dispatch.Config{BackoffInitial: time.Millisecond}),
			audit,
		)
	}

	BeforeEach(func() {
		handlerCalls.Store(0)
	})

	It("runs the full pipeline and records the outcome", func() {
		p := &mockParser{interpretFunc: func(ctx context.Context, utterance string) (*parser.Output, error) {
			return &parser.Output{
				ProposedEventTypes: []domain.EventType{domain.EventTypePump},
				Confidence:         0.9,
			}, nil
		}}
		o := newOrchestrator(p)

		result, err := o.ProcessCommand(context.Background(), orchestrator.Command{
			Utterance: "Filled up gas, 12 gallons, $45, odometer 45000",
			SessionID: "sess-1",
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(result.Status).To(Equal(domain.StatusOK))
		Expect(result.EventsProcessed).To(Equal(2))
		Expect(result.Classification.Source).To(Equal(domain.SourceMerged))

		Expect(audit.records).To(HaveLen(1))
		Expect(audit.records[0].Status).To(Equal(domain.StatusOK))
		Expect(audit.records[0].SessionID).To(Equal("sess-1"))
		Expect(audit.records[0].CommandID).NotTo(BeZero())
		Expect(result.CommandID).To(Equal(audit.records[0].CommandID))
	})

	It("keeps a pre-assigned command ID", func() {
		p := &mockParser{interpretFunc: func(ctx context.Context, utterance string) (*parser.Output, error) {
			return &parser.Output{}, nil
		}}
		o := newOrchestrator(p)

		result, err := o.ProcessCommand(context.Background(), orchestrator.Command{
			CommandID: 424242,
			Utterance: "got gas, $40",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.CommandID).To(Equal(int64(424242)))
		Expect(audit.records[0].CommandID).To(Equal(int64(424242)))
	})

	It("carries on from keywords when the parser is unavailable", func() {
		p := &mockParser{interpretFunc: func(ctx context.Context, utterance string) (*parser.Output, error) {
			return nil, domain.E(domain.KindParserUnavailable, "connection refused")
		}}
		o := newOrchestrator(p)

		result, err := o.ProcessCommand(context.Background(),
			orchestrator.Command{Utterance: "Oil change, $59.99"})
		Expect(err).NotTo(HaveOccurred())

		Expect(result.Status).To(Equal(domain.StatusOK))
		Expect(result.Classification.PrimaryEventType).To(Equal(domain.EventTypeMaintenance))
		Expect(result.Diagnostics).To(ContainElement(ContainSubstring("parser failed: parser_unavailable")))
	})

	It("fails the command on classifier errors without invoking handlers", func() {
		p := &mockParser{interpretFunc: func(ctx context.Context, utterance string) (*parser.Output, error) {
			return &parser.Output{
				ProposedEventTypes: []domain.EventType{domain.EventTypePump},
			}, nil
		}}
		o := newOrchestrator(p)

		_, err := o.ProcessCommand(context.Background(), orchestrator.Command{Utterance: "Refueled"})

		var derr *domain.Error
		Expect(errors.As(err, &derr)).To(BeTrue())
		Expect(derr.Kind).To(Equal(domain.KindValidation))
		Expect(handlerCalls.Load()).To(BeZero())

		Expect(audit.records).To(HaveLen(1))
		Expect(audit.records[0].Status).To(Equal(domain.StatusError))
		Expect(audit.records[0].FailureKind).To(Equal(domain.KindValidation))
	})

	It("invokes no handlers when cancelled before the parser returns", func() {
		p := &mockParser{interpretFunc: func(ctx context.Context, utterance string) (*parser.Output, error) {
			<-ctx.Done()
			return nil, domain.Wrap(domain.KindCancelled, ctx.Err(), "parser call cancelled")
		}}
		o := newOrchestrator(p)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(5 * time.Millisecond)
			cancel()
		}()

		_, err := o.ProcessCommand(ctx, orchestrator.Command{Utterance: "got gas, $40"})

		Expect(domain.KindOf(err)).To(Equal(domain.KindCancelled))
		Expect(handlerCalls.Load()).To(BeZero())
	})

	It("surfaces unclassifiable input", func() {
		p := &mockParser{interpretFunc: func(ctx context.Context, utterance string) (*parser.Output, error) {
			return &parser.Output{}, nil
		}}
		o := newOrchestrator(p)

		_, err := o.ProcessCommand(context.Background(), orchestrator.Command{Utterance: "qwzzk blorp"})
		Expect(domain.KindOf(err)).To(Equal(domain.KindUnclassifiable))
	})
})
