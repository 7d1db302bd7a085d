package handlers_test

import (
	"context"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"lifeboard.app/core/internal/dispatch"
	"lifeboard.app/core/internal/domain"
	"lifeboard.app/core/internal/handlers"
)

var _ = Describe("Built-in handlers", func() {
	var registry *dispatch.Registry

	BeforeEach(func() {
		registry = handlers.NewRegistry()
	})

	event := func(et domain.EventType, m domain.Module) domain.ClassifiedEvent {
		return domain.ClassifiedEvent{
			EventID:   uuid.New(),
			EventType: et,
			Module:    m,
			ExtractedData: map[string]domain.Value{
				"amount": domain.Number(decimal.RequireFromString("45.00")),
			},
		}
	}

	It("registers a handler for every module", func() {
		for _, m := range []domain.Module{
			domain.ModuleAccounting, domain.ModuleFleet, domain.ModuleHealth,
			domain.ModulePantry, domain.ModuleCalendar,
		} {
			_, ok := registry.HandlerFor(m)
			Expect(ok).To(BeTrue(), string(m))
		}
	})

	It("records purchases as debits and deposits as credits", func() {
		h, ok := registry.HandlerFor(domain.ModuleAccounting)
		Expect(ok).To(BeTrue())

		res := h.Invoke(context.Background(), "create", event(domain.EventTypePurchase, domain.ModuleAccounting))
		Expect(res.OK).To(BeTrue())
		Expect(res.Data).To(HaveKeyWithValue("direction", "debit"))
		Expect(res.Data).To(HaveKeyWithValue("amount", "45"))
		Expect(res.Data).To(HaveKeyWithValue("recorded", true))

		res = h.Invoke(context.Background(), "create", event(domain.EventTypeDeposit, domain.ModuleAccounting))
		Expect(res.OK).To(BeTrue())
		Expect(res.Data).To(HaveKeyWithValue("direction", "credit"))
	})

	It("rejects event types outside the module", func() {
		h, ok := registry.HandlerFor(domain.ModuleFleet)
		Expect(ok).To(BeTrue())

		res := h.Invoke(context.Background(), "create", event(domain.EventTypeMeal, domain.ModuleFleet))
		Expect(res.OK).To(BeFalse())
		Expect(res.Err).NotTo(BeNil())
		Expect(res.Err.Kind).To(Equal(string(domain.KindHandlerError)))
	})

	It("accepts every catalogued fleet event", func() {
		h, ok := registry.HandlerFor(domain.ModuleFleet)
		Expect(ok).To(BeTrue())

		for _, et := range []domain.EventType{
			domain.EventTypePump, domain.EventTypeRepair,
			domain.EventTypeMaintenance, domain.EventTypeTravel,
		} {
			res := h.Invoke(context.Background(), "create", event(et, domain.ModuleFleet))
			Expect(res.OK).To(BeTrue(), string(et))
		}
	})
})
