package dispatch_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lifeboard.app/core/internal/dispatch"
	"lifeboard.app/core/internal/domain"
)

func event(et domain.EventType, module domain.Module, secondary bool) domain.ClassifiedEvent {
	return domain.ClassifiedEvent{
		EventType:   et,
		Module:      module,
		Confidence:  0.8,
		IsSecondary: secondary,
	}
}

func okHandler() dispatch.HandlerFunc {
	return func(ctx context.Context, action string, ev domain.ClassifiedEvent) domain.HandlerResult {
		return domain.HandlerResult{OK: true}
	}
}

func failHandler(kind, message string) dispatch.HandlerFunc {
	return func(ctx context.Context, action string, ev domain.ClassifiedEvent) domain.HandlerResult {
		return domain.HandlerResult{OK: false, Err: &domain.HandlerError{Kind: kind, Message: message}}
	}
}

var _ = Describe("Dispatcher", func() {
	var (
		registry *dispatch.Registry
		cfg      dispatch.Config
	)

	BeforeEach(func() {
		registry = dispatch.NewRegistry()
		cfg = dispatch.Config{
			BackoffInitial: time.Millisecond,
			BackoffMax:     2 * time.Millisecond,
		}
	})

	classification := func(secondaries ...domain.ClassifiedEvent) *domain.ClassificationResult {
		return &domain.ClassificationResult{
			Primary:     event(domain.EventTypePump, domain.ModuleFleet, false),
			Secondaries: secondaries,
			Source:      domain.SourceMerged,
		}
	}

	It("reports ok when the primary and all secondaries succeed", func() {
		registry.Register(domain.ModuleFleet, okHandler())
		registry.Register(domain.ModuleAccounting, okHandler())
		d := dispatch.New(registry, cfg)

		result := d.Dispatch(context.Background(),
			classification(event(domain.EventTypePurchase, domain.ModuleAccounting, true)))

		Expect(result.Status).To(Equal(domain.StatusOK))
		Expect(result.EventsProcessed).To(Equal(2))
		Expect(result.Primary.Result.OK).To(BeTrue())
		Expect(result.Secondaries).To(HaveLen(1))
		Expect(result.Secondaries[0].Result.OK).To(BeTrue())
	})

	It("degrades to partial when a secondary fails", func() {
		registry.Register(domain.ModuleFleet, okHandler())
		registry.Register(domain.ModuleAccounting, failHandler("ledger_closed", "period closed"))
		d := dispatch.New(registry, cfg)

		result := d.Dispatch(context.Background(),
			classification(event(domain.EventTypePurchase, domain.ModuleAccounting, true)))

		Expect(result.Status).To(Equal(domain.StatusPartial))
		Expect(result.EventsProcessed).To(Equal(2))
		Expect(result.Primary.Result.OK).To(BeTrue())
		Expect(result.Secondaries[0].Result.OK).To(BeFalse())
		Expect(result.Secondaries[0].Result.Err.Kind).To(Equal("ledger_closed"))
	})

	It("skips fan-out entirely when the primary fails", func() {
		var accountingCalls atomic.Int32
		registry.Register(domain.ModuleFleet, failHandler("fleet_db_down", "no connection"))
		registry.Register(domain.ModuleAccounting, dispatch.HandlerFunc(
			func(ctx context.Context, action string, ev domain.ClassifiedEvent) domain.HandlerResult {
				accountingCalls.Add(1)
				return domain.HandlerResult{OK: true}
			}))
		d := dispatch.New(registry, cfg)

		result := d.Dispatch(context.Background(),
			classification(event(domain.EventTypePurchase, domain.ModuleAccounting, true)))

		Expect(result.Status).To(Equal(domain.StatusError))
		Expect(result.EventsProcessed).To(Equal(1))
		Expect(result.Secondaries).To(BeEmpty())
		Expect(accountingCalls.Load()).To(BeZero())
		Expect(result.Diagnostics).To(ContainElement(ContainSubstring("fan-out skipped")))
	})

	It("preserves declaration order regardless of completion order", func() {
		registry.Register(domain.ModuleFleet, okHandler())
		registry.Register(domain.ModuleAccounting, dispatch.HandlerFunc(
			func(ctx context.Context, action string, ev domain.ClassifiedEvent) domain.HandlerResult {
				time.Sleep(20 * time.Millisecond) // finishes last
				return domain.HandlerResult{OK: true}
			}))
		registry.Register(domain.ModuleHealth, okHandler())
		registry.Register(domain.ModuleCalendar, okHandler())
		d := dispatch.New(registry, cfg)

		result := d.Dispatch(context.Background(), classification(
			event(domain.EventTypePurchase, domain.ModuleAccounting, true),
			event(domain.EventTypeExercise, domain.ModuleHealth, true),
			event(domain.EventTypeReminder, domain.ModuleCalendar, true),
		))

		var types []domain.EventType
		for _, sec := range result.Secondaries {
			types = append(types, sec.EventType)
		}
		Expect(types).To(Equal([]domain.EventType{
			domain.EventTypePurchase, domain.EventTypeExercise, domain.EventTypeReminder,
		}))
	})

	It("retries the primary on retriable failures", func() {
		var calls atomic.Int32
		registry.Register(domain.ModuleFleet, dispatch.HandlerFunc(
			func(ctx context.Context, action string, ev domain.ClassifiedEvent) domain.HandlerResult {
				if calls.Add(1) < 3 {
					return domain.HandlerResult{OK: false,
						Err: &domain.HandlerError{Kind: string(domain.KindHandlerUnavailable)}}
				}
				return domain.HandlerResult{OK: true}
			}))
		d := dispatch.New(registry, cfg)

		result := d.Dispatch(context.Background(), classification())

		Expect(result.Status).To(Equal(domain.StatusOK))
		Expect(calls.Load()).To(Equal(int32(3)))
	})

	It("does not retry non-retriable failures", func() {
		var calls atomic.Int32
		registry.Register(domain.ModuleFleet, dispatch.HandlerFunc(
			func(ctx context.Context, action string, ev domain.ClassifiedEvent) domain.HandlerResult {
				calls.Add(1)
				return domain.HandlerResult{OK: false,
					Err: &domain.HandlerError{Kind: "bad_request"}}
			}))
		d := dispatch.New(registry, cfg)

		result := d.Dispatch(context.Background(), classification())

		Expect(result.Status).To(Equal(domain.StatusError))
		Expect(calls.Load()).To(Equal(int32(1)))
	})

	It("gives each secondary one retry", func() {
		var calls atomic.Int32
		registry.Register(domain.ModuleFleet, okHandler())
		registry.Register(domain.ModuleAccounting, dispatch.HandlerFunc(
			func(ctx context.Context, action string, ev domain.ClassifiedEvent) domain.HandlerResult {
				calls.Add(1)
				return domain.HandlerResult{OK: false,
					Err: &domain.HandlerError{Kind: string(domain.KindHandlerTimeout)}}
			}))
		d := dispatch.New(registry, cfg)

		result := d.Dispatch(context.Background(),
			classification(event(domain.EventTypePurchase, domain.ModuleAccounting, true)))

		Expect(result.Status).To(Equal(domain.StatusPartial))
		Expect(calls.Load()).To(Equal(int32(2)))
	})

	It("reports handler_not_found for unregistered modules", func() {
		registry.Register(domain.ModuleFleet, okHandler())
		d := dispatch.New(registry, cfg)

		result := d.Dispatch(context.Background(),
			classification(event(domain.EventTypePurchase, domain.ModuleAccounting, true)))

		Expect(result.Status).To(Equal(domain.StatusPartial))
		Expect(result.Secondaries[0].Result.Err.Kind).To(Equal(string(domain.KindHandlerNotFound)))
	})

	It("assigns a distinct event ID per invocation", func() {
		var mu sync.Mutex
		seen := map[string]bool{}
		record := dispatch.HandlerFunc(
			func(ctx context.Context, action string, ev domain.ClassifiedEvent) domain.HandlerResult {
				mu.Lock()
				defer mu.Unlock()
				Expect(ev.EventID.String()).NotTo(Equal("00000000-0000-0000-0000-000000000000"))
				seen[ev.EventID.String()] = true
				return domain.HandlerResult{OK: true}
			})
		registry.Register(domain.ModuleFleet, record)
		registry.Register(domain.ModuleAccounting, record)
		d := dispatch.New(registry, cfg)

		d.Dispatch(context.Background(),
			classification(event(domain.EventTypePurchase, domain.ModuleAccounting, true)))

		Expect(seen).To(HaveLen(2))
	})

	It("marks secondaries as timed out when the overall deadline expires", func() {
		registry.Register(domain.ModuleFleet, okHandler())
		registry.Register(domain.ModuleAccounting, dispatch.HandlerFunc(
			func(ctx context.Context, action string, ev domain.ClassifiedEvent) domain.HandlerResult {
				<-ctx.Done()
				return domain.HandlerResult{OK: false,
					Err: &domain.HandlerError{Kind: string(domain.KindHandlerTimeout), Message: "deadline"}}
			}))
		d := dispatch.New(registry, cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
		defer cancel()

		result := d.Dispatch(ctx,
			classification(event(domain.EventTypePurchase, domain.ModuleAccounting, true)))

		Expect(result.Status).To(Equal(domain.StatusPartial))
		Expect(result.Secondaries[0].Result.Err.Kind).To(Equal(string(domain.KindHandlerTimeout)))
	})

	It("marks outstanding work as cancelled when the caller cancels", func() {
		registry.Register(domain.ModuleFleet, okHandler())
		registry.Register(domain.ModuleAccounting, dispatch.HandlerFunc(
			func(ctx context.Context, action string, ev domain.ClassifiedEvent) domain.HandlerResult {
				<-ctx.Done()
				return domain.HandlerResult{OK: false,
					Err: &domain.HandlerError{Kind: string(domain.KindCancelled), Message: "cancelled"}}
			}))
		d := dispatch.New(registry, cfg)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		result := d.Dispatch(ctx,
			classification(event(domain.EventTypePurchase, domain.ModuleAccounting, true)))

		Expect(result.Status).To(Equal(domain.StatusPartial))
		Expect(result.Secondaries[0].Result.Err.Kind).To(Equal(string(domain.KindCancelled)))
	})

	It("bounds fan-out parallelism", func() {
		var inflight, peak atomic.Int32
		registry.Register(domain.ModuleFleet, okHandler())
		slow := dispatch.HandlerFunc(
			func(ctx context.Context, action string, ev domain.ClassifiedEvent) domain.HandlerResult {
				n := inflight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inflight.Add(-1)
				return domain.HandlerResult{OK: true}
			})
		registry.Register(domain.ModuleAccounting, slow)
		registry.Register(domain.ModuleHealth, slow)
		registry.Register(domain.ModuleCalendar, slow)
		registry.Register(domain.ModulePantry, slow)

		cfg.MaxParallel = 2
		d := dispatch.New(registry, cfg)

		result := d.Dispatch(context.Background(), classification(
			event(domain.EventTypePurchase, domain.ModuleAccounting, true),
			event(domain.EventTypeExercise, domain.ModuleHealth, true),
			event(domain.EventTypeReminder, domain.ModuleCalendar, true),
			event(domain.EventTypeStock, domain.ModulePantry, true),
		))

		Expect(result.Status).To(Equal(domain.StatusOK))
		Expect(peak.Load()).To(BeNumerically("<=", 2))
	})
})
