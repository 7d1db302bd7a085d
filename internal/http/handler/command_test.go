package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"lifeboard.app/core/internal/domain"
	"lifeboard.app/core/internal/http/handler"
	"lifeboard.app/core/internal/orchestrator"
	"lifeboard.app/core/internal/queue"
	"lifeboard.app/core/internal/store"
)

type mockProcessor struct {
	processFn func(ctx context.Context, cmd orchestrator.Command) (*domain.CommandResult, error)
}

func (m *mockProcessor) ProcessCommand(ctx context.Context, cmd orchestrator.Command) (*domain.CommandResult, error) {
	return m.processFn(ctx, cmd)
}

type mockProducer struct {
	enqueueFn func(ctx context.Context, msg queue.CommandMessage) error
	messages  []queue.CommandMessage
}

func (m *mockProducer) Enqueue(ctx context.Context, msg queue.CommandMessage) error {
	m.messages = append(m.messages, msg)
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, msg)
	}
	return nil
}

func (m *mockProducer) Close() error { return nil }

type mockAuditReader struct {
	getFn  func(ctx context.Context, commandID int64) (*store.CommandLogEntry, error)
	listFn func(ctx context.Context, sessionID string, limit int32) ([]store.CommandLogEntry, error)
}

func (m *mockAuditReader) GetByCommandID(ctx context.Context, commandID int64) (*store.CommandLogEntry, error) {
	return m.getFn(ctx, commandID)
}

func (m *mockAuditReader) ListRecent(ctx context.Context, sessionID string, limit int32) ([]store.CommandLogEntry, error) {
	return m.listFn(ctx, sessionID, limit)
}

var _ = Describe("CommandHandler", func() {
	var (
		router    *gin.Engine
		processor *mockProcessor
		producer  *mockProducer
		audit     *mockAuditReader
	)

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		processor = &mockProcessor{}
		producer = &mockProducer{}
		audit = &mockAuditReader{}
		h := handler.NewCommandHandler(processor, producer, audit, "X-Trace-Id")
		group := router.Group("/commands")
		group.POST("", h.Submit)
		group.POST("/enqueue", h.Enqueue)
		group.GET("/:id", h.Get)
	})

	It("returns the command result on success", func() {
		processor.processFn = func(_ context.Context, cmd orchestrator.Command) (*domain.CommandResult, error) {
			Expect(cmd.Utterance).To(Equal("got gas, $40"))
			Expect(cmd.SessionID).To(Equal("sess-9"))
			return &domain.CommandResult{
				CommandID:       7,
				Status:          domain.StatusOK,
				EventsProcessed: 2,
			}, nil
		}

		w := post("/commands", `{"utterance": "got gas, $40", "session_id": "sess-9"}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["status"]).To(Equal("ok"))
		Expect(resp["events_processed"]).To(BeEquivalentTo(2))
	})

	It("returns 400 when the utterance is missing", func() {
		w := post("/commands", `{"session_id": "sess-9"}`)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 422 with the missing fields on validation failure", func() {
		processor.processFn = func(_ context.Context, _ orchestrator.Command) (*domain.CommandResult, error) {
			return nil, domain.ValidationError(domain.EventTypePump,
				[]string{"price_per_unit", "quantity", "cost"})
		}

		w := post("/commands", `{"utterance": "Refueled"}`)

		Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["error_kind"]).To(Equal("validation"))
		Expect(resp["event_type"]).To(Equal("pump"))
		Expect(resp["missing_fields"]).To(HaveLen(3))
	})

	It("returns 422 on unclassifiable input", func() {
		processor.processFn = func(_ context.Context, _ orchestrator.Command) (*domain.CommandResult, error) {
			return nil, domain.E(domain.KindUnclassifiable, "no event type matched")
		}

		w := post("/commands", `{"utterance": "qwzzk blorp"}`)
		Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))
	})

	It("enqueues async commands with a fresh command ID", func() {
		w := post("/commands/enqueue", `{"utterance": "got gas, $40"}`)

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(producer.messages).To(HaveLen(1))
		Expect(producer.messages[0].CommandID).NotTo(BeZero())

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["enqueued"]).To(BeTrue())
		Expect(int64(resp["command_id"].(float64))).To(Equal(producer.messages[0].CommandID))
	})

	It("propagates the trace header into the queued message", func() {
		req := httptest.NewRequest(http.MethodPost, "/commands/enqueue",
			bytes.NewBufferString(`{"utterance": "got gas, $40"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Trace-Id", "0af7651916cd43dd8448eb211c80319c")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(producer.messages[0].TraceID).To(Equal("0af7651916cd43dd8448eb211c80319c"))
	})

	It("returns 404 for an unknown command", func() {
		audit.getFn = func(_ context.Context, _ int64) (*store.CommandLogEntry, error) {
			return nil, store.ErrNotFound
		}

		req := httptest.NewRequest(http.MethodGet, "/commands/12345", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusNotFound))
	})

	It("returns the audit entry for a processed command", func() {
		audit.getFn = func(_ context.Context, commandID int64) (*store.CommandLogEntry, error) {
			Expect(commandID).To(Equal(int64(12345)))
			status := "ok"
			return &store.CommandLogEntry{
				CommandID: 12345,
				Utterance: "got gas, $40",
				Status:    domain.Status(status),
			}, nil
		}

		req := httptest.NewRequest(http.MethodGet, "/commands/12345", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["command_id"]).To(BeEquivalentTo(12345))
		Expect(resp["status"]).To(Equal("ok"))
	})
})
