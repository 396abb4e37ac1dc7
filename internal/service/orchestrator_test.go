package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"vozlab.mx/conversa/common/id"
	"vozlab.mx/conversa/internal/brand"
	"vozlab.mx/conversa/internal/conversation"
	llmx "vozlab.mx/conversa/internal/llm"
	"vozlab.mx/conversa/internal/model"
	"vozlab.mx/conversa/internal/rag"
	"vozlab.mx/conversa/internal/service"
)

const (
	testUserID = "5215512345678"
)

func fesBrand() model.Brand {
	return model.Brand{
		ID:         7,
		Key:        "fes",
		Name:       "FES Seguros",
		Collection: "fes_kb",
		Persona: model.Persona{
			Description:       "Eres el asistente de FES Seguros.",
			GreetingStyle:     "¡Hola [Nombre]! Soy el asistente de FES Seguros.",
			ToneKeywords:      "cálido, claro, profesional",
			FallbackNoContext: "Mmm, no tengo ese dato a la mano, [Nombre].",
			Farewell:          "¡Hasta pronto, [Nombre]!",
			ContactNotes:      "Escríbenos a hola@fes.mx.",
		},
		SchedulingEnabled: true,
		EventTypeURI:      "https://calendar.example/event_types/et1",
	}
}

func knowledgeChunks() []model.RetrievedChunk {
	return []model.RetrievedChunk{
		{DocID: "doc-1", Score: 0.92, Text: strings.Repeat("El seguro de gastos médicos cubre hospitalización. ", 3)},
		{DocID: "doc-2", Score: 0.81, Text: strings.Repeat("La cobertura dental incluye limpiezas anuales. ", 3)},
	}
}

var _ = Describe("Orchestrator", func() {
	var (
		orch         service.Orchestrator
		registry     *brand.Registry
		convs        *conversation.MemoryStore
		locks        *conversation.Locks
		dedup        *conversation.MemoryDedup
		embedder     *mockEmbedder
		ret          *mockRetriever
		llmMock      *mockLLM
		scheduler    *mockScheduler
		interactions *mockInteractionStore
		bookings     *mockBookingStore
		ctx          context.Context
		msgSeq       int
	)

	newMsg := func(text string) model.InboundMessage {
		msgSeq++
		return model.InboundMessage{
			BrandKey:  "fes",
			UserID:    testUserID,
			UserName:  "María Pérez",
			Text:      text,
			MessageID: fmt.Sprintf("wamid.%04d", msgSeq),
		}
	}

	loadConv := func() *model.Conversation {
		conv, err := convs.Load(ctx, "fes", testUserID)
		Expect(err).NotTo(HaveOccurred())
		return conv
	}

	BeforeEach(func() {
		ctx = context.Background()
		Expect(id.Init(1)).To(Succeed())

		registry = brand.NewRegistry([]model.Brand{fesBrand()})
		convs = conversation.NewMemoryStore()
		locks = conversation.NewLocks()
		dedup = conversation.NewMemoryDedup()
		embedder = &mockEmbedder{}
		ret = &mockRetriever{}
		llmMock = &mockLLM{}
		scheduler = &mockScheduler{}
		interactions = &mockInteractionStore{}
		bookings = &mockBookingStore{}

		var err error
		orch, err = service.NewOrchestrator(service.OrchestratorDeps{
			Registry:      registry,
			Conversations: convs,
			Locks:         locks,
			Dedup:         dedup,
			Embedder:      embedder,
			Retriever:     ret,
			Assembler:     rag.NewAssembler(rag.AssemblerConfig{MinScore: 0.25, MaxChunks: 3, MaxChars: 4000}),
			LLM:           llmMock,
			Scheduler:     scheduler,
			Interactions:  interactions,
			Bookings:      bookings,
		}, service.OrchestratorConfig{
			DefaultK:        3,
			FetchMultiplier: 2,
			MinContextChars: 50,
			HistoryWindow:   10,
			MaxTokens:       300,
			Temperature:     0.5,
			DaysAhead:       7,
			Timezone:        "UTC",
			OfferLimit:      3,
			MaxRetries:      2,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("answering from the knowledge base", func() {
		BeforeEach(func() {
			ret.searchFn = func(ctx context.Context, collection string, vector []float32, limit int) ([]model.RetrievedChunk, error) {
				return knowledgeChunks(), nil
			}
		})

		It("generates a reply and persists both turns", func() {
			out, err := orch.Handle(ctx, newMsg("¿qué cubre el seguro de gastos médicos?"))

			Expect(err).NotTo(HaveOccurred())
			Expect(out).NotTo(BeNil())
			Expect(out.Text).To(Equal("respuesta generada"))
			Expect(out.UserID).To(Equal(testUserID))

			conv := loadConv()
			Expect(conv.History).To(HaveLen(2))
			Expect(conv.History[0].Role).To(Equal(model.RoleUser))
			Expect(conv.History[1].Role).To(Equal(model.RoleAssistant))
			Expect(conv.History[1].Content).To(Equal("respuesta generada"))
			Expect(conv.Greeted).To(BeTrue())

			Expect(interactions.kinds()).To(Equal([]model.InteractionKind{model.InteractionRAGAnswer}))
		})

		It("over-fetches against the brand's collection", func() {
			_, err := orch.Handle(ctx, newMsg("¿qué cubre?"))

			Expect(err).NotTo(HaveOccurred())
			Expect(ret.lastCollection).To(Equal("fes_kb"))
			Expect(ret.lastLimit).To(Equal(6))
		})

		It("suppresses a replay of the same message", func() {
			msg := newMsg("¿qué cubre el seguro?")

			first, err := orch.Handle(ctx, msg)
			Expect(err).NotTo(HaveOccurred())
			Expect(first).NotTo(BeNil())

			second, err := orch.Handle(ctx, msg)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(BeNil())

			Expect(llmMock.calls).To(Equal(1))
			Expect(loadConv().History).To(HaveLen(2))
		})

		It("feeds the recent history back to the model", func() {
			_, err := orch.Handle(ctx, newMsg("primera pregunta sobre coberturas"))
			Expect(err).NotTo(HaveOccurred())

			_, err = orch.Handle(ctx, newMsg("¿y el deducible?"))
			Expect(err).NotTo(HaveOccurred())

			// system + two history turns + current user message
			Expect(llmMock.lastReq.Messages).To(HaveLen(4))
			Expect(llmMock.lastReq.Messages[3].Content).To(Equal("¿y el deducible?"))
		})

		It("never runs two turns for the same user at once", func() {
			var inFlight, maxSeen int32
			llmMock.completeFn = func(ctx context.Context, req llmx.CompletionRequest) (*llmx.CompletionResult, error) {
				cur := atomic.AddInt32(&inFlight, 1)
				for {
					prev := atomic.LoadInt32(&maxSeen)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxSeen, prev, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return &llmx.CompletionResult{Content: "ok", Attempts: 1}, nil
			}

			msgs := make([]model.InboundMessage, 4)
			for i := range msgs {
				msgs[i] = newMsg(fmt.Sprintf("pregunta %d", i))
			}

			var wg sync.WaitGroup
			for _, msg := range msgs {
				wg.Add(1)
				go func(m model.InboundMessage) {
					defer wg.Done()
					defer GinkgoRecover()
					_, err := orch.Handle(ctx, m)
					Expect(err).NotTo(HaveOccurred())
				}(msg)
			}
			wg.Wait()

			Expect(maxSeen).To(Equal(int32(1)))
			Expect(loadConv().History).To(HaveLen(8))
		})
	})

	Describe("thin or missing context", func() {
		It("falls back without consulting the model", func() {
			out, err := orch.Handle(ctx, newMsg("¿venden seguros para mascotas?"))

			Expect(err).NotTo(HaveOccurred())
			Expect(out.Text).To(Equal("Mmm, no tengo ese dato a la mano, María."))
			Expect(llmMock.calls).To(BeZero())
			Expect(interactions.kinds()).To(Equal([]model.InteractionKind{model.InteractionFallback}))

			conv := loadConv()
			Expect(conv.History).To(HaveLen(2))
		})

		It("degrades to the fallback when embedding fails", func() {
			embedder.embedFn = func(ctx context.Context, text string) ([]float32, error) {
				return nil, errors.New("embedding service down")
			}

			out, err := orch.Handle(ctx, newMsg("¿qué cubre?"))

			Expect(err).NotTo(HaveOccurred())
			Expect(out.Text).To(ContainSubstring("no tengo ese dato"))
			Expect(ret.calls).To(BeZero())
			Expect(llmMock.calls).To(BeZero())
		})

		It("degrades to the fallback when search fails", func() {
			ret.searchFn = func(ctx context.Context, collection string, vector []float32, limit int) ([]model.RetrievedChunk, error) {
				return nil, errors.New("collection unavailable")
			}

			out, err := orch.Handle(ctx, newMsg("¿qué cubre?"))

			Expect(err).NotTo(HaveOccurred())
			Expect(out.Text).To(ContainSubstring("no tengo ese dato"))
			Expect(llmMock.calls).To(BeZero())
		})
	})

	Describe("generation failures", func() {
		BeforeEach(func() {
			ret.searchFn = func(ctx context.Context, collection string, vector []float32, limit int) ([]model.RetrievedChunk, error) {
				return knowledgeChunks(), nil
			}
			llmMock.completeFn = func(ctx context.Context, req llmx.CompletionRequest) (*llmx.CompletionResult, error) {
				return nil, fmt.Errorf("exhausted 3 attempts: %w", llmx.ErrServerError)
			}
		})

		It("apologizes and keeps only the user's turn", func() {
			out, err := orch.Handle(ctx, newMsg("¿qué cubre el seguro?"))

			Expect(err).NotTo(HaveOccurred())
			Expect(out.Text).To(ContainSubstring("problema técnico"))

			conv := loadConv()
			Expect(conv.History).To(HaveLen(1))
			Expect(conv.History[0].Role).To(Equal(model.RoleUser))
		})

		It("does not reprocess the turn on redelivery", func() {
			msg := newMsg("¿qué cubre el seguro?")

			_, err := orch.Handle(ctx, msg)
			Expect(err).NotTo(HaveOccurred())

			out, err := orch.Handle(ctx, msg)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(BeNil())
			Expect(llmMock.calls).To(Equal(1))
		})
	})

	Describe("brand resolution", func() {
		It("drops messages for unknown brands", func() {
			msg := newMsg("hola")
			msg.BrandKey = "nadie"

			out, err := orch.Handle(ctx, msg)

			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(BeNil())
			Expect(llmMock.calls).To(BeZero())
		})

		It("rejects messages missing identity fields", func() {
			msg := newMsg("hola")
			msg.MessageID = ""

			_, err := orch.Handle(ctx, msg)

			Expect(err).To(MatchError(service.ErrInvalidMessage))
		})
	})

	Describe("opt-out and opt-in", func() {
		It("opts the user out and silences further messages", func() {
			out, err := orch.Handle(ctx, newMsg("quiero darme de baja"))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Text).To(ContainSubstring("no te enviaremos más mensajes"))
			Expect(loadConv().Subscribed).To(BeFalse())

			out, err = orch.Handle(ctx, newMsg("¿hola?"))
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(BeNil())
			Expect(llmMock.calls).To(BeZero())
		})

		It("revives the conversation on an explicit opt-in", func() {
			_, err := orch.Handle(ctx, newMsg("baja"))
			Expect(err).NotTo(HaveOccurred())

			out, err := orch.Handle(ctx, newMsg("alta"))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Text).To(ContainSubstring("Bienvenido"))
			Expect(loadConv().Subscribed).To(BeTrue())
		})

		It("honors an opt-out even while slots are on the table", func() {
			scheduler.listFn = func(ctx context.Context, eventTypeURI string, daysAhead int, tz string) ([]model.Slot, error) {
				start := time.Date(2026, 8, 24, 16, 0, 0, 0, time.UTC)
				return []model.Slot{{Start: start, End: start.Add(30 * time.Minute)}}, nil
			}

			_, err := orch.Handle(ctx, newMsg("quiero agendar una cita"))
			Expect(err).NotTo(HaveOccurred())
			Expect(loadConv().Stage).To(Equal(model.StageConfirming))

			out, err := orch.Handle(ctx, newMsg("baja"))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Text).To(ContainSubstring("no te enviaremos más mensajes"))

			conv := loadConv()
			Expect(conv.Subscribed).To(BeFalse())
			Expect(conv.Stage).To(Equal(model.StageIdle))
		})
	})

	Describe("reset", func() {
		It("wipes the history and starts over", func() {
			_, err := orch.Handle(ctx, newMsg("primera pregunta"))
			Expect(err).NotTo(HaveOccurred())
			Expect(loadConv().History).NotTo(BeEmpty())

			out, err := orch.Handle(ctx, newMsg("reiniciar"))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Text).To(ContainSubstring("empezamos de nuevo"))

			conv := loadConv()
			Expect(conv.History).To(BeEmpty())
			Expect(conv.Greeted).To(BeFalse())
			Expect(conv.Subscribed).To(BeTrue())
		})
	})

	Describe("farewell", func() {
		It("closes with the persona's goodbye", func() {
			out, err := orch.Handle(ctx, newMsg("gracias, adiós"))

			Expect(err).NotTo(HaveOccurred())
			Expect(out.Text).To(Equal("¡Hasta pronto, María!"))
			Expect(interactions.kinds()).To(Equal([]model.InteractionKind{model.InteractionFarewell}))
		})
	})

	Describe("stale quick replies", func() {
		It("explains that the option expired without touching state", func() {
			msgSeq++
			msg := model.InboundMessage{
				BrandKey:  "fes",
				UserID:    testUserID,
				MessageID: fmt.Sprintf("wamid.%04d", msgSeq),
				ButtonID:  "slot_2",
			}

			out, err := orch.Handle(ctx, msg)

			Expect(err).NotTo(HaveOccurred())
			Expect(out.Text).To(ContainSubstring("ya no está disponible"))
			Expect(loadConv().History).To(BeEmpty())
		})
	})
})
