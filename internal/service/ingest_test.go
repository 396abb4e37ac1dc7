package service_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"vozlab.mx/conversa/internal/brand"
	"vozlab.mx/conversa/internal/model"
	"vozlab.mx/conversa/internal/queue"
	"vozlab.mx/conversa/internal/service"
)

var _ = Describe("IngestService", func() {
	var (
		svc      service.IngestService
		registry *brand.Registry
		dedup    *mockDedup
		producer *mockProducer
		ctx      context.Context
	)

	freshParams := func() service.IngestParams {
		return service.IngestParams{
			BrandKey:   "fes",
			UserID:     testUserID,
			UserName:   "María Pérez",
			Text:       "hola, ¿qué seguros tienen?",
			MessageID:  "wamid.in0001",
			ReceivedAt: time.Now().UTC(),
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		registry = brand.NewRegistry([]model.Brand{fesBrand()})
		dedup = &mockDedup{}
		producer = &mockProducer{}
		svc = service.NewIngestService(registry, dedup, producer)
	})

	It("accepts a fresh message and enqueues a turn", func() {
		result, err := svc.Ingest(ctx, freshParams())

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Status).To(Equal(service.IngestAccepted))
		Expect(producer.tasks).To(HaveLen(1))

		task := producer.tasks[0]
		Expect(task.BrandKey).To(Equal("fes"))
		Expect(task.UserID).To(Equal(testUserID))
		Expect(task.UserName).To(Equal("María Pérez"))
		Expect(task.MessageID).To(Equal("wamid.in0001"))
		Expect(task.Text).To(Equal("hola, ¿qué seguros tienen?"))
		Expect(task.Attempt).To(Equal(1))
	})

	It("accepts button-only deliveries", func() {
		params := freshParams()
		params.Text = ""
		params.ButtonID = "slot_2"

		result, err := svc.Ingest(ctx, params)

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Status).To(Equal(service.IngestAccepted))
		Expect(producer.tasks[0].ButtonID).To(Equal("slot_2"))
	})

	It("skips deliveries without processable content", func() {
		params := freshParams()
		params.Text = ""

		result, err := svc.Ingest(ctx, params)

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Status).To(Equal(service.IngestSkipped))
		Expect(producer.tasks).To(BeEmpty())
	})

	It("skips deliveries for unknown brands", func() {
		params := freshParams()
		params.BrandKey = "nadie"

		result, err := svc.Ingest(ctx, params)

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Status).To(Equal(service.IngestSkipped))
		Expect(producer.tasks).To(BeEmpty())
	})

	It("short-circuits already processed messages", func() {
		dedup.seenFn = func(ctx context.Context, messageID string) (bool, error) {
			return true, nil
		}

		result, err := svc.Ingest(ctx, freshParams())

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Status).To(Equal(service.IngestDuplicate))
		Expect(producer.tasks).To(BeEmpty())
	})

	It("enqueues anyway when the dedup peek fails", func() {
		dedup.seenFn = func(ctx context.Context, messageID string) (bool, error) {
			return false, errors.New("redis timeout")
		}

		result, err := svc.Ingest(ctx, freshParams())

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Status).To(Equal(service.IngestAccepted))
		Expect(producer.tasks).To(HaveLen(1))
	})

	It("surfaces queue failures", func() {
		producer.enqueueFn = func(ctx context.Context, task queue.TurnTask) error {
			return errors.New("stream full")
		}

		_, err := svc.Ingest(ctx, freshParams())

		Expect(err).To(HaveOccurred())
	})

	It("rejects deliveries missing identity fields", func() {
		params := freshParams()
		params.MessageID = ""

		_, err := svc.Ingest(ctx, params)

		Expect(err).To(HaveOccurred())
	})
})
