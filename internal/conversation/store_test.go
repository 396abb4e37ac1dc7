package conversation_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"vozlab.mx/conversa/internal/conversation"
	"vozlab.mx/conversa/internal/model"
)

var _ = Describe("MemoryStore", func() {
	var (
		store *conversation.MemoryStore
		ctx   context.Context
	)

	BeforeEach(func() {
		store = conversation.NewMemoryStore()
		ctx = context.Background()
	})

	It("returns a fresh idle conversation for an unknown key", func() {
		conv, err := store.Load(ctx, "acme", "+5215500000001")
		Expect(err).NotTo(HaveOccurred())
		Expect(conv.Stage).To(Equal(model.StageIdle))
		Expect(conv.History).To(BeEmpty())
		Expect(conv.Subscribed).To(BeTrue())
	})

	It("round-trips saved state", func() {
		conv := model.NewConversation("acme", "+5215500000001")
		conv.Append(model.RoleUser, "hola", time.Now().UTC())
		conv.Stage = model.StageOffering
		conv.Retries = 1
		Expect(store.Save(ctx, conv)).To(Succeed())

		loaded, err := store.Load(ctx, "acme", "+5215500000001")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Stage).To(Equal(model.StageOffering))
		Expect(loaded.Retries).To(Equal(1))
		Expect(loaded.History).To(HaveLen(1))
		Expect(loaded.History[0].Content).To(Equal("hola"))
	})

	It("does not alias saved conversations", func() {
		conv := model.NewConversation("acme", "+5215500000001")
		conv.Append(model.RoleUser, "hola", time.Now().UTC())
		Expect(store.Save(ctx, conv)).To(Succeed())

		conv.Append(model.RoleAssistant, "mutated after save", time.Now().UTC())

		loaded, err := store.Load(ctx, "acme", "+5215500000001")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.History).To(HaveLen(1))
	})

	It("clears state back to fresh", func() {
		conv := model.NewConversation("acme", "+5215500000001")
		conv.Stage = model.StageConfirming
		Expect(store.Save(ctx, conv)).To(Succeed())
		Expect(store.Clear(ctx, "acme", "+5215500000001")).To(Succeed())

		loaded, err := store.Load(ctx, "acme", "+5215500000001")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Stage).To(Equal(model.StageIdle))
	})
})

var _ = Describe("DecodeConversation", func() {
	It("recovers from malformed state with a fresh conversation", func() {
		conv := conversation.DecodeConversation(context.Background(), []byte("{not json"), "acme", "+521")
		Expect(conv.Stage).To(Equal(model.StageIdle))
		Expect(conv.BrandKey).To(Equal("acme"))
		Expect(conv.UserID).To(Equal("+521"))
		Expect(conv.Subscribed).To(BeTrue())
	})

	It("normalizes a record with no stage to idle", func() {
		conv := conversation.DecodeConversation(context.Background(), []byte(`{"history":[]}`), "acme", "+521")
		Expect(conv.Stage).To(Equal(model.StageIdle))
	})

	It("trusts the lookup key over stored identifiers", func() {
		data := []byte(`{"brand_key":"stale","user_id":"old","stage":"idle"}`)
		conv := conversation.DecodeConversation(context.Background(), data, "acme", "+521")
		Expect(conv.BrandKey).To(Equal("acme"))
		Expect(conv.UserID).To(Equal("+521"))
	})
})

var _ = Describe("MemoryDedup", func() {
	It("grants a message ID once until released", func() {
		dedup := conversation.NewMemoryDedup()
		ctx := context.Background()

		won, err := dedup.Acquire(ctx, "wamid.1")
		Expect(err).NotTo(HaveOccurred())
		Expect(won).To(BeTrue())

		won, err = dedup.Acquire(ctx, "wamid.1")
		Expect(err).NotTo(HaveOccurred())
		Expect(won).To(BeFalse())

		Expect(dedup.Release(ctx, "wamid.1")).To(Succeed())

		won, err = dedup.Acquire(ctx, "wamid.1")
		Expect(err).NotTo(HaveOccurred())
		Expect(won).To(BeTrue())
	})

	It("peeks without claiming", func() {
		dedup := conversation.NewMemoryDedup()
		ctx := context.Background()

		seen, err := dedup.Seen(ctx, "wamid.2")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeFalse())

		won, err := dedup.Acquire(ctx, "wamid.2")
		Expect(err).NotTo(HaveOccurred())
		Expect(won).To(BeTrue())

		seen, err = dedup.Seen(ctx, "wamid.2")
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(BeTrue())
	})
})
