package llm_test

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"vozlab.mx/conversa/common/llm"
)

type sampleResponse struct {
	Intent     string  `json:"intent" jsonschema:"enum=chat,enum=schedule"`
	Confidence float64 `json:"confidence"`
}

var _ = Describe("GenerateSchema", func() {
	It("reflects struct fields into a closed JSON schema", func() {
		schema := llm.GenerateSchema[sampleResponse]()

		raw, err := json.Marshal(schema)
		Expect(err).NotTo(HaveOccurred())

		var decoded map[string]any
		Expect(json.Unmarshal(raw, &decoded)).To(Succeed())

		props, ok := decoded["properties"].(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(props).To(HaveKey("intent"))
		Expect(props).To(HaveKey("confidence"))

		// Strict mode requires additionalProperties: false
		Expect(decoded["additionalProperties"]).To(Equal(false))

		intent, ok := props["intent"].(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(intent["enum"]).To(ConsistOf("chat", "schedule"))
	})
})

var _ = Describe("Temp", func() {
	It("returns a pointer to the given value", func() {
		p := llm.Temp(0.5)
		Expect(p).NotTo(BeNil())
		Expect(*p).To(Equal(0.5))
	})

	It("distinguishes explicit zero from unset", func() {
		p := llm.Temp(0)
		Expect(p).NotTo(BeNil())
		Expect(*p).To(BeZero())
	})
})

var _ = Describe("New", func() {
	It("rejects a missing API key", func() {
		_, err := llm.New(llm.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("defaults the model when unset", func() {
		c, err := llm.New(llm.Config{APIKey: "test-key"})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Model()).To(Equal("gpt-4o-mini"))
	})

	It("keeps an explicit model", func() {
		c, err := llm.New(llm.Config{APIKey: "test-key", Model: "deepseek-chat"})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Model()).To(Equal("deepseek-chat"))
	})
})

var _ = Describe("NewEmbedder", func() {
	It("defaults to the embedding model", func() {
		e, err := llm.NewEmbedder(llm.Config{APIKey: "test-key"})
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Model()).To(Equal("text-embedding-3-small"))
	})
})

var _ = Describe("IsRetryable", func() {
	It("treats nil as not retryable", func() {
		Expect(llm.IsRetryable(context.Background(), nil)).To(BeFalse())
	})

	It("does not retry cancelled contexts", func() {
		Expect(llm.IsRetryable(context.Background(), context.Canceled)).To(BeFalse())
		Expect(llm.IsRetryable(context.Background(), context.DeadlineExceeded)).To(BeFalse())
	})

	It("retries plain network errors", func() {
		Expect(llm.IsRetryable(context.Background(), errors.New("connection refused"))).To(BeTrue())
	})
})

var _ = Describe("StatusCode", func() {
	It("reports absence for non-API errors", func() {
		_, ok := llm.StatusCode(errors.New("boom"))
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("RetryAfter", func() {
	It("reports absence for non-API errors", func() {
		_, ok := llm.RetryAfter(errors.New("boom"))
		Expect(ok).To(BeFalse())
	})
})
