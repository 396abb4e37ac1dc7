package rag_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"vozlab.mx/conversa/internal/model"
	"vozlab.mx/conversa/internal/rag"
)

var _ = Describe("Assembler", func() {
	var assembler *rag.Assembler

	BeforeEach(func() {
		assembler = rag.NewAssembler(rag.AssemblerConfig{
			MinScore:  0.25,
			MaxChunks: 3,
			MaxChars:  200,
		})
	})

	chunk := func(docID, text string, score float64) model.RetrievedChunk {
		return model.RetrievedChunk{DocID: docID, Text: text, Score: score}
	}

	It("drops chunks below the score threshold", func() {
		ctx := assembler.Assemble([]model.RetrievedChunk{
			chunk("a", "relevant answer", 0.9),
			chunk("b", "noise", 0.1),
		})

		Expect(ctx.Text).To(ContainSubstring("relevant answer"))
		Expect(ctx.Text).NotTo(ContainSubstring("noise"))
		Expect(ctx.DocIDs).To(Equal([]string{"a"}))
	})

	It("returns an empty context when nothing clears the threshold", func() {
		ctx := assembler.Assemble([]model.RetrievedChunk{
			chunk("a", "weak", 0.05),
			chunk("b", "weaker", 0.01),
		})

		Expect(ctx.Empty()).To(BeTrue())
		Expect(ctx.DocIDs).To(BeEmpty())
	})

	It("dedupes by document ID keeping the highest score", func() {
		ctx := assembler.Assemble([]model.RetrievedChunk{
			chunk("a", "older revision", 0.5),
			chunk("a", "best revision", 0.8),
			chunk("a", "middle revision", 0.7),
		})

		Expect(ctx.Text).To(Equal("best revision"))
		Expect(ctx.DocIDs).To(Equal([]string{"a"}))
	})

	It("orders by score descending with doc ID tie-break", func() {
		ctx := assembler.Assemble([]model.RetrievedChunk{
			chunk("z", "tied z", 0.7),
			chunk("a", "tied a", 0.7),
			chunk("m", "top", 0.9),
		})

		Expect(ctx.DocIDs).To(Equal([]string{"m", "a", "z"}))
		Expect(strings.Index(ctx.Text, "top")).To(BeNumerically("<", strings.Index(ctx.Text, "tied a")))
	})

	It("is deterministic regardless of input order", func() {
		chunks := []model.RetrievedChunk{
			chunk("c", "gamma", 0.4),
			chunk("a", "alpha", 0.9),
			chunk("b", "beta", 0.6),
		}
		reversed := []model.RetrievedChunk{chunks[1], chunks[2], chunks[0]}

		first := assembler.Assemble(chunks)
		second := assembler.Assemble(reversed)

		Expect(first).To(Equal(second))
	})

	It("keeps at most MaxChunks chunks", func() {
		ctx := assembler.Assemble([]model.RetrievedChunk{
			chunk("a", "one", 0.9),
			chunk("b", "two", 0.8),
			chunk("c", "three", 0.7),
			chunk("d", "four", 0.6),
		})

		Expect(ctx.DocIDs).To(HaveLen(3))
		Expect(ctx.DocIDs).NotTo(ContainElement("d"))
	})

	It("never exceeds the character budget", func() {
		small := rag.NewAssembler(rag.AssemblerConfig{MinScore: 0, MaxChunks: 10, MaxChars: 30})

		ctx := small.Assemble([]model.RetrievedChunk{
			chunk("a", strings.Repeat("x", 20), 0.9),
			chunk("b", strings.Repeat("y", 20), 0.8),
			chunk("c", "z", 0.7),
		})

		Expect(ctx.Len()).To(BeNumerically("<=", 30))
		Expect(ctx.Text).To(ContainSubstring("x"))
		// b does not fit whole after a plus the delimiter, so it is skipped
		Expect(ctx.Text).NotTo(ContainSubstring("y"))
		// c still fits and is included whole
		Expect(ctx.DocIDs).To(Equal([]string{"a", "c"}))
	})

	It("excludes oversized chunks entirely instead of splitting them", func() {
		small := rag.NewAssembler(rag.AssemblerConfig{MinScore: 0, MaxChunks: 10, MaxChars: 10})

		ctx := small.Assemble([]model.RetrievedChunk{
			chunk("a", strings.Repeat("x", 50), 0.9),
			chunk("b", "short", 0.5),
		})

		Expect(ctx.Text).To(Equal("short"))
		Expect(ctx.DocIDs).To(Equal([]string{"b"}))
	})

	It("joins chunks with the delimiter", func() {
		ctx := assembler.Assemble([]model.RetrievedChunk{
			chunk("a", "first", 0.9),
			chunk("b", "second", 0.8),
		})

		Expect(ctx.Text).To(Equal("first" + rag.Delimiter + "second"))
	})

	It("skips empty and whitespace-only chunks", func() {
		ctx := assembler.Assemble([]model.RetrievedChunk{
			chunk("a", "   ", 0.9),
			chunk("b", "\n\t", 0.8),
			chunk("c", "  real content  ", 0.7),
		})

		Expect(ctx.Text).To(Equal("real content"))
		Expect(ctx.DocIDs).To(Equal([]string{"c"}))
	})

	It("counts the budget in runes, not bytes", func() {
		small := rag.NewAssembler(rag.AssemblerConfig{MinScore: 0, MaxChunks: 10, MaxChars: 5})

		ctx := small.Assemble([]model.RetrievedChunk{
			chunk("a", "ñañañ", 0.9), // 5 runes, more bytes
		})

		Expect(ctx.Text).To(Equal("ñañañ"))
	})
})
