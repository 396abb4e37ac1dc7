package rag

import (
	"context"
	"fmt"

	"vozlab.mx/conversa/common/llm"
)

// Embedder turns a user query into the vector the retriever searches with.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type embedder struct {
	client llm.Embedder
}

func NewEmbedder(client llm.Embedder) Embedder {
	return &embedder{client: client}
}

func (e *embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.client.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding query: empty response")
	}
	return vectors[0], nil
}
