package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"vozlab.mx/conversa/internal/model"
)

// Retriever searches a brand's vector collection for chunks near the query
// vector. Results come back in index order with raw scores; thresholding and
// dedup belong to the context assembler.
type Retriever interface {
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]model.RetrievedChunk, error)
	Close() error
}

type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Payload keys expected on indexed points.
const (
	payloadText  = "text"
	payloadDocID = "doc_id"
	payloadBrand = "brand"
)

type qdrantRetriever struct {
	client *qdrant.Client
}

func New(cfg Config) (Retriever, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}

	port := cfg.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	return &qdrantRetriever{client: client}, nil
}

func (r *qdrantRetriever) Search(ctx context.Context, collection string, vector []float32, limit int) ([]model.RetrievedChunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	limitUint64 := uint64(limit)
	start := time.Now()
	points, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limitUint64,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	chunks := make([]model.RetrievedChunk, 0, len(points))
	for _, point := range points {
		chunk := model.RetrievedChunk{
			Score: float64(point.Score),
		}

		if point.Payload != nil {
			if v, ok := point.Payload[payloadText]; ok {
				chunk.Text = v.GetStringValue()
			}
			if v, ok := point.Payload[payloadDocID]; ok {
				chunk.DocID = v.GetStringValue()
			}
			if v, ok := point.Payload[payloadBrand]; ok {
				chunk.BrandKey = v.GetStringValue()
			}
		}

		// Fall back to the point ID when the payload carries no document ID
		if chunk.DocID == "" && point.Id != nil {
			if uuid := point.Id.GetUuid(); uuid != "" {
				chunk.DocID = uuid
			} else {
				chunk.DocID = fmt.Sprintf("%d", point.Id.GetNum())
			}
		}

		chunks = append(chunks, chunk)
	}

	slog.DebugContext(ctx, "vector search completed",
		"collection", collection,
		"limit", limit,
		"results", len(chunks),
		"duration_ms", time.Since(start).Milliseconds())

	return chunks, nil
}

func (r *qdrantRetriever) Close() error {
	return r.client.Close()
}
