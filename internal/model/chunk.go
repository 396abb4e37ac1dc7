package model

// RetrievedChunk is a scored fragment returned by the vector index.
type RetrievedChunk struct {
	DocID    string
	Text     string
	Score    float64 // cosine similarity in [0, 1], higher is more relevant
	BrandKey string
}
