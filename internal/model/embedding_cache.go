package model

// CachedEmbedding is a persisted vector keyed by embedder model and the
// sha256 of the chunk text.
type CachedEmbedding struct {
	ModelName   string    `json:"model_name"`
	ContentHash string    `json:"content_hash"`
	Vector      []float32 `json:"vector"`
	Ctime       int64     `json:"ctime"`
}
