package contract

import "context"

type CompletionService interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// KnowledgeIndex returns passages ranked by relevance to query, best first.
type KnowledgeIndex interface {
	Search(ctx context.Context, query string, topK int) ([]Passage, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
