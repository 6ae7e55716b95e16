package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openaisdk "github.com/openai/openai-go"
	contractx "github.com/tanpawarit/Chative-Travel-Assistant/agent/contract"
)

// OpenAIEmbedder turns text into vectors through an OpenAI-compatible embeddings API.
type OpenAIEmbedder struct {
	client     *openaisdk.Client
	model      string
	dimensions int
}

var _ contractx.Embedder = (*OpenAIEmbedder)(nil)

func NewOpenAIEmbedder(client *openaisdk.Client, model string, dimensions int) (*OpenAIEmbedder, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("embedding model is required")
	}
	return &OpenAIEmbedder{client: client, model: model, dimensions: dimensions}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfString: openaisdk.String(text)},
		Model: openaisdk.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		params.Dimensions = openaisdk.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: embeddings response has no data", contractx.ErrSchemaViolation)
	}

	raw := resp.Data[0].Embedding
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: embeddings: %v", contractx.ErrServiceUnavailable, err)
		}
		return fmt.Errorf("%w: embeddings: %v", contractx.ErrModelInvoke, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: embeddings: %v", contractx.ErrServiceUnavailable, err)
}
