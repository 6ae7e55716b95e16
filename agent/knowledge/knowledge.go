package knowledge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Travel-Assistant/agent/contract"
	qdrantx "github.com/tanpawarit/Chative-Travel-Assistant/pkg/qdrant"
)

const (
	contentField   = "content"
	defaultTopK    = 2
	upsertBatchLen = 100
)

type Config struct {
	PolicyCollection    string `split_words:"true" default:"faq_collection"`
	ExcursionCollection string `split_words:"true" default:"excursions_collection"`
	EmbeddingModel      string `split_words:"true" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `split_words:"true" default:"0"`
	TopK                int    `envconfig:"TOP_K" default:"2"`
}

// VectorStore is the subset of the Qdrant client the index needs.
type VectorStore interface {
	EnsureCollection(ctx context.Context, collection string, size int) error
	Upsert(ctx context.Context, collection string, points []qdrantx.Point) error
	Search(ctx context.Context, collection string, req qdrantx.SearchRequest) ([]qdrantx.ScoredPoint, error)
}

// QdrantIndex answers knowledge queries from one Qdrant collection.
type QdrantIndex struct {
	store      VectorStore
	embedder   contractx.Embedder
	collection string
	topK       int
}

var _ contractx.KnowledgeIndex = (*QdrantIndex)(nil)

func NewQdrantIndex(store VectorStore, embedder contractx.Embedder, collection string, topK int) (*QdrantIndex, error) {
	if store == nil {
		return nil, errors.New("vector store is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("collection is required")
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	return &QdrantIndex{
		store:      store,
		embedder:   embedder,
		collection: collection,
		topK:       topK,
	}, nil
}

func (q *QdrantIndex) Search(ctx context.Context, query string, topK int) ([]contractx.Passage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", contractx.ErrDomain)
	}
	if topK <= 0 {
		topK = q.topK
	}

	vector, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := q.store.Search(ctx, q.collection, qdrantx.SearchRequest{
		Vector:      vector,
		Limit:       topK,
		WithPayload: true,
	})
	if err != nil {
		if errors.Is(err, qdrantx.ErrUnavailable) {
			return nil, fmt.Errorf("%w: search %s: %v", contractx.ErrServiceUnavailable, q.collection, err)
		}
		return nil, fmt.Errorf("search %s: %w", q.collection, err)
	}

	out := make([]contractx.Passage, 0, len(hits))
	for _, h := range hits {
		text, _ := h.Payload[contentField].(string)
		fields := make(map[string]any, len(h.Payload))
		for k, v := range h.Payload {
			if k != contentField {
				fields[k] = v
			}
		}
		out = append(out, contractx.Passage{
			ID:     fmt.Sprint(h.ID),
			Text:   text,
			Score:  h.Score,
			Fields: fields,
		})
	}
	return out, nil
}

// Document is a unit of text to index with its payload metadata.
type Document struct {
	Text     string
	Metadata map[string]any
}

// Ingest embeds docs and upserts them into the index's collection, creating it on first use.
func (q *QdrantIndex) Ingest(ctx context.Context, docs []Document) (int, error) {
	logger := log.Logger.With().Str("component", "knowledge").Str("collection", q.collection).Logger()

	points := make([]qdrantx.Point, 0, len(docs))
	for _, d := range docs {
		text := strings.TrimSpace(d.Text)
		if text == "" {
			continue
		}
		vector, err := q.embedder.Embed(ctx, text)
		if err != nil {
			return 0, fmt.Errorf("embed document: %w", err)
		}
		payload := map[string]any{contentField: text}
		for k, v := range d.Metadata {
			payload[k] = v
		}
		points = append(points, qdrantx.Point{
			ID:      uuid.NewString(),
			Vector:  vector,
			Payload: payload,
		})
	}
	if len(points) == 0 {
		logger.Warn().Msg("no documents to index")
		return 0, nil
	}

	if err := q.store.EnsureCollection(ctx, q.collection, len(points[0].Vector)); err != nil {
		return 0, fmt.Errorf("ensure collection %s: %w", q.collection, err)
	}

	inserted := 0
	for start := 0; start < len(points); start += upsertBatchLen {
		end := min(start+upsertBatchLen, len(points))
		if err := q.store.Upsert(ctx, q.collection, points[start:end]); err != nil {
			return inserted, fmt.Errorf("upsert batch at %d: %w", start, err)
		}
		inserted += end - start
		logger.Info().Int("batch_size", end-start).Int("total", inserted).Msg("indexed documents")
	}
	return inserted, nil
}

var sectionBreak = regexp.MustCompile(`(?m)^##`)

// SplitMarkdownSections cuts a markdown document before every second-level heading.
func SplitMarkdownSections(text string) []Document {
	idx := sectionBreak.FindAllStringIndex(text, -1)
	var cuts []int
	for _, m := range idx {
		cuts = append(cuts, m[0])
	}
	cuts = append(cuts, len(text))

	var docs []Document
	prev := 0
	for _, c := range cuts {
		if chunk := strings.TrimSpace(text[prev:c]); chunk != "" {
			docs = append(docs, Document{Text: chunk, Metadata: map[string]any{"type": "faq"}})
		}
		prev = c
	}
	return docs
}
