package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	contractx "github.com/tanpawarit/Chative-Travel-Assistant/agent/contract"
	qdrantx "github.com/tanpawarit/Chative-Travel-Assistant/pkg/qdrant"
)

type fakeEmbedder struct {
	err   error
	calls []string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls = append(f.calls, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type fakeVectorStore struct {
	hits      []qdrantx.ScoredPoint
	searchErr error
	lastReq   qdrantx.SearchRequest
	ensured   map[string]int
	upserted  []qdrantx.Point
}

func (f *fakeVectorStore) EnsureCollection(ctx context.Context, collection string, size int) error {
	if f.ensured == nil {
		f.ensured = map[string]int{}
	}
	f.ensured[collection] = size
	return nil
}

func (f *fakeVectorStore) Upsert(ctx context.Context, collection string, points []qdrantx.Point) error {
	f.upserted = append(f.upserted, points...)
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, collection string, req qdrantx.SearchRequest) ([]qdrantx.ScoredPoint, error) {
	f.lastReq = req
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

func TestQdrantIndexSearch(t *testing.T) {
	t.Parallel()

	store := &fakeVectorStore{hits: []qdrantx.ScoredPoint{
		{ID: "1", Score: 0.8, Payload: map[string]any{"content": "You can cancel up to 24h before departure.", "type": "faq"}},
		{ID: float64(2), Score: 0.5, Payload: map[string]any{"content": "Baggage allowance is 23kg."}},
	}}
	idx, err := NewQdrantIndex(store, &fakeEmbedder{}, "faq_collection", 2)
	if err != nil {
		t.Fatalf("NewQdrantIndex() error = %v", err)
	}

	got, err := idx.Search(context.Background(), "cancel policy", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if store.lastReq.Limit != 2 || !store.lastReq.WithPayload {
		t.Fatalf("unexpected search request: %#v", store.lastReq)
	}
	if len(got) != 2 || got[0].Score < got[1].Score {
		t.Fatalf("unexpected passages: %#v", got)
	}
	if got[0].Fields["type"] != "faq" || got[1].ID != "2" {
		t.Fatalf("unexpected passage metadata: %#v", got)
	}
}

func TestQdrantIndexSearchUnavailable(t *testing.T) {
	t.Parallel()

	store := &fakeVectorStore{searchErr: fmt.Errorf("%w: dial tcp", qdrantx.ErrUnavailable)}
	idx, _ := NewQdrantIndex(store, &fakeEmbedder{}, "faq_collection", 2)

	_, err := idx.Search(context.Background(), "refund", 1)
	if !errors.Is(err, contractx.ErrServiceUnavailable) {
		t.Fatalf("Search() error = %v, want ErrServiceUnavailable", err)
	}
	if _, err := idx.Search(context.Background(), "  ", 1); !errors.Is(err, contractx.ErrDomain) {
		t.Fatalf("Search(empty) error = %v, want ErrDomain", err)
	}
}

func TestIngestSplitsAndUpserts(t *testing.T) {
	t.Parallel()

	store := &fakeVectorStore{}
	idx, _ := NewQdrantIndex(store, &fakeEmbedder{}, "faq_collection", 2)

	docs := SplitMarkdownSections("# Swiss FAQ\nintro\n## Booking\nHow to book.\n## Refunds\nHow to refund.\n")
	if len(docs) != 3 {
		t.Fatalf("SplitMarkdownSections() returned %d docs, want 3", len(docs))
	}

	n, err := idx.Ingest(context.Background(), docs)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if n != 3 || len(store.upserted) != 3 {
		t.Fatalf("Ingest() = %d, upserted %d", n, len(store.upserted))
	}
	if store.ensured["faq_collection"] != 2 {
		t.Fatalf("collection not ensured with vector size: %#v", store.ensured)
	}
	if store.upserted[1].Payload["content"] != "## Booking\nHow to book." {
		t.Fatalf("unexpected payload: %#v", store.upserted[1].Payload)
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,-0.25]}],"model":"text-embedding-3-small","usage":{"prompt_tokens":2,"total_tokens":2}}`)
	}))
	t.Cleanup(server.Close)

	client := openaisdk.NewClient(
		option.WithAPIKey("test"),
		option.WithBaseURL(server.URL),
		option.WithMaxRetries(0),
	)
	emb, err := NewOpenAIEmbedder(&client, "text-embedding-3-small", 0)
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder() error = %v", err)
	}

	got, err := emb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(got) != 2 || got[0] != 0.5 || got[1] != -0.25 {
		t.Fatalf("Embed() = %v", got)
	}
}

func TestOpenAIEmbedderServerErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":{"message":"upstream down","type":"server_error"}}`)
	}))
	t.Cleanup(server.Close)

	client := openaisdk.NewClient(
		option.WithAPIKey("test"),
		option.WithBaseURL(server.URL),
		option.WithMaxRetries(0),
	)
	emb, _ := NewOpenAIEmbedder(&client, "text-embedding-3-small", 0)

	if _, err := emb.Embed(context.Background(), "hello"); !errors.Is(err, contractx.ErrServiceUnavailable) {
		t.Fatalf("Embed() error = %v, want ErrServiceUnavailable", err)
	}
}
