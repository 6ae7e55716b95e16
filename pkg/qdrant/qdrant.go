package qdrant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	qclient "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultPort = 6334

var ErrUnavailable = errors.New("qdrant unavailable")

type Config struct {
	Host    string        `envconfig:"HOST" required:"true"`
	Port    int           `envconfig:"PORT" default:"6334"`
	APIKey  string        `envconfig:"API_KEY" split_words:"true"`
	UseTLS  bool          `envconfig:"USE_TLS" split_words:"true" default:"false"`
	Timeout time.Duration `split_words:"true" default:"10s"`
}

// Client wraps the official Qdrant gRPC client with the few calls the knowledge index needs.
type Client struct {
	api     pointsAPI
	timeout time.Duration
}

type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

type ScoredPoint struct {
	ID      any
	Score   float64
	Payload map[string]any
}

type SearchRequest struct {
	Vector      []float32
	Limit       int
	WithPayload bool
}

// pointsAPI is the subset of *qclient.Client used here.
type pointsAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qclient.CreateCollection) error
	Upsert(ctx context.Context, request *qclient.UpsertPoints) (*qclient.UpdateResult, error)
	Query(ctx context.Context, request *qclient.QueryPoints) ([]*qclient.ScoredPoint, error)
	Close() error
}

func NewClient(cfg Config) (*Client, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("qdrant host is required")
	}
	port := cfg.Port
	if port <= 0 {
		port = defaultPort
	}

	api, err := qclient.NewClient(&qclient.Config{
		Host:   host,
		Port:   port,
		APIKey: strings.TrimSpace(cfg.APIKey),
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return newClient(api, cfg.Timeout), nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

func newClient(api pointsAPI, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{api: api, timeout: timeout}
}

func (c *Client) Close() error {
	return c.api.Close()
}

// EnsureCollection creates a cosine collection of the given vector size if it is missing.
func (c *Client) EnsureCollection(ctx context.Context, collection string, size int) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	exists, err := c.api.CollectionExists(ctx, collection)
	if err != nil {
		return classify("collection exists", err)
	}
	if exists {
		return nil
	}
	err = c.api.CreateCollection(ctx, &qclient.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qclient.NewVectorsConfig(&qclient.VectorParams{
			Size:     uint64(size),
			Distance: qclient.Distance_Cosine,
		}),
	})
	return classify("create collection", err)
}

func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qclient.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := toPayload(p.Payload)
		if err != nil {
			return fmt.Errorf("point %s: %w", p.ID, err)
		}
		structs = append(structs, &qclient.PointStruct{
			Id:      qclient.NewID(p.ID),
			Vectors: qclient.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	wait := true
	_, err := c.api.Upsert(ctx, &qclient.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	})
	return classify("upsert", err)
}

func (c *Client) Search(ctx context.Context, collection string, req SearchRequest) ([]ScoredPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	limit := uint64(max(req.Limit, 1))
	hits, err := c.api.Query(ctx, &qclient.QueryPoints{
		CollectionName: collection,
		Query:          qclient.NewQuery(req.Vector...),
		Limit:          &limit,
		WithPayload:    qclient.NewWithPayload(req.WithPayload),
	})
	if err != nil {
		return nil, classify("query", err)
	}

	out := make([]ScoredPoint, 0, len(hits))
	for _, h := range hits {
		out = append(out, ScoredPoint{
			ID:      pointID(h.GetId()),
			Score:   float64(h.GetScore()),
			Payload: fromPayload(h.GetPayload()),
		})
	}
	return out, nil
}

// classify marks transport failures with ErrUnavailable so callers can retry them.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return fmt.Errorf("qdrant %s: %w", op, err)
}

func pointID(id *qclient.PointId) any {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return id.GetNum()
}
