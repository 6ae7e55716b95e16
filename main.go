package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"github.com/tanpawarit/Chative-Travel-Assistant/agent/agents/assistant"
	"github.com/tanpawarit/Chative-Travel-Assistant/agent/agents/orchestrator"
	"github.com/tanpawarit/Chative-Travel-Assistant/agent/approval"
	"github.com/tanpawarit/Chative-Travel-Assistant/agent/completion"
	contractx "github.com/tanpawarit/Chative-Travel-Assistant/agent/contract"
	"github.com/tanpawarit/Chative-Travel-Assistant/agent/executor"
	"github.com/tanpawarit/Chative-Travel-Assistant/agent/knowledge"
	llmx "github.com/tanpawarit/Chative-Travel-Assistant/agent/llm"
	promptx "github.com/tanpawarit/Chative-Travel-Assistant/agent/prompt"
	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
	"github.com/tanpawarit/Chative-Travel-Assistant/agent/tool"
	travelx "github.com/tanpawarit/Chative-Travel-Assistant/agent/travel"
	configx "github.com/tanpawarit/Chative-Travel-Assistant/pkg/config"
	databasex "github.com/tanpawarit/Chative-Travel-Assistant/pkg/database"
	_ "github.com/tanpawarit/Chative-Travel-Assistant/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/Chative-Travel-Assistant/pkg/openrouter"
	qdrantx "github.com/tanpawarit/Chative-Travel-Assistant/pkg/qdrant"
)

var (
	sessionFlag   = flag.String("session", "", "resume an existing session id")
	ingestFAQFlag = flag.String("ingest-faq", "", "index a markdown policy document into the policy collection and exit")
)

type AppConfig struct {
	PassengerID string `envconfig:"PASSENGER_ID" split_words:"true"`
	// QdrantEnabled turns on semantic policy lookup and trip recommendations.
	QdrantEnabled bool `envconfig:"QDRANT_ENABLED" split_words:"true" default:"false"`
}

type StoreConfig struct {
	Backend  string `split_words:"true" default:"memory"`
	BoltPath string `split_words:"true" default:".data/sessions.db"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("travel assistant stopped")
	}
}

func run(ctx context.Context) error {
	appCfg := configx.MustNew[AppConfig]("")
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	if err := llmCfg.Validate(); err != nil {
		return err
	}
	engineCfg := configx.MustNew[orchestrator.Config]("ENGINE")
	toolCfg := configx.MustNew[executor.Config]("TOOL")
	storeCfg := configx.MustNew[StoreConfig]("STORE")
	dbCfg := configx.MustNew[databasex.Config]("TRAVEL_DB")

	db, err := databasex.Open(*dbCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	repo, err := travelx.NewRepository(db)
	if err != nil {
		return err
	}
	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	deps := tool.CatalogDeps{Bookings: repo}
	if appCfg.QdrantEnabled {
		vectors, err := qdrantx.NewClient(*configx.MustNew[qdrantx.Config]("QDRANT"))
		if err != nil {
			return err
		}
		defer vectors.Close()

		policies, recommendations, topK, err := knowledgeIndexes(vectors, *llmCfg)
		if err != nil {
			return err
		}
		if path := strings.TrimSpace(*ingestFAQFlag); path != "" {
			return ingestFAQ(ctx, policies, path)
		}
		deps.Policies = policies
		deps.Recommendations = recommendations
		deps.PolicyTopK = topK
	} else if strings.TrimSpace(*ingestFAQFlag) != "" {
		return fmt.Errorf("%w: -ingest-faq requires QDRANT_ENABLED=true", contractx.ErrValidation)
	}

	store, closeStore, err := openStore(ctx, *storeCfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := buildEngine(store, deps, *llmCfg, *engineCfg, *toolCfg, appCfg.PassengerID)
	if err != nil {
		return err
	}

	sessionID := strings.TrimSpace(*sessionFlag)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return newREPL(engine, sessionID, os.Stdin, os.Stdout).Run(ctx)
}

func buildEngine(
	store statex.Store,
	deps tool.CatalogDeps,
	llmCfg llmx.Config,
	engineCfg orchestrator.Config,
	toolCfg executor.Config,
	passengerID string,
) (*orchestrator.Orchestrator, error) {
	catalog, err := tool.TravelCatalog(deps)
	if err != nil {
		return nil, err
	}
	defs := assistant.TravelAssistants(promptx.LoadPromptSet())
	reg, err := tool.NewRegistry(append(catalog, assistant.RoutingTools(defs)...)...)
	if err != nil {
		return nil, err
	}
	router, err := assistant.NewRouter(reg, defs...)
	if err != nil {
		return nil, err
	}
	gate, err := approval.NewGate(reg)
	if err != nil {
		return nil, err
	}
	exec, err := executor.New(reg, router, toolCfg)
	if err != nil {
		return nil, err
	}

	adapter, err := completion.NewAdapter(func(ctx context.Context, id statex.AssistantID) (einomodel.ToolCallingChatModel, error) {
		cfg := llmCfg.OpenRouterFor(id)
		return cfg.New(ctx)
	}, completion.Config{
		MaxRetries:    llmCfg.MaxRetries,
		Timeout:       llmCfg.Timeout,
		RetryInterval: llmCfg.RetryInterval,
	})
	if err != nil {
		return nil, err
	}

	var opts []orchestrator.Option
	if id := strings.TrimSpace(passengerID); id != "" {
		opts = append(opts, orchestrator.WithUserContext(map[string]string{tool.PassengerKey: id}))
	}
	return orchestrator.New(store, adapter, router, gate, exec, engineCfg, opts...)
}

func openStore(ctx context.Context, cfg StoreConfig, db *bun.DB) (statex.Store, func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return statex.NewMemoryStore(), noop, nil
	case "bolt":
		store, err := statex.OpenBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, noop, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("close bolt store")
			}
		}, nil
	case "upstash":
		redisCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		store, err := statex.NewUpstashRedisStore(*redisCfg)
		return store, noop, err
	case "sql", "postgres", "sqlite":
		store, err := statex.NewBunStore(db)
		if err != nil {
			return nil, noop, err
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	default:
		return nil, noop, fmt.Errorf("%w: unknown store backend %q", contractx.ErrValidation, cfg.Backend)
	}
}

func knowledgeIndexes(client knowledge.VectorStore, llmCfg llmx.Config) (policies, recommendations *knowledge.QdrantIndex, topK int, err error) {
	knowledgeCfg := configx.MustNew[knowledge.Config]("KNOWLEDGE")

	embedder, err := knowledge.NewOpenAIEmbedder(
		openrouterx.NewClient(llmCfg.Embeddings()),
		knowledgeCfg.EmbeddingModel,
		knowledgeCfg.EmbeddingDimensions,
	)
	if err != nil {
		return nil, nil, 0, err
	}

	policies, err = knowledge.NewQdrantIndex(client, embedder, knowledgeCfg.PolicyCollection, knowledgeCfg.TopK)
	if err != nil {
		return nil, nil, 0, err
	}
	recommendations, err = knowledge.NewQdrantIndex(client, embedder, knowledgeCfg.ExcursionCollection, knowledgeCfg.TopK)
	if err != nil {
		return nil, nil, 0, err
	}
	return policies, recommendations, knowledgeCfg.TopK, nil
}

func ingestFAQ(ctx context.Context, index *knowledge.QdrantIndex, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open faq: %w", err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read faq: %w", err)
	}
	n, err := index.Ingest(ctx, knowledge.SplitMarkdownSections(string(raw)))
	if err != nil {
		return err
	}
	log.Info().Str("path", path).Int("sections", n).Msg("policy document indexed")
	return nil
}
