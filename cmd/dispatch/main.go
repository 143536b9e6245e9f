// Dispatch CLI answers natural-language infrastructure questions by
// routing them to Docker and Kubernetes backend servers.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/dispatch/pkg/agent"
	"github.com/codeready-toolchain/dispatch/pkg/backend"
	"github.com/codeready-toolchain/dispatch/pkg/cache"
	"github.com/codeready-toolchain/dispatch/pkg/config"
	"github.com/codeready-toolchain/dispatch/pkg/format"
	"github.com/codeready-toolchain/dispatch/pkg/llm"
	"github.com/codeready-toolchain/dispatch/pkg/orchestrator"
	"github.com/codeready-toolchain/dispatch/pkg/pulse"
	"github.com/codeready-toolchain/dispatch/pkg/rag"
	"github.com/codeready-toolchain/dispatch/pkg/router"
	"github.com/codeready-toolchain/dispatch/pkg/session"
	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

func main() {
	envPath := flag.String("env", ".env", "Path to the .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting dispatch",
		"llm_model", cfg.LLM.Model,
		"fast_model", cfg.LLM.FastModel,
		"embedding_model", cfg.Embedding.Model,
		"data_dir", cfg.Paths.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	// Transport and health.
	client := backend.NewClient(cfg.Backends)
	monitor := pulse.NewMonitor(client, cfg.Pulse)

	// Direct cluster API access for the discovery tools, when configured.
	var cluster tools.ClusterGetter
	if cfg.RemoteK8s.APIURL != "" {
		cluster = backend.NewClusterAPI(cfg.RemoteK8s).GetJSON
	}

	// Tool registry wired to the backend client and the pulse index.
	registry, err := tools.NewRegistry(tools.Builtin(client, monitor.Lookup, cluster))
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	// Models.
	smart := llm.NewChat(cfg.LLM.Host, cfg.LLM.Model, cfg.LLM.Temperature, cfg.LLM.Timeout)
	fast := llm.NewChat(cfg.LLM.FastHost, cfg.LLM.FastModel, cfg.LLM.Temperature, cfg.LLM.Timeout)
	embedder := llm.NewCachedEmbedder(llm.NewEmbedder(cfg.Embedding.Host, cfg.Embedding.Model, cfg.Embedding.Dim))

	// Retrieval index, synced to the registry before serving.
	retriever := rag.NewRetriever(registry, embedder, filepath.Join(cfg.Paths.DataDir, "rag"))
	if err := retriever.Sync(ctx); err != nil {
		slog.Warn("Tool index sync incomplete, retrieval may degrade", "error", err)
	}
	go retriever.Watch(ctx, registry.Subscribe())

	// Routing cascade.
	intents := router.New(
		filepath.Join(cfg.Paths.DataDir, "intents.yaml"),
		filepath.Join(cfg.Paths.DataDir, "intent_embeddings.json"),
		embedder, registry)
	if err := intents.Load(ctx); err != nil {
		return fmt.Errorf("load intents: %w", err)
	}
	go func() {
		if err := intents.WatchReload(ctx); err != nil {
			slog.Warn("Intents hot-reload disabled", "error", err)
		}
	}()

	sessions, err := session.NewStore(cfg.Paths.SessionStorePath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	analyzer := agent.NewAnalyzer(smart)
	orch := orchestrator.New(orchestrator.Config{
		Registry:    registry,
		Sessions:    sessions,
		Selector:    router.NewBackendSelector(monitor),
		Resolver:    intents,
		Retriever:   retriever,
		Agent:       agent.New(fast, smart),
		Cache:       cache.New(filepath.Join(cfg.Paths.DataDir, "semantic_cache.json"), cache.DefaultThreshold, embedder),
		Formatter:   format.NewRegistry(analyzer),
		Summarizer:  analyzer,
		Locator:     monitor.Lookup,
		ConfirmGate: cfg.Safety.Confirm,
	})

	monitor.Start(ctx)
	defer monitor.Stop()

	return repl(ctx, orch)
}

// repl reads queries from stdin and prints answers. Confirmation prompts
// block on the same stream.
func repl(ctx context.Context, orch *orchestrator.Orchestrator) error {
	fmt.Println("dispatch ready. Type a query, or 'exit' to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	sessionID := ""

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" {
			return nil
		}

		resp := orch.Handle(ctx, orchestrator.Request{Query: query, SessionID: sessionID})
		sessionID = resp.SessionID
		fmt.Println(resp.Output)

		if resp.Confirmation != "" {
			fmt.Print("confirm> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
			if answer != "yes" && answer != "y" {
				fmt.Println("Cancelled.")
				continue
			}
			resp = orch.Handle(ctx, orchestrator.Request{
				Query:     query,
				SessionID: sessionID,
				Approved:  true,
			})
			fmt.Println(resp.Output)
		}
	}
}
