// Command seadrecon serves the SEAD authority reconciliation service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/authority"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/config"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/health"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/httpapi"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/observe"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/rerank"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/resilience"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/service"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/strategy"
	"github.com/humlab-sead/sead-authority-service-sub000/internal/taxa"
	"github.com/humlab-sead/sead-authority-service-sub000/pkg/provider/embeddings"
	"github.com/humlab-sead/sead-authority-service-sub000/pkg/provider/embeddings/cached"
	ollamaembed "github.com/humlab-sead/sead-authority-service-sub000/pkg/provider/embeddings/ollama"
	oaembed "github.com/humlab-sead/sead-authority-service-sub000/pkg/provider/embeddings/openai"
	"github.com/humlab-sead/sead-authority-service-sub000/pkg/provider/llm"
	"github.com/humlab-sead/sead-authority-service-sub000/pkg/provider/llm/anyllm"
	oallm "github.com/humlab-sead/sead-authority-service-sub000/pkg/provider/llm/openai"
)

// version is stamped by the build; "dev" otherwise.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "seadrecon: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "seadrecon: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("seadrecon starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "sead-authority-service",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	embedder, err := buildEmbedder(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build embeddings provider", "err", err)
		return 1
	}
	if embedder != nil {
		if dims := embedder.Dimensions(); dims != 0 && dims != cfg.EmbeddingDimensions {
			slog.Error("embedding dimension mismatch",
				"provider", embedder.ModelID(),
				"provider_dims", dims,
				"configured_dims", cfg.EmbeddingDimensions,
			)
			return 1
		}
	} else {
		slog.Warn("no embeddings provider configured — semantic channel disabled")
	}

	reranker, err := buildReranker(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build rerank provider", "err", err)
		return 1
	}

	// ── Database pool ─────────────────────────────────────────────────────────
	pool, err := authority.NewPool(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
	if err != nil {
		slog.Error("failed to connect to authority database", "err", err)
		return 1
	}
	defer pool.Close()
	store := authority.NewStore(pool)

	// ── Strategies ────────────────────────────────────────────────────────────
	registry, err := buildRegistry(cfg, store, embedder, metrics)
	if err != nil {
		slog.Error("failed to build strategy registry", "err", err)
		return 1
	}

	// ── Service ───────────────────────────────────────────────────────────────
	svcOpts := []service.Option{service.WithObserver(metrics)}
	if reranker != nil {
		svcOpts = append(svcOpts, service.WithReranker(reranker))
	}
	svc := service.New(registry, service.Options{
		ServiceName:        cfg.ServiceName,
		IdentifierSpace:    cfg.IdentifierSpace,
		SchemaSpace:        cfg.SchemaSpace,
		BaseURL:            cfg.BaseURL,
		DefaultLimit:       cfg.DefaultQueryLimit,
		AutoMatchThreshold: *cfg.AutoMatchThreshold,
		AutoMatchMargin:    *cfg.AutoMatchMargin,
		SubQueryTimeout:    time.Duration(cfg.Database.AcquireTimeoutMS) * time.Millisecond,
		FailFast:           true,
	}, svcOpts...)

	// ── HTTP server ───────────────────────────────────────────────────────────
	healthHandler := health.New(version,
		health.Checker{Name: "database", Check: pool.Ping},
	)
	api := httpapi.New(svc, healthHandler, httpapi.WithMetrics(metrics))

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.Server.ListenAddr, "entities", registry.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the shipped provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Embeddings ────────────────────────────────────────────────────────────
	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		p, err := oaembed.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		p, err := ollamaembed.New(entry.BaseURL, entry.Model)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai uses the native client; the rest of the family goes through
	// any-llm with the shared APIKey + BaseURL pattern.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		p, err := oallm.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}
	// ollama is a local server; BaseURL carries the address, no API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// buildEmbedder assembles the embeddings stack: primary provider, optional
// fallback behind a circuit breaker, and the LRU cache decorator. Returns nil
// when no provider is configured.
func buildEmbedder(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (embeddings.Provider, error) {
	primaryEntry := cfg.Providers.Embeddings
	if primaryEntry.Name == "" {
		return nil, nil
	}
	primary, err := reg.CreateEmbeddings(primaryEntry)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", primaryEntry.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", primaryEntry.Name, "model", primaryEntry.Model)

	var provider embeddings.Provider = primary
	if fbEntry := cfg.Providers.EmbeddingsFallback; fbEntry.Name != "" {
		fallback, err := reg.CreateEmbeddings(fbEntry)
		if err != nil {
			return nil, fmt.Errorf("create fallback embeddings provider %q: %w", fbEntry.Name, err)
		}
		group := resilience.NewEmbeddingsFallback(primary, primaryEntry.Name, resilience.FallbackConfig{})
		group.AddFallback(fbEntry.Name, fallback)
		provider = group
		slog.Info("provider created", "kind", "embeddings_fallback", "name", fbEntry.Name, "model", fbEntry.Model)
	}

	// The decorator always applies: the retry policy guards transient
	// provider failures whether or not the cache itself is on.
	decorated := cached.Config{
		MaxEntries: cfg.EmbeddingCache.MaxEntries,
		TTL:        time.Duration(cfg.EmbeddingCache.TTLSeconds) * time.Second,
		MaxRetries: cfg.EmbeddingCache.MaxRetries,
		NoCache:    !cfg.EmbeddingCache.Enabled,
	}
	if cfg.EmbeddingCache.Enabled {
		decorated.Observer = metrics
	}
	return cached.New(provider, decorated), nil
}

// buildReranker assembles the optional LLM rerank stage. Returns nil when
// disabled or no LLM provider is configured.
func buildReranker(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*rerank.Reranker, error) {
	if !cfg.LLMRerank.Enabled {
		return nil, nil
	}
	entry := cfg.Providers.LLM
	if entry.Name == "" {
		slog.Warn("llm_rerank enabled but no llm provider configured — rerank disabled")
		return nil, nil
	}
	primary, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)

	var provider llm.Provider = primary
	if fbEntry := cfg.Providers.LLMFallback; fbEntry.Name != "" {
		fallback, err := reg.CreateLLM(fbEntry)
		if err != nil {
			return nil, fmt.Errorf("create fallback llm provider %q: %w", fbEntry.Name, err)
		}
		group := resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{})
		group.AddFallback(fbEntry.Name, fallback)
		provider = group
		slog.Info("provider created", "kind", "llm_fallback", "name", fbEntry.Name, "model", fbEntry.Model)
	}

	return rerank.New(provider,
		cfg.LLMRerank.TopN,
		time.Duration(cfg.LLMRerank.TimeoutMS)*time.Millisecond,
		rerank.WithObserver(metrics),
	), nil
}

// buildRegistry assembles the strategy descriptors (builtins overlaid with
// config entities), wires each into a hybrid strategy, and registers the taxa
// orchestrator on top of the species and genus strategies.
func buildRegistry(cfg *config.Config, store *authority.Store, embedder embeddings.Provider, metrics *observe.Metrics) (*strategy.Registry, error) {
	tuning := strategy.Tuning{
		KTrgm:         cfg.KTrgm,
		KSem:          cfg.KSem,
		KFinal:        cfg.KFinal,
		Alpha:         *cfg.BlendAlpha,
		TrgmThreshold: *cfg.TrgmThreshold,
		DefaultLimit:  cfg.DefaultQueryLimit,
	}

	// Builtins first, then config entities override or extend by name.
	descriptors := strategy.Builtin()
	byName := make(map[string]int, len(descriptors))
	for i, d := range descriptors {
		byName[d.Name] = i
	}
	for _, ec := range cfg.Entities {
		d, err := strategy.FromConfig(ec)
		if err != nil {
			return nil, err
		}
		if i, ok := byName[d.Name]; ok {
			descriptors[i] = d
		} else {
			byName[d.Name] = len(descriptors)
			descriptors = append(descriptors, d)
		}
	}

	newHybrid := func(d strategy.Descriptor) (reconcile.Strategy, error) {
		opts := []strategy.Option{strategy.WithObserver(metrics)}
		if embedder != nil {
			opts = append(opts, strategy.WithEmbedder(embedder))
		}
		return strategy.NewHybrid(d, store, tuning, cfg.IdentifierSpace, opts...)
	}

	registry := strategy.NewRegistry()
	for _, d := range descriptors {
		if d.Name == "bibliographic_reference" && cfg.Bibliography.ExposeNullFullReference != nil {
			d.Relation = d.Relation.WithNullFilter("full_reference", *cfg.Bibliography.ExposeNullFullReference)
		}
		h, err := newHybrid(d)
		if err != nil {
			return nil, err
		}
		registry.Register(h)
	}

	// The taxon strategy orchestrates dedicated species and genus searches;
	// neither is registered on its own.
	species, err := newHybrid(strategy.SpeciesDescriptor())
	if err != nil {
		return nil, err
	}
	genus, err := newHybrid(strategy.GenusDescriptor())
	if err != nil {
		return nil, err
	}
	registry.Register(taxa.NewOrchestrator(species, genus, store, cfg.IdentifierSpace, slog.Default()))

	registry.Seal()
	return registry, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
