package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"WChain-Bubbles/internal/agent"
	"WChain-Bubbles/internal/api"
	"WChain-Bubbles/internal/config"
	"WChain-Bubbles/internal/events"
	"WChain-Bubbles/internal/observability/metrics"
	"WChain-Bubbles/internal/tools"
	"WChain-Bubbles/pkg/logger"
)

// main 是 Bubbles 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("bubblesd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	if err := initLogging(cfg); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("bubblesd")

	alerter := newAlerter(cfg)

	store, err := newCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	knowledgeProvider, err := newKnowledgeProvider(cfg, stores, store)
	if err != nil {
		return err
	}

	classifier, err := newClassifier(cfg)
	if err != nil {
		return err
	}

	chain, err := newChainReader(ctx, cfg)
	if err != nil {
		return err
	}
	defer chain.Close()

	explorerClient, graphql, err := newExplorer(cfg)
	if err != nil {
		return err
	}

	resolver := newResolver(cfg, stores.wallets, explorerClient, graphql, classifier, alerter)

	executor := tools.NewExecutor(tools.Deps{
		Holders:    resolver,
		Classifier: classifier,
		Explorer:   explorerClient,
		Chain:      chain,
		Cache:      store,
	},
		tools.WithCallTimeout(cfg.Agent.ToolTimeout.Std()),
		tools.WithHoldersTimeout(cfg.Agent.HoldersToolTimeout.Std()),
	)

	bus, err := newEventBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn("关闭事件总线失败", "error", err)
		}
	}()

	opts := []agent.Option{
		agent.WithHistoryDepth(cfg.Agent.HistoryDepth),
		agent.WithMaxToolRounds(cfg.Agent.MaxToolRounds),
		agent.WithToolResultLimit(cfg.Agent.ToolResultLimit),
		agent.WithReasoningThreshold(cfg.Agent.ReasoningThreshold),
		agent.WithModels(agent.Models{Fast: cfg.LLM.FastModel, Strong: cfg.LLM.StrongModel}),
		agent.WithLLMTimeout(cfg.LLM.Timeout.Std()),
		agent.WithTemperature(*cfg.LLM.Temperature),
		agent.WithMaxTokens(cfg.LLM.MaxTokens),
		agent.WithToolTimeout(cfg.Agent.HoldersToolTimeout.Std()),
		agent.WithKnowledgeProvider(knowledgeProvider),
		agent.WithPublisher(bus),
		agent.WithAlerter(alerter),
	}
	if prompt, err := loadSystemPrompt(cfg.Agent.SystemPromptFile); err != nil {
		return err
	} else if prompt != "" {
		opts = append(opts, agent.WithSystemPrompt(prompt))
	}
	if cfg.Agent.DisableIntents {
		opts = append(opts, agent.WithIntents())
	} else {
		opts = append(opts, agent.WithIntents(agent.DefaultIntents(resolver)...))
	}

	ag := agent.New(newLLMClient(cfg), executor, stores.conversations, opts...)

	server := api.NewServer(cfg.Server.Address, ag, resolver, api.WithTimeouts(
		cfg.Server.ReadTimeout.Std(),
		cfg.Server.WriteTimeout.Std(),
		cfg.Server.ShutdownTimeout.Std(),
	))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	if cfg.Server.MetricsAddress != "" {
		g.Go(func() error { return metrics.StartServer(gctx, cfg.Server.MetricsAddress) })
	}
	if consumer, ok := bus.(events.Consumer); ok && cfg.Events.ConsumeAudit {
		g.Go(func() error { return consumer.Consume(gctx, cfg.Events.Workers, events.AuditHandler()) })
	}

	log.Info("bubblesd 已启动",
		"address", cfg.Server.Address,
		"conversations", cfg.Storage.Conversations.Driver,
		"wallet_cache", cfg.Storage.WalletCache.Driver,
		"events", cfg.Events.Driver,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
