package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"WChain-Bubbles/internal/cache"
	"WChain-Bubbles/internal/classify"
	"WChain-Bubbles/internal/config"
	"WChain-Bubbles/internal/events"
	"WChain-Bubbles/internal/explorer"
	"WChain-Bubbles/internal/holders"
	"WChain-Bubbles/internal/knowledge"
	"WChain-Bubbles/internal/llm"
	"WChain-Bubbles/internal/llm/openai"
	"WChain-Bubbles/internal/observability/alerting"
	"WChain-Bubbles/internal/retry"
	"WChain-Bubbles/internal/storage"
	"WChain-Bubbles/internal/storage/memory"
	"WChain-Bubbles/internal/storage/mysql"
	"WChain-Bubbles/internal/storage/postgres"
	"WChain-Bubbles/internal/web3"
	"WChain-Bubbles/internal/web3/ethereum"
	"WChain-Bubbles/internal/web3/provider"
	"WChain-Bubbles/pkg/logger"
)

func initLogging(cfg *config.Config) error {
	lc := cfg.Logging
	return logger.Init(logger.Config{
		Level:       lc.Level,
		Format:      lc.Format,
		OutputPaths: lc.OutputPaths,
		Redact:      lc.Redact,
		Audit: logger.AuditConfig{
			Enabled:    lc.Audit.Enabled,
			Path:       lc.Audit.Path,
			MaxSizeMB:  lc.Audit.MaxSizeMB,
			MaxBackups: lc.Audit.MaxBackups,
			MaxAgeDays: lc.Audit.MaxAgeDays,
		},
	})
}

func newAlerter(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:     cfg.Alerting.WebhookURL,
			Headers: cfg.Alerting.Headers,
			Client:  &http.Client{Timeout: cfg.Alerting.Timeout.Std()},
		})
	}
	return alerting.NewFanout(notifiers...)
}

type closableCache struct {
	cache.Store
	close func() error
}

func (c closableCache) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

func newCache(ctx context.Context, cfg *config.Config) (closableCache, error) {
	switch cfg.Cache.Driver {
	case "redis":
		store, err := cache.DialRedis(ctx, cache.RedisConfig{
			Address:  cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err != nil {
			return closableCache{}, err
		}
		return closableCache{Store: store, close: store.Close}, nil
	default:
		return closableCache{Store: cache.NewMemoryStore(cfg.Cache.Cleanup.Std())}, nil
	}
}

// storeSet 汇总按配置选出的三类存储以及需要在退出时释放的连接。
type storeSet struct {
	conversations storage.ConversationStore
	wallets       storage.WalletCache
	knowledge     storage.KnowledgeStore
	closers       []func()
}

func (s *storeSet) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*storeSet, error) {
	set := &storeSet{}
	sc := cfg.Storage

	var sqlStore *mysql.Store
	mysqlStore := func() (*mysql.Store, error) {
		if sqlStore != nil {
			return sqlStore, nil
		}
		s, err := mysql.Open(ctx, mysql.Config{
			DSN:             sc.MySQL.DSN,
			MaxOpenConns:    sc.MySQL.MaxOpenConns,
			MaxIdleConns:    sc.MySQL.MaxIdleConns,
			ConnMaxLifetime: sc.MySQL.ConnMaxLifetime.Std(),
			ConnMaxIdleTime: sc.MySQL.ConnMaxIdleTime.Std(),
		})
		if err != nil {
			return nil, err
		}
		sqlStore = s
		set.closers = append(set.closers, func() { _ = s.Close() })
		return s, nil
	}

	var pgPool *postgres.Pool
	pool := func() (*postgres.Pool, error) {
		if pgPool != nil {
			return pgPool, nil
		}
		p, err := postgres.NewPool(ctx, postgres.Config{DSN: sc.Postgres.DSN, MaxConns: sc.Postgres.MaxConns})
		if err != nil {
			return nil, err
		}
		if err := postgres.RunMigrations(ctx, p); err != nil {
			p.Close()
			return nil, err
		}
		pgPool = p
		set.closers = append(set.closers, p.Close)
		return p, nil
	}

	fail := func(err error) (*storeSet, error) {
		set.Close()
		return nil, err
	}

	switch sc.Conversations.Driver {
	case "mysql":
		s, err := mysqlStore()
		if err != nil {
			return fail(err)
		}
		set.conversations = s
	default:
		set.conversations = memory.NewConversationStore()
	}

	switch sc.WalletCache.Driver {
	case "mysql":
		s, err := mysqlStore()
		if err != nil {
			return fail(err)
		}
		set.wallets = s
	case "postgres":
		p, err := pool()
		if err != nil {
			return fail(err)
		}
		set.wallets = postgres.NewWalletCache(p)
	default:
		set.wallets = memory.NewWalletCache()
	}

	switch sc.Knowledge.Driver {
	case "mysql":
		s, err := mysqlStore()
		if err != nil {
			return fail(err)
		}
		set.knowledge = s
	case "postgres":
		p, err := pool()
		if err != nil {
			return fail(err)
		}
		set.knowledge = postgres.NewKnowledgeStore(p)
	}
	return set, nil
}

func newKnowledgeProvider(cfg *config.Config, stores *storeSet, store cache.Store) (knowledge.Provider, error) {
	var base knowledge.Provider
	if stores.knowledge != nil {
		base = knowledge.NewStoreProvider(stores.knowledge)
	} else {
		static, err := knowledge.LoadStaticProvider(cfg.Storage.Knowledge.Path)
		if err != nil {
			return nil, err
		}
		base = static
	}
	return knowledge.NewCachedProvider(base, store, cfg.Storage.Knowledge.CacheTTL.Std()), nil
}

func newClassifier(cfg *config.Config) (*classify.Classifier, error) {
	var overrides classify.Overrides
	if path := cfg.Classification.OverridesFile; path != "" {
		o, err := classify.LoadOverrides(path)
		if err != nil {
			return nil, err
		}
		overrides = o
	}
	var opts []classify.Option
	if raw := strings.TrimSpace(cfg.Classification.LargeHolderThreshold); raw != "" {
		threshold, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("classification.large_holder_threshold 不是合法数字: %w", err)
		}
		opts = append(opts, classify.WithLargeHolderThreshold(threshold))
	}
	return classify.New(overrides, opts...), nil
}

func newChainReader(ctx context.Context, cfg *config.Config) (*provider.BalanceReader, error) {
	defs, err := web3.LoadChainDefinitions(cfg.Web3.ChainsFile)
	if err != nil {
		return nil, err
	}
	var def web3.ChainDefinition
	if len(defs.Chains) > 0 {
		def, _, err = defs.Lookup(cfg.Web3.Chain)
		if err != nil {
			return nil, err
		}
	}
	// 显式配置的 RPC 地址优先于链定义文件。
	if len(cfg.Web3.RPCURLs) > 0 {
		def.RPCURLs = append(append([]string{}, cfg.Web3.RPCURLs...), def.RPCURLs...)
	}
	candidates := def.Candidates()
	if len(candidates) == 0 {
		return nil, errors.New("未配置任何 RPC 节点：请设置 web3.rpc_urls 或 web3.chains_file")
	}

	probe := retry.ProbePolicy()
	probe.AttemptTimeout = cfg.Web3.ProbeTimeout.Std()
	var chainID *big.Int
	if def.ChainID > 0 {
		chainID = big.NewInt(def.ChainID)
	}
	selector, err := provider.NewSelector(candidates, ethereum.Prober{ChainID: chainID},
		provider.WithTTL(cfg.Web3.EndpointTTL.Std()),
		provider.WithProbePolicy(probe),
	)
	if err != nil {
		return nil, err
	}
	return provider.NewBalanceReader(selector, ethereum.Dial, retry.LookupPolicy()), nil
}

func newExplorer(cfg *config.Config) (*explorer.Client, *explorer.GraphQLClient, error) {
	ec := cfg.Explorer
	client, err := explorer.NewClient(explorer.Config{
		BaseURL:           ec.BaseURL,
		APIKey:            ec.APIKey,
		Timeout:           ec.Timeout.Std(),
		RequestsPerSecond: ec.RequestsPerSecond,
		Burst:             ec.Burst,
	})
	if err != nil {
		return nil, nil, err
	}
	if ec.GraphQLURL == "" {
		return client, nil, nil
	}
	graphql, err := explorer.NewGraphQLClient(explorer.GraphQLConfig{
		URL:               ec.GraphQLURL,
		Timeout:           ec.Timeout.Std(),
		RequestsPerSecond: ec.RequestsPerSecond,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, graphql, nil
}

func newResolver(cfg *config.Config, wallets storage.WalletCache, rest *explorer.Client, graphql *explorer.GraphQLClient,
	classifier *classify.Classifier, alerter alerting.Dispatcher) *holders.Resolver {
	hc := cfg.Holders
	tiers := []holders.Tier{holders.NewCacheTier(wallets, classifier)}
	if graphql != nil {
		tiers = append(tiers, holders.NewQueryTier(graphql, classifier, hc.QueryLimit))
	}
	tiers = append(tiers, holders.NewScanTier(rest, classifier,
		holders.WithPageSize(hc.ScanPageSize),
		holders.WithPageDelay(hc.ScanPageDelay.Std()),
		holders.WithScanCeilings(hc.ScanMaxPages, hc.ScanMaxRecords),
	))
	return holders.NewResolver(tiers,
		holders.WithTierTimeout(hc.TierTimeout.Std()),
		holders.WithAlerter(alerter),
		holders.WithLargeHolderThreshold(classifier.LargeHolderThreshold()),
	)
}

func newLLMClient(cfg *config.Config) llm.Client {
	return openai.NewClient(openai.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.FastModel,
		Timeout: cfg.LLM.Timeout.Std(),
	})
}

func newEventBus(ctx context.Context, cfg *config.Config) (events.Publisher, error) {
	ec := cfg.Events
	switch ec.Driver {
	case "memory":
		return events.NewMemoryBus(ec.BufferSize), nil
	case "redis":
		return events.NewRedisBus(ctx, events.RedisConfig{
			Address:  cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Key:      ec.RedisKey,
		})
	case "rabbitmq":
		return events.NewRabbitMQBus(events.RabbitMQConfig{
			URL:      ec.RabbitMQ.URL,
			Queue:    ec.RabbitMQ.Queue,
			Prefetch: ec.RabbitMQ.Prefetch,
			Durable:  ec.RabbitMQ.Durable,
		})
	default:
		return events.Nop{}, nil
	}
}

func loadSystemPrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取系统提示词失败: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
