package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "BUBBLES_CONFIG"

// DefaultPath 是未指定时使用的配置文件路径。
const DefaultPath = "configs/bubbles.json"

// Config 描述了服务在启动阶段需要加载的全部配置。
type Config struct {
	Server         ServerConfig         `json:"server"`
	Storage        StorageConfig        `json:"storage"`
	Cache          CacheConfig          `json:"cache"`
	LLM            LLMConfig            `json:"llm"`
	Explorer       ExplorerConfig       `json:"explorer"`
	Web3           Web3Config           `json:"web3"`
	Classification ClassificationConfig `json:"classification"`
	Holders        HoldersConfig        `json:"holders"`
	Agent          AgentConfig          `json:"agent"`
	Events         EventsConfig         `json:"events"`
	Logging        LoggingConfig        `json:"logging"`
	Alerting       AlertingConfig       `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string   `json:"address"`
	MetricsAddress  string   `json:"metrics_address"`
	ReadTimeout     Duration `json:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

// StorageConfig 描述三类存储各自使用的驱动。
type StorageConfig struct {
	Conversations ConversationStoreConfig `json:"conversations"`
	WalletCache   WalletCacheConfig       `json:"wallet_cache"`
	Knowledge     KnowledgeConfig         `json:"knowledge"`
	MySQL         MySQLConfig             `json:"mysql"`
	Postgres      PostgresConfig          `json:"postgres"`
}

// ConversationStoreConfig 的 Driver 取值 memory 或 mysql。
type ConversationStoreConfig struct {
	Driver string `json:"driver"`
}

// WalletCacheConfig 的 Driver 取值 memory、mysql 或 postgres。
type WalletCacheConfig struct {
	Driver string `json:"driver"`
}

// KnowledgeConfig 的 Driver 取值 static、mysql 或 postgres。
type KnowledgeConfig struct {
	Driver   string   `json:"driver"`
	Path     string   `json:"path"`
	CacheTTL Duration `json:"cache_ttl"`
}

// MySQLConfig 描述 MySQL 连接。DSN 为空时从 DSNEnv 指定的环境变量读取。
type MySQLConfig struct {
	DSN             string   `json:"dsn"`
	DSNEnv          string   `json:"dsn_env"`
	MaxOpenConns    int      `json:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime Duration `json:"conn_max_idle_time"`
}

// PostgresConfig 描述 PostgreSQL 连接池。
type PostgresConfig struct {
	DSN      string `json:"dsn"`
	DSNEnv   string `json:"dsn_env"`
	MaxConns int32  `json:"max_conns"`
}

// CacheConfig 的 Driver 取值 memory 或 redis。
type CacheConfig struct {
	Driver  string      `json:"driver"`
	Cleanup Duration    `json:"cleanup"`
	Redis   RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address     string `json:"address"`
	Password    string `json:"password"`
	PasswordEnv string `json:"password_env"`
	DB          int    `json:"db"`
	Prefix      string `json:"prefix"`
}

// LLMConfig 用于配置大模型的调用方式。
type LLMConfig struct {
	Provider    string   `json:"provider"`
	BaseURL     string   `json:"base_url"`
	APIKey      string   `json:"-"`
	APIKeyEnv   string   `json:"api_key_env"`
	FastModel   string   `json:"fast_model"`
	StrongModel string   `json:"strong_model"`
	Timeout     Duration `json:"timeout"`
	// Temperature 缺省为 0.2；显式写 0 表示确定性输出。
	Temperature *float64 `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
}

// ExplorerConfig 描述区块浏览器 REST 与 GraphQL 接口。
type ExplorerConfig struct {
	BaseURL           string   `json:"base_url"`
	GraphQLURL        string   `json:"graphql_url"`
	APIKey            string   `json:"-"`
	APIKeyEnv         string   `json:"api_key_env"`
	Timeout           Duration `json:"timeout"`
	RequestsPerSecond float64  `json:"requests_per_second"`
	Burst             int      `json:"burst"`
}

// Web3Config 描述链定义文件以及端点选择参数。
type Web3Config struct {
	ChainsFile   string   `json:"chains_file"`
	Chain        string   `json:"chain"`
	RPCURLs      []string `json:"rpc_urls"`
	EndpointTTL  Duration `json:"endpoint_ttl"`
	ProbeTimeout Duration `json:"probe_timeout"`
}

// ClassificationConfig 描述覆盖表与大户阈值。
type ClassificationConfig struct {
	OverridesFile        string `json:"overrides_file"`
	LargeHolderThreshold string `json:"large_holder_threshold"`
}

// HoldersConfig 描述三层解析器的参数。
type HoldersConfig struct {
	TierTimeout    Duration `json:"tier_timeout"`
	QueryLimit     int      `json:"query_limit"`
	ScanPageSize   int      `json:"scan_page_size"`
	ScanPageDelay  Duration `json:"scan_page_delay"`
	ScanMaxPages   int      `json:"scan_max_pages"`
	ScanMaxRecords int      `json:"scan_max_records"`
}

// AgentConfig 描述对话编排器的参数。
type AgentConfig struct {
	HistoryDepth       int      `json:"history_depth"`
	MaxToolRounds      int      `json:"max_tool_rounds"`
	ToolResultLimit    int      `json:"tool_result_limit"`
	ReasoningThreshold int      `json:"reasoning_threshold"`
	ToolTimeout        Duration `json:"tool_timeout"`
	HoldersToolTimeout Duration `json:"holders_tool_timeout"`
	SystemPromptFile   string   `json:"system_prompt_file"`
	DisableIntents     bool     `json:"disable_intents"`
}

// EventsConfig 的 Driver 取值 none、memory、redis 或 rabbitmq。
type EventsConfig struct {
	Driver       string         `json:"driver"`
	ConsumeAudit bool           `json:"consume_audit"`
	Workers      int            `json:"workers"`
	BufferSize   int            `json:"buffer_size"`
	RedisKey     string         `json:"redis_key"`
	RabbitMQ     RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。URL 为空时从 URLEnv 读取。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	URLEnv   string `json:"url_env"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
	Durable  bool   `json:"durable"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	Redact      []string `json:"redact"`
	Audit       struct {
		Enabled    bool   `json:"enabled"`
		Path       string `json:"path"`
		MaxSizeMB  int    `json:"max_size_mb"`
		MaxBackups int    `json:"max_backups"`
		MaxAgeDays int    `json:"max_age_days"`
	} `json:"audit"`
}

// AlertingConfig 描述告警通道。
type AlertingConfig struct {
	WebhookURL string            `json:"webhook_url"`
	Headers    map[string]string `json:"headers"`
	Timeout    Duration          `json:"timeout"`
}

// Path 返回配置文件路径：优先使用环境变量。
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。配置目录下的 .env 会先被加载，
// 已存在的环境变量不会被覆盖。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	baseDir := filepath.Dir(path)
	if err := loadDotEnv(baseDir); err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(content, baseDir)
}

// Parse 解析配置内容，baseDir 用于解析相对路径。
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults(baseDir)
	cfg.applySecrets()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(dir string) error {
	for _, candidate := range []string{filepath.Join(dir, ".env"), ".env"} {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("加载 %s 失败: %w", candidate, err)
		}
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	defaultDuration(&c.Server.ReadTimeout, 15*time.Second)
	defaultDuration(&c.Server.WriteTimeout, 5*time.Minute)
	defaultDuration(&c.Server.ShutdownTimeout, 10*time.Second)

	defaultString(&c.Storage.Conversations.Driver, "memory")
	defaultString(&c.Storage.WalletCache.Driver, "memory")
	defaultString(&c.Storage.Knowledge.Driver, "static")
	defaultDuration(&c.Storage.Knowledge.CacheTTL, time.Minute)
	c.Storage.Knowledge.Path = resolvePath(baseDir, c.Storage.Knowledge.Path)
	defaultString(&c.Storage.MySQL.DSNEnv, "BUBBLES_MYSQL_DSN")
	defaultString(&c.Storage.Postgres.DSNEnv, "BUBBLES_POSTGRES_DSN")

	defaultString(&c.Cache.Driver, "memory")
	defaultDuration(&c.Cache.Cleanup, time.Minute)
	defaultString(&c.Cache.Redis.Prefix, "bubbles:")
	defaultString(&c.Cache.Redis.PasswordEnv, "BUBBLES_REDIS_PASSWORD")

	defaultString(&c.LLM.Provider, "openai")
	defaultString(&c.LLM.BaseURL, "https://api.openai.com/v1")
	defaultString(&c.LLM.APIKeyEnv, "OPENAI_API_KEY")
	defaultString(&c.LLM.FastModel, "gpt-4o-mini")
	defaultString(&c.LLM.StrongModel, "gpt-4o")
	defaultDuration(&c.LLM.Timeout, 60*time.Second)
	if c.LLM.Temperature == nil {
		t := 0.2
		c.LLM.Temperature = &t
	}

	defaultString(&c.Explorer.BaseURL, "https://scan.w-chain.com")
	defaultString(&c.Explorer.APIKeyEnv, "BUBBLES_EXPLORER_API_KEY")
	defaultDuration(&c.Explorer.Timeout, 20*time.Second)
	if c.Explorer.RequestsPerSecond <= 0 {
		c.Explorer.RequestsPerSecond = 10
	}
	if c.Explorer.Burst <= 0 {
		c.Explorer.Burst = 5
	}

	c.Web3.ChainsFile = resolvePath(baseDir, c.Web3.ChainsFile)
	defaultDuration(&c.Web3.EndpointTTL, 5*time.Minute)
	defaultDuration(&c.Web3.ProbeTimeout, 5*time.Second)

	c.Classification.OverridesFile = resolvePath(baseDir, c.Classification.OverridesFile)

	defaultDuration(&c.Holders.TierTimeout, 2*time.Minute)

	defaultDuration(&c.Agent.ToolTimeout, 20*time.Second)
	defaultDuration(&c.Agent.HoldersToolTimeout, 3*time.Minute)
	c.Agent.SystemPromptFile = resolvePath(baseDir, c.Agent.SystemPromptFile)

	defaultString(&c.Events.Driver, "none")
	if c.Events.Workers <= 0 {
		c.Events.Workers = 1
	}
	defaultString(&c.Events.RabbitMQ.URLEnv, "BUBBLES_RABBITMQ_URL")

	if c.Logging.Audit.Enabled {
		defaultString(&c.Logging.Audit.Path, "logs/audit.log")
		c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path)
	}
	defaultDuration(&c.Alerting.Timeout, 5*time.Second)
}

// applySecrets 从环境变量读取密钥，配置文件中只保存变量名。
func (c *Config) applySecrets() {
	c.LLM.APIKey = os.Getenv(c.LLM.APIKeyEnv)
	c.Explorer.APIKey = os.Getenv(c.Explorer.APIKeyEnv)
	if c.Storage.MySQL.DSN == "" {
		c.Storage.MySQL.DSN = os.Getenv(c.Storage.MySQL.DSNEnv)
	}
	if c.Storage.Postgres.DSN == "" {
		c.Storage.Postgres.DSN = os.Getenv(c.Storage.Postgres.DSNEnv)
	}
	if c.Cache.Redis.Password == "" {
		c.Cache.Redis.Password = os.Getenv(c.Cache.Redis.PasswordEnv)
	}
	if c.Events.RabbitMQ.URL == "" {
		c.Events.RabbitMQ.URL = os.Getenv(c.Events.RabbitMQ.URLEnv)
	}
}

// Validate 检查驱动取值以及驱动所需的连接信息。
func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s 取值 %q 不合法，可选 %s", field, value, strings.Join(allowed, "/")))
	}
	check("storage.conversations.driver", c.Storage.Conversations.Driver, "memory", "mysql")
	check("storage.wallet_cache.driver", c.Storage.WalletCache.Driver, "memory", "mysql", "postgres")
	check("storage.knowledge.driver", c.Storage.Knowledge.Driver, "static", "mysql", "postgres")
	check("cache.driver", c.Cache.Driver, "memory", "redis")
	check("llm.provider", c.LLM.Provider, "openai")
	check("events.driver", c.Events.Driver, "none", "memory", "redis", "rabbitmq")

	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("llm.temperature 取值 %v 超出范围 [0, 2]", *t))
	}
	if c.LLM.MaxTokens < 0 {
		errs = append(errs, errors.New("llm.max_tokens 不能为负数"))
	}
	if c.usesDriver("mysql") && c.Storage.MySQL.DSN == "" {
		errs = append(errs, fmt.Errorf("mysql 驱动需要 dsn 或环境变量 %s", c.Storage.MySQL.DSNEnv))
	}
	if c.usesDriver("postgres") && c.Storage.Postgres.DSN == "" {
		errs = append(errs, fmt.Errorf("postgres 驱动需要 dsn 或环境变量 %s", c.Storage.Postgres.DSNEnv))
	}
	if (c.Cache.Driver == "redis" || c.Events.Driver == "redis") && c.Cache.Redis.Address == "" {
		errs = append(errs, errors.New("redis 驱动需要 cache.redis.address"))
	}
	if c.Events.Driver == "rabbitmq" && c.Events.RabbitMQ.URL == "" {
		errs = append(errs, fmt.Errorf("rabbitmq 驱动需要 url 或环境变量 %s", c.Events.RabbitMQ.URLEnv))
	}
	if c.Storage.Knowledge.Driver == "static" && c.Storage.Knowledge.Path == "" {
		errs = append(errs, errors.New("static 知识库需要 storage.knowledge.path"))
	}
	return errors.Join(errs...)
}

func (c *Config) usesDriver(name string) bool {
	return c.Storage.Conversations.Driver == name ||
		c.Storage.WalletCache.Driver == name ||
		c.Storage.Knowledge.Driver == name
}

func defaultString(v *string, def string) {
	if strings.TrimSpace(*v) == "" {
		*v = def
	}
}

func defaultDuration(v *Duration, def time.Duration) {
	if *v <= 0 {
		*v = Duration(def)
	}
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Duration 接受 "15s" 形式的字符串或以秒为单位的数字。
type Duration time.Duration

// Std 返回 time.Duration。
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalJSON 实现 json.Unmarshaler。
func (d *Duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("无法解析时长 %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("无法解析时长 %s: %w", data, err)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// MarshalJSON 实现 json.Marshaler。
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
