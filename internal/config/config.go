package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	xerrors "gasless-agent/internal/errors"

	"github.com/joho/godotenv"
)

// Config 描述了代理进程在启动阶段需要加载的全部配置。
type Config struct {
	Agent   AgentConfig   `json:"agent"`
	Feed    FeedConfig    `json:"feed"`
	Oracle  OracleConfig  `json:"oracle"`
	Relay   RelayConfig   `json:"relay"`
	Account AccountConfig `json:"account"`
	Web3    Web3Config    `json:"web3"`
	Events  EventsConfig  `json:"events"`
	Logging LoggingConfig `json:"logging"`

	// Credentials 只来自环境变量，不会写入配置文件。
	Credentials Credentials `json:"-"`
}

// AgentConfig 控制决策循环的节奏与超时。
type AgentConfig struct {
	PeriodSeconds          int            `json:"period_seconds"`
	MinBackoffSeconds      int            `json:"min_backoff_seconds"`
	MaxBackoffSeconds      int            `json:"max_backoff_seconds"`
	SignalTimeoutSeconds   int            `json:"signal_timeout_seconds"`
	OracleTimeoutSeconds   int            `json:"oracle_timeout_seconds"`
	DispatchTimeoutSeconds int            `json:"dispatch_timeout_seconds"`
	Proposal               ProposalConfig `json:"proposal"`
}

// ProposalConfig 是每个周期向决策方提出的默认兑换。
type ProposalConfig struct {
	Amount float64 `json:"amount"`
	From   string  `json:"from"`
	To     string  `json:"to"`
}

// FeedConfig 描述价格源。
type FeedConfig struct {
	Provider          string `json:"provider"`
	BaseURL           string `json:"base_url"`
	Asset             string `json:"asset"`
	Quote             string `json:"quote"`
	RequestsPerMinute int    `json:"requests_per_minute"`
	APIKeyEnv         string `json:"api_key_env"`
}

// OracleConfig 用于配置决策方的实现方式。
type OracleConfig struct {
	Provider  string             `json:"provider"`
	Threshold ThresholdConfig    `json:"threshold"`
	OpenAI    OpenAIConfig       `json:"openai"`
	Python    PythonBridgeConfig `json:"python_bridge"`
}

// ThresholdConfig 描述基于价格区间的本地规则。
type ThresholdConfig struct {
	BuyBelow float64 `json:"buy_below"`
	BuyAbove float64 `json:"buy_above"`
}

// OpenAIConfig 描述调用 OpenAI 兼容接口所需的信息。
type OpenAIConfig struct {
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回 HTTP 客户端超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PythonBridgeConfig 描述通过 Python 脚本完成决策时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// RelayConfig 描述 bundler 与 paymaster 的访问方式。
type RelayConfig struct {
	APIKeyEnv         string `json:"api_key_env"`
	SponsorshipPolicy string `json:"sponsorship_policy"`
}

// AccountConfig 描述智能账户的派生参数。
type AccountConfig struct {
	OwnerKeyEnv string `json:"owner_key_env"`
	Salt        uint64 `json:"salt"`
}

// Web3Config 包含访问区块链网络所需的配置。
type Web3Config struct {
	NetworkConfig  string `json:"network_config"`
	DefaultNetwork string `json:"default_network"`
	RPCURL         string `json:"rpc_url"`
}

// EventsConfig 控制周期事件的投递目标。
type EventsConfig struct {
	Drivers  []string       `json:"drivers"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 发布通道。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	AddSource   bool        `json:"add_source"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Credentials 汇总启动时从环境变量读取的密钥。
type Credentials struct {
	OwnerKey      string
	BundlerAPIKey string
	OpenAIAPIKey  string
	FeedAPIKey    string
}

// Period 返回循环周期。
func (c AgentConfig) Period() time.Duration {
	return time.Duration(c.PeriodSeconds) * time.Second
}

// MinBackoff 返回失败周期后的最短等待时间。
func (c AgentConfig) MinBackoff() time.Duration {
	return time.Duration(c.MinBackoffSeconds) * time.Second
}

// MaxBackoff 返回连续失败时的等待上限。
func (c AgentConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

// SignalTimeout 返回取价超时时间。
func (c AgentConfig) SignalTimeout() time.Duration {
	return time.Duration(c.SignalTimeoutSeconds) * time.Second
}

// OracleTimeout 返回决策超时时间。
func (c AgentConfig) OracleTimeout() time.Duration {
	return time.Duration(c.OracleTimeoutSeconds) * time.Second
}

// DispatchTimeout 返回提交超时时间。
func (c AgentConfig) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutSeconds) * time.Second
}

// LoadEnv 加载 .env 文件（如果存在）。已经存在的环境变量不会被覆盖。
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("加载环境文件 %s 失败: %w", file, err)
		}
	}
	return nil
}

// Load 负责解析指定路径的 JSON 配置文件，并从环境变量读取密钥。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeStartupFailure, "配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStartupFailure, err, "打开配置文件失败")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStartupFailure, err, "读取配置文件失败")
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStartupFailure, err, "解析配置失败")
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.resolveCredentials()

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Agent.PeriodSeconds <= 0 {
		c.Agent.PeriodSeconds = 60
	}
	if c.Agent.MinBackoffSeconds <= 0 {
		c.Agent.MinBackoffSeconds = 10
	}
	if c.Agent.MaxBackoffSeconds <= 0 {
		c.Agent.MaxBackoffSeconds = c.Agent.PeriodSeconds
	}
	if c.Agent.SignalTimeoutSeconds <= 0 {
		c.Agent.SignalTimeoutSeconds = 10
	}
	if c.Agent.OracleTimeoutSeconds <= 0 {
		c.Agent.OracleTimeoutSeconds = 30
	}
	if c.Agent.DispatchTimeoutSeconds <= 0 {
		c.Agent.DispatchTimeoutSeconds = 60
	}
	if c.Agent.Proposal.Amount == 0 && c.Agent.Proposal.From == "" && c.Agent.Proposal.To == "" {
		c.Agent.Proposal = ProposalConfig{Amount: 100, From: "USDC", To: "WETH"}
	}

	if c.Feed.Provider == "" {
		c.Feed.Provider = "coingecko"
	}
	if c.Feed.Asset == "" {
		c.Feed.Asset = "ethereum"
	}
	if c.Feed.Quote == "" {
		c.Feed.Quote = "usd"
	}
	if c.Feed.RequestsPerMinute <= 0 {
		c.Feed.RequestsPerMinute = 30
	}
	if c.Feed.APIKeyEnv == "" {
		c.Feed.APIKeyEnv = "COINGECKO_API_KEY"
	}

	if c.Oracle.Provider == "" {
		c.Oracle.Provider = "threshold"
	}
	if c.Oracle.OpenAI.APIKeyEnv == "" {
		c.Oracle.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Oracle.Python.PythonExecutable == "" {
		c.Oracle.Python.PythonExecutable = "python3"
	}
	if c.Oracle.Python.WorkingDir == "" {
		c.Oracle.Python.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.Oracle.Python.WorkingDir) {
		c.Oracle.Python.WorkingDir = filepath.Join(baseDir, c.Oracle.Python.WorkingDir)
	}

	if c.Relay.APIKeyEnv == "" {
		c.Relay.APIKeyEnv = "GASLESS_BUNDLER_API_KEY"
	}
	if c.Relay.SponsorshipPolicy == "" {
		c.Relay.SponsorshipPolicy = "sponsored"
	}
	if c.Account.OwnerKeyEnv == "" {
		c.Account.OwnerKeyEnv = "GASLESS_OWNER_KEY"
	}

	if c.Web3.NetworkConfig != "" && !filepath.IsAbs(c.Web3.NetworkConfig) {
		c.Web3.NetworkConfig = filepath.Join(baseDir, c.Web3.NetworkConfig)
	}
	if c.Web3.DefaultNetwork == "" && c.Web3.NetworkConfig != "" {
		c.Web3.DefaultNetwork = "linea-mainnet"
	}

	if len(c.Events.Drivers) == 0 {
		c.Events.Drivers = []string{"log"}
	}
	if c.Events.Redis.Channel == "" {
		c.Events.Redis.Channel = "gasless:cycles"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "gasless.cycles"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// resolveCredentials 按配置中给出的变量名读取密钥。
func (c *Config) resolveCredentials() {
	c.Credentials = Credentials{
		OwnerKey:      strings.TrimSpace(os.Getenv(c.Account.OwnerKeyEnv)),
		BundlerAPIKey: strings.TrimSpace(os.Getenv(c.Relay.APIKeyEnv)),
		OpenAIAPIKey:  strings.TrimSpace(os.Getenv(c.Oracle.OpenAI.APIKeyEnv)),
		FeedAPIKey:    strings.TrimSpace(os.Getenv(c.Feed.APIKeyEnv)),
	}
}

// Validate 检查启动所需的配置与密钥，任何缺失都是启动失败。
func (c *Config) Validate() error {
	var problems []string
	if c.Credentials.OwnerKey == "" {
		problems = append(problems, fmt.Sprintf("缺少环境变量 %s", c.Account.OwnerKeyEnv))
	}
	if c.Credentials.BundlerAPIKey == "" {
		problems = append(problems, fmt.Sprintf("缺少环境变量 %s", c.Relay.APIKeyEnv))
	}

	switch c.Oracle.Provider {
	case "threshold":
		if c.Oracle.Threshold.BuyBelow <= 0 && c.Oracle.Threshold.BuyAbove <= 0 {
			problems = append(problems, "threshold 决策需要 buy_below 或 buy_above")
		}
	case "openai":
		if c.Credentials.OpenAIAPIKey == "" {
			problems = append(problems, fmt.Sprintf("缺少环境变量 %s", c.Oracle.OpenAI.APIKeyEnv))
		}
	case "python_bridge":
		if c.Oracle.Python.ScriptPath == "" {
			problems = append(problems, "python_bridge 决策需要 script_path")
		}
	default:
		problems = append(problems, fmt.Sprintf("未知的决策 provider: %s", c.Oracle.Provider))
	}

	if c.Feed.Provider != "coingecko" {
		problems = append(problems, fmt.Sprintf("未知的价格源 provider: %s", c.Feed.Provider))
	}

	p := c.Agent.Proposal
	if p.Amount <= 0 || strings.TrimSpace(p.From) == "" || strings.TrimSpace(p.To) == "" {
		problems = append(problems, "默认兑换提议需要正数 amount 以及 from/to")
	}
	if c.Agent.MaxBackoffSeconds < c.Agent.MinBackoffSeconds {
		problems = append(problems, "max_backoff_seconds 不能小于 min_backoff_seconds")
	}
	if c.Web3.NetworkConfig == "" && c.Web3.RPCURL == "" {
		problems = append(problems, "需要配置 network_config 或 rpc_url")
	}

	if len(problems) > 0 {
		return xerrors.New(xerrors.CodeStartupFailure, "配置校验失败: "+strings.Join(problems, "；"))
	}
	return nil
}
