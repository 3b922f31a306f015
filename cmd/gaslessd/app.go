package main

import (
	"context"
	"fmt"
	"log/slog"

	"gasless-agent/internal/account"
	"gasless-agent/internal/agent"
	"gasless-agent/internal/config"
	xerrors "gasless-agent/internal/errors"
	"gasless-agent/internal/events"
	"gasless-agent/internal/feed"
	"gasless-agent/internal/oracle"
	"gasless-agent/internal/oracle/openai"
	"gasless-agent/internal/oracle/pythonbridge"
	"gasless-agent/internal/relay"
	"gasless-agent/internal/web3/provider"
	"gasless-agent/pkg/logger"
)

// app 持有启动阶段创建的全部资源。
type app struct {
	loop      *agent.Loop
	registry  *provider.Registry
	bundler   *relay.Bundler
	publisher *events.Fanout
}

// Close 释放网络连接与日志文件。
func (a *app) Close() {
	if a.bundler != nil {
		a.bundler.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			logger.L().Warn("关闭事件发布者失败", slog.String("error", err.Error()))
		}
	}
	if a.registry != nil {
		a.registry.Close()
	}
	_ = logger.Sync()
}

// bootstrap 完成启动流程。登录方式在任何网络连接之前校验，失败即为启动失败。
func bootstrap(ctx context.Context, opts *options) (_ *app, err error) {
	if err := config.LoadEnv(opts.envFiles...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStartupFailure, err, "加载环境变量失败")
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		AddSource:   cfg.Logging.AddSource,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStartupFailure, err, "初始化日志失败")
	}

	printBanner(opts.stdout)

	method, err := resolveLogin(opts.login, opts.prompt)
	if err != nil {
		return nil, err
	}
	ownerKey, err := account.ParsePrivateKey(cfg.Credentials.OwnerKey)
	if err != nil {
		return nil, err
	}

	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// 连接链与账户。
	a.registry, err = provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStartupFailure, err, "初始化网络失败")
	}
	networkName, network, chain, err := a.registry.Default()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStartupFailure, err, "选择默认网络失败")
	}
	snapshot, err := chain.FetchChainSnapshot(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStartupFailure, err, "连接网络失败")
	}

	provisioner, err := account.NewProvisioner(chain, network.AccountFactory, cfg.Account.Salt, ownerKey)
	if err != nil {
		return nil, err
	}
	handle, err := provisioner.Link(ctx, method)
	if err != nil {
		return nil, err
	}
	printWallet(opts.stdout, networkName, snapshot, handle)

	// 组装循环的协作方。
	source, err := feed.NewCoinGecko(feed.CoinGeckoConfig{
		BaseURL:           cfg.Feed.BaseURL,
		Asset:             cfg.Feed.Asset,
		Quote:             cfg.Feed.Quote,
		APIKey:            cfg.Credentials.FeedAPIKey,
		Timeout:           cfg.Agent.SignalTimeout(),
		RequestsPerMinute: cfg.Feed.RequestsPerMinute,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStartupFailure, err, "初始化价格源失败")
	}
	decider, err := createOracle(cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStartupFailure, err, "初始化决策方失败")
	}
	a.bundler, err = relay.NewBundler(ctx, chain, network,
		relay.WithAPIKey(cfg.Credentials.BundlerAPIKey),
		relay.WithSponsorshipPolicy(cfg.Relay.SponsorshipPolicy),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStartupFailure, err, "初始化中继失败")
	}
	a.publisher, err = events.FromConfig(ctx, cfg.Events)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStartupFailure, err, "初始化事件发布失败")
	}

	a.loop, err = agent.New(handle, source, decider, a.bundler,
		agent.WithPeriod(cfg.Agent.Period()),
		agent.WithMinBackoff(cfg.Agent.MinBackoff()),
		agent.WithMaxBackoff(cfg.Agent.MaxBackoff()),
		agent.WithSignalTimeout(cfg.Agent.SignalTimeout()),
		agent.WithOracleTimeout(cfg.Agent.OracleTimeout()),
		agent.WithDispatchTimeout(cfg.Agent.DispatchTimeout()),
		agent.WithProposal(oracle.Params{
			Amount: cfg.Agent.Proposal.Amount,
			From:   cfg.Agent.Proposal.From,
			To:     cfg.Agent.Proposal.To,
		}),
		agent.WithPublisher(a.publisher),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStartupFailure, err, "初始化决策循环失败")
	}
	return a, nil
}

func createOracle(cfg *config.Config) (oracle.Oracle, error) {
	switch cfg.Oracle.Provider {
	case "threshold":
		return oracle.NewThreshold(cfg.Oracle.Threshold.BuyBelow, cfg.Oracle.Threshold.BuyAbove)
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.Credentials.OpenAIAPIKey,
			BaseURL: cfg.Oracle.OpenAI.BaseURL,
			Model:   cfg.Oracle.OpenAI.Model,
			Timeout: cfg.Oracle.OpenAI.Timeout(),
		})
	case "python_bridge":
		script := pythonbridge.ResolveScriptPath(cfg.Oracle.Python.WorkingDir, cfg.Oracle.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.Oracle.Python.PythonExecutable, script, cfg.Oracle.Python.WorkingDir)
	default:
		return nil, fmt.Errorf("未知的决策 provider: %s", cfg.Oracle.Provider)
	}
}
