package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"gasless-agent/internal/account"
	xerrors "gasless-agent/internal/errors"
	"gasless-agent/internal/events"
	"gasless-agent/internal/feed"
	"gasless-agent/internal/oracle"
	"gasless-agent/internal/relay"
	"gasless-agent/pkg/logger"

	"github.com/google/uuid"
)

const (
	defaultPeriod          = 60 * time.Second
	defaultMinBackoff      = 10 * time.Second
	defaultSignalTimeout   = 10 * time.Second
	defaultOracleTimeout   = 30 * time.Second
	defaultDispatchTimeout = 60 * time.Second
	publishTimeout         = 5 * time.Second
)

// DefaultProposal 是未配置时向决策方提出的兑换。
var DefaultProposal = oracle.Params{Amount: 100, From: "USDC", To: "WETH"}

// Loop 是自主决策循环。一个进程只运行一个 Loop，它独占账户句柄。
type Loop struct {
	account    account.Handle
	source     feed.Source
	oracle     oracle.Oracle
	dispatcher relay.Dispatcher

	period          time.Duration
	minBackoff      time.Duration
	maxBackoff      time.Duration
	signalTimeout   time.Duration
	oracleTimeout   time.Duration
	dispatchTimeout time.Duration
	proposal        oracle.Params

	clock     Clock
	publisher events.Publisher
	log       *slog.Logger
	audit     *slog.Logger

	startedAt time.Time
	cycles    uint64
	failures  int
}

// Option 定义可选的 Loop 配置。
type Option func(*Loop)

// WithPeriod 设置两次成功周期之间的目标间隔。
func WithPeriod(period time.Duration) Option {
	return func(l *Loop) {
		l.period = period
	}
}

// WithMinBackoff 设置首次失败后的等待时间。
func WithMinBackoff(d time.Duration) Option {
	return func(l *Loop) {
		l.minBackoff = d
	}
}

// WithMaxBackoff 设置退避等待的上限，未设置时等于周期。
func WithMaxBackoff(d time.Duration) Option {
	return func(l *Loop) {
		l.maxBackoff = d
	}
}

// WithSignalTimeout 设置获取价格信号的超时时间。
func WithSignalTimeout(d time.Duration) Option {
	return func(l *Loop) {
		l.signalTimeout = d
	}
}

// WithOracleTimeout 设置决策方的超时时间。
func WithOracleTimeout(d time.Duration) Option {
	return func(l *Loop) {
		l.oracleTimeout = d
	}
}

// WithDispatchTimeout 设置提交动作的超时时间。
func WithDispatchTimeout(d time.Duration) Option {
	return func(l *Loop) {
		l.dispatchTimeout = d
	}
}

// WithProposal 设置每个周期向决策方提出的默认兑换。
func WithProposal(p oracle.Params) Option {
	return func(l *Loop) {
		l.proposal = p
	}
}

// WithClock 替换时间来源。
func WithClock(clock Clock) Option {
	return func(l *Loop) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithPublisher 配置周期事件的发布者。
func WithPublisher(p events.Publisher) Option {
	return func(l *Loop) {
		l.publisher = p
	}
}

// WithLogger 替换运行日志。
func WithLogger(log *slog.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// WithAuditLogger 替换记录提交结果的审计日志。
func WithAuditLogger(log *slog.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.audit = log
		}
	}
}

// New 创建决策循环。账户句柄无效或协作方缺失时返回错误。
func New(handle account.Handle, source feed.Source, decider oracle.Oracle, dispatcher relay.Dispatcher, opts ...Option) (*Loop, error) {
	// 验证必要的组件是否已配置。
	if !handle.Valid() {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "账户句柄无效")
	}
	if source == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置价格源")
	}
	if decider == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置决策方")
	}
	if dispatcher == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置中继")
	}

	l := &Loop{
		account:         handle,
		source:          source,
		oracle:          decider,
		dispatcher:      dispatcher,
		period:          defaultPeriod,
		minBackoff:      defaultMinBackoff,
		signalTimeout:   defaultSignalTimeout,
		oracleTimeout:   defaultOracleTimeout,
		dispatchTimeout: defaultDispatchTimeout,
		proposal:        DefaultProposal,
		clock:           systemClock{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.log == nil {
		l.log = logger.Named("agent")
	}
	if l.audit == nil {
		l.audit = logger.Audit()
	}
	if l.maxBackoff == 0 {
		l.maxBackoff = l.period
	}

	// 校验时间参数。
	for name, d := range map[string]time.Duration{
		"period":           l.period,
		"min_backoff":      l.minBackoff,
		"signal_timeout":   l.signalTimeout,
		"oracle_timeout":   l.oracleTimeout,
		"dispatch_timeout": l.dispatchTimeout,
	} {
		if d <= 0 {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, name+" 必须大于 0")
		}
	}
	if l.maxBackoff < l.minBackoff {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "max_backoff 不能小于 min_backoff")
	}
	if err := l.proposal.Validate(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "默认兑换提议无效")
	}
	return l, nil
}

// Account 返回循环使用的账户句柄。
func (l *Loop) Account() account.Handle {
	return l.account
}

// Cycles 返回已经执行的周期数。
func (l *Loop) Cycles() uint64 {
	return l.cycles
}

// Run 持续执行周期直到 ctx 被取消。取消只在周期边界或等待期间生效，
// 进行中的外部调用会在各自的超时内完成。
func (l *Loop) Run(ctx context.Context) error {
	if l.startedAt.IsZero() {
		l.startedAt = l.clock.Now()
	}
	l.log.Info("决策循环已启动",
		slog.String("account", l.account.Address.Hex()),
		slog.Duration("period", l.period),
		slog.Duration("min_backoff", l.minBackoff),
		slog.Duration("max_backoff", l.maxBackoff),
	)

	for {
		if err := ctx.Err(); err != nil {
			l.stopped(err)
			return err
		}

		report := l.RunCycle(ctx)
		if report.NextWait <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			l.stopped(ctx.Err())
			return ctx.Err()
		case <-l.clock.After(report.NextWait):
		}
	}
}

func (l *Loop) stopped(err error) {
	l.log.Info("决策循环已停止",
		slog.Uint64("cycles", l.cycles),
		slog.Duration("uptime", l.clock.Now().Sub(l.startedAt)),
		slog.String("reason", err.Error()),
	)
}

// RunCycle 执行一个完整周期并返回结果，不会因为取消而中断已经开始的调用。
func (l *Loop) RunCycle(ctx context.Context) CycleReport {
	start := l.clock.Now()
	if l.startedAt.IsZero() {
		l.startedAt = start
	}
	l.cycles++
	report := CycleReport{ID: uuid.New(), Number: l.cycles, StartedAt: start}

	// 外部调用只受各自超时约束，与循环的取消信号解耦。
	callCtx := context.WithoutCancel(ctx)

	l.execute(callCtx, &report)

	// 计算下一次等待时间。
	now := l.clock.Now()
	report.Duration = now.Sub(start)
	report.Uptime = now.Sub(l.startedAt)
	if report.Failed() {
		l.failures++
		report.NextWait = Backoff(l.failures, l.minBackoff, l.maxBackoff)
	} else {
		l.failures = 0
		report.NextWait = l.period - report.Duration
		if report.NextWait < 0 {
			report.NextWait = 0
		}
	}

	l.record(report)
	l.publish(callCtx, report)
	return report
}

func (l *Loop) execute(ctx context.Context, report *CycleReport) {
	// 获取价格信号。
	signal, err := l.fetch(ctx)
	if err != nil {
		report.fail(StageSignal, err)
		return
	}
	report.Signal = signal

	// 询问决策方。
	decision, err := l.decide(ctx, signal, report.Number)
	if err != nil {
		report.fail(StageOracle, err)
		return
	}
	report.Decision = decision
	if decision.Action != oracle.ActionAct {
		return
	}

	// 提交动作，每个周期最多一次。
	req := relay.NewActionRequest(decision.Params.From, decision.Params.To, decision.Params.Amount, l.account)
	report.Request = &req
	receipt, err := l.submit(ctx, req)
	if err != nil {
		report.fail(StageDispatch, err)
		return
	}
	report.Receipt = receipt
}

func (l *Loop) fetch(ctx context.Context) (_ feed.Signal, err error) {
	defer recoverStage(xerrors.CodeSignalFailure, &err)
	ctx, cancel := context.WithTimeout(ctx, l.signalTimeout)
	defer cancel()

	signal, err := l.source.Fetch(ctx)
	if err != nil {
		return feed.Signal{}, stageError(xerrors.CodeSignalFailure, err, "获取价格信号失败")
	}
	if err := signal.Validate(); err != nil {
		return feed.Signal{}, stageError(xerrors.CodeSignalFailure, err, "价格信号无效")
	}
	return signal, nil
}

func (l *Loop) decide(ctx context.Context, signal feed.Signal, cycle uint64) (_ oracle.Decision, err error) {
	defer recoverStage(xerrors.CodeOracleFailure, &err)
	ctx, cancel := context.WithTimeout(ctx, l.oracleTimeout)
	defer cancel()

	decision, err := l.oracle.Decide(ctx, signal, oracle.NewContext(signal, l.proposal, cycle))
	if err != nil {
		return oracle.Decision{}, stageError(xerrors.CodeOracleFailure, err, "决策失败")
	}
	if err := decision.Validate(); err != nil {
		return oracle.Decision{}, stageError(xerrors.CodeOracleFailure, err, "决策格式错误")
	}
	return decision, nil
}

func (l *Loop) submit(ctx context.Context, req relay.ActionRequest) (_ relay.Receipt, err error) {
	defer recoverStage(xerrors.CodeDispatchFailure, &err)
	ctx, cancel := context.WithTimeout(ctx, l.dispatchTimeout)
	defer cancel()

	receipt, err := l.dispatcher.Submit(ctx, req)
	if err != nil {
		return relay.Receipt{}, stageError(xerrors.CodeDispatchFailure, err, "提交动作失败")
	}
	if receipt.ID == "" {
		return relay.Receipt{}, xerrors.New(xerrors.CodeDispatchFailure, "中继返回了空回执")
	}
	return receipt, nil
}

// recoverStage 把协作方的 panic 转换为所在阶段的错误，周期照常结束。
func recoverStage(code xerrors.Code, err *error) {
	if r := recover(); r != nil {
		*err = xerrors.New(code, fmt.Sprintf("协作方发生 panic: %v", r), xerrors.WithMetadata("panic", "true"))
	}
}

// stageError 保证错误携带所在阶段的错误码，超时在消息中单独标注。
func stageError(code xerrors.Code, err error, message string) error {
	if xerrors.CodeOf(err) == code {
		return err
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		message += "（超时）"
	}
	return xerrors.Wrap(code, err, message)
}

func (l *Loop) record(report CycleReport) {
	attrs := []slog.Attr{
		slog.String("cycle_id", report.ID.String()),
		slog.Uint64("cycle", report.Number),
		slog.Duration("duration", report.Duration),
		slog.Duration("uptime", report.Uptime),
		slog.Duration("next_wait", report.NextWait),
	}
	if report.Signal.Value > 0 {
		attrs = append(attrs, slog.String("signal", report.Signal.String()))
	}

	switch {
	case report.Failed():
		attrs = append(attrs,
			slog.String("stage", string(report.Stage)),
			slog.String("code", string(xerrors.CodeOf(report.Err))),
			slog.String("error", report.Err.Error()),
		)
		level := slog.LevelWarn
		if xerrors.ShouldAlert(report.Err) {
			level = slog.LevelError
		}
		l.log.LogAttrs(context.Background(), level, "周期失败", attrs...)
		if report.Stage == StageDispatch && report.Request != nil {
			l.audit.Warn("动作提交失败",
				slog.String("request_id", report.Request.ID.String()),
				slog.String("action", report.Request.String()),
				slog.String("error", report.Err.Error()),
			)
		}
	case report.Submitted():
		attrs = append(attrs,
			slog.String("decision", string(report.Decision.Action)),
			slog.String("reason", report.Decision.Reason),
			slog.String("receipt", report.Receipt.ID),
		)
		l.log.LogAttrs(context.Background(), slog.LevelInfo, "动作已提交", attrs...)
		l.audit.Info("动作已提交",
			slog.String("request_id", report.Request.ID.String()),
			slog.String("action", report.Request.String()),
			slog.String("receipt", report.Receipt.ID),
			slog.Time("submitted_at", report.Receipt.SubmittedAt),
		)
	default:
		attrs = append(attrs,
			slog.String("decision", string(report.Decision.Action)),
			slog.String("reason", report.Decision.Reason),
		)
		l.log.LogAttrs(context.Background(), slog.LevelInfo, "本周期不行动", attrs...)
	}
}

func (l *Loop) publish(ctx context.Context, report CycleReport) {
	if l.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := l.publisher.Publish(ctx, report.Event(l.account.Address.Hex())); err != nil {
		l.log.Warn("发布周期事件失败", slog.String("cycle_id", report.ID.String()), slog.String("error", err.Error()))
	}
}
