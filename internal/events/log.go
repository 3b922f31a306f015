package events

import (
	"context"
	"log/slog"

	"gasless-agent/pkg/logger"
)

// LogPublisher 把事件写入审计日志。
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher 创建日志发布者，log 为空时使用审计日志。
func NewLogPublisher(log *slog.Logger) *LogPublisher {
	if log == nil {
		log = logger.Audit()
	}
	return &LogPublisher{log: log}
}

// Name 实现 Publisher。
func (p *LogPublisher) Name() string { return "log" }

// Publish 以结构化字段记录事件。
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	attrs := []slog.Attr{
		slog.String("cycle_id", event.CycleID),
		slog.Uint64("cycle", event.Cycle),
		slog.String("account", event.Account),
		slog.String("outcome", string(event.Outcome)),
		slog.Duration("duration", event.Duration),
		slog.Duration("next_wait", event.NextWait),
	}
	if event.Signal > 0 {
		attrs = append(attrs, slog.Float64("signal", event.Signal))
	}
	if event.Decision != "" {
		attrs = append(attrs, slog.String("decision", event.Decision))
	}
	if event.ReceiptID != "" {
		attrs = append(attrs, slog.String("receipt_id", event.ReceiptID), slog.String("request_id", event.RequestID))
	}
	if event.Stage != "" {
		attrs = append(attrs,
			slog.String("stage", event.Stage),
			slog.String("code", string(event.Code)),
			slog.String("message", event.Message),
		)
	}

	level := slog.LevelInfo
	if event.Outcome == OutcomeFailed {
		level = slog.LevelWarn
		if event.Alert {
			level = slog.LevelError
		}
	}
	p.log.LogAttrs(ctx, level, "cycle event", attrs...)
	return nil
}

// Close 实现 Publisher。
func (p *LogPublisher) Close() error { return nil }
