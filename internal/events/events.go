package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	xerrors "gasless-agent/internal/errors"
)

// Outcome 描述一个周期的结果。
type Outcome string

const (
	OutcomeNoAction  Outcome = "no_act"
	OutcomeSubmitted Outcome = "submitted"
	OutcomeFailed    Outcome = "failed"
)

// Event 是每个周期结束时发出的通知。事件只用于旁路观察，不作为历史记录。
type Event struct {
	CycleID    string            `json:"cycle_id"`
	Cycle      uint64            `json:"cycle"`
	Account    string            `json:"account"`
	Outcome    Outcome           `json:"outcome"`
	Stage      string            `json:"stage,omitempty"`
	Code       xerrors.Code      `json:"code,omitempty"`
	Severity   xerrors.Severity  `json:"severity,omitempty"`
	Alert      bool              `json:"alert,omitempty"`
	Signal     float64           `json:"signal,omitempty"`
	Decision   string            `json:"decision,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	ReceiptID  string            `json:"receipt_id,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Message    string            `json:"message,omitempty"`
	Duration   time.Duration     `json:"duration"`
	NextWait   time.Duration     `json:"next_wait"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Publisher 把事件投递到某个目标。
type Publisher interface {
	Name() string
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Fanout 将事件广播给多个发布者。
type Fanout struct {
	publishers map[string]Publisher
}

// NewFanout 创建广播器，同名发布者只保留最后一个。
func NewFanout(publishers ...Publisher) *Fanout {
	set := make(map[string]Publisher, len(publishers))
	for _, p := range publishers {
		if p == nil {
			continue
		}
		set[p.Name()] = p
	}
	return &Fanout{publishers: set}
}

// Name 实现 Publisher。
func (f *Fanout) Name() string { return "fanout" }

// Names 返回已注册的发布者名称。
func (f *Fanout) Names() []string {
	if f == nil {
		return nil
	}
	names := make([]string, 0, len(f.publishers))
	for name := range f.publishers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Publish 投递到所有发布者，单个失败不影响其他发布者。
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, name := range f.Names() {
		if err := f.publishers[name].Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("publisher %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close 关闭所有发布者。
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, name := range f.Names() {
		if err := f.publishers[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
