package agent

import (
	"time"

	xerrors "gasless-agent/internal/errors"
	"gasless-agent/internal/events"
	"gasless-agent/internal/feed"
	"gasless-agent/internal/oracle"
	"gasless-agent/internal/relay"

	"github.com/google/uuid"
)

// Stage 标识周期失败发生的阶段。
type Stage string

const (
	StageSignal   Stage = "signal"
	StageOracle   Stage = "oracle"
	StageDispatch Stage = "dispatch"
)

// CycleReport 汇总单个周期的结果，用于日志与事件。
type CycleReport struct {
	ID        uuid.UUID
	Number    uint64
	StartedAt time.Time

	Signal   feed.Signal
	Decision oracle.Decision
	Request  *relay.ActionRequest
	Receipt  relay.Receipt

	Stage Stage
	Err   error

	Duration time.Duration
	Uptime   time.Duration
	NextWait time.Duration
}

// Failed 表示周期是否失败。
func (r CycleReport) Failed() bool {
	return r.Err != nil
}

// Submitted 表示本周期是否拿到了中继回执。
func (r CycleReport) Submitted() bool {
	return r.Err == nil && r.Receipt.ID != ""
}

func (r *CycleReport) fail(stage Stage, err error) {
	r.Stage = stage
	r.Err = err
}

// Event 把周期结果转换为对外发布的事件。
func (r CycleReport) Event(account string) events.Event {
	event := events.Event{
		CycleID:    r.ID.String(),
		Cycle:      r.Number,
		Account:    account,
		Signal:     r.Signal.Value,
		Decision:   string(r.Decision.Action),
		Reason:     r.Decision.Reason,
		Duration:   r.Duration,
		NextWait:   r.NextWait,
		OccurredAt: r.StartedAt.Add(r.Duration),
	}
	if r.Request != nil {
		event.RequestID = r.Request.ID.String()
	}
	switch {
	case r.Failed():
		event.Outcome = events.OutcomeFailed
		event.Stage = string(r.Stage)
		event.Code = xerrors.CodeOf(r.Err)
		event.Severity = xerrors.SeverityOf(r.Err)
		event.Alert = xerrors.ShouldAlert(r.Err)
		event.Message = r.Err.Error()
	case r.Submitted():
		event.Outcome = events.OutcomeSubmitted
		event.ReceiptID = r.Receipt.ID
	default:
		event.Outcome = events.OutcomeNoAction
	}
	return event
}
