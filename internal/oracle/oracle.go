package oracle

import (
	"context"
	"fmt"
	"math"
	"strings"

	xerrors "gasless-agent/internal/errors"
	"gasless-agent/internal/feed"
)

// Action 是决策的二元结果。
type Action string

const (
	ActionAct   Action = "act"
	ActionNoAct Action = "no_act"
)

// Params 描述一次兑换：从 From 资产兑换 Amount 到 To 资产。
type Params struct {
	Amount float64 `json:"amount"`
	From   string  `json:"from"`
	To     string  `json:"to"`
}

// IsZero 判断参数是否完全未填写。
func (p Params) IsZero() bool {
	return p.Amount == 0 && strings.TrimSpace(p.From) == "" && strings.TrimSpace(p.To) == ""
}

// Validate 检查兑换参数的结构完整性。
func (p Params) Validate() error {
	if math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) || p.Amount <= 0 {
		return fmt.Errorf("兑换数量无效: %v", p.Amount)
	}
	from := strings.TrimSpace(p.From)
	to := strings.TrimSpace(p.To)
	if from == "" || to == "" {
		return fmt.Errorf("兑换资产不能为空: from=%q to=%q", p.From, p.To)
	}
	if strings.EqualFold(from, to) {
		return fmt.Errorf("兑换两端资产相同: %s", from)
	}
	return nil
}

// Decision 是决策方给出的结果。只有 Action 为 act 时 Params 才有意义。
type Decision struct {
	Action Action `json:"action"`
	Params Params `json:"params"`
	Reason string `json:"reason,omitempty"`
}

// Validate 只校验结构：枚举值合法，act 时参数齐全。不判断决策是否合理。
func (d Decision) Validate() error {
	switch d.Action {
	case ActionNoAct:
		return nil
	case ActionAct:
		if err := d.Params.Validate(); err != nil {
			return xerrors.Wrap(xerrors.CodeOracleFailure, err, "决策参数不完整")
		}
		return nil
	default:
		return xerrors.New(xerrors.CodeOracleFailure, fmt.Sprintf("未知的决策结果: %q", d.Action))
	}
}

// Context 是每个周期交给决策方的上下文。
type Context struct {
	Cycle       uint64 `json:"cycle"`
	Proposal    Params `json:"proposal"`
	Observation string `json:"observation"`
	Prompt      string `json:"prompt"`
}

// NewContext 根据本周期的信号与默认提议生成上下文。
func NewContext(signal feed.Signal, proposal Params, cycle uint64) Context {
	asset := assetLabel(signal.Asset)
	prompt := fmt.Sprintf("%s is $%s. Should I swap %s %s to %s?",
		asset,
		strings.TrimPrefix(signal.String(), "price="),
		trimFloat(proposal.Amount),
		proposal.From,
		proposal.To,
	)
	return Context{
		Cycle:       cycle,
		Proposal:    proposal,
		Observation: signal.String(),
		Prompt:      prompt,
	}
}

// Oracle 根据当前信号与上下文返回是否行动。实现被视为不可信的黑盒。
type Oracle interface {
	Decide(ctx context.Context, signal feed.Signal, dctx Context) (Decision, error)
}

// Func 让普通函数满足 Oracle 接口。
type Func func(ctx context.Context, signal feed.Signal, dctx Context) (Decision, error)

// Decide 调用函数本身。
func (f Func) Decide(ctx context.Context, signal feed.Signal, dctx Context) (Decision, error) {
	return f(ctx, signal, dctx)
}

var assetLabels = map[string]string{
	"ethereum": "ETH",
	"bitcoin":  "BTC",
	"linea":    "LINEA",
}

func assetLabel(asset string) string {
	if label, ok := assetLabels[strings.ToLower(asset)]; ok {
		return label
	}
	if asset == "" {
		return "The asset"
	}
	return strings.ToUpper(asset)
}

func trimFloat(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%g", v)
}
