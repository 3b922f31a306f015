package oracle

import (
	"context"
	"errors"
	"fmt"

	"gasless-agent/internal/feed"
)

// Threshold 是不依赖外部服务的规则决策：价格落在区间内时执行提议。
type Threshold struct {
	BuyBelow float64
	BuyAbove float64
}

// NewThreshold 创建规则决策方，至少需要一个边界。
func NewThreshold(buyBelow, buyAbove float64) (*Threshold, error) {
	if buyBelow <= 0 && buyAbove <= 0 {
		return nil, errors.New("threshold 决策需要 buy_below 或 buy_above")
	}
	if buyBelow > 0 && buyAbove > 0 && buyAbove > buyBelow {
		return nil, fmt.Errorf("区间无效: buy_above %v 大于 buy_below %v", buyAbove, buyBelow)
	}
	return &Threshold{BuyBelow: buyBelow, BuyAbove: buyAbove}, nil
}

// Decide 实现 Oracle 接口。
func (t *Threshold) Decide(_ context.Context, signal feed.Signal, dctx Context) (Decision, error) {
	price := signal.Value
	if t.BuyBelow > 0 && price > t.BuyBelow {
		return Decision{Action: ActionNoAct, Reason: fmt.Sprintf("%s 高于 %v", dctx.Observation, t.BuyBelow)}, nil
	}
	if t.BuyAbove > 0 && price < t.BuyAbove {
		return Decision{Action: ActionNoAct, Reason: fmt.Sprintf("%s 低于 %v", dctx.Observation, t.BuyAbove)}, nil
	}
	return Decision{
		Action: ActionAct,
		Params: dctx.Proposal,
		Reason: fmt.Sprintf("%s 位于执行区间", dctx.Observation),
	}, nil
}

var _ Oracle = (*Threshold)(nil)
