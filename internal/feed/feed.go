package feed

import (
	"context"
	"fmt"
	"math"
	"time"

	xerrors "gasless-agent/internal/errors"
)

// Signal 是一次取价得到的不可变观测值。
type Signal struct {
	Asset      string    `json:"asset"`
	Quote      string    `json:"quote"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// Validate 拒绝非有限或非正的价格。
func (s Signal) Validate() error {
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) || s.Value <= 0 {
		return xerrors.New(xerrors.CodeSignalFailure, fmt.Sprintf("价格无效: %v", s.Value))
	}
	return nil
}

// String 以 "price=<value>" 的形式输出，用于日志与决策上下文。
func (s Signal) String() string {
	return fmt.Sprintf("price=%s", formatValue(s.Value))
}

// Source 在每个周期按需取回一个数值信号。实现必须可重复调用且只读。
type Source interface {
	Fetch(ctx context.Context) (Signal, error)
}

// SourceFunc 让普通函数满足 Source 接口。
type SourceFunc func(ctx context.Context) (Signal, error)

// Fetch 调用函数本身。
func (f SourceFunc) Fetch(ctx context.Context) (Signal, error) {
	return f(ctx)
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%g", v)
}
