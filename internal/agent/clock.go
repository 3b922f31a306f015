package agent

import "time"

// Clock 抽象时间来源，测试中可替换为手动推进的时钟。
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Backoff 返回第 failures 次连续失败后的等待时间：从 min 开始每次翻倍，不超过 max。
func Backoff(failures int, min, max time.Duration) time.Duration {
	if failures <= 0 || min <= 0 {
		return 0
	}
	if max < min {
		max = min
	}
	wait := min
	for i := 1; i < failures; i++ {
		if wait >= max/2 {
			return max
		}
		wait *= 2
	}
	if wait > max {
		return max
	}
	return wait
}
