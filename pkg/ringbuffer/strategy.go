package ringbuffer

import (
	"runtime"
	"time"
)

// WaitStrategy decides how a producer or consumer waits when the ring has
// no room or no data, used by the blocking claim helpers.
type WaitStrategy interface {
	Wait()
}

type YieldingWaitStrategy struct{}

func (y *YieldingWaitStrategy) Wait() {
	runtime.Gosched()
}

type SleepWaitStrategy struct {
	d time.Duration
}

func NewSleepWaitStrategy(d time.Duration) *SleepWaitStrategy {
	return &SleepWaitStrategy{d: d}
}

func (s *SleepWaitStrategy) Wait() {
	time.Sleep(s.d)
}
