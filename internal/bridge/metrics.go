package bridge

import (
	"math"
	"sync/atomic"
	"time"
)

// Metrics are written by the loop and read from other goroutines.
type Metrics struct {
	advanced  atomic.Uint64
	skipped   atomic.Uint64
	episodes  atomic.Uint64
	lastStep  atomic.Int64
	lastClock atomic.Uint64
}

type MetricsSnapshot struct {
	Advanced  uint64  `json:"advanced"`
	Skipped   uint64  `json:"skipped"`
	Episodes  uint64  `json:"episodes"`
	StepMS    float64 `json:"step_ms"`
	HostClock float64 `json:"host_clock"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Advanced:  m.advanced.Load(),
		Skipped:   m.skipped.Load(),
		Episodes:  m.episodes.Load(),
		StepMS:    float64(time.Duration(m.lastStep.Load())) / float64(time.Millisecond),
		HostClock: math.Float64frombits(m.lastClock.Load()),
	}
}
