package renderer

import (
	"sort"

	"github.com/achilleasa/prism/gpu"
)

type TimerID uint32

const (
	RenderingAllTimer TimerID = iota
	PathTraceTimer
	HistogramTimer
	TimerCount
)

func (id TimerID) String() string {
	switch id {
	case RenderingAllTimer:
		return "rendering all"
	case PathTraceTimer:
		return "path trace"
	case HistogramTimer:
		return "histogram"
	}
	return "unknown"
}

// DeviceTimer measures the device time spent between pairs of timestamps
// written by command buffers. Each timer owns a start and a stop query.
type DeviceTimer struct {
	pool   gpu.QueryPool
	period float64
}

func NewDeviceTimer(dev gpu.Device) *DeviceTimer {
	return &DeviceTimer{
		pool:   dev.CreateQueryPool(2 * uint32(TimerCount)),
		period: float64(dev.TimestampPeriod().Nanoseconds()),
	}
}

// Record a reset of the queries of the given timers. Adjacent timers are
// reset with a single command.
func (t *DeviceTimer) Reset(cb gpu.CommandBuffer, ids ...TimerID) {
	if len(ids) == 0 {
		return
	}
	sorted := append([]TimerID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	first, last := sorted[0], sorted[0]
	flush := func() {
		cb.ResetQueries(t.pool, 2*uint32(first), 2*uint32(last-first+1))
	}
	for _, id := range sorted[1:] {
		if id <= last+1 {
			if id > last {
				last = id
			}
			continue
		}
		flush()
		first, last = id, id
	}
	flush()
}

func (t *DeviceTimer) Start(cb gpu.CommandBuffer, id TimerID) {
	cb.WriteTimestamp(t.pool, 2*uint32(id))
}

func (t *DeviceTimer) Stop(cb gpu.CommandBuffer, id TimerID) {
	cb.WriteTimestamp(t.pool, 2*uint32(id)+1)
}

// Elapsed time of a timer in milliseconds or -1 if either timestamp is not
// available.
func (t *DeviceTimer) Result(id TimerID) float64 {
	values, available := t.pool.Results(2*uint32(id), 2)
	if len(values) != 2 || !available[0] || !available[1] || values[1] < values[0] {
		return -1
	}
	return float64(values[1]-values[0]) * t.period / 1e6
}

// Elapsed times of all timers.
func (t *DeviceTimer) Results() [TimerCount]float64 {
	var out [TimerCount]float64
	for id := TimerID(0); id < TimerCount; id++ {
		out[id] = t.Result(id)
	}
	return out
}

func (t *DeviceTimer) Destroy() {
	t.pool.Destroy()
}
