package renderer

import (
	"bytes"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Smoothing factor of the device timing averages.
const timingAlpha = 0.1

// TimingAverages keeps an exponential moving average per device timer.
// Unavailable results are skipped.
type TimingAverages struct {
	avg  [TimerCount]float64
	seen [TimerCount]bool
}

// Fold a set of timings into the averages. Negative values mark
// unavailable results and leave the average untouched.
func (a *TimingAverages) Update(timings [TimerCount]float64) {
	for id, v := range timings {
		if v < 0 {
			continue
		}
		if !a.seen[id] {
			a.avg[id] = v
			a.seen[id] = true
			continue
		}
		a.avg[id] = timingAlpha*v + (1-timingAlpha)*a.avg[id]
	}
}

// Average of a timer in milliseconds or -1 if no result was ever folded in.
func (a *TimingAverages) Average(id TimerID) float64 {
	if id >= TimerCount || !a.seen[id] {
		return -1
	}
	return a.avg[id]
}

type FrameStats struct {
	SampleCount uint32
	TotalFrames uint64

	// Averaged device timings in milliseconds, -1 if never measured.
	Timings [TimerCount]float64

	// Wall-clock time spent drawing frames.
	RenderTime time.Duration
}

// Render the statistics as a table.
func (s FrameStats) Table() string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Timer", "Avg device time"})
	for id := TimerID(0); id < TimerCount; id++ {
		value := "n/a"
		if s.Timings[id] >= 0 {
			value = fmt.Sprintf("%.3f ms", s.Timings[id])
		}
		table.Append([]string{id.String(), value})
	}
	table.SetFooter([]string{
		fmt.Sprintf("%d samples / %d frames", s.SampleCount, s.TotalFrames),
		s.RenderTime.String(),
	})
	table.Render()
	return buf.String()
}
