package supervisor

import (
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
)

// Monitor keeps keepalive round-trip stats.
type Monitor struct {
	sync.Mutex
	rtt     *movingaverage.MovingAverage
	samples int
	last    time.Duration
}

// NewMonitor averages the last window round trips.
func NewMonitor(window int) *Monitor {
	return &Monitor{rtt: movingaverage.New(window)}
}

// Add records one ping→pong round trip.
func (m *Monitor) Add(d time.Duration) {
	m.Lock()
	defer m.Unlock()

	m.samples++
	m.last = d
	m.rtt.Add(float64(d/time.Microsecond) / 1000.0)
}

// Avg returns the moving-average round trip, or 0 before the first sample.
func (m *Monitor) Avg() time.Duration {
	m.Lock()
	defer m.Unlock()

	if m.samples == 0 {
		return 0
	}
	return time.Duration(m.rtt.Avg() * float64(time.Millisecond))
}

// Samples returns the number of recorded round trips.
func (m *Monitor) Samples() int {
	m.Lock()
	defer m.Unlock()
	return m.samples
}
