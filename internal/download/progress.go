package download

import (
	"io"
	"time"
)

// flushInterval is the minimum wall-clock gap between speed samples.
// More frequent updates would just measure scheduler noise.
const flushInterval = 100 * time.Millisecond

const maxSpeedSamples = 10

// speedMeter computes a smoothed transfer rate from byte counts,
// sampling at most once per flushInterval.
type speedMeter struct {
	lastUpdate time.Time
	lastBytes  int64
	samples    []float64
	now        func() time.Time
}

func newSpeedMeter() *speedMeter {
	m := &speedMeter{now: time.Now}
	m.lastUpdate = m.now()
	return m
}

// observe records the running byte total and returns the smoothed
// speed in bytes per second. Between flushes it returns the previous
// smoothed value.
func (m *speedMeter) observe(current int64) int64 {
	now := m.now()
	elapsed := now.Sub(m.lastUpdate)
	if elapsed >= flushInterval {
		sample := float64(current-m.lastBytes) / elapsed.Seconds()
		m.samples = append(m.samples, sample)
		if len(m.samples) > maxSpeedSamples {
			m.samples = m.samples[1:]
		}
		m.lastUpdate = now
		m.lastBytes = current
	}
	return m.smoothed()
}

func (m *speedMeter) smoothed() int64 {
	if len(m.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range m.samples {
		sum += s
	}
	return int64(sum / float64(len(m.samples)))
}

// reset clears per-attempt counters while keeping the sample history
// empty so a retried attempt starts clean.
func (m *speedMeter) reset() {
	m.lastUpdate = m.now()
	m.lastBytes = 0
	m.samples = nil
}

// progressWriter counts bytes into its wrapped writer and reports
// progress through the callback, throttled by the meter's flush
// interval.
type progressWriter struct {
	dst      io.Writer
	meter    *speedMeter
	received int64
	total    int64
	report   func(received, total, speed int64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	w.received += int64(n)
	if w.report != nil {
		w.report(w.received, w.total, w.meter.observe(w.received))
	}
	return n, err
}
