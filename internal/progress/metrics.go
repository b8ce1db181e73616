package progress

import (
	"context"
	"runtime"
	"time"
)

// Publisher accepts progress events.
type Publisher interface {
	Publish(evt Event)
}

// MetricsSource returns the values reported in each system_metrics event.
type MetricsSource func() map[string]interface{}

// MetricsReporter periodically broadcasts system_metrics events.
type MetricsReporter struct {
	pub      Publisher
	source   MetricsSource
	interval time.Duration
}

// NewMetricsReporter creates a reporter. A nil source reports runtime figures only.
func NewMetricsReporter(pub Publisher, source MetricsSource, interval time.Duration) *MetricsReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &MetricsReporter{pub: pub, source: source, interval: interval}
}

// Run publishes a snapshot every interval until ctx is cancelled.
func (m *MetricsReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pub.Publish(SystemMetrics(m.snapshot()))
		}
	}
}

func (m *MetricsReporter) snapshot() map[string]interface{} {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	values := map[string]interface{}{
		"goroutines":  runtime.NumGoroutine(),
		"heapAllocMB": float64(mem.HeapAlloc) / (1 << 20),
	}
	if m.source != nil {
		for k, v := range m.source() {
			values[k] = v
		}
	}
	return values
}
