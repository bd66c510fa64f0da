package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter   MetricType = "counter"
	Gauge     MetricType = "gauge"
	Histogram MetricType = "histogram"
	Timer     MetricType = "timer"
)

// flushThreshold buffered metrics trigger an early flush.
const flushThreshold = 100

// Metric is one recorded observation.
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels"`
	Timestamp time.Time         `json:"timestamp"`
	Unit      string            `json:"unit,omitempty"`
}

// Collector buffers task, merge and agent metrics and periodically hands them
// to the OTLP exporter, or to the log when no endpoint is configured. A
// disabled collector drops everything.
type Collector struct {
	mu       sync.RWMutex
	metrics  []Metric
	enabled  bool
	exporter *OTLPExporter
	flushCh  chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewCollector(enabled bool, otlpEndpoint string) *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		enabled: enabled,
		flushCh: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	if otlpEndpoint != "" {
		c.exporter = NewOTLPExporter(otlpEndpoint)
	}
	if enabled {
		go c.periodicFlush(30 * time.Second)
	}
	return c
}

func (c *Collector) Counter(name string, value float64, labels map[string]string) {
	c.record(Metric{Name: name, Type: Counter, Value: value, Labels: labels})
}

func (c *Collector) Gauge(name string, value float64, labels map[string]string) {
	c.record(Metric{Name: name, Type: Gauge, Value: value, Labels: labels})
}

func (c *Collector) Histogram(name string, value float64, labels map[string]string) {
	c.record(Metric{Name: name, Type: Histogram, Value: value, Labels: labels})
}

// Timer records duration in milliseconds.
func (c *Collector) Timer(name string, duration time.Duration, labels map[string]string) {
	c.record(Metric{Name: name, Type: Timer, Value: float64(duration.Milliseconds()), Labels: labels, Unit: "ms"})
}

func (c *Collector) record(m Metric) {
	if !c.enabled {
		return
	}
	m.Timestamp = time.Now()

	c.mu.Lock()
	c.metrics = append(c.metrics, m)
	full := len(c.metrics) >= flushThreshold
	c.mu.Unlock()

	if full {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

// GetMetrics returns a copy of the buffered metrics.
func (c *Collector) GetMetrics() []Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Metric(nil), c.metrics...)
}

// Aggregate is the running total of one metric name.
type Aggregate struct {
	Type  MetricType `json:"type"`
	Count int        `json:"count"`
	Sum   float64    `json:"sum"`
}

// Summary aggregates the buffered metrics by name.
func (c *Collector) Summary() map[string]Aggregate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Aggregate)
	for _, m := range c.metrics {
		a := out[m.Name]
		a.Type = m.Type
		a.Count++
		a.Sum += m.Value
		out[m.Name] = a
	}
	return out
}

// FlushMetrics drains the buffer to the exporter or the log.
func (c *Collector) FlushMetrics() error {
	c.mu.Lock()
	metrics := c.metrics
	c.metrics = nil
	c.mu.Unlock()

	if len(metrics) == 0 {
		return nil
	}
	log.Debug().Int("count", len(metrics)).Msg("Flushing telemetry metrics")

	if c.exporter != nil {
		return c.exporter.Export(c.ctx, metrics)
	}
	for _, m := range metrics {
		log.Info().
			Str("name", m.Name).
			Str("type", string(m.Type)).
			Float64("value", m.Value).
			Interface("labels", m.Labels).
			Time("timestamp", m.Timestamp).
			Msg("telemetry_metric")
	}
	return nil
}

func (c *Collector) periodicFlush(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		case <-c.flushCh:
		}
		if err := c.FlushMetrics(); err != nil {
			log.Warn().Err(err).Msg("telemetry flush failed")
		}
	}
}

// Shutdown flushes what is buffered and stops the collector
func (c *Collector) Shutdown() error {
	err := c.FlushMetrics()
	c.cancel()
	return err
}

var (
	globalMu        sync.Mutex
	globalCollector *Collector
)

// InitGlobal replaces the global collector.
func InitGlobal(enabled bool, otlpEndpoint string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCollector = NewCollector(enabled, otlpEndpoint)
}

// GetGlobal returns the global collector, a disabled one until InitGlobal.
func GetGlobal() *Collector {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCollector == nil {
		globalCollector = NewCollector(false, "")
	}
	return globalCollector
}

func CounterGlobal(name string, value float64, labels map[string]string) {
	GetGlobal().Counter(name, value, labels)
}

func GaugeGlobal(name string, value float64, labels map[string]string) {
	GetGlobal().Gauge(name, value, labels)
}

func HistogramGlobal(name string, value float64, labels map[string]string) {
	GetGlobal().Histogram(name, value, labels)
}

func TimerGlobal(name string, duration time.Duration, labels map[string]string) {
	GetGlobal().Timer(name, duration, labels)
}

// Shutdown flushes the global collector.
func Shutdown() error {
	globalMu.Lock()
	c := globalCollector
	globalMu.Unlock()
	if c != nil {
		return c.Shutdown()
	}
	return nil
}
