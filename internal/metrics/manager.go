// Package metrics keeps in-process counters and timings for the transcription
// pipeline and renders them as JSON snapshots.
package metrics

import (
	"sort"
	"sync"
	"time"
)

const (
	maxSamples = 1000 // Keep last 1000 samples for percentile calculations
)

// MetricsManager holds all metrics keyed by "topic/function" path.
type MetricsManager struct {
	mu          sync.RWMutex
	timings     map[string]*TimingMetric
	counters    map[string]*CounterMetric
	gauges      map[string]*GaugeMetric
	successFail map[string]*SuccessFailMetric
}

var (
	instance *MetricsManager
	once     sync.Once
)

// GetInstance returns the singleton metrics manager
func GetInstance() *MetricsManager {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New creates an empty manager. Most callers want GetInstance.
func New() *MetricsManager {
	return &MetricsManager{
		timings:     make(map[string]*TimingMetric),
		counters:    make(map[string]*CounterMetric),
		gauges:      make(map[string]*GaugeMetric),
		successFail: make(map[string]*SuccessFailMetric),
	}
}

// buildPath creates a normalized path from topic and function
func buildPath(topic, function string) string {
	if function == "" {
		return topic
	}
	return topic + "/" + function
}

// RecordDuration adds a timing sample.
func (m *MetricsManager) RecordDuration(topic, function string, duration time.Duration) {
	path := buildPath(topic, function)

	m.mu.Lock()
	metric, exists := m.timings[path]
	if !exists {
		metric = &TimingMetric{
			samples: make([]time.Duration, 0, 16),
			Min:     duration,
			Max:     duration,
		}
		m.timings[path] = metric
	}
	m.mu.Unlock()

	metric.mu.Lock()
	defer metric.mu.Unlock()

	metric.Count++
	metric.Total += duration
	metric.Last = duration
	if duration < metric.Min {
		metric.Min = duration
	}
	if duration > metric.Max {
		metric.Max = duration
	}

	if len(metric.samples) < maxSamples {
		metric.samples = append(metric.samples, duration)
	} else {
		metric.samples[metric.sampleIdx] = duration
		metric.sampleIdx = (metric.sampleIdx + 1) % maxSamples
	}
}

// Time returns a func that records the elapsed time when called.
//
//	defer metrics.GetInstance().Time("stt", "transcribe")()
func (m *MetricsManager) Time(topic, function string) func() {
	start := time.Now()
	return func() {
		m.RecordDuration(topic, function, time.Since(start))
	}
}

// IncrementCounter adds one to a counter.
func (m *MetricsManager) IncrementCounter(topic, function string) {
	m.AddCounter(topic, function, 1)
}

// AddCounter adds delta to a counter.
func (m *MetricsManager) AddCounter(topic, function string, delta int64) {
	path := buildPath(topic, function)

	m.mu.Lock()
	metric, exists := m.counters[path]
	if !exists {
		metric = &CounterMetric{}
		m.counters[path] = metric
	}
	m.mu.Unlock()

	metric.mu.Lock()
	metric.Value += delta
	metric.mu.Unlock()
}

// SetGauge sets a gauge to value, tracking the high-water mark.
func (m *MetricsManager) SetGauge(topic, function string, value int64) {
	path := buildPath(topic, function)

	m.mu.Lock()
	metric, exists := m.gauges[path]
	if !exists {
		metric = &GaugeMetric{}
		m.gauges[path] = metric
	}
	m.mu.Unlock()

	metric.mu.Lock()
	metric.Value = value
	if value > metric.Max {
		metric.Max = value
	}
	metric.mu.Unlock()
}

// RecordSuccess records a successful operation
func (m *MetricsManager) RecordSuccess(topic, function string) {
	metric := m.successFailMetric(buildPath(topic, function))

	metric.mu.Lock()
	metric.Success++
	metric.mu.Unlock()
}

// RecordFailure records a failed operation with an optional reason
func (m *MetricsManager) RecordFailure(topic, function, reason string) {
	metric := m.successFailMetric(buildPath(topic, function))

	metric.mu.Lock()
	metric.Failures++
	if reason != "" {
		metric.FailureReasons[reason]++
	}
	metric.mu.Unlock()
}

func (m *MetricsManager) successFailMetric(path string) *SuccessFailMetric {
	m.mu.Lock()
	defer m.mu.Unlock()

	metric, exists := m.successFail[path]
	if !exists {
		metric = &SuccessFailMetric{FailureReasons: make(map[string]int64)}
		m.successFail[path] = metric
	}
	return metric
}

// GetSnapshot returns a copy of every metric, keyed by path.
func (m *MetricsManager) GetSnapshot() map[string]*MetricSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*MetricSnapshot)

	for path, t := range m.timings {
		t.mu.Lock()
		snap := TimingSnapshot{
			Count:  t.Count,
			MinMs:  ms(t.Min),
			MaxMs:  ms(t.Max),
			LastMs: ms(t.Last),
			P95Ms:  calculatePercentile(t.samples, 95),
		}
		if t.Count > 0 {
			snap.AvgMs = ms(t.Total) / float64(t.Count)
		}
		t.mu.Unlock()
		out[path] = &MetricSnapshot{Path: path, Type: TypeTiming, Data: snap}
	}

	for path, c := range m.counters {
		c.mu.Lock()
		out[path] = &MetricSnapshot{Path: path, Type: TypeCounter, Data: CounterSnapshot{Value: c.Value}}
		c.mu.Unlock()
	}

	for path, g := range m.gauges {
		g.mu.Lock()
		out[path] = &MetricSnapshot{Path: path, Type: TypeGauge, Data: GaugeSnapshot{Value: g.Value, Max: g.Max}}
		g.mu.Unlock()
	}

	for path, sf := range m.successFail {
		sf.mu.Lock()
		snap := SuccessFailSnapshot{
			Success:  sf.Success,
			Failures: sf.Failures,
		}
		if total := sf.Success + sf.Failures; total > 0 {
			snap.SuccessRate = float64(sf.Success) / float64(total)
		}
		if len(sf.FailureReasons) > 0 {
			snap.FailureReasons = make(map[string]int64, len(sf.FailureReasons))
			for k, v := range sf.FailureReasons {
				snap.FailureReasons[k] = v
			}
		}
		sf.mu.Unlock()
		out[path] = &MetricSnapshot{Path: path, Type: TypeSuccessFail, Data: snap}
	}

	return out
}

// calculatePercentile calculates the given percentile from samples
func calculatePercentile(samples []time.Duration, percentile int) float64 {
	if len(samples) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := (len(sorted)*percentile+99)/100 - 1
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return ms(sorted[index])
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
