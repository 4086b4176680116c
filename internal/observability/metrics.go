package observability

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricType is counter, gauge or histogram
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric is one labelled series. For histograms Value is the mean of the
// observations and Count, Sum, Min and Max summarise them.
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Count     uint64            `json:"count,omitempty"`
	Sum       float64           `json:"sum,omitempty"`
	Min       float64           `json:"min,omitempty"`
	Max       float64           `json:"max,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// MetricsCollector is an in-process registry served by MetricsHandler
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
	now     func() time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: make(map[string]*Metric),
		now:     time.Now,
	}
}

// metricKey is name followed by the labels in sorted order
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range names {
		sb.WriteString("." + k + "=" + labels[k])
	}
	return sb.String()
}

// update applies fn to the series, creating it first when absent
func (mc *MetricsCollector) update(name string, typ MetricType, labels map[string]string, fn func(m *Metric, created bool)) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metricKey(name, labels)
	m, ok := mc.metrics[key]
	if !ok {
		m = &Metric{Name: name, Type: typ, Labels: copyLabels(labels)}
		mc.metrics[key] = m
	}
	fn(m, !ok)
	m.Timestamp = mc.now()
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// Inc adds one to a counter
func (mc *MetricsCollector) Inc(name string, labels map[string]string) {
	mc.Add(name, 1, labels)
}

// Add adds value to a counter
func (mc *MetricsCollector) Add(name string, value float64, labels map[string]string) {
	mc.update(name, MetricTypeCounter, labels, func(m *Metric, _ bool) {
		m.Value += value
	})
}

// Set replaces a gauge value
func (mc *MetricsCollector) Set(name string, value float64, labels map[string]string) {
	mc.update(name, MetricTypeGauge, labels, func(m *Metric, _ bool) {
		m.Value = value
	})
}

// Observe records one histogram observation
func (mc *MetricsCollector) Observe(name string, value float64, labels map[string]string) {
	mc.update(name, MetricTypeHistogram, labels, func(m *Metric, created bool) {
		if created || value < m.Min {
			m.Min = value
		}
		if created || value > m.Max {
			m.Max = value
		}
		m.Count++
		m.Sum += value
		m.Value = m.Sum / float64(m.Count)
	})
}

// Get returns a copy of one series
func (mc *MetricsCollector) Get(name string, labels map[string]string) (Metric, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	m, ok := mc.metrics[metricKey(name, labels)]
	if !ok {
		return Metric{}, false
	}
	return *m, true
}

// GetAll returns a copy of every series keyed by name and labels
func (mc *MetricsCollector) GetAll() map[string]Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make(map[string]Metric, len(mc.metrics))
	for k, v := range mc.metrics {
		result[k] = *v
	}
	return result
}

// Reset drops every series
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics = make(map[string]*Metric)
}

// Standard metric names
const (
	// Alias metrics
	MetricAliasLoads       = "alias_config_loads_total"
	MetricAliasLoadErrors  = "alias_config_load_errors_total"
	MetricAliasSaves       = "alias_config_saves_total"
	MetricAliasSaveErrors  = "alias_config_save_errors_total"
	MetricAliasCount       = "alias_entries"
	MetricAliasAdds        = "alias_adds_total"
	MetricAliasReloads     = "alias_config_reloads_total"
	MetricAliasMatchLookup = "alias_match_lookups_total"

	// Parse metrics
	MetricParseTotal       = "parse_requests_total"
	MetricParseDuration    = "parse_duration_seconds"
	MetricParseAIAccepted  = "parse_ai_accepted_total"
	MetricParseFallback    = "parse_fallback_total"
	MetricParseFailure     = "parse_failure_total"
	MetricParseCacheHits   = "parse_cache_hits_total"
	MetricParseCacheMisses = "parse_cache_misses_total"

	// LLM metrics
	MetricLLMRequests = "llm_requests_total"
	MetricLLMDuration = "llm_request_duration_seconds"
	MetricLLMErrors   = "llm_errors_total"

	// SQL backend metrics
	MetricSQLQueries    = "sql_queries_total"
	MetricSQLDuration   = "sql_query_duration_seconds"
	MetricSQLErrors     = "sql_errors_total"
	MetricSQLDisallowed = "sql_disallowed_total"
	MetricSQLRows       = "sql_rows_returned"

	// Auth metrics
	MetricAuthAttempts       = "auth_attempts_total"
	MetricAuthSuccess        = "auth_success_total"
	MetricAuthFailure        = "auth_failure_total"
	MetricAuthTokensCreated  = "auth_tokens_created_total"
	MetricAuthAPIKeyRequests = "auth_apikey_requests_total"

	// Circuit breaker metrics
	MetricBreakerTransitions = "breaker_transitions_total"

	// HTTP metrics
	MetricHTTPRequests     = "http_requests_total"
	MetricHTTPDuration     = "http_request_duration_seconds"
	MetricHTTPErrors       = "http_errors_total"
	MetricHTTPResponseSize = "http_response_size_bytes"
)

// Global metrics collector instance
var globalMetrics = NewMetricsCollector()

// GetGlobalMetrics returns the global metrics collector
func GetGlobalMetrics() *MetricsCollector {
	return globalMetrics
}

// RecordParseMetrics records the outcome of one parse request.
// outcome is one of "ai", "fallback" or "failed".
func RecordParseMetrics(duration time.Duration, outcome string, cached bool) {
	metrics := GetGlobalMetrics()

	metrics.Inc(MetricParseTotal, nil)
	switch outcome {
	case "ai":
		metrics.Inc(MetricParseAIAccepted, nil)
	case "fallback":
		metrics.Inc(MetricParseFallback, nil)
	default:
		metrics.Inc(MetricParseFailure, nil)
	}

	if cached {
		metrics.Inc(MetricParseCacheHits, nil)
	} else {
		metrics.Inc(MetricParseCacheMisses, nil)
	}

	metrics.Observe(MetricParseDuration, duration.Seconds(), nil)
}

// RecordLLMMetrics records metrics for one completion call against a backend
func RecordLLMMetrics(backend string, duration time.Duration, err error) {
	metrics := GetGlobalMetrics()

	labels := map[string]string{"backend": backend}
	metrics.Inc(MetricLLMRequests, labels)
	metrics.Observe(MetricLLMDuration, duration.Seconds(), labels)

	if err != nil {
		metrics.Inc(MetricLLMErrors, labels)
	}
}

// RecordSQLMetrics records metrics for one call to the SQL backend
func RecordSQLMetrics(duration time.Duration, rows int, err error) {
	metrics := GetGlobalMetrics()

	metrics.Inc(MetricSQLQueries, nil)
	metrics.Observe(MetricSQLDuration, duration.Seconds(), nil)

	if err != nil {
		metrics.Inc(MetricSQLErrors, nil)
		return
	}
	metrics.Observe(MetricSQLRows, float64(rows), nil)
}

// RecordAliasSave records the outcome of persisting the alias configuration
func RecordAliasSave(source string, err error) {
	metrics := GetGlobalMetrics()

	labels := map[string]string{"source": source}
	metrics.Inc(MetricAliasSaves, labels)
	if err != nil {
		metrics.Inc(MetricAliasSaveErrors, labels)
	}
}

// RecordHTTPMetrics records metrics for HTTP requests
func RecordHTTPMetrics(method, path string, statusCode int, duration time.Duration, responseSize int) {
	metrics := GetGlobalMetrics()

	labels := map[string]string{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(statusCode),
	}

	metrics.Inc(MetricHTTPRequests, labels)
	metrics.Observe(MetricHTTPDuration, duration.Seconds(), labels)

	if statusCode >= 400 {
		metrics.Inc(MetricHTTPErrors, labels)
	}

	if responseSize > 0 {
		metrics.Observe(MetricHTTPResponseSize, float64(responseSize), labels)
	}
}
