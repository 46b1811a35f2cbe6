// Package metrics exposes pipeline and HTTP counters in the Prometheus
// text format. It is deliberately dependency-free: the set of series is
// small and fixed, and the scrape endpoint is read-only.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/queue"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Request metrics
	requestCount    map[string]*uint64    // endpoint:method -> count
	requestDuration map[string]*Histogram // endpoint:method -> duration histogram

	// Pipeline metrics
	queueLength   int64
	activeJobs    int64
	wsConnections int64
	itemsByStatus map[string]*uint64 // terminal status -> count
	bytesTotal    uint64

	startTime time.Time
}

// Histogram tracks value distributions
type Histogram struct {
	mu    sync.Mutex
	count uint64
	sum   float64
	// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s
	buckets    []float64
	bucketVals []uint64
}

// NewHistogram creates a new histogram with default buckets
func NewHistogram() *Histogram {
	return &Histogram{
		buckets:    []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		bucketVals: make([]uint64, 11),
	}
}

// Observe records a value
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.bucketVals[i]++
		}
	}
}

// New creates a new Metrics instance
func New() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]*uint64),
		requestDuration: make(map[string]*Histogram),
		itemsByStatus:   make(map[string]*uint64),
		startTime:       time.Now(),
	}
}

// RecordRequest records a request
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	key := fmt.Sprintf("%s:%s", normalizeEndpoint(path), method)

	m.mu.Lock()
	if m.requestCount[key] == nil {
		var zero uint64
		m.requestCount[key] = &zero
	}
	if m.requestDuration[key] == nil {
		m.requestDuration[key] = NewHistogram()
	}
	m.mu.Unlock()

	atomic.AddUint64(m.requestCount[key], 1)

	m.mu.RLock()
	m.requestDuration[key].Observe(duration.Seconds())
	m.mu.RUnlock()
}

// normalizeEndpoint normalizes an endpoint path for metrics (removes IDs)
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		// UUID pattern (simplified)
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// SetQueueLength sets the current queue length gauge.
func (m *Metrics) SetQueueLength(n int64) {
	atomic.StoreInt64(&m.queueLength, n)
}

// SetActiveJobs sets the running-downloads gauge.
func (m *Metrics) SetActiveJobs(n int64) {
	atomic.StoreInt64(&m.activeJobs, n)
}

// SetWSConnections sets the active WebSocket connections count
func (m *Metrics) SetWSConnections(count int64) {
	atomic.StoreInt64(&m.wsConnections, count)
}

// AddBytes adds to the downloaded-bytes counter.
func (m *Metrics) AddBytes(n int64) {
	if n > 0 {
		atomic.AddUint64(&m.bytesTotal, uint64(n))
	}
}

// CountOutcome increments the per-status terminal counter.
func (m *Metrics) CountOutcome(status string) {
	m.mu.Lock()
	if m.itemsByStatus[status] == nil {
		var zero uint64
		m.itemsByStatus[status] = &zero
	}
	m.mu.Unlock()
	atomic.AddUint64(m.itemsByStatus[status], 1)
}

// Listener adapts the metrics sink into a queue store listener: terminal
// transitions bump the outcome counters, completions add transferred
// bytes. The store notifies on every mutation, including the removal of an
// already-terminal item, so each item's last seen status is tracked and
// only the actual transition into a terminal state counts.
func (m *Metrics) Listener() queue.Listener {
	var mu sync.Mutex
	lastStatus := make(map[string]string)
	return func(it *queue.Item) {
		mu.Lock()
		last := lastStatus[it.ID]
		lastStatus[it.ID] = it.Status
		mu.Unlock()

		if !it.IsTerminal() || last == it.Status {
			return
		}
		m.CountOutcome(it.Status)
		if it.Status == queue.StatusCompleted {
			m.AddBytes(it.Size)
		}
	}
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		uptime := time.Since(m.startTime).Seconds()
		sb.WriteString("# HELP ytd_uptime_seconds Time since the server started\n")
		sb.WriteString("# TYPE ytd_uptime_seconds gauge\n")
		sb.WriteString(fmt.Sprintf("ytd_uptime_seconds %f\n\n", uptime))

		sb.WriteString("# HELP ytd_queue_length Items currently in the queue\n")
		sb.WriteString("# TYPE ytd_queue_length gauge\n")
		sb.WriteString(fmt.Sprintf("ytd_queue_length %d\n\n", atomic.LoadInt64(&m.queueLength)))

		sb.WriteString("# HELP ytd_active_downloads Downloads currently running\n")
		sb.WriteString("# TYPE ytd_active_downloads gauge\n")
		sb.WriteString(fmt.Sprintf("ytd_active_downloads %d\n\n", atomic.LoadInt64(&m.activeJobs)))

		sb.WriteString("# HELP ytd_websocket_connections_active Active WebSocket connections\n")
		sb.WriteString("# TYPE ytd_websocket_connections_active gauge\n")
		sb.WriteString(fmt.Sprintf("ytd_websocket_connections_active %d\n\n", atomic.LoadInt64(&m.wsConnections)))

		sb.WriteString("# HELP ytd_downloaded_bytes_total Bytes of completed downloads\n")
		sb.WriteString("# TYPE ytd_downloaded_bytes_total counter\n")
		sb.WriteString(fmt.Sprintf("ytd_downloaded_bytes_total %d\n\n", atomic.LoadUint64(&m.bytesTotal)))

		m.mu.RLock()
		if len(m.itemsByStatus) > 0 {
			sb.WriteString("# HELP ytd_downloads_total Finished downloads by outcome\n")
			sb.WriteString("# TYPE ytd_downloads_total counter\n")
			keys := make([]string, 0, len(m.itemsByStatus))
			for k := range m.itemsByStatus {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, status := range keys {
				count := atomic.LoadUint64(m.itemsByStatus[status])
				sb.WriteString(fmt.Sprintf("ytd_downloads_total{status=%q} %d\n", status, count))
			}
			sb.WriteString("\n")
		}

		if len(m.requestCount) > 0 {
			sb.WriteString("# HELP ytd_http_requests_total Total HTTP requests\n")
			sb.WriteString("# TYPE ytd_http_requests_total counter\n")
			keys := make([]string, 0, len(m.requestCount))
			for k := range m.requestCount {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) == 2 {
					count := atomic.LoadUint64(m.requestCount[key])
					sb.WriteString(fmt.Sprintf("ytd_http_requests_total{endpoint=%q,method=%q} %d\n", parts[0], parts[1], count))
				}
			}
			sb.WriteString("\n")
		}

		if len(m.requestDuration) > 0 {
			sb.WriteString("# HELP ytd_http_request_duration_seconds HTTP request latency\n")
			sb.WriteString("# TYPE ytd_http_request_duration_seconds histogram\n")
			keys := make([]string, 0, len(m.requestDuration))
			for k := range m.requestDuration {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) == 2 {
					h := m.requestDuration[key]
					h.mu.Lock()
					for i, bucket := range h.buckets {
						sb.WriteString(fmt.Sprintf("ytd_http_request_duration_seconds_bucket{endpoint=%q,method=%q,le=\"%g\"} %d\n", parts[0], parts[1], bucket, h.bucketVals[i]))
					}
					sb.WriteString(fmt.Sprintf("ytd_http_request_duration_seconds_bucket{endpoint=%q,method=%q,le=\"+Inf\"} %d\n", parts[0], parts[1], h.count))
					sb.WriteString(fmt.Sprintf("ytd_http_request_duration_seconds_sum{endpoint=%q,method=%q} %f\n", parts[0], parts[1], h.sum))
					sb.WriteString(fmt.Sprintf("ytd_http_request_duration_seconds_count{endpoint=%q,method=%q} %d\n", parts[0], parts[1], h.count))
					h.mu.Unlock()
				}
			}
			sb.WriteString("\n")
		}
		m.mu.RUnlock()

		w.Write([]byte(sb.String()))
	}
}

// Middleware creates middleware that records request metrics
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &statusResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			m.RecordRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
