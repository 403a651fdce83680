package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type latencyKey struct {
	handler string
	method  string
}

type mintKey struct {
	action string
	status string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu          sync.Mutex
	requests    map[requestKey]uint64
	latency     map[latencyKey]*histogram
	mints       map[mintKey]uint64
	mintLatency map[string]*histogram
}

func newCollector() *collector {
	return &collector{
		requests:    make(map[requestKey]uint64),
		latency:     make(map[latencyKey]*histogram),
		mints:       make(map[mintKey]uint64),
		mintLatency: make(map[string]*histogram),
	}
}

var defaultCollector = newCollector()

var (
	httpBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	// Confirmation waits are measured in block times, not request times.
	mintBuckets = []float64{1, 2, 5, 10, 30, 60, 120, 300}
)

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultCollector.observeRequest(handler, method, status, duration)
}

// ObserveMint records the outcome of one mint attempt.
func ObserveMint(action, status string, duration time.Duration) {
	defaultCollector.observeMint(action, status, duration)
}

func (c *collector) observeRequest(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++

	key := latencyKey{handler: handler, method: method}
	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram(httpBuckets)
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

func (c *collector) observeMint(action, status string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mints[mintKey{action: action, status: status}]++

	hist := c.mintLatency[action]
	if hist == nil {
		hist = newHistogram(mintBuckets)
		c.mintLatency[action] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{buckets: buckets, counts: make([]uint64, len(buckets))}
}

// observe increments every cumulative bucket whose bound covers value. Values
// above the last bound only show up in the +Inf bucket, which is count.
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			h.counts[idx]++
		}
	}
}

// Middleware wraps next so every request is observed under the handler label.
func Middleware(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		ObserveHTTPRequest(handler, r.Method, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(2048)

	b.WriteString("# HELP pretzel_http_requests_total Total number of HTTP requests processed.\n")
	b.WriteString("# TYPE pretzel_http_requests_total counter\n")
	reqKeys := make([]requestKey, 0, len(c.requests))
	for key := range c.requests {
		reqKeys = append(reqKeys, key)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		a, z := reqKeys[i], reqKeys[j]
		if a.handler != z.handler {
			return a.handler < z.handler
		}
		if a.method != z.method {
			return a.method < z.method
		}
		return a.code < z.code
	})
	for _, key := range reqKeys {
		fmt.Fprintf(&b, "pretzel_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(key.handler), escape(key.method), key.code, c.requests[key])
	}

	b.WriteString("# HELP pretzel_http_request_duration_seconds HTTP request duration in seconds.\n")
	b.WriteString("# TYPE pretzel_http_request_duration_seconds histogram\n")
	latKeys := make([]latencyKey, 0, len(c.latency))
	for key := range c.latency {
		latKeys = append(latKeys, key)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].handler != latKeys[j].handler {
			return latKeys[i].handler < latKeys[j].handler
		}
		return latKeys[i].method < latKeys[j].method
	})
	for _, key := range latKeys {
		labels := fmt.Sprintf("handler=\"%s\",method=\"%s\"", escape(key.handler), escape(key.method))
		writeHistogram(&b, "pretzel_http_request_duration_seconds", labels, c.latency[key])
	}

	b.WriteString("# HELP pretzel_mint_attempts_total Mint attempts by action and outcome.\n")
	b.WriteString("# TYPE pretzel_mint_attempts_total counter\n")
	mintKeys := make([]mintKey, 0, len(c.mints))
	for key := range c.mints {
		mintKeys = append(mintKeys, key)
	}
	sort.Slice(mintKeys, func(i, j int) bool {
		if mintKeys[i].action != mintKeys[j].action {
			return mintKeys[i].action < mintKeys[j].action
		}
		return mintKeys[i].status < mintKeys[j].status
	})
	for _, key := range mintKeys {
		fmt.Fprintf(&b, "pretzel_mint_attempts_total{action=\"%s\",status=\"%s\"} %d\n",
			escape(key.action), escape(key.status), c.mints[key])
	}

	b.WriteString("# HELP pretzel_mint_duration_seconds Time from submission to confirmation or failure.\n")
	b.WriteString("# TYPE pretzel_mint_duration_seconds histogram\n")
	actions := make([]string, 0, len(c.mintLatency))
	for action := range c.mintLatency {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	for _, action := range actions {
		writeHistogram(&b, "pretzel_mint_duration_seconds", fmt.Sprintf("action=\"%s\"", escape(action)), c.mintLatency[action])
	}

	return b.String()
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	for idx, bound := range h.buckets {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%s\"} %d\n", name, labels, formatFloat(bound), h.counts[idx])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.count)
	fmt.Fprintf(b, "%s_sum{%s} %s\n", name, labels, formatFloat(h.sum))
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.count)
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return strings.ReplaceAll(value, "\n", "")
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
