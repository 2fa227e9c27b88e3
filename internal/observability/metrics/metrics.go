package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const namespace = "textrelay"

type requestKey struct {
	handler string
	method  string
	code    string
}

type routeKey struct {
	handler string
	method  string
}

type taskKey struct {
	kind   string
	status string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu sync.Mutex

	requests map[requestKey]uint64
	errors   map[routeKey]uint64
	latency  map[routeKey]*histogram

	submitted  map[string]uint64
	finished   map[taskKey]uint64
	processing map[string]*histogram
	streams    map[taskKey]uint64
	lostWrites uint64

	backend      string
	degraded     bool
	storeHealthy bool
}

var defaultCollector = newCollector()

func newCollector() *collector {
	c := &collector{}
	c.reset()
	return c
}

func (c *collector) reset() {
	c.requests = make(map[requestKey]uint64)
	c.errors = make(map[routeKey]uint64)
	c.latency = make(map[routeKey]*histogram)
	c.submitted = make(map[string]uint64)
	c.finished = make(map[taskKey]uint64)
	c.processing = make(map[string]*histogram)
	c.streams = make(map[taskKey]uint64)
	c.lostWrites = 0
	c.backend = ""
	c.degraded = false
	c.storeHealthy = true
}

// Reset 清空所有指标，仅用于测试。
func Reset() {
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()
	defaultCollector.reset()
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
	key := routeKey{handler: handler, method: method}
	if status >= 500 {
		c.errors[key]++
	}
	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram()
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

// TaskSubmitted 记录一次异步任务提交。
func TaskSubmitted(kind string) {
	c := defaultCollector
	c.mu.Lock()
	c.submitted[kind]++
	c.mu.Unlock()
}

// TaskFinished 记录一次任务进入终态及其处理耗时。
func TaskFinished(kind, status string, duration time.Duration) {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished[taskKey{kind: kind, status: status}]++
	hist := c.processing[kind]
	if hist == nil {
		hist = newHistogram()
		c.processing[kind] = hist
	}
	hist.observe(duration.Seconds())
}

// StreamFinished 记录一次流式请求的结束方式：done、error 或 abandoned。
func StreamFinished(kind, outcome string) {
	c := defaultCollector
	c.mu.Lock()
	c.streams[taskKey{kind: kind, status: outcome}]++
	c.mu.Unlock()
}

// TerminalWriteLost 记录一次终态写入失败。
func TerminalWriteLost() {
	c := defaultCollector
	c.mu.Lock()
	c.lostWrites++
	c.mu.Unlock()
}

// SetStoreBackend 记录当前使用的结果存储后端。
func SetStoreBackend(backend string, degraded bool) {
	c := defaultCollector
	c.mu.Lock()
	c.backend = backend
	c.degraded = degraded
	c.mu.Unlock()
}

// SetStoreHealthy 记录最近一次健康探测的结果。
func SetStoreHealthy(healthy bool) {
	c := defaultCollector
	c.mu.Lock()
	c.storeHealthy = healthy
	c.mu.Unlock()
}

// Snapshot 是部分指标的只读视图，供测试与诊断使用。
type Snapshot struct {
	Submitted    map[string]uint64
	Finished     map[string]uint64
	LostWrites   uint64
	Backend      string
	Degraded     bool
	StoreHealthy bool
}

// Current 返回当前指标快照。Finished 的键形如 "translate/completed"。
func Current() Snapshot {
	c := defaultCollector
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Submitted:    make(map[string]uint64, len(c.submitted)),
		Finished:     make(map[string]uint64, len(c.finished)),
		LostWrites:   c.lostWrites,
		Backend:      c.backend,
		Degraded:     c.degraded,
		StoreHealthy: c.storeHealthy,
	}
	for k, v := range c.submitted {
		snap.Submitted[k] = v
	}
	for k, v := range c.finished {
		snap.Finished[k.kind+"/"+k.status] = v
	}
	return snap
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

func (h *histogram) clone() *histogram {
	return &histogram{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
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

	header(&b, "http_requests_total", "counter", "Total number of HTTP requests processed.")
	for _, key := range sortedKeys(c.requests, func(a, b requestKey) bool {
		return a.handler+a.method+a.code < b.handler+b.method+b.code
	}) {
		fmt.Fprintf(&b, "%s_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			namespace, escape(key.handler), escape(key.method), escape(key.code), c.requests[key])
	}

	header(&b, "http_request_errors_total", "counter", "Total number of HTTP requests that resulted in a server error.")
	for _, key := range sortedKeys(c.errors, lessRoute) {
		fmt.Fprintf(&b, "%s_http_request_errors_total{handler=\"%s\",method=\"%s\"} %d\n",
			namespace, escape(key.handler), escape(key.method), c.errors[key])
	}

	header(&b, "http_request_duration_seconds", "histogram", "HTTP request duration in seconds.")
	for _, key := range sortedKeys(c.latency, lessRoute) {
		labels := fmt.Sprintf("handler=\"%s\",method=\"%s\"", escape(key.handler), escape(key.method))
		writeHistogram(&b, "http_request_duration_seconds", labels, c.latency[key].clone())
	}

	header(&b, "tasks_submitted_total", "counter", "Total number of asynchronous tasks submitted.")
	for _, kind := range sortedKeys(c.submitted, func(a, b string) bool { return a < b }) {
		fmt.Fprintf(&b, "%s_tasks_submitted_total{kind=\"%s\"} %d\n", namespace, escape(kind), c.submitted[kind])
	}

	header(&b, "tasks_finished_total", "counter", "Total number of tasks that reached a terminal status.")
	for _, key := range sortedKeys(c.finished, lessTask) {
		fmt.Fprintf(&b, "%s_tasks_finished_total{kind=\"%s\",status=\"%s\"} %d\n",
			namespace, escape(key.kind), escape(key.status), c.finished[key])
	}

	header(&b, "task_processing_seconds", "histogram", "Processor duration of asynchronous tasks in seconds.")
	for _, kind := range sortedKeys(c.processing, func(a, b string) bool { return a < b }) {
		writeHistogram(&b, "task_processing_seconds", fmt.Sprintf("kind=\"%s\"", escape(kind)), c.processing[kind].clone())
	}

	header(&b, "streams_total", "counter", "Total number of streaming requests by outcome.")
	for _, key := range sortedKeys(c.streams, lessTask) {
		fmt.Fprintf(&b, "%s_streams_total{kind=\"%s\",outcome=\"%s\"} %d\n",
			namespace, escape(key.kind), escape(key.status), c.streams[key])
	}

	header(&b, "terminal_writes_lost_total", "counter", "Terminal task writes that could not be persisted.")
	fmt.Fprintf(&b, "%s_terminal_writes_lost_total %d\n", namespace, c.lostWrites)

	header(&b, "store_degraded", "gauge", "Whether the result store fell back to the in-memory backend.")
	fmt.Fprintf(&b, "%s_store_degraded{backend=\"%s\"} %d\n", namespace, escape(c.backend), boolValue(c.degraded))

	header(&b, "store_healthy", "gauge", "Result of the latest result store health probe.")
	fmt.Fprintf(&b, "%s_store_healthy{backend=\"%s\"} %d\n", namespace, escape(c.backend), boolValue(c.storeHealthy))

	return b.String()
}

func header(b *strings.Builder, name, kind, help string) {
	fmt.Fprintf(b, "# HELP %s_%s %s\n", namespace, name, help)
	fmt.Fprintf(b, "# TYPE %s_%s %s\n", namespace, name, kind)
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	for idx, bound := range h.buckets {
		fmt.Fprintf(b, "%s_%s_bucket{%s,le=\"%s\"} %d\n", namespace, name, labels, formatFloat(bound), h.counts[idx])
	}
	fmt.Fprintf(b, "%s_%s_bucket{%s,le=\"+Inf\"} %d\n", namespace, name, labels, h.count)
	fmt.Fprintf(b, "%s_%s_sum{%s} %s\n", namespace, name, labels, formatFloat(h.sum))
	fmt.Fprintf(b, "%s_%s_count{%s} %d\n", namespace, name, labels, h.count)
}

func sortedKeys[K comparable, V any](m map[K]V, less func(a, b K) bool) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	return keys
}

func lessRoute(a, b routeKey) bool {
	if a.handler == b.handler {
		return a.method < b.method
	}
	return a.handler < b.handler
}

func lessTask(a, b taskKey) bool {
	if a.kind == b.kind {
		return a.status < b.status
	}
	return a.kind < b.kind
}

func boolValue(v bool) int {
	if v {
		return 1
	}
	return 0
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
