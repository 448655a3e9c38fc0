// Package metrics maintains a rolling window of recent dispatch outcomes
// for the in-process aggregates endpoint, and mirrors the same events
// into Prometheus counters/histograms for external scraping.
package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Record is one completed dispatch's observability data.
type Record struct {
	TTFTMs       float64
	TotalMs      float64
	QueueWaitMs  float64
	Provider     string
	Model        string
	Status       int
	ErrorKind    string
	CoalesceRole string
	Retries      int
}

// windowSize is the rolling-window capacity backing the aggregate
// percentiles; older records are overwritten once it fills.
const windowSize = 1000

// ring is a fixed-capacity circular buffer of Records.
type ring struct {
	mu    sync.RWMutex
	items []Record
	head  int
	full  bool
}

func newRing(size int) *ring {
	if size <= 0 {
		size = windowSize
	}
	return &ring{items: make([]Record, size)}
}

func (r *ring) push(rec Record) {
	r.mu.Lock()
	r.items[r.head] = rec
	r.head = (r.head + 1) % len(r.items)
	if r.head == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

func (r *ring) snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.full {
		out := make([]Record, r.head)
		copy(out, r.items[:r.head])
		return out
	}
	out := make([]Record, len(r.items))
	copy(out, r.items[r.head:])
	copy(out[len(r.items)-r.head:], r.items[:r.head])
	return out
}

// Collector is the process-wide metrics sink: every dispatch reports
// exactly one Record to it on completion.
type Collector struct {
	window *ring

	requestsTotal  *prometheus.CounterVec
	ttftHistogram  *prometheus.HistogramVec
	totalHistogram *prometheus.HistogramVec
	queueHistogram *prometheus.HistogramVec
	coalesceTotal  *prometheus.CounterVec
}

// NewCollector builds a Collector and registers its Prometheus metrics
// against reg. gateway.NewServer passes each Server its own
// prometheus.NewRegistry(), as the tests do, so instances never collide.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		window: newRing(windowSize),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total completed dispatches by provider, model, and status.",
		}, []string{"provider", "model", "status", "error_kind"}),
		ttftHistogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_ttft_milliseconds",
			Help:    "Time to first token, in milliseconds.",
			Buckets: []float64{50, 100, 200, 400, 800, 1600, 3200, 6400},
		}, []string{"provider", "model"}),
		totalHistogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_total_milliseconds",
			Help:    "Total dispatch duration, in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 20000},
		}, []string{"provider", "model"}),
		queueHistogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_queue_wait_milliseconds",
			Help:    "Time spent waiting on pacer admission, in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"provider"}),
		coalesceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_coalesce_role_total",
			Help: "Dispatches by coalescer role (leader/follower).",
		}, []string{"role"}),
	}
	reg.MustRegister(c.requestsTotal, c.ttftHistogram, c.totalHistogram, c.queueHistogram, c.coalesceTotal)
	return c
}

// Record stores one completed dispatch in the rolling window and updates
// the corresponding Prometheus series.
func (c *Collector) Record(rec Record) {
	c.window.push(rec)

	status := statusBucket(rec.Status)
	c.requestsTotal.WithLabelValues(rec.Provider, rec.Model, status, rec.ErrorKind).Inc()
	c.ttftHistogram.WithLabelValues(rec.Provider, rec.Model).Observe(rec.TTFTMs)
	c.totalHistogram.WithLabelValues(rec.Provider, rec.Model).Observe(rec.TotalMs)
	c.queueHistogram.WithLabelValues(rec.Provider).Observe(rec.QueueWaitMs)
	if rec.CoalesceRole != "" {
		c.coalesceTotal.WithLabelValues(rec.CoalesceRole).Inc()
	}
}

func statusBucket(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// Aggregates is the point-in-time summary exposed over the aggregates
// endpoint.
type Aggregates struct {
	TTFTMs      Stat               `json:"ttft_ms"`
	TotalMs     PercentileStat     `json:"total_ms"`
	QueueWaitMs PercentileStat     `json:"queue_wait_ms"`
	ErrorRate   float64            `json:"error_rate"`
	Coalesce    CoalesceAggregates `json:"coalesce"`
	WindowSize  int                `json:"window_size"`
}

// Stat is a full percentile + extrema + count summary.
type Stat struct {
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// PercentileStat is a p50/p95/p99-only summary.
type PercentileStat struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// CoalesceAggregates reports how many completed dispatches were leaders
// versus followers over the current window.
type CoalesceAggregates struct {
	Leaders   int `json:"leaders"`
	Followers int `json:"followers"`
}

// Snapshot computes Aggregates over the current rolling window.
func (c *Collector) Snapshot() Aggregates {
	records := c.window.snapshot()
	if len(records) == 0 {
		return Aggregates{}
	}

	ttft := make([]float64, 0, len(records))
	total := make([]float64, 0, len(records))
	queue := make([]float64, 0, len(records))
	var errCount, leaders, followers int

	for _, r := range records {
		ttft = append(ttft, r.TTFTMs)
		total = append(total, r.TotalMs)
		queue = append(queue, r.QueueWaitMs)
		if r.Status >= 400 {
			errCount++
		}
		switch r.CoalesceRole {
		case "leader":
			leaders++
		case "follower":
			followers++
		}
	}

	sort.Float64s(ttft)
	sort.Float64s(total)
	sort.Float64s(queue)

	return Aggregates{
		TTFTMs: Stat{
			P50:   percentile(ttft, 0.50),
			P95:   percentile(ttft, 0.95),
			P99:   percentile(ttft, 0.99),
			Min:   ttft[0],
			Max:   ttft[len(ttft)-1],
			Count: len(ttft),
		},
		TotalMs: PercentileStat{
			P50: percentile(total, 0.50),
			P95: percentile(total, 0.95),
			P99: percentile(total, 0.99),
		},
		QueueWaitMs: PercentileStat{
			P50: percentile(queue, 0.50),
			P95: percentile(queue, 0.95),
			P99: percentile(queue, 0.99),
		},
		ErrorRate:  float64(errCount) / float64(len(records)),
		Coalesce:   CoalesceAggregates{Leaders: leaders, Followers: followers},
		WindowSize: len(records),
	}
}

// percentile returns the p-th percentile (0..1) of a pre-sorted slice: the
// element at index floor(p*(n-1)), with no interpolation.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// alertThresholds are the fixed operational trigger points the
// aggregates endpoint's consumers (dashboards, alerting) compare
// against; the collector itself only reports data, it never pages
// anyone. Matches are momentary (not the required sustained-duration
// window); a caller polling this repeatedly is responsible for that.
var alertThresholds = struct {
	TTFTP95Ms      float64
	ErrorRate      float64
	QueueWaitP95Ms float64
}{TTFTP95Ms: 1500, ErrorRate: 0.01, QueueWaitP95Ms: 1000}

// Unhealthy reports whether the current window's aggregates cross the
// fixed alert thresholds.
func (a Aggregates) Unhealthy() bool {
	return a.TTFTMs.P95 > alertThresholds.TTFTP95Ms ||
		a.ErrorRate > alertThresholds.ErrorRate ||
		a.QueueWaitMs.P95 > alertThresholds.QueueWaitP95Ms
}
