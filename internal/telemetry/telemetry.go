// Package telemetry records session counters for consumers and exports
// them as Prometheus metrics.
//
// Exposed metrics:
//   - quiz_items_served_total{source,pattern}
//   - quiz_items_discarded_total{reason}   (schema|geometry|duplicate)
//   - quiz_items_repaired_total{kind}      (renormalized|ambiguous)
//   - quiz_external_failures_total{operation}
//   - quiz_generation_issues_total
//   - quiz_pool_exhausted_total
//   - quiz_queue_depth{queue}
package telemetry

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"candle-quiz/internal/models"
	"candle-quiz/internal/store"
)

// StorageKey is where counters persist between runs.
const StorageKey = "ta:telemetry"

// Discard reasons.
const (
	ReasonSchema    = "schema"
	ReasonGeometry  = "geometry"
	ReasonDuplicate = "duplicate"
)

// Counters is the persisted telemetry snapshot.
type Counters struct {
	Served           int            `json:"served"`
	Discarded        int            `json:"discarded"`
	Duplicates       int            `json:"duplicates"`
	Renormalized     int            `json:"renormalized"`
	Ambiguous        int            `json:"ambiguous"`
	GenIssues        int            `json:"gen_issues"`
	ExternalFailures int            `json:"external_failures"`
	PoolExhausted    int            `json:"pool_exhausted"`
	BySource         map[string]int `json:"by_source"`
	ByPattern        map[string]int `json:"by_pattern"`
}

func (c Counters) clone() Counters {
	out := c
	out.BySource = make(map[string]int, len(c.BySource))
	for k, v := range c.BySource {
		out.BySource[k] = v
	}
	out.ByPattern = make(map[string]int, len(c.ByPattern))
	for k, v := range c.ByPattern {
		out.ByPattern[k] = v
	}
	return out
}

// Metrics holds the Prometheus collectors.
type Metrics struct {
	served        *prometheus.CounterVec
	discarded     *prometheus.CounterVec
	repaired      *prometheus.CounterVec
	external      *prometheus.CounterVec
	genIssues     prometheus.Counter
	poolExhausted prometheus.Counter
	queueDepth    *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		served: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "quiz_items_served_total", Help: "Items handed to the consumer"},
			[]string{"source", "pattern"},
		),
		discarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "quiz_items_discarded_total", Help: "Candidates dropped during ingestion"},
			[]string{"reason"},
		),
		repaired: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "quiz_items_repaired_total", Help: "Accepted items that needed a repair"},
			[]string{"kind"},
		),
		external: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "quiz_external_failures_total", Help: "Failed external generator calls"},
			[]string{"operation"},
		),
		genIssues: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "quiz_generation_issues_total", Help: "External payloads that were not valid JSON"},
		),
		poolExhausted: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "quiz_pool_exhausted_total", Help: "Deterministic rotation found no unused variant"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "quiz_queue_depth", Help: "Pending items per queue"},
			[]string{"queue"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.served, m.discarded, m.repaired, m.external, m.genIssues, m.poolExhausted, m.queueDepth)
	}
	return m
}

// Recorder updates counters, persists them and mirrors them to metrics.
type Recorder struct {
	mu       sync.Mutex
	kv       store.KV
	metrics  *Metrics
	counters Counters
}

// NewRecorder loads persisted counters from kv. kv and metrics may be nil.
func NewRecorder(ctx context.Context, kv store.KV, metrics *Metrics) *Recorder {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	r := &Recorder{kv: kv, metrics: metrics}
	if kv != nil {
		store.ReadJSON(ctx, kv, StorageKey, &r.counters)
	}
	if r.counters.BySource == nil {
		r.counters.BySource = make(map[string]int)
	}
	if r.counters.ByPattern == nil {
		r.counters.ByPattern = make(map[string]int)
	}
	return r
}

// Served records an item handed to the consumer.
func (r *Recorder) Served(ctx context.Context, item models.Item) {
	r.update(ctx, func(c *Counters) {
		c.Served++
		c.BySource[string(item.Source)]++
		if item.PatternHint != "" {
			c.ByPattern[item.PatternHint]++
		}
	})
	r.metrics.served.WithLabelValues(string(item.Source), item.PatternHint).Inc()
}

// Discarded records a candidate rejected for reason.
func (r *Recorder) Discarded(ctx context.Context, reason string) {
	r.update(ctx, func(c *Counters) {
		if reason == ReasonDuplicate {
			c.Duplicates++
		} else {
			c.Discarded++
		}
	})
	r.metrics.discarded.WithLabelValues(reason).Inc()
}

// Repaired records recoveries applied to an accepted item.
func (r *Recorder) Repaired(ctx context.Context, renormalized, ambiguous bool) {
	if !renormalized && !ambiguous {
		return
	}
	r.update(ctx, func(c *Counters) {
		if renormalized {
			c.Renormalized++
		}
		if ambiguous {
			c.Ambiguous++
		}
	})
	if renormalized {
		r.metrics.repaired.WithLabelValues("renormalized").Inc()
	}
	if ambiguous {
		r.metrics.repaired.WithLabelValues("ambiguous").Inc()
	}
}

// GenIssue records an unparseable external payload.
func (r *Recorder) GenIssue(ctx context.Context) {
	r.update(ctx, func(c *Counters) { c.GenIssues++ })
	r.metrics.genIssues.Inc()
}

// ExternalFailure records a failed external call.
func (r *Recorder) ExternalFailure(ctx context.Context, operation string) {
	r.update(ctx, func(c *Counters) { c.ExternalFailures++ })
	r.metrics.external.WithLabelValues(operation).Inc()
}

// PoolExhausted records a rotation miss.
func (r *Recorder) PoolExhausted(ctx context.Context) {
	r.update(ctx, func(c *Counters) { c.PoolExhausted++ })
	r.metrics.poolExhausted.Inc()
}

// QueueDepth publishes current queue sizes. Not persisted.
func (r *Recorder) QueueDepth(external, local int) {
	r.metrics.queueDepth.WithLabelValues(string(models.SourceExternal)).Set(float64(external))
	r.metrics.queueDepth.WithLabelValues(string(models.SourceLocal)).Set(float64(local))
}

// Snapshot returns a copy of the counters.
func (r *Recorder) Snapshot() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters.clone()
}

func (r *Recorder) update(ctx context.Context, fn func(c *Counters)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.counters)
	if r.kv != nil {
		store.WriteJSON(ctx, r.kv, StorageKey, r.counters)
	}
}
