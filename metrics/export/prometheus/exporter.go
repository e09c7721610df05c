package prometheus

import (
	"context"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storefront/sessionguard"
	"github.com/storefront/sessionguard/metrics/export/internaldefs"
)

// Source is what the collector reads on every scrape. *sessionguard.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() sessionguard.MetricsSnapshot
	AuditDropped() uint64
	Health(ctx context.Context) sessionguard.HealthStatus
}

// DefaultHealthTimeout bounds the store ping made during one scrape.
const DefaultHealthTimeout = 2 * time.Second

// Collector exposes engine counters, latency histograms and store health
// as a prometheus.Collector.
type Collector struct {
	source        Source
	healthTimeout time.Duration

	counters     map[sessionguard.MetricID]*promclient.Desc
	histograms   map[sessionguard.MetricID]*promclient.Desc
	auditDropped *promclient.Desc
	redisUp      *promclient.Desc
	redisLatency *promclient.Desc
}

func NewCollector(source Source) *Collector {
	c := &Collector{
		source:        source,
		healthTimeout: DefaultHealthTimeout,
		counters:      make(map[sessionguard.MetricID]*promclient.Desc, len(internaldefs.CounterDefs)),
		histograms:    make(map[sessionguard.MetricID]*promclient.Desc, len(internaldefs.HistogramDefs)),
		auditDropped: promclient.NewDesc(internaldefs.AuditDroppedName,
			"Audit events that never reached the sink.", nil, nil),
		redisUp: promclient.NewDesc(internaldefs.RedisUpName,
			"Whether the session store answered a ping.", nil, nil),
		redisLatency: promclient.NewDesc(internaldefs.RedisLatencyName,
			"Latency of the last store ping.", nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters[def.ID] = promclient.NewDesc(def.Name, def.Help, nil, nil)
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms[def.ID] = promclient.NewDesc(def.Name, def.Help, nil, nil)
	}
	return c
}

func (c *Collector) Describe(ch chan<- *promclient.Desc) {
	for _, def := range internaldefs.CounterDefs {
		ch <- c.counters[def.ID]
	}
	for _, def := range internaldefs.HistogramDefs {
		ch <- c.histograms[def.ID]
	}
	ch <- c.auditDropped
	ch <- c.redisUp
	ch <- c.redisLatency
}

// Collect takes one snapshot per scrape. Counters are skipped when the
// engine runs with metrics disabled; the store gauges are always sent.
func (c *Collector) Collect(ch chan<- promclient.Metric) {
	snapshot := c.source.MetricsSnapshot()

	if len(snapshot.Counters) > 0 {
		for _, def := range internaldefs.CounterDefs {
			ch <- promclient.MustNewConstMetric(c.counters[def.ID], promclient.CounterValue, float64(snapshot.Counters[def.ID]))
		}
		ch <- promclient.MustNewConstMetric(c.auditDropped, promclient.CounterValue, float64(c.source.AuditDropped()))
	}

	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for i, le := range internaldefs.HistogramUpperBounds {
			buckets[le] = cumulative[i]
		}
		// The engine keeps bucket counts only, so the sum is unknown.
		ch <- promclient.MustNewConstHistogram(c.histograms[def.ID], cumulative[len(cumulative)-1], 0, buckets)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.healthTimeout)
	defer cancel()
	health := c.source.Health(ctx)

	up := 0.0
	if health.RedisAvailable {
		up = 1
	}
	ch <- promclient.MustNewConstMetric(c.redisUp, promclient.GaugeValue, up)
	ch <- promclient.MustNewConstMetric(c.redisLatency, promclient.GaugeValue, health.RedisLatency.Seconds())
}

// Exporter owns a private registry holding one Collector.
type Exporter struct {
	registry *promclient.Registry
	handler  http.Handler
}

// NewExporter registers a Collector for source on a fresh registry. The
// global default registry is never touched.
func NewExporter(source Source) *Exporter {
	reg := promclient.NewRegistry()
	reg.MustRegister(NewCollector(source))
	return &Exporter{
		registry: reg,
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}

// Registry returns the exporter's registry so callers can add their own
// collectors next to the engine's.
func (p *Exporter) Registry() *promclient.Registry {
	return p.registry
}

// Handler serves the exposition on GET and HEAD.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.handler.ServeHTTP(w, r)
	})
}
