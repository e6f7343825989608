package store

// metrics.go contains a thin abstraction over Prometheus so that the store
// can be used with or without metrics.  When the user passes a
// *prometheus.Registry via WithMetrics(reg), we register labeled collectors;
// otherwise a no-op sink is used and the hot path does not pay for metric
// updates.
//
// Two collectors are registered:
//   • offheap_operations_total{op,outcome} – per-operation outcome counter.
//   • the stats collector – one gauge per Stats field, scraped on demand so
//     the store never pushes gauge updates from locked sections.
//
// © 2025 ehcache3 authors. MIT License.

import "github.com/prometheus/client_golang/prometheus"

// metricsSink is an internal interface abstracting away the concrete backend
// (Prometheus vs noop).  It is *not* exposed outside the package; the store
// only knows about the generic methods here.
type metricsSink interface {
    observe(op, outcome string)
}

/*
   ---------------- No-op implementation ----------------
*/

type noopMetrics struct{}

func (noopMetrics) observe(string, string) {}

/*
   ---------------- Prometheus implementation ----------------
*/

type promMetrics struct {
    outcomes *prometheus.CounterVec
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
    pm := &promMetrics{
        outcomes: prometheus.NewCounterVec(
            prometheus.CounterOpts{
                Namespace: "offheap",
                Name:      "operations_total",
                Help:      "Store operations by outcome.",
            }, []string{"op", "outcome"}),
    }
    reg.MustRegister(pm.outcomes)
    return pm
}

func (m *promMetrics) observe(op, outcome string) {
    m.outcomes.WithLabelValues(op, outcome).Inc()
}

/*
   ---------------- Stats collector ----------------
*/

type statsCollector struct {
    stats func() Stats
    descs map[string]*prometheus.Desc
}

var statsGauges = []string{
    "allocated_memory_bytes",
    "occupied_memory_bytes",
    "data_allocated_memory_bytes",
    "data_occupied_memory_bytes",
    "data_size_bytes",
    "vital_memory_bytes",
    "data_vital_memory_bytes",
    "long_size",
    "used_slot_count",
    "removed_slot_count",
    "reprobe_length",
    "table_capacity",
}

func newStatsCollector(stats func() Stats) *statsCollector {
    c := &statsCollector{stats: stats, descs: make(map[string]*prometheus.Desc, len(statsGauges))}
    for _, name := range statsGauges {
        c.descs[name] = prometheus.NewDesc("offheap_"+name, "Off-heap store counter "+name+".", nil, nil)
    }
    return c
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
    for _, d := range c.descs {
        ch <- d
    }
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
    st := c.stats()
    emit := func(name string, v int64) {
        ch <- prometheus.MustNewConstMetric(c.descs[name], prometheus.GaugeValue, float64(v))
    }
    emit("allocated_memory_bytes", st.AllocatedMemory)
    emit("occupied_memory_bytes", st.OccupiedMemory)
    emit("data_allocated_memory_bytes", st.DataAllocatedMemory)
    emit("data_occupied_memory_bytes", st.DataOccupiedMemory)
    emit("data_size_bytes", st.DataSize)
    emit("vital_memory_bytes", st.VitalMemory)
    emit("data_vital_memory_bytes", st.DataVitalMemory)
    emit("long_size", st.LongSize)
    emit("used_slot_count", st.UsedSlotCount)
    emit("removed_slot_count", st.RemovedSlotCount)
    emit("reprobe_length", st.ReprobeLength)
    emit("table_capacity", st.TableCapacity)
}

/*
   ---------------- Factory ----------------
*/

// newMetricsSink decides which implementation to use and registers the stats
// collector alongside the outcome counters when metrics are enabled.
func newMetricsSink(reg *prometheus.Registry, stats func() Stats) metricsSink {
    if reg == nil {
        return noopMetrics{}
    }
    reg.MustRegister(newStatsCollector(stats))
    return newPromMetrics(reg)
}
