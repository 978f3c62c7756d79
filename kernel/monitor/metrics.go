package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nashif/zephyr-sub001/kernel/micro"
)

const namespace = "mkernel"

// Metrics exposes kernel counters to Prometheus. It is also a monitor:
// trace records are counted by kind.
type Metrics struct {
	registry *prometheus.Registry
	trace    *prometheus.CounterVec
	commands *prometheus.CounterVec
	sessions prometheus.Gauge
}

// NewMetrics registers collectors reading k.Stats on every scrape.
func NewMetrics(k *micro.Kernel) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		trace: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_records_total",
			Help:      "Trace records emitted by the command server, by kind.",
		}, []string{"kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_commands_total",
			Help:      "Command records received from monitor sessions, by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_sessions",
			Help:      "Open monitor sessions.",
		}),
	}

	counter := func(name, help string, read func(micro.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(k.Stats())) })
	}

	m.registry.MustRegister(
		m.trace,
		m.commands,
		m.sessions,
		counter("ticks_total", "System ticks announced.", func(s micro.Stats) uint64 { return s.Ticks }),
		counter("idle_ticks_total", "Ticks spent with the idle task current.", func(s micro.Stats) uint64 { return s.IdleTicks }),
		counter("context_switches_total", "Changes of the current task.", func(s micro.Stats) uint64 { return s.ContextSwitches }),
		counter("dispatched_total", "Command queue entries dispatched.", func(s micro.Stats) uint64 { return s.Dispatched }),
		counter("timeouts_total", "Blocking calls that timed out.", func(s micro.Stats) uint64 { return s.Timeouts }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "command_queue_depth",
			Help:      "Entries waiting in the command queue.",
		}, func() float64 { return float64(k.Stats().Queue.Depth) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "command_queue_high_watermark",
			Help:      "Deepest the command queue has been.",
		}, func() float64 { return float64(k.Stats().Queue.MaxDepth) }),
	)
	return m
}

// Observe implements micro.Monitor.
func (m *Metrics) Observe(ev micro.TraceEvent) {
	m.trace.WithLabelValues(ev.Kind.String()).Inc()
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) commandOutcome(outcome string) {
	m.commands.WithLabelValues(outcome).Inc()
}
