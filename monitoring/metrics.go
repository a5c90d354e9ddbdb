package monitoring

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"portview/capture"
)

// StatusSource is the scheduler as seen by monitoring
type StatusSource interface {
	Stats() capture.SchedulerStats
	PortStatuses() []capture.PortStatus
}

// SchedulerCollector exports scheduler and port state at scrape time
type SchedulerCollector struct {
	source StatusSource

	ticks       *prometheus.Desc
	lines       *prometheus.Desc
	bytes       *prometheus.Desc
	chunks      *prometheus.Desc
	writeErrors *prometheus.Desc
	commands    *prometheus.Desc
	panics      *prometheus.Desc
	portBound   *prometheus.Desc
	portMode    *prometheus.Desc
	portBinds   *prometheus.Desc
	portFails   *prometheus.Desc
}

func NewSchedulerCollector(source StatusSource) *SchedulerCollector {
	portLabels := []string{"port"}
	return &SchedulerCollector{
		source: source,
		ticks: prometheus.NewDesc(
			"portview_ticks_total",
			"Number of completed scheduler ticks",
			nil, nil,
		),
		lines: prometheus.NewDesc(
			"portview_lines_total",
			"Number of telemetry lines sent",
			nil, nil,
		),
		bytes: prometheus.NewDesc(
			"portview_link_bytes_total",
			"Number of framed bytes written to the host link",
			nil, nil,
		),
		chunks: prometheus.NewDesc(
			"portview_link_chunks_total",
			"Number of link writes",
			nil, nil,
		),
		writeErrors: prometheus.NewDesc(
			"portview_link_write_errors_total",
			"Number of ticks whose link write failed",
			nil, nil,
		),
		commands: prometheus.NewDesc(
			"portview_commands_total",
			"Number of inbound commands accepted",
			nil, nil,
		),
		panics: prometheus.NewDesc(
			"portview_task_panics_total",
			"Number of recovered task panics",
			nil, nil,
		),
		portBound: prometheus.NewDesc(
			"portview_port_bound",
			"1 when a device is bound to the port",
			[]string{"port", "type_id", "category"}, nil,
		),
		portMode: prometheus.NewDesc(
			"portview_port_mode",
			"Selected telemetry mode of the port",
			portLabels, nil,
		),
		portBinds: prometheus.NewDesc(
			"portview_port_binds_total",
			"Number of device bindings on the port",
			portLabels, nil,
		),
		portFails: prometheus.NewDesc(
			"portview_port_failures_total",
			"Number of bindings dropped after a device failure",
			portLabels, nil,
		),
	}
}

func (c *SchedulerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ticks
	ch <- c.lines
	ch <- c.bytes
	ch <- c.chunks
	ch <- c.writeErrors
	ch <- c.commands
	ch <- c.panics
	ch <- c.portBound
	ch <- c.portMode
	ch <- c.portBinds
	ch <- c.portFails
}

func (c *SchedulerCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.ticks, stats.Ticks)
	counter(c.lines, stats.Lines)
	counter(c.bytes, stats.Bytes)
	counter(c.chunks, stats.Chunks)
	counter(c.writeErrors, stats.WriteErrors)
	counter(c.commands, stats.Commands)
	counter(c.panics, stats.Panics)

	for _, p := range c.source.PortStatuses() {
		bound := 0.0
		typeID, category := "", ""
		if p.State == capture.StateBound.String() {
			bound = 1
			typeID = strconv.Itoa(p.TypeID)
			category = p.Category
		}
		ch <- prometheus.MustNewConstMetric(
			c.portBound, prometheus.GaugeValue, bound,
			p.Port, typeID, category,
		)
		ch <- prometheus.MustNewConstMetric(
			c.portMode, prometheus.GaugeValue, float64(p.Mode),
			p.Port,
		)
		ch <- prometheus.MustNewConstMetric(
			c.portBinds, prometheus.CounterValue, float64(p.Binds),
			p.Port,
		)
		ch <- prometheus.MustNewConstMetric(
			c.portFails, prometheus.CounterValue, float64(p.Failures),
			p.Port,
		)
	}
}

// Metrics owns the registry served on /metrics
type Metrics struct {
	registry     *prometheus.Registry
	tickDuration prometheus.Histogram
	tickBytes    prometheus.Histogram
	portEvents   *prometheus.CounterVec
}

// NewMetrics registers the scheduler collector and the tick instruments
func NewMetrics(source StatusSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "portview_tick_duration_seconds",
			Help:    "Time spent polling, framing and writing one tick",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		tickBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "portview_tick_bytes",
			Help:    "Framed bytes per tick",
			Buckets: prometheus.ExponentialBuckets(19, 2, 8),
		}),
		portEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portview_port_events_total",
			Help: "Device attach and detach events per port",
		}, []string{"port", "event"}),
	}

	m.registry.MustRegister(
		NewSchedulerCollector(source),
		m.tickDuration,
		m.tickBytes,
		m.portEvents,
	)
	return m
}

// TickDone implements capture.Observer
func (m *Metrics) TickDone(report capture.TickReport) {
	m.tickDuration.Observe(report.Duration.Seconds())
	m.tickBytes.Observe(float64(report.Bytes))
}

// PortEvent counts a binding change; it has the capture.PortEventCallback
// signature.
func (m *Metrics) PortEvent(e capture.PortEvent) {
	m.portEvents.WithLabelValues(e.Port.Label, e.Type.String()).Inc()
}

// SetLinkConnected exports the link state as portview_link_connected
func (m *Metrics) SetLinkConnected(fn func() bool) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "portview_link_connected",
		Help: "1 while the host link is open, 0 while it is being reopened",
	}, func() float64 {
		if fn() {
			return 1
		}
		return 0
	}))
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
