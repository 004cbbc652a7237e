package metrics

import "github.com/prometheus/client_golang/prometheus"

// IntakeMetrics exposes counters/histograms/gauges for the intake pipeline.
type IntakeMetrics struct {
	triageTotal      *prometheus.CounterVec
	classifyLatency  prometheus.Histogram
	assignmentsTotal *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec
	waitSeconds      prometheus.Histogram
	slaBreachTotal   prometheus.Counter
	sweepTotal       *prometheus.CounterVec
	windowTotal      *prometheus.CounterVec
}

func NewIntakeMetrics(reg prometheus.Registerer) *IntakeMetrics {
	m := &IntakeMetrics{
		triageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "triage",
			Name:      "outcomes_total",
			Help:      "Triage pipeline outcomes by terminal step",
		}, []string{"outcome"}),
		classifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "intake",
			Subsystem: "triage",
			Name:      "classify_latency_seconds",
			Help:      "Latency of AI classification calls",
			Buckets:   prometheus.DefBuckets,
		}),
		assignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "distribution",
			Name:      "assignments_total",
			Help:      "Assignment attempts by mode and result",
		}, []string{"mode", "result"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "intake",
			Subsystem: "waitqueue",
			Name:      "depth",
			Help:      "Unresolved entries per queue",
		}, []string{"queue"}),
		waitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "intake",
			Subsystem: "waitqueue",
			Name:      "wait_seconds",
			Help:      "Time entries spent waiting before assignment",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		slaBreachTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "waitqueue",
			Name:      "sla_breach_total",
			Help:      "Entries that exceeded the response SLA before assignment",
		}),
		sweepTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "sweeper",
			Name:      "actions_total",
			Help:      "Reconciliation sweeper actions by kind",
		}, []string{"kind"}),
		windowTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "window",
			Name:      "events_total",
			Help:      "Messaging window lifecycle events",
		}, []string{"event"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.triageTotal, m.classifyLatency, m.assignmentsTotal, m.queueDepth,
		m.waitSeconds, m.slaBreachTotal, m.sweepTotal, m.windowTotal,
	)
	return m
}

func (m *IntakeMetrics) ObserveTriage(outcome string) {
	if m == nil {
		return
	}
	m.triageTotal.WithLabelValues(outcome).Inc()
}

func (m *IntakeMetrics) ObserveClassifyLatency(seconds float64) {
	if m == nil {
		return
	}
	m.classifyLatency.Observe(seconds)
}

func (m *IntakeMetrics) ObserveAssignment(mode, result string) {
	if m == nil {
		return
	}
	m.assignmentsTotal.WithLabelValues(mode, result).Inc()
}

func (m *IntakeMetrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (m *IntakeMetrics) ObserveWait(seconds float64) {
	if m == nil {
		return
	}
	m.waitSeconds.Observe(seconds)
}

func (m *IntakeMetrics) ObserveSLABreach() {
	if m == nil {
		return
	}
	m.slaBreachTotal.Inc()
}

func (m *IntakeMetrics) ObserveSweep(kind string) {
	if m == nil {
		return
	}
	m.sweepTotal.WithLabelValues(kind).Inc()
}

func (m *IntakeMetrics) ObserveWindow(event string) {
	if m == nil {
		return
	}
	m.windowTotal.WithLabelValues(event).Inc()
}
