package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

const namespace = "mirador_remediation"

var (
	plansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Remediation plans that finished execution, partitioned by final status and risk.",
		},
		[]string{"status", "risk"},
	)

	planDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_seconds",
			Help:      "Remediation plan execution latency in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Remediation steps executed, partitioned by type, final status and rollback flag.",
		},
		[]string{"type", "status", "rollback"},
	)

	stepAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_attempts",
			Help:      "Attempts used per remediation step.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		},
	)

	rollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rollbacks triggered, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Strategy analyses performed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Outcome labels for analyses and rollbacks.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Register attaches mirador-remediation collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		plansTotal,
		planDurationSeconds,
		stepsTotal,
		stepAttempts,
		rollbacksTotal,
		analysesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis counts one analysis by outcome.
func ObserveAnalysis(valid bool) {
	label := OutcomeSuccess
	if !valid {
		label = OutcomeError
	}
	analysesTotal.WithLabelValues(label).Inc()
}

// Collector records executor metrics into Prometheus. Ad-hoc metrics passed to RecordMetric
// become gauges created on first use and registered with reg.
type Collector struct {
	reg prometheus.Registerer

	mu     sync.Mutex
	gauges map[string]*prometheus.GaugeVec
}

// NewCollector returns a Collector. reg may be nil, in which case ad-hoc gauges stay
// unregistered but still accept observations.
func NewCollector(reg prometheus.Registerer) *Collector {
	return &Collector{reg: reg, gauges: make(map[string]*prometheus.GaugeVec)}
}

// RecordMetric sets a named gauge. The label set of a name is fixed by its first use.
func (c *Collector) RecordMetric(name string, value float64, labels map[string]string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("metric name is required")
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c.mu.Lock()
	gauge, ok := c.gauges[name]
	if !ok {
		gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      "Ad-hoc remediation metric " + name + ".",
		}, keys)
		if c.reg != nil {
			if err := c.reg.Register(gauge); err != nil {
				c.mu.Unlock()
				return fmt.Errorf("register metric %s: %w", name, err)
			}
		}
		c.gauges[name] = gauge
	}
	c.mu.Unlock()

	g, err := gauge.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return fmt.Errorf("metric %s: %w", name, err)
	}
	g.Set(value)
	return nil
}

// RecordStepMetrics counts a finished step.
func (c *Collector) RecordStepMetrics(m models.StepMetrics) error {
	stepType := string(m.StepType)
	if stepType == "" {
		stepType = string(models.StepExecution)
	}
	stepsTotal.WithLabelValues(stepType, string(m.Status), fmt.Sprintf("%t", m.Rollback)).Inc()
	if m.Attempts > 0 {
		stepAttempts.Observe(float64(m.Attempts))
	}
	return nil
}

// RecordRemediationMetrics counts a finished plan and its rollback, if any.
func (c *Collector) RecordRemediationMetrics(m models.RemediationMetrics) error {
	plansTotal.WithLabelValues(string(m.Status), m.Risk.String()).Inc()
	duration := m.Duration
	if duration < 0 {
		duration = 0
	}
	planDurationSeconds.Observe(duration.Seconds())
	if m.RollbackStarted {
		outcome := OutcomeSuccess
		if m.RollbackFailed > 0 {
			outcome = OutcomeError
		}
		rollbacksTotal.WithLabelValues(outcome).Inc()
	}
	return nil
}
