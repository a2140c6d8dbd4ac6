package tracing

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsCollector collects Prometheus-compatible metrics for the
// orchestration control plane: active runners, pending tasks, open
// credit-exhaustion incidents, and wakeup sweep duration.
type MetricsCollector struct {
	meter metric.Meter

	// Counters
	tasksAdvancedTotal metric.Int64Counter
	creditIncidentsTotal metric.Int64Counter
	recoveryActionsTotal metric.Int64Counter

	// Histograms
	phaseDuration    metric.Float64Histogram
	wakeupDuration   metric.Float64Histogram

	// Gauges (using observable gauges)
	activeRunners map[string]bool // project -> active
	activeRunnersMu sync.RWMutex

	tasksPending   int64
	tasksPendingMu sync.RWMutex

	creditIncidentsOpen   int64
	creditIncidentsOpenMu sync.RWMutex
}

// NewMetricsCollector creates a new metrics collector using the given meter provider.
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("steroids.orchestrator")

	mc := &MetricsCollector{
		meter:         meter,
		activeRunners: make(map[string]bool),
	}

	var err error

	mc.tasksAdvancedTotal, err = meter.Int64Counter(
		"tasks_advanced_total",
		metric.WithDescription("Total number of task state advances"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	mc.creditIncidentsTotal, err = meter.Int64Counter(
		"credit_incidents_total",
		metric.WithDescription("Total number of credit-exhaustion incidents opened"),
		metric.WithUnit("{incident}"),
	)
	if err != nil {
		return nil, err
	}

	mc.recoveryActionsTotal, err = meter.Int64Counter(
		"recovery_actions_total",
		metric.WithDescription("Total number of stuck-task recovery actions taken"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	mc.phaseDuration, err = meter.Float64Histogram(
		"phase_duration_seconds",
		metric.WithDescription("Coder/reviewer invocation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.wakeupDuration, err = meter.Float64Histogram(
		"wakeup_duration_seconds",
		metric.WithDescription("Wakeup sweep duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"runners_active",
		metric.WithDescription("Number of currently active per-project runners"),
		metric.WithUnit("{runner}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.activeRunnersMu.RLock()
			count := len(mc.activeRunners)
			mc.activeRunnersMu.RUnlock()
			observer.Observe(int64(count))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"tasks_pending",
		metric.WithDescription("Number of tasks awaiting selection across all projects"),
		metric.WithUnit("{task}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.tasksPendingMu.RLock()
			n := mc.tasksPending
			mc.tasksPendingMu.RUnlock()
			observer.Observe(n)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"credit_incidents_open",
		metric.WithDescription("Number of open credit-exhaustion incidents"),
		metric.WithUnit("{incident}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.creditIncidentsOpenMu.RLock()
			n := mc.creditIncidentsOpen
			mc.creditIncidentsOpenMu.RUnlock()
			observer.Observe(n)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// RecordRunnerStart marks a project's runner as active.
func (mc *MetricsCollector) RecordRunnerStart(project string) {
	mc.activeRunnersMu.Lock()
	mc.activeRunners[project] = true
	mc.activeRunnersMu.Unlock()
}

// RecordRunnerStop marks a project's runner as stopped.
func (mc *MetricsCollector) RecordRunnerStop(project string) {
	mc.activeRunnersMu.Lock()
	delete(mc.activeRunners, project)
	mc.activeRunnersMu.Unlock()
}

// RecordPhaseComplete records the completion of a coder or reviewer invocation.
func (mc *MetricsCollector) RecordPhaseComplete(ctx context.Context, project, phase, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("project", project),
		attribute.String("phase", phase),
		attribute.String("status", status),
	}

	mc.tasksAdvancedTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mc.phaseDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCreditIncident records a newly opened credit-exhaustion incident.
func (mc *MetricsCollector) RecordCreditIncident(ctx context.Context, project, provider string) {
	attrs := []attribute.KeyValue{
		attribute.String("project", project),
		attribute.String("provider", provider),
	}
	mc.creditIncidentsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	mc.creditIncidentsOpenMu.Lock()
	mc.creditIncidentsOpen++
	mc.creditIncidentsOpenMu.Unlock()
}

// RecordCreditIncidentResolved records a credit-exhaustion incident clearing.
func (mc *MetricsCollector) RecordCreditIncidentResolved() {
	mc.creditIncidentsOpenMu.Lock()
	if mc.creditIncidentsOpen > 0 {
		mc.creditIncidentsOpen--
	}
	mc.creditIncidentsOpenMu.Unlock()
}

// RecordRecoveryAction records a stuck-task recovery action.
func (mc *MetricsCollector) RecordRecoveryAction(ctx context.Context, project, action string) {
	attrs := []attribute.KeyValue{
		attribute.String("project", project),
		attribute.String("action", action),
	}
	mc.recoveryActionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWakeupSweep records the duration of a wakeup controller sweep.
func (mc *MetricsCollector) RecordWakeupSweep(ctx context.Context, duration time.Duration) {
	mc.wakeupDuration.Record(ctx, duration.Seconds())
}

// SetTasksPending sets the current count of tasks awaiting selection.
func (mc *MetricsCollector) SetTasksPending(n int64) {
	mc.tasksPendingMu.Lock()
	mc.tasksPending = n
	mc.tasksPendingMu.Unlock()
}
