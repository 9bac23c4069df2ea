package task

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/phrazzld/clinicdesk/internal/task"

type dispatcherMetrics struct {
	tasksSubmitted metric.Int64Counter
	tasksFinished  metric.Int64Counter
	taskDuration   metric.Float64Histogram
	tasksQueued    metric.Int64UpDownCounter
}

func newDispatcherMetrics(provider metric.MeterProvider) (dispatcherMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter(meterName)

	var (
		metrics dispatcherMetrics
		err     error
	)

	metrics.tasksSubmitted, err = meter.Int64Counter(
		"clinicdesk.tasks.submitted",
		metric.WithDescription("Number of tasks accepted by the dispatcher"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create clinicdesk.tasks.submitted counter: %w", err)
	}

	metrics.tasksFinished, err = meter.Int64Counter(
		"clinicdesk.tasks.finished",
		metric.WithDescription("Number of tasks that finished, by status"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create clinicdesk.tasks.finished counter: %w", err)
	}

	metrics.taskDuration, err = meter.Float64Histogram(
		"clinicdesk.tasks.duration",
		metric.WithDescription("Time spent running a task body"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create clinicdesk.tasks.duration histogram: %w", err)
	}

	metrics.tasksQueued, err = meter.Int64UpDownCounter(
		"clinicdesk.tasks.queued",
		metric.WithDescription("Number of tasks waiting for a worker"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return dispatcherMetrics{}, fmt.Errorf("create clinicdesk.tasks.queued counter: %w", err)
	}

	return metrics, nil
}
