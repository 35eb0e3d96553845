package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "stratos"

// Metrics holds all stratos metric instruments.
type Metrics struct {
	TasksSubmitted metric.Int64Counter
	TasksCompleted metric.Int64Counter
	TasksFailed    metric.Int64Counter
	QueueRunning   metric.Int64UpDownCounter
	TaskDuration   metric.Float64Histogram
	SweepRemoved   metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksSubmitted, err = meter.Int64Counter("stratos.tasks.submitted",
		metric.WithDescription("Number of tasks accepted for execution"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("stratos.tasks.completed",
		metric.WithDescription("Number of tasks that exited successfully"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("stratos.tasks.failed",
		metric.WithDescription("Number of tasks that failed"))
	if err != nil {
		return nil, err
	}

	m.QueueRunning, err = meter.Int64UpDownCounter("stratos.queue.running",
		metric.WithDescription("Tasks currently executing"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("stratos.task.duration_seconds",
		metric.WithDescription("Wall time from spawn to terminal state"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.SweepRemoved, err = meter.Int64Counter("stratos.cleanup.removed",
		metric.WithDescription("Expired files and tasks removed by the sweeper"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
