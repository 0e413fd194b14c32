package otel

import (
	"errors"

	"go.opentelemetry.io/otel/metric"
)

type EngineMetrics struct {
	ProcessesStarted metric.Int64Counter
	ProcessesEnded   metric.Int64Counter
	ProcessesRunning metric.Int64UpDownCounter
	TasksCreated     metric.Int64Counter
	TasksCompleted   metric.Int64Counter
	MediationsFailed metric.Int64Counter
	WaitStates       metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*EngineMetrics, error) {
	var errJoin error

	processesStartedTotal, err := meter.Int64Counter("processes_started", metric.WithDescription("Number of processes started"))
	errJoin = errors.Join(errJoin, err)

	processesCompletedTotal, err := meter.Int64Counter("processes_completed", metric.WithDescription("Number of processes completed"))
	errJoin = errors.Join(errJoin, err)

	processesRunning, err := meter.Int64UpDownCounter("processes_running", metric.WithDescription("Number of processes currently running"))
	errJoin = errors.Join(errJoin, err)

	tasksCreated, err := meter.Int64Counter("tasks_created", metric.WithDescription("Number of tasks created"))
	errJoin = errors.Join(errJoin, err)

	tasksCompleted, err := meter.Int64Counter("tasks_completed", metric.WithDescription("Number of tasks completed"))
	errJoin = errors.Join(errJoin, err)

	mediationsFailed, err := meter.Int64Counter("mediations_failed", metric.WithDescription("Number of advance requests rolled back with an error"))
	errJoin = errors.Join(errJoin, err)

	waitStates, err := meter.Int64Counter("mediation_wait_states", metric.WithDescription("Number of advance requests that ended in a wait feedback"))
	errJoin = errors.Join(errJoin, err)

	metrics := EngineMetrics{
		ProcessesStarted: processesStartedTotal,
		ProcessesEnded:   processesCompletedTotal,
		ProcessesRunning: processesRunning,
		TasksCreated:     tasksCreated,
		TasksCompleted:   tasksCompleted,
		MediationsFailed: mediationsFailed,
		WaitStates:       waitStates,
	}
	return &metrics, errJoin
}
