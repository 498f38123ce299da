package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkflowsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auraflow_workflows_created_total",
		Help: "Total number of customer workflows created",
	})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auraflow_workflow_transitions_total",
		Help: "Total number of workflow stage transitions by action and result",
	}, []string{"action", "result"})

	TransitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auraflow_workflow_transition_duration_seconds",
		Help:    "Time taken to execute a workflow transition",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	TasksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auraflow_tasks_created_total",
		Help: "Total number of tasks created by type",
	}, []string{"task_type"})

	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auraflow_tasks_completed_total",
		Help: "Total number of tasks completed by type",
	}, []string{"task_type"})

	TasksAutoAssigned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auraflow_tasks_auto_assigned_total",
		Help: "Total number of tasks assigned by the load balancer",
	})

	EventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auraflow_events_broadcast_total",
		Help: "Total number of events persisted and broadcast by type",
	}, []string{"event_type"})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auraflow_sweep_runs_total",
		Help: "Total number of sweeper passes by result",
	}, []string{"result"})

	FollowUpsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auraflow_follow_ups_triggered_total",
		Help: "Total number of delayed follow-up transitions fired by the sweeper",
	})

	RelayPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auraflow_relay_events_published_total",
		Help: "Total number of events relayed to the downstream broker",
	})

	RelayFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auraflow_relay_failures_total",
		Help: "Total number of events the relay failed to publish",
	})
)
