// Package metrics provides Prometheus metrics for LabelMint.
// Counters, gauges and histograms for assignment, labeling, consensus,
// honeypots, expiry, rewards and the event bus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Assignment ─────────────────────────────────────────────────────────────

// TasksAssigned tracks successful assignments by mode (manual, auto, reassign).
var TasksAssigned = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "labelmint",
	Name:      "tasks_assigned_total",
	Help:      "Total successful task assignments.",
}, []string{"mode"})

// AssignmentRejections tracks refused assignments by error kind.
var AssignmentRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "labelmint",
	Name:      "assignment_rejections_total",
	Help:      "Total refused assignment attempts.",
}, []string{"reason"})

// ─── Labels & Consensus ─────────────────────────────────────────────────────

// LabelsSubmitted tracks accepted label submissions.
var LabelsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "labelmint",
	Name:      "labels_submitted_total",
	Help:      "Total accepted label submissions.",
}, []string{"type"})

// SubmissionRejections tracks refused submissions by error kind.
var SubmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "labelmint",
	Name:      "submission_rejections_total",
	Help:      "Total refused label submissions.",
}, []string{"reason"})

// ConsensusReached tracks tasks completed by majority agreement.
var ConsensusReached = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "labelmint",
	Name:      "consensus_reached_total",
	Help:      "Total tasks completed by consensus.",
})

// ConsensusConflicts tracks split votes sent to review.
var ConsensusConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "labelmint",
	Name:      "consensus_conflicts_total",
	Help:      "Total consensus evaluations ending in conflict.",
})

// ConsensusConfidence tracks the agreement fraction of completed tasks.
var ConsensusConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "labelmint",
	Name:      "consensus_confidence",
	Help:      "Agreement fraction at the moment consensus was reached.",
	Buckets:   []float64{0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
})

// ─── Honeypots ──────────────────────────────────────────────────────────────

// HoneypotEvaluations tracks honeypot outcomes (correct, incorrect).
var HoneypotEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "labelmint",
	Name:      "honeypot_evaluations_total",
	Help:      "Total honeypot submissions scored.",
}, []string{"result"})

// ─── Expiry ─────────────────────────────────────────────────────────────────

// TasksExpired tracks assignments that lapsed.
var TasksExpired = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "labelmint",
	Name:      "tasks_expired_total",
	Help:      "Total assignments transitioned to expired.",
})

// SweepDuration tracks how long one expiration sweep takes.
var SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "labelmint",
	Name:      "sweep_duration_seconds",
	Help:      "Duration of an expiration sweep.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

// ─── Rewards ────────────────────────────────────────────────────────────────

// CreditsDisbursed tracks total reward credits paid to workers.
var CreditsDisbursed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "labelmint",
	Name:      "credits_disbursed_total",
	Help:      "Total reward credits paid to workers.",
})

// DisbursementFailures tracks reward payouts that failed after completion.
var DisbursementFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "labelmint",
	Name:      "disbursement_failures_total",
	Help:      "Total failed reward disbursements.",
})

// ─── Store ──────────────────────────────────────────────────────────────────

// StoreReadRetries tracks retried store reads.
var StoreReadRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "labelmint",
	Name:      "store_read_retries_total",
	Help:      "Total retried store reads after StoreUnavailable.",
}, []string{"op"})

// ─── Events ─────────────────────────────────────────────────────────────────

// EventsPublished tracks events handed to the bus by kind.
var EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "labelmint",
	Name:      "events_published_total",
	Help:      "Total lifecycle events published.",
}, []string{"kind"})

// EventsForwarded tracks events forwarded to Redis by outcome (ok, error).
var EventsForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "labelmint",
	Name:      "events_forwarded_total",
	Help:      "Total lifecycle events forwarded to Redis.",
}, []string{"outcome"})

// ─── Operations ─────────────────────────────────────────────────────────────

// OperationLatency tracks engine operation duration in seconds.
var OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "labelmint",
	Name:      "operation_latency_seconds",
	Help:      "Engine operation duration in seconds.",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
}, []string{"op"})
