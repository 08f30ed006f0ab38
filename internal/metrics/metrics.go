// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanctuary_llm_requests_total",
			Help: "Completion API calls by analysis task and outcome.",
		},
		[]string{"task", "status"},
	)
	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sanctuary_llm_request_duration_seconds",
			Help:    "Completion API latency by analysis task.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)
	GateVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanctuary_gate_verdicts_total",
			Help: "Gate and coach verdicts by step kind and outcome.",
		},
		[]string{"step_kind", "outcome"},
	)
	StoryLocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanctuary_story_locks_total",
			Help: "Lock attempts by outcome.",
		},
		[]string{"outcome"},
	)
	RecapEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanctuary_recap_emails_total",
			Help: "Recap and reminder mails by kind and outcome.",
		},
		[]string{"kind", "status"},
	)
	Transcriptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanctuary_transcriptions_total",
			Help: "Transcription requests by outcome.",
		},
		[]string{"status"},
	)
)
