// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_runs_total",
		Help: "Dispatcher invocations.",
	})

	JobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobs_claimed_total",
		Help: "Generation jobs claimed by the capacity claim.",
	})

	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobs_submitted_total",
		Help: "Generation jobs accepted by the provider.",
	})

	JobsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobs_finalized_total",
		Help: "Generation jobs finalized exactly once with persisted outputs.",
	})

	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Generation jobs failed, by error category.",
	}, []string{"category"})

	JobsRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobs_requeued_total",
		Help: "Generation jobs returned to the queue awaiting their prompt.",
	})

	CleanupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cleanup_failed_jobs_total",
		Help: "Jobs failed by the self-healing cleanup pass, by reason.",
	}, []string{"reason"})

	PromptJobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prompt_jobs_processed_total",
		Help: "Prompt jobs finished by the queue, by outcome.",
	}, []string{"outcome"})

	PromptQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prompt_queue_depth",
		Help: "Prompt jobs currently queued, sampled at each scan.",
	})

	PromptQueueTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prompt_queue_ticks_total",
		Help: "Prompt queue scans that actually ran (skipped overlapping ticks excluded).",
	})

	PollRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poll_requests_total",
		Help: "Job polls, by resulting status.",
	}, []string{"status"})
)
