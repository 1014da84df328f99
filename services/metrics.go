package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "applypilot",
		Name:      "jobs_enqueued_total",
		Help:      "Jobs accepted into the queue, deduplicated.",
	})

	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "applypilot",
		Name:      "attempts_total",
		Help:      "Application attempts by outcome.",
	}, []string{"outcome"})

	attemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "applypilot",
		Name:      "attempt_duration_seconds",
		Help:      "Wall time of a single application attempt.",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
	})

	fieldsFilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "applypilot",
		Name:      "fields_filled_total",
		Help:      "Form fields written across all attempts.",
	})

	captchaResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "applypilot",
		Name:      "captcha_resolutions_total",
		Help:      "Captcha challenges by type, solver and resolution.",
	}, []string{"type", "solver", "resolution"})

	captchaSpendUSD = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "applypilot",
		Name:      "captcha_spend_usd_total",
		Help:      "Cumulative 2Captcha spend in dollars.",
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "applypilot",
		Name:      "queue_depth",
		Help:      "Jobs per queue status, sampled on each worker tick.",
	}, []string{"status"})
)
