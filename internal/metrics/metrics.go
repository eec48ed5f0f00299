package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckIns counts check-in calls by outcome ("applied",
	// "skipped_no_balance", "skipped_duplicate_attendance", "error").
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studio",
		Name:      "checkins_total",
		Help:      "Check-in calls by outcome.",
	}, []string{"outcome"})

	// ClassesCreated counts class sessions created implicitly by check-ins.
	ClassesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "studio",
		Name:      "classes_created_total",
		Help:      "Class sessions created on first check-in.",
	})

	// Exports counts export jobs by final status.
	Exports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studio",
		Name:      "exports_total",
		Help:      "Attendance export jobs by final status.",
	}, []string{"status"})

	// ExportRows observes the number of rows per finished export.
	ExportRows = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "studio",
		Name:      "export_rows",
		Help:      "Rows written per attendance export.",
		Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
	})
)
