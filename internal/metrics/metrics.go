package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airtrace_files_processed_total",
			Help: "Input files processed, by source and outcome",
		},
		[]string{"source", "status"},
	)

	RecordsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airtrace_records_inserted_total",
			Help: "Measurements durably inserted",
		},
		[]string{"source"},
	)

	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airtrace_records_skipped_total",
			Help: "Records dropped before insert, by reason",
		},
		[]string{"source", "reason"},
	)

	RasterSamples = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airtrace_raster_samples_total",
			Help: "Raster point samples attempted, by outcome",
		},
		[]string{"status"},
	)

	FileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airtrace_file_duration_seconds",
			Help:    "Wall time spent ingesting one file",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
)
