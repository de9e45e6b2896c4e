package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfmerge_exports_total",
			Help: "Batch exports by result (ok, empty, failed).",
		},
		[]string{"result"},
	)

	exportRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfmerge_export_records_total",
			Help: "Records considered by batch exports, included or skipped.",
		},
		[]string{"result"},
	)
)
