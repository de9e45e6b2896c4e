package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	formCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfmerge_form_cache_lookups_total",
			Help: "Form definition cache lookups by result.",
		},
		[]string{"result"},
	)

	collectedFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfmerge_collected_files_total",
			Help: "Attachment references seen by the collector, split into usable files and errors.",
		},
		[]string{"kind"},
	)
)
