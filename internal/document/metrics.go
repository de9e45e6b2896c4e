package document

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// repairsTotal counts Repair outcomes: valid, repaired, placeholder, failed.
var repairsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pdfmerge_repairs_total",
		Help: "Input documents checked before merging, by outcome.",
	},
	[]string{"result"},
)
