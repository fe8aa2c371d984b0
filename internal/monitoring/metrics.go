package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ProductRegistrations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agrichain_product_registrations_total",
	Help: "Product registrations by result (ok, mirror_failed, error)",
}, []string{"result"})

var LedgerMirrorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agrichain_ledger_mirror_total",
	Help: "Ledger mirror attempts by contract capability and result",
}, []string{"capability", "result"})

var OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "agrichain_outbox_pending",
	Help: "Ledger outbox entries not yet confirmed",
})

var ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "agrichain_outbox_reconcile_duration_seconds",
	Help:    "Duration of one outbox reconcile pass in seconds",
	Buckets: prometheus.DefBuckets,
})

var ProductVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agrichain_product_verifications_total",
	Help: "Product verification lookups by result (ok, not_found)",
}, []string{"result"})
