package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reconciled",
		Name:      "peers_connected",
		Help:      "Number of connected gossip peers.",
	})

	MempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reconciled",
		Name:      "mempool_size",
		Help:      "Number of transactions held in the local mempool view.",
	})

	BucketCountConfigured = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reconciled",
		Name:      "iblt_bucket_count",
		Help:      "Bucket count used for the most recently built IBLT.",
	})

	DecodeResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reconciled",
		Name:      "decode_results_total",
		Help:      "Reconciliation decode outcomes by result kind.",
	}, []string{"kind"})

	EncodeTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconciled",
		Name:      "encode_total",
		Help:      "Total reconciliation frames encoded.",
	})

	PeelSteps = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reconciled",
		Name:      "peel_steps",
		Help:      "Number of peeling steps performed per decode.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
	})

	BlobsGossiped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconciled",
		Name:      "blobs_gossiped_total",
		Help:      "Total reconciliation blobs broadcast to peers.",
	})

	BlobsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconciled",
		Name:      "blobs_received_total",
		Help:      "Total reconciliation blobs received from peers.",
	})

	UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reconciled",
		Name:      "uptime_seconds",
		Help:      "Node uptime in seconds.",
	})
)

func init() {
	prometheus.MustRegister(
		PeersConnected,
		MempoolSize,
		BucketCountConfigured,
		DecodeResults,
		EncodeTotal,
		PeelSteps,
		BlobsGossiped,
		BlobsReceived,
		UptimeSeconds,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
