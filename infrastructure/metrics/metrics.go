package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "txpipe"

// ChainMetrics holds the Prometheus metrics of one chain's pipeline. Every
// metric carries a chain label.
type ChainMetrics struct {
	PackagedTransactions prometheus.Counter
	EmptyBlocks          prometheus.Counter
	PackDuration         prometheus.Histogram
	OrphansEvicted       prometheus.Counter
	VerifyRejects        prometheus.Counter
	AdmittedTransactions prometheus.Counter
	AdmissionRejects     prometheus.Counter
}

// NewChainMetrics creates and registers the metrics of chainID with
// registerer. poolSize is sampled on every scrape.
func NewChainMetrics(registerer prometheus.Registerer, chainID uint16, poolSize func() int) *ChainMetrics {
	factory := promauto.With(prometheus.WrapRegistererWith(
		prometheus.Labels{"chain": strconv.Itoa(int(chainID))}, registerer))

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_size",
		Help:      "Number of transactions in the packable pool",
	}, func() float64 { return float64(poolSize()) })

	return &ChainMetrics{
		PackagedTransactions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packaged_transactions_total",
			Help:      "Total number of transactions included in packed blocks",
		}),
		EmptyBlocks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_blocks_total",
			Help:      "Total number of packaging attempts that produced an empty block",
		}),
		PackDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pack_duration_seconds",
			Help:      "Duration of packaging attempts in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OrphansEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_evicted_total",
			Help:      "Total number of orphan transactions evicted after too many retries",
		}),
		VerifyRejects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verify_rejects_total",
			Help:      "Total number of received blocks rejected by verification",
		}),
		AdmittedTransactions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admitted_transactions_total",
			Help:      "Total number of transactions admitted to the pool",
		}),
		AdmissionRejects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejects_total",
			Help:      "Total number of submitted transactions rejected by admission",
		}),
	}
}

// Handler returns an HTTP handler exposing the metrics of gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
