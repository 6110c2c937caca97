package profiling

import (
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/blockpipe/txpipe/infrastructure/logger"
	"github.com/blockpipe/txpipe/infrastructure/metrics"
	"github.com/blockpipe/txpipe/util/panics"
	"github.com/prometheus/client_golang/prometheus"
)

// NewHandler returns a mux serving the pprof endpoints under /debug/pprof
// and the metrics of gatherer under /metrics
func NewHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", metrics.Handler(gatherer))
	mux.Handle("/", http.RedirectHandler("/debug/pprof", http.StatusSeeOther))
	return mux
}

// Start starts the profiling and metrics server on port. The returned
// server is closed by the caller on shutdown.
func Start(port string, gatherer prometheus.Gatherer, log *logger.Logger) *http.Server {
	listenAddr := net.JoinHostPort("", port)
	server := &http.Server{
		Addr:    listenAddr,
		Handler: NewHandler(gatherer),
	}

	spawn := panics.GoroutineWrapperFunc(log)
	spawn(func() {
		log.Infof("Profile server listening on %s", listenAddr)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("Profile server stopped: %s", err)
		}
	})
	return server
}
