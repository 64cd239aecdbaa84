// Package metrics exposes per-stage counters for the discovery pipeline.
// Registration is global; the optional HTTP listener is only started when an
// address is configured.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// CandidatesDiscovered counts raw host:port candidates per source, before
	// any filtering.
	CandidatesDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "getm3u",
		Name:      "candidates_discovered_total",
		Help:      "Raw candidates produced by each discovery source.",
	}, []string{"source"})

	// GeoVerdicts counts geo filter outcomes by reason.
	GeoVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "getm3u",
		Name:      "geo_verdicts_total",
		Help:      "Geo/ISP filter verdicts by reason.",
	}, []string{"reason"})

	// LivenessProbes counts fingerprint probe outcomes.
	LivenessProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "getm3u",
		Name:      "liveness_probes_total",
		Help:      "Relay fingerprint probe outcomes.",
	}, []string{"outcome"}) // alive | dead

	// StreamProbes counts stream decode probe outcomes.
	StreamProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "getm3u",
		Name:      "stream_probes_total",
		Help:      "Stream decodability probe outcomes.",
	}, []string{"outcome"}) // kept | dropped

	// TriggerDecisions counts publication gate decisions.
	TriggerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "getm3u",
		Name:      "trigger_decisions_total",
		Help:      "Publication gate decisions.",
	}, []string{"decision"})

	// PipelineRuns counts completed pipeline runs by result.
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "getm3u",
		Name:      "pipeline_runs_total",
		Help:      "Completed pipeline runs.",
	}, []string{"result"}) // ok | empty | error
)

// Serve starts the /metrics listener on addr. It blocks, so callers run it in
// a goroutine; errors are logged, never fatal.
func Serve(addr string, log *zap.SugaredLogger) {
	if addr == "" {
		return
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Infow("metrics listener starting", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warnw("metrics listener stopped", "err", err)
	}
}
