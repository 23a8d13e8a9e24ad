// Registers:
//
//	#cryptofeeds_frames_total{feed}
//	#cryptofeeds_updates_total{feed}
//	#cryptofeeds_parse_errors_total{feed}
//	#cryptofeeds_dropped_total{feed,reason}
//	#cryptofeeds_reconnects_total{feed}
//	#cryptofeeds_connection_state{feed}
//	#cryptofeeds_limited_total{feed,kind}
//	#go_* and process_* system metrics
//
// Exposes them on /metrics using the Prometheus HTTP handler.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cryptofeeds/logger"
)

var (
	once        sync.Once
	registry    = prometheus.NewRegistry()
	frames      *prometheus.CounterVec
	updates     *prometheus.CounterVec
	parseErrors *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	reconnects  *prometheus.CounterVec
	state       *prometheus.GaugeVec
	limited     *prometheus.CounterVec
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		frames = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptofeeds_frames_total",
			Help: "Websocket frames received",
		}, []string{"feed"})
		updates = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptofeeds_updates_total",
			Help: "Quotes written to the market data store",
		}, []string{"feed"})
		parseErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptofeeds_parse_errors_total",
			Help: "Frames that failed to parse",
		}, []string{"feed"})
		dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptofeeds_dropped_total",
			Help: "Parsed quotes that were not stored",
		}, []string{"feed", "reason"})
		reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptofeeds_reconnects_total",
			Help: "Backoff waits entered after a failed or dropped connection",
		}, []string{"feed"})
		state = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cryptofeeds_connection_state",
			Help: "Current lifecycle state (0 connecting, 1 subscribing, 2 streaming, 3 backoff, 4 shutdown)",
		}, []string{"feed"})

		limited = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptofeeds_limited_total",
			Help: "Connection failures classified as rate limits or IP bans",
		}, []string{"feed", "kind"})

		registry.MustRegister(frames, updates, parseErrors, dropped, reconnects, state, limited)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	Init()
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func ObserveFrame(feed string, size int) {
	logger.RecordFrame(feed, size)
	if frames != nil {
		frames.WithLabelValues(feed).Inc()
	}
}

func ObserveUpdate(feed string) {
	logger.RecordUpdate(feed)
	if updates != nil {
		updates.WithLabelValues(feed).Inc()
	}
}

func ObserveParseError(feed string) {
	logger.RecordParseError(feed)
	if parseErrors != nil {
		parseErrors.WithLabelValues(feed).Inc()
	}
}

// ObserveDropped counts a quote rejected before the store, e.g. "crossed" or
// "unknown_symbol".
func ObserveDropped(feed, reason string) {
	logger.RecordDropped(feed)
	if dropped != nil {
		dropped.WithLabelValues(feed, reason).Inc()
	}
}

func ObserveReconnect(feed string) {
	logger.RecordReconnect(feed)
	if reconnects != nil {
		reconnects.WithLabelValues(feed).Inc()
	}
}

func SetState(feed string, value int) {
	if state != nil {
		state.WithLabelValues(feed).Set(float64(value))
	}
}
