package metrics

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Record results of the stream processor.
const (
	ResultClassified   = "classified"
	ResultUnclassified = "unclassified"
	ResultMalformed    = "malformed"
	ResultFailed       = "failed"
)

var (
	TopicProvisioning = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stations_topic_provisioning_total",
			Help: "Topic provisioning attempts by topic and outcome",
		},
		[]string{"topic", "status"},
	)

	ProducedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stations_produced_messages_total",
			Help: "Total number of messages acknowledged by the brokers",
		},
		[]string{"topic"},
	)

	ProduceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stations_produce_errors_total",
			Help: "Total number of messages that could not be delivered",
		},
		[]string{"topic"},
	)

	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stations_records_total",
			Help: "Total number of station records consumed by result",
		},
		[]string{"topic", "result"},
	)

	RecordProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stations_record_processing_duration_seconds",
			Help:    "Duration of station record processing",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	TableUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stations_table_upserts_total",
			Help: "Total number of table entries written",
		},
		[]string{"table"},
	)

	ChangelogRestored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stations_changelog_restored_total",
			Help: "Total number of changelog records replayed during table recovery",
		},
		[]string{"table"},
	)
)

type PromServerOpts struct {
	Logger            *zap.Logger
	Addr              string
	Path              string        // Path for metrics endpoint, defaults to "/metrics"
	ShutdownTimeout   time.Duration // Timeout for server shutdown, defaults to 5 seconds
	ReadHeaderTimeout time.Duration // Timeout for reading request headers, defaults to 3 seconds
}

func defaultPrometheusServerOptions() PromServerOpts {
	return PromServerOpts{
		Addr:              ":9100",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// StartPrometheusServer starts a Prometheus metrics server with the given options
// The server gracefully shutdown when the provided context is canceled
func StartPrometheusServer(ctx context.Context, wg *sync.WaitGroup, opts *PromServerOpts) {
	effectiveOpts := defaultPrometheusServerOptions()
	if opts != nil {
		effectiveOpts.Addr = cmp.Or(opts.Addr, effectiveOpts.Addr)
		effectiveOpts.Path = cmp.Or(opts.Path, effectiveOpts.Path)
		effectiveOpts.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, effectiveOpts.ShutdownTimeout)
		effectiveOpts.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, effectiveOpts.ReadHeaderTimeout)
		effectiveOpts.Logger = opts.Logger
	}
	logger := effectiveOpts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle(effectiveOpts.Path, promhttp.Handler())
	Serve(ctx, wg, logger.Named("metrics"), &http.Server{
		Addr:              effectiveOpts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: effectiveOpts.ReadHeaderTimeout,
	}, effectiveOpts.ShutdownTimeout)
}

// Serve runs server until ctx is canceled, then shuts it down within
// shutdownTimeout. wg is released once the server has stopped.
func Serve(ctx context.Context, wg *sync.WaitGroup, logger *zap.Logger, server *http.Server, shutdownTimeout time.Duration) {
	serverClosed := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting HTTP server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
		close(serverClosed)
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down HTTP server", zap.Error(err))
		}

		select {
		case <-serverClosed:
			logger.Info("HTTP server shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("HTTP server shutdown timed out")
		}
	}()
}
