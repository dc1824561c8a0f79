package stations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/edgeflare/stations/pkg/config"
	"github.com/edgeflare/stations/pkg/httputil/middleware"
	"github.com/edgeflare/stations/pkg/kafka"
	"github.com/edgeflare/stations/pkg/metrics"
	"github.com/edgeflare/stations/pkg/station"
	"github.com/edgeflare/stations/pkg/stream"
	"github.com/edgeflare/stations/pkg/table"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var streamCmd = &cobra.Command{
	Use:     "stream",
	Aliases: []string{"s"},
	Short:   "Classify stations into the stations table",
	Long: `Recover the stations table from its changelog, serve it over HTTP and keep
it up to date with the classified records of the stations topic.`,
	RunE: runStream,
}

func runStream(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	client := kafka.NewClient(&cfg.Kafka, logger)
	provisioner := kafka.NewProvisioner(client.OpenAdmin, logger.Named("provisioner"))
	provisioner.Ensure(ctx, cfg.StationsTopic())

	changelog, err := kafka.NewProducer(ctx, kafka.ProducerConfig{
		Topic:       cfg.TableTopic(),
		KeySchema:   station.KeySchema,
		ValueSchema: station.ViewSchema,
	}, producerDeps(client, provisioner, newRegistry()))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := changelog.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	newStore, closeStore, err := storeFactory(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	tbl := table.New(cfg.TableConfig(), newStore, changelog, logger.Named("table"))

	consumer, saramaClient, err := client.NewConsumer()
	if err != nil {
		return err
	}
	defer func() {
		consumer.Close()
		saramaClient.Close()
	}()

	// Servers are stopped before the store and consumer they read from are closed.
	var wg sync.WaitGroup
	defer func() {
		cancel()
		waitShutdown(&wg)
	}()

	if cfg.Metrics.Enabled {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{
			Logger: logger,
			Addr:   cfg.Metrics.Addr,
			Path:   cfg.Metrics.Path,
		})
	}

	api := middleware.Chain(table.NewHandler(tbl, logger.Named("api")),
		middleware.RequestID,
		middleware.LoggerWithOptions(&middleware.LoggerOptions{Logger: logger.Named("access")}),
		middleware.CORSWithOptions(nil),
	)
	metrics.Serve(ctx, &wg, logger.Named("api"), &http.Server{
		Addr:              cfg.Table.ListenAddr,
		Handler:           api,
		ReadHeaderTimeout: 3 * time.Second,
	}, shutdownTimeout)

	if err := tbl.Recover(ctx, consumer, kafka.NewestOffset(saramaClient)); err != nil {
		return fmt.Errorf("recover %s: %w", tbl.Name(), err)
	}

	return stream.New(stream.Config{Topic: cfg.Topics.Stations}, consumer, tbl, logger.Named("stream")).Run(ctx)
}

// storeFactory returns the per-partition store constructor selected by
// table.store and a func releasing what it holds.
func storeFactory(ctx context.Context, cfg *config.Config) (func(int32) table.Store, func(), error) {
	if cfg.Table.Store != config.StoreRedis {
		return func(int32) table.Store { return table.NewMemoryStore() }, func() {}, nil
	}

	rdb := table.NewRedisClient(cfg.Table.Redis)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", cfg.Table.Redis.Addr, err)
	}
	closeFn := func() {
		if err := rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			logger.Warn("Error closing redis client", zap.Error(err))
		}
	}
	return func(p int32) table.Store {
		return table.NewRedisStore(rdb, cfg.Topics.Table, p)
	}, closeFn, nil
}

func waitShutdown(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("Shutdown timed out", zap.Duration("timeout", shutdownTimeout))
	}
}
