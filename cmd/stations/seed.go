package stations

import (
	"errors"

	"github.com/edgeflare/stations/pkg/kafka"
	"github.com/edgeflare/stations/pkg/seed"
	"github.com/edgeflare/stations/pkg/station"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Produce station records from PostgreSQL to the stations topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Postgres.ConnString == "" {
			return errors.New("postgres.connString is required")
		}
		ctx := cmd.Context()

		pool, err := pgxpool.New(ctx, cfg.Postgres.ConnString)
		if err != nil {
			return err
		}
		defer pool.Close()

		client := kafka.NewClient(&cfg.Kafka, logger)
		provisioner := kafka.NewProvisioner(client.OpenAdmin, logger.Named("provisioner"))
		producer, err := kafka.NewProducer(ctx, kafka.ProducerConfig{
			Topic:       cfg.StationsTopic(),
			KeySchema:   station.KeySchema,
			ValueSchema: station.RecordSchema,
		}, producerDeps(client, provisioner, newRegistry()))
		if err != nil {
			return err
		}

		n, err := seed.New(pool, cfg.Postgres.Table, logger.Named("seed")).Seed(ctx, producer)
		logger.Info("Seed finished", zap.Int("sent", n), zap.Int64("acked", producer.Acked()))
		return err
	},
}
