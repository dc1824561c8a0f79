package stations

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgeflare/stations/pkg/config"
	"github.com/edgeflare/stations/pkg/kafka"
	"github.com/edgeflare/stations/pkg/schema"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var cfgFile string
var logLevel string
var cfg *config.Config
var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "stations",
	Short: "Stations maintains the CTA station table",
	Long: `stations seeds CTA station records from PostgreSQL into Kafka, classifies
them by line and keeps a changelog-backed table of the results`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = newLogger(logLevel)
		return err
	},
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Println(config.Version)
			return
		}

		// If no subcommand is provided, print help
		cmd.Help()
	},
}

func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if logger != nil {
		logger.Sync()
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/stations.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "info", "log at this level (debug, info, warn, error, none)")
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Print the version number")

	rootCmd.AddCommand(streamCmd, topicsCmd, ksqlCmd, seedCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "none" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// newRegistry returns the configured schema registry, or an in-process one
// when no registry URL is set.
func newRegistry() schema.Registry {
	if cfg.Kafka.SchemaRegistryURL == "" {
		logger.Warn("No schema registry configured, schema ids are process-local")
		return schema.NewLocalRegistry()
	}
	return schema.NewRegistryClient(cfg.Kafka.SchemaRegistryURL, logger.Named("registry"))
}

// producerDeps wires producers to client, sharing provisioner.
func producerDeps(client *kafka.Client, provisioner *kafka.Provisioner, registry schema.Registry) kafka.ProducerDeps {
	return kafka.ProducerDeps{
		Provisioner: provisioner,
		Registry:    registry,
		Open:        client.NewAsyncProducer,
		Logger:      logger.Named("producer"),
	}
}
