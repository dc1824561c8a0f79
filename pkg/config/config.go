package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edgeflare/stations/pkg/kafka"
	"github.com/edgeflare/stations/pkg/table"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Version is set at build time.
var Version = "dev"

// Store types of the stations table.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds application-wide configuration
type Config struct {
	Kafka    kafka.Config  `mapstructure:"kafka"`
	Topics   TopicsConfig  `mapstructure:"topics"`
	Table    TableConfig   `mapstructure:"table"`
	KSQL     KSQLConfig    `mapstructure:"ksql"`
	Postgres PGConfig      `mapstructure:"postgres"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
}

// TopicsConfig names the topics of the pipeline and how new ones are created.
type TopicsConfig struct {
	Stations          string `mapstructure:"stations"`
	Table             string `mapstructure:"table"`
	Partitions        int32  `mapstructure:"partitions"`
	ReplicationFactor int16  `mapstructure:"replicationFactor"`
}

type TableConfig struct {
	Store      string            `mapstructure:"store"`
	ListenAddr string            `mapstructure:"listenAddr"`
	Redis      table.RedisConfig `mapstructure:"redis"`
}

type KSQLConfig struct {
	URL string `mapstructure:"url"`
}

type PGConfig struct {
	ConnString string `mapstructure:"connString"`
	Table      string `mapstructure:"table"`
}

type MetricsConfig struct {
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
	Enabled bool   `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	k := kafka.DefaultConfig()
	v.SetDefault("kafka.brokers", k.Brokers)
	v.SetDefault("kafka.version", k.Version)
	v.SetDefault("kafka.clientID", k.ClientID)

	v.SetDefault("topics.stations", "org.chicago.cta.stations")
	v.SetDefault("topics.table", "org.chicago.cta.stations.table.v1")
	v.SetDefault("topics.partitions", 1)
	v.SetDefault("topics.replicationFactor", 1)

	v.SetDefault("table.store", StoreMemory)
	v.SetDefault("table.listenAddr", ":8080")
	v.SetDefault("table.redis.addr", "localhost:6379")

	v.SetDefault("ksql.url", "http://localhost:8088")

	v.SetDefault("postgres.table", "stations")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads config from file or environment. Environment variables use the
// STATIONS_ prefix with dots replaced by underscores, e.g.
// STATIONS_KAFKA_BROKERS=broker-1:9092,broker-2:9092.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("stations")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STATIONS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers: at least one broker is required"))
	}
	if c.Topics.Stations == "" || c.Topics.Table == "" {
		errs = append(errs, errors.New("topics: stations and table topics are required"))
	}
	if c.Topics.Partitions < 1 {
		errs = append(errs, fmt.Errorf("topics.partitions: must be positive, got %d", c.Topics.Partitions))
	}
	if c.Topics.ReplicationFactor < 1 {
		errs = append(errs, fmt.Errorf("topics.replicationFactor: must be positive, got %d", c.Topics.ReplicationFactor))
	}
	switch c.Table.Store {
	case StoreMemory, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("table.store: unknown store %q", c.Table.Store))
	}
	return errors.Join(errs...)
}

// TableTopic returns the changelog topic of the stations table.
func (c *Config) TableTopic() kafka.Topic {
	return c.TableConfig().ChangelogTopic(c.Topics.ReplicationFactor)
}

// TableConfig returns the stations table configuration.
func (c *Config) TableConfig() table.Config {
	return table.Config{Name: c.Topics.Table, Partitions: c.Topics.Partitions}
}

// StationsTopic returns the raw stations topic.
func (c *Config) StationsTopic() kafka.Topic {
	return kafka.Topic{
		Name:              c.Topics.Stations,
		Partitions:        c.Topics.Partitions,
		ReplicationFactor: c.Topics.ReplicationFactor,
	}
}
