package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Client opens sarama admin, producer and consumer handles for one cluster.
type Client struct {
	config *Config
	logger *zap.Logger
}

// NewClient creates a new Client
func NewClient(config *Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config: config,
		logger: logger,
	}
}

// NewClusterAdmin creates a new sarama.ClusterAdmin
func (c *Client) NewClusterAdmin() (sarama.ClusterAdmin, error) {
	saramaConfig, err := c.config.ToSaramaConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create sarama config: %w", err)
	}

	admin, err := sarama.NewClusterAdmin(c.config.GetBrokers(), saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster admin: %w", err)
	}

	return admin, nil
}

// OpenAdmin satisfies the provisioner's AdminFunc.
func (c *Client) OpenAdmin() (Admin, error) {
	return c.NewClusterAdmin()
}

// NewAsyncProducer creates a new AsyncProducer
func (c *Client) NewAsyncProducer() (sarama.AsyncProducer, error) {
	conf, err := c.config.ToSaramaConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create sarama config: %w", err)
	}

	producer, err := sarama.NewAsyncProducer(c.config.GetBrokers(), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create async producer: %w", err)
	}

	return producer, nil
}

// NewConsumer creates a new Consumer together with the underlying client,
// which callers use to look up partition end offsets.
func (c *Client) NewConsumer() (sarama.Consumer, sarama.Client, error) {
	conf, err := c.config.ToSaramaConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create sarama config: %w", err)
	}

	client, err := sarama.NewClient(c.config.GetBrokers(), conf)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create client: %w", err)
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	return consumer, client, nil
}

// NewestOffset returns an offset lookup bound to client, reporting the
// offset the next produced message to a partition will get.
func NewestOffset(client sarama.Client) func(topic string, partition int32) (int64, error) {
	return func(topic string, partition int32) (int64, error) {
		return client.GetOffset(topic, partition, sarama.OffsetNewest)
	}
}
