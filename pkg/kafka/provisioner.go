package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/IBM/sarama"
	"github.com/edgeflare/stations/pkg/metrics"
	"go.uber.org/zap"
)

// Topic describes a topic to provision.
type Topic struct {
	Config            map[string]string
	Name              string
	Partitions        int32
	ReplicationFactor int16
}

// ChangelogConfig is the topic configuration of a table changelog: compacted
// and never expired, so replaying it always yields the full table.
func ChangelogConfig() map[string]string {
	return map[string]string{
		"cleanup.policy": "compact",
		"retention.ms":   "-1",
	}
}

func (t Topic) withDefaults() Topic {
	if t.Partitions <= 0 {
		t.Partitions = 1
	}
	if t.ReplicationFactor <= 0 {
		t.ReplicationFactor = 1
	}
	return t
}

func (t Topic) detail() *sarama.TopicDetail {
	detail := &sarama.TopicDetail{
		NumPartitions:     t.Partitions,
		ReplicationFactor: t.ReplicationFactor,
	}
	if len(t.Config) > 0 {
		detail.ConfigEntries = make(map[string]*string, len(t.Config))
		for k, v := range t.Config {
			detail.ConfigEntries[k] = stringPtr(v)
		}
	}
	return detail
}

func stringPtr(s string) *string {
	return &s
}

// Status is the outcome of an Ensure call.
type Status int

const (
	StatusFailed Status = iota
	StatusProvisioned
	StatusAlreadyExisted
)

func (s Status) String() string {
	switch s {
	case StatusProvisioned:
		return "provisioned"
	case StatusAlreadyExisted:
		return "already_existed"
	default:
		return "failed"
	}
}

// Result reports what Ensure did for a topic. Err is set only for StatusFailed.
type Result struct {
	Err    error
	Topic  string
	Status Status
}

// OK reports whether the topic is known to exist.
func (r Result) OK() bool {
	return r.Status != StatusFailed
}

// Admin is the part of sarama.ClusterAdmin the provisioner needs.
type Admin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	Close() error
}

// AdminFunc opens an admin connection for a single provisioning attempt.
type AdminFunc func() (Admin, error)

// Provisioner creates topics before they are first written to and remembers
// which topics are known to exist. All producers of a process share one
// Provisioner, so each topic is provisioned at most once per process.
//
// Failures are not returned to callers as errors: they are logged, reported
// in the Result, and the topic stays unregistered so that the next Ensure
// tries again. Writes to a topic that really does not exist fail on their own.
type Provisioner struct {
	openAdmin  AdminFunc
	logger     *zap.Logger
	registered map[string]struct{}
	mu         sync.Mutex
}

// NewProvisioner returns a Provisioner that opens admin connections with openAdmin.
func NewProvisioner(openAdmin AdminFunc, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		openAdmin:  openAdmin,
		logger:     logger,
		registered: make(map[string]struct{}),
	}
}

// Ensure makes sure t exists, creating it with t's partitions, replication
// factor and config when the cluster does not have it yet. Partitions and
// replication factor default to 1.
func (p *Provisioner) Ensure(ctx context.Context, t Topic) Result {
	t = t.withDefaults()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.registered[t.Name]; ok {
		return Result{Topic: t.Name, Status: StatusAlreadyExisted}
	}

	res := p.provision(ctx, t)
	metrics.TopicProvisioning.WithLabelValues(t.Name, res.Status.String()).Inc()

	if res.OK() {
		p.registered[t.Name] = struct{}{}
		return res
	}

	p.logger.Error("Failed to provision topic",
		zap.String("topic", t.Name),
		zap.Int32("partitions", t.Partitions),
		zap.Int16("replicationFactor", t.ReplicationFactor),
		zap.Error(res.Err))
	return res
}

func (p *Provisioner) provision(ctx context.Context, t Topic) Result {
	fail := func(err error) Result {
		return Result{Topic: t.Name, Status: StatusFailed, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	admin, err := p.openAdmin()
	if err != nil {
		return fail(fmt.Errorf("open cluster admin: %w", err))
	}
	defer admin.Close()

	topics, err := admin.ListTopics()
	if err != nil {
		return fail(fmt.Errorf("failed to list topics: %w", err))
	}
	if _, exists := topics[t.Name]; exists {
		p.logger.Info("Topic already exists", zap.String("topic", t.Name))
		return Result{Topic: t.Name, Status: StatusAlreadyExisted}
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	err = admin.CreateTopic(t.Name, t.detail(), false)
	switch {
	case err == nil:
		p.logger.Info("Topic created",
			zap.String("topic", t.Name),
			zap.Int32("partitions", t.Partitions),
			zap.Int16("replicationFactor", t.ReplicationFactor))
		return Result{Topic: t.Name, Status: StatusProvisioned}
	case topicExists(err):
		// Another process created it between our list and create.
		p.logger.Info("Topic created concurrently", zap.String("topic", t.Name))
		return Result{Topic: t.Name, Status: StatusAlreadyExisted}
	default:
		return fail(fmt.Errorf("failed to create topic: %w", err))
	}
}

func topicExists(err error) bool {
	var topicErr *sarama.TopicError
	if errors.As(err, &topicErr) {
		return topicErr.Err == sarama.ErrTopicAlreadyExists
	}
	return errors.Is(err, sarama.ErrTopicAlreadyExists)
}

// Registered reports whether name is known to exist.
func (p *Provisioner) Registered(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.registered[name]
	return ok
}

// Topics returns the registered topic names in sorted order.
func (p *Provisioner) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.registered))
	for name := range p.registered {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
