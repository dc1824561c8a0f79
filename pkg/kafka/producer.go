package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/edgeflare/stations/pkg/metrics"
	"github.com/edgeflare/stations/pkg/schema"
	"go.uber.org/zap"
)

var (
	ErrProducerClosed = errors.New("producer closed")
	ErrMissingKey     = errors.New("message key is required")
)

// FlushError is returned by Close when buffered messages could not be
// delivered. Those messages are lost.
type FlushError struct {
	Topic  string
	Errors sarama.ProducerErrors
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush %s: %d message(s) not delivered: %v", e.Topic, len(e.Errors), e.Errors[0].Err)
}

func (e *FlushError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, pe := range e.Errors {
		errs[i] = pe.Err
	}
	return errs
}

// ProducerConfig configures a Producer for one topic.
type ProducerConfig struct {
	KeySchema *schema.Schema
	// ValueSchema is optional; without it values are sent as raw bytes.
	ValueSchema *schema.Schema
	Topic       Topic
}

// ProducerDeps are the collaborators shared by all producers of a process.
type ProducerDeps struct {
	Provisioner *Provisioner
	Registry    schema.Registry
	Open        func() (sarama.AsyncProducer, error)
	Logger      *zap.Logger
}

// Producer sends schema-encoded messages to a single topic. Sends are
// asynchronous and buffered; Close must be called on every exit path to
// flush them.
type Producer struct {
	ap     sarama.AsyncProducer
	key    *schema.Serde
	value  *schema.Serde
	logger *zap.Logger
	done   chan struct{}
	topic  string

	// mu is held for reading while a message is handed to the producer and for
	// writing while closing, so no send can race AsyncClose.
	mu     sync.RWMutex
	closed bool

	errsMu   sync.Mutex
	errs     sarama.ProducerErrors
	closeErr error
	once     sync.Once

	acked    atomic.Int64
	failed   atomic.Int64
	lastTime atomic.Int64
}

// NewProducer provisions cfg.Topic through deps.Provisioner and opens a send
// handle bound to the configured schemas. A failed provisioning is not an
// error here; it is logged by the provisioner and later sends fail if the
// topic really is missing.
func NewProducer(ctx context.Context, cfg ProducerConfig, deps ProducerDeps) (*Producer, error) {
	if cfg.KeySchema == nil {
		return nil, fmt.Errorf("producer for %s: key schema is required", cfg.Topic.Name)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := deps.Registry
	if registry == nil {
		registry = schema.NewLocalRegistry()
	}

	if deps.Provisioner != nil {
		deps.Provisioner.Ensure(ctx, cfg.Topic)
	}

	ap, err := deps.Open()
	if err != nil {
		return nil, fmt.Errorf("producer for %s: %w", cfg.Topic.Name, err)
	}

	p := &Producer{
		ap:     ap,
		topic:  cfg.Topic.Name,
		key:    schema.NewSerde(cfg.KeySchema, registry, schema.KeySubject(cfg.Topic.Name)),
		logger: logger.With(zap.String("topic", cfg.Topic.Name)),
		done:   make(chan struct{}),
	}
	if cfg.ValueSchema != nil {
		p.value = schema.NewSerde(cfg.ValueSchema, registry, schema.ValueSubject(cfg.Topic.Name))
	}

	go p.drain()
	return p, nil
}

// Topic returns the topic the producer writes to.
func (p *Producer) Topic() string {
	return p.topic
}

// Send encodes key and value and enqueues them for delivery. Delivery
// failures are reported by Close.
func (p *Producer) Send(ctx context.Context, key, value any) error {
	return p.send(ctx, nil, key, value)
}

// SendTo is like Send but writes to the given partition instead of the one
// derived from the key.
func (p *Producer) SendTo(ctx context.Context, partition int32, key, value any) error {
	return p.send(ctx, pinned(partition), key, value)
}

func (p *Producer) send(ctx context.Context, metadata any, key, value any) error {
	msg, err := p.encode(ctx, key, value)
	if err != nil {
		return err
	}
	msg.Metadata = metadata

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	select {
	case p.ap.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Producer) encode(ctx context.Context, key, value any) (*sarama.ProducerMessage, error) {
	if key == nil {
		return nil, ErrMissingKey
	}
	keyBytes, err := p.key.Serialize(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("encode key: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(keyBytes),
	}

	switch {
	case value == nil:
		// tombstone
	case p.value != nil:
		valueBytes, err := p.value.Serialize(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		msg.Value = sarama.ByteEncoder(valueBytes)
	default:
		raw, ok := value.([]byte)
		if !ok {
			return nil, fmt.Errorf("encode value: no value schema for %s, expected []byte, got %T", p.topic, value)
		}
		msg.Value = sarama.ByteEncoder(raw)
	}

	return msg, nil
}

// drain counts acknowledgements and failures until the producer shuts down.
func (p *Producer) drain() {
	defer close(p.done)

	successes, errs := p.ap.Successes(), p.ap.Errors()
	for successes != nil || errs != nil {
		select {
		case _, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			p.acked.Add(1)
			metrics.ProducedMessages.WithLabelValues(p.topic).Inc()
		case perr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.failed.Add(1)
			metrics.ProduceErrors.WithLabelValues(p.topic).Inc()
			p.logger.Error("Failed to deliver message", zap.Error(perr.Err))
			p.errsMu.Lock()
			p.errs = append(p.errs, perr)
			p.errsMu.Unlock()
		}
	}
}

// Close flushes every buffered message and waits until each one has been
// acknowledged or has failed. It returns a *FlushError if any message was not
// delivered. Close is safe to call more than once.
func (p *Producer) Close() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		p.logger.Info("Flushing producer")
		p.ap.AsyncClose()
		<-p.done

		p.errsMu.Lock()
		defer p.errsMu.Unlock()
		if len(p.errs) > 0 {
			p.closeErr = &FlushError{Topic: p.topic, Errors: p.errs}
		}
		p.logger.Info("Producer closed",
			zap.Int64("acked", p.acked.Load()),
			zap.Int64("failed", p.failed.Load()))
	})
	return p.closeErr
}

// Acked returns the number of messages acknowledged so far.
func (p *Producer) Acked() int64 {
	return p.acked.Load()
}

// Failed returns the number of messages that could not be delivered so far.
func (p *Producer) Failed() int64 {
	return p.failed.Load()
}

// CurrentTimeKey returns the current time in milliseconds, for use as a
// message key when there is no natural one. Successive calls never go back
// in time, even if the wall clock does.
func (p *Producer) CurrentTimeKey() int64 {
	now := time.Now().UnixMilli()
	for {
		last := p.lastTime.Load()
		if now <= last {
			return last
		}
		if p.lastTime.CompareAndSwap(last, now) {
			return now
		}
	}
}
