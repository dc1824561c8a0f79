// Package stream runs the station classifier over the raw stations topic and
// keeps the stations table up to date.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/edgeflare/stations/pkg/metrics"
	"github.com/edgeflare/stations/pkg/station"
	"go.uber.org/zap"
)

// Upserter is the table the processor writes to.
type Upserter interface {
	Upsert(ctx context.Context, v station.View) error
}

// Config configures a Processor.
type Config struct {
	// Topic carries the raw station records.
	Topic string `mapstructure:"topic"`
	// InitialOffset is where partitions are consumed from. Defaults to
	// sarama.OffsetOldest so that a restarted processor rebuilds every entry.
	InitialOffset int64 `mapstructure:"initialOffset"`
}

// Processor consumes station records, classifies them and upserts the
// classified ones into the table.
type Processor struct {
	consumer sarama.Consumer
	table    Upserter
	logger   *zap.Logger
	topic    string
	offset   int64
}

func New(cfg Config, consumer sarama.Consumer, table Upserter, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	offset := cfg.InitialOffset
	if offset == 0 {
		offset = sarama.OffsetOldest
	}
	return &Processor{
		consumer: consumer,
		table:    table,
		logger:   logger.With(zap.String("topic", cfg.Topic)),
		topic:    cfg.Topic,
		offset:   offset,
	}
}

// Run consumes every partition of the input topic, one goroutine per
// partition, until ctx is canceled. It fails only if consumption cannot
// start.
func (p *Processor) Run(ctx context.Context) error {
	partitions, err := p.consumer.Partitions(p.topic)
	if err != nil {
		return fmt.Errorf("list partitions of %s: %w", p.topic, err)
	}

	pcs := make([]sarama.PartitionConsumer, 0, len(partitions))
	for _, partition := range partitions {
		pc, err := p.consumer.ConsumePartition(p.topic, partition, p.offset)
		if err != nil {
			for _, started := range pcs {
				started.AsyncClose()
			}
			return fmt.Errorf("consume %s/%d: %w", p.topic, partition, err)
		}
		pcs = append(pcs, pc)
	}

	p.logger.Info("Processing station records", zap.Int("partitions", len(pcs)))

	var wg sync.WaitGroup
	for i, pc := range pcs {
		wg.Add(1)
		go func(partition int32, pc sarama.PartitionConsumer) {
			defer wg.Done()
			p.consume(ctx, partition, pc)
		}(partitions[i], pc)
	}
	wg.Wait()

	p.logger.Info("Stream processor stopped")
	return nil
}

// consume applies the records of one partition in offset order.
func (p *Processor) consume(ctx context.Context, partition int32, pc sarama.PartitionConsumer) {
	logger := p.logger.With(zap.Int32("partition", partition))
	defer func() {
		if err := pc.Close(); err != nil {
			logger.Warn("Failed to close partition consumer", zap.Error(err))
		}
	}()

	errs := pc.Errors()
	for {
		select {
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			if err := p.Handle(ctx, msg); err != nil {
				logger.Error("Failed to process station record",
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
			}
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("Consumer error", zap.Error(cerr))
		case <-ctx.Done():
			return
		}
	}
}

// Handle processes one station record. Malformed records are reported with
// an error wrapping station.ErrMalformedRecord; records of stations serving
// none of the tracked lines are skipped without error.
func (p *Processor) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	defer func() {
		metrics.RecordProcessingDuration.WithLabelValues(p.topic).Observe(time.Since(start).Seconds())
	}()

	r, err := station.Decode(msg.Value)
	if err != nil {
		p.count(metrics.ResultMalformed)
		return err
	}

	v, ok := station.ToView(r)
	if !ok {
		p.count(metrics.ResultUnclassified)
		p.logger.Debug("Skipping unclassified station", zap.Int("stationID", r.StationID))
		return nil
	}

	if err := p.table.Upsert(ctx, v); err != nil {
		p.count(metrics.ResultFailed)
		return fmt.Errorf("station %d: %w", v.StationID, err)
	}
	p.count(metrics.ResultClassified)
	return nil
}

func (p *Processor) count(result string) {
	metrics.RecordsProcessed.WithLabelValues(p.topic, result).Inc()
}
