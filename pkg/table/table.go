// Package table implements the stations table: a partitioned key/value view
// of classified stations whose every write is recorded in a changelog topic,
// so that the full table can be rebuilt by replaying that topic.
package table

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/edgeflare/stations/pkg/kafka"
	"github.com/edgeflare/stations/pkg/metrics"
	"github.com/edgeflare/stations/pkg/station"
	"go.uber.org/zap"
)

var (
	ErrNotReady          = errors.New("table is recovering")
	ErrPartitionMismatch = errors.New("changelog partition count does not match table")
)

// Config describes a table. Name is also the name of its changelog topic.
type Config struct {
	Name       string `mapstructure:"name"`
	Partitions int32  `mapstructure:"partitions"`
}

// ChangelogTopic returns the topic the table is recorded in.
func (c Config) ChangelogTopic(replicationFactor int16) kafka.Topic {
	return kafka.Topic{
		Name:              c.Name,
		Partitions:        c.Partitions,
		ReplicationFactor: replicationFactor,
		Config:            kafka.ChangelogConfig(),
	}
}

// Changelog records table writes. *kafka.Producer satisfies it when built
// with station.KeySchema and station.ViewSchema.
type Changelog interface {
	SendTo(ctx context.Context, partition int32, key, value any) error
}

// EndOffsetFunc reports the offset the next message produced to a partition
// will get. kafka.NewestOffset returns one.
type EndOffsetFunc func(topic string, partition int32) (int64, error)

// Table is the stations table. Reads are refused until Recover has
// completed.
type Table struct {
	changelog  Changelog
	logger     *zap.Logger
	hash       sarama.Partitioner
	stores     []Store
	// locks[p] is held across the changelog write and the store write of
	// partition p, so both see the same order of writes.
	locks      []sync.Mutex
	name       string
	partitions int32
	ready      atomic.Bool
}

// New creates a table with one store per partition, created by newStore.
func New(cfg Config, newStore func(partition int32) Store, changelog Changelog, logger *zap.Logger) *Table {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Table{
		name:       cfg.Name,
		partitions: cfg.Partitions,
		changelog:  changelog,
		logger:     logger.With(zap.String("table", cfg.Name)),
		hash:       sarama.NewHashPartitioner(cfg.Name),
		stores:     make([]Store, cfg.Partitions),
		locks:      make([]sync.Mutex, cfg.Partitions),
	}
	for p := range t.stores {
		t.stores[p] = newStore(int32(p))
	}
	return t
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Ready reports whether recovery has completed.
func (t *Table) Ready() bool {
	return t.ready.Load()
}

// Partition returns the partition that holds id. It matches the partition
// sarama's hash partitioner picks for the Avro-encoded station id.
func (t *Table) Partition(id int) (int32, error) {
	key, err := station.KeySchema.Encode(id)
	if err != nil {
		return 0, err
	}
	return t.hash.Partition(&sarama.ProducerMessage{Key: sarama.ByteEncoder(key)}, t.partitions)
}

// Upsert records v in the changelog and then replaces the stored entry for
// v.StationID. The last write for an id wins. Upserts to the same partition
// are serialized, so the store always holds what replaying the changelog
// would produce.
func (t *Table) Upsert(ctx context.Context, v station.View) error {
	if !v.Line.Valid() {
		return fmt.Errorf("upsert %d: invalid line %q", v.StationID, v.Line)
	}
	p, err := t.Partition(v.StationID)
	if err != nil {
		return fmt.Errorf("upsert %d: %w", v.StationID, err)
	}

	t.locks[p].Lock()
	defer t.locks[p].Unlock()
	if err := t.changelog.SendTo(ctx, p, v.StationID, v.Native()); err != nil {
		return fmt.Errorf("upsert %d: changelog: %w", v.StationID, err)
	}
	if err := t.stores[p].Put(ctx, v); err != nil {
		return fmt.Errorf("upsert %d: %w", v.StationID, err)
	}
	metrics.TableUpserts.WithLabelValues(t.name).Inc()
	return nil
}

// Get returns the entry for id.
func (t *Table) Get(ctx context.Context, id int) (station.View, bool, error) {
	if !t.Ready() {
		return station.View{}, false, ErrNotReady
	}
	p, err := t.Partition(id)
	if err != nil {
		return station.View{}, false, err
	}
	return t.stores[p].Get(ctx, id)
}

// All returns every entry ordered by order and then station id.
func (t *Table) All(ctx context.Context) ([]station.View, error) {
	if !t.Ready() {
		return nil, ErrNotReady
	}
	var views []station.View
	for _, s := range t.stores {
		part, err := s.All(ctx)
		if err != nil {
			return nil, err
		}
		views = append(views, part...)
	}
	sortViews(views)
	return views, nil
}

// Recover rebuilds the table from its changelog. Every store is reset, then
// each changelog partition is replayed into the store of the same partition
// from the oldest offset up to the end offset observed when recovery
// started. The table serves reads once every partition has been replayed.
func (t *Table) Recover(ctx context.Context, consumer sarama.Consumer, endOffset EndOffsetFunc) error {
	t.ready.Store(false)

	partitions, err := consumer.Partitions(t.name)
	if err != nil {
		return fmt.Errorf("list changelog partitions of %s: %w", t.name, err)
	}
	if len(partitions) != int(t.partitions) {
		return fmt.Errorf("%w: %s has %d partition(s), table has %d",
			ErrPartitionMismatch, t.name, len(partitions), t.partitions)
	}

	ends := make(map[int32]int64, len(partitions))
	for _, p := range partitions {
		if p < 0 || p >= t.partitions {
			return fmt.Errorf("%w: unexpected partition %d of %s", ErrPartitionMismatch, p, t.name)
		}
		end, err := endOffset(t.name, p)
		if err != nil {
			return fmt.Errorf("end offset of %s/%d: %w", t.name, p, err)
		}
		ends[p] = end
		if err := t.stores[p].Reset(ctx); err != nil {
			return fmt.Errorf("reset partition %d: %w", p, err)
		}
	}

	t.logger.Info("Recovering table", zap.Int32("partitions", t.partitions))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for p, end := range ends {
		wg.Add(1)
		go func(p int32, end int64) {
			defer wg.Done()
			if err := t.replay(ctx, consumer, p, end); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("replay %s/%d: %w", t.name, p, err))
				mu.Unlock()
			}
		}(p, end)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}

	t.ready.Store(true)
	t.logger.Info("Table recovered")
	return nil
}

// replay applies changelog partition p to its store up to, not including,
// offset end.
func (t *Table) replay(ctx context.Context, consumer sarama.Consumer, p int32, end int64) error {
	if end <= 0 {
		return nil
	}

	pc, err := consumer.ConsumePartition(t.name, p, sarama.OffsetOldest)
	if err != nil {
		return err
	}
	defer pc.Close()

	var restored int
	errs := pc.Errors()
	for {
		select {
		case msg, ok := <-pc.Messages():
			if !ok {
				return errors.New("changelog consumer closed before end offset")
			}
			applied, err := t.apply(ctx, p, msg)
			if err != nil {
				return err
			}
			if applied {
				restored++
			}
			if msg.Offset >= end-1 {
				t.logger.Info("Partition recovered",
					zap.Int32("partition", p),
					zap.Int("restored", restored))
				return nil
			}
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return cerr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// apply writes one changelog record to the store of partition p. Records
// that cannot be decoded are skipped.
func (t *Table) apply(ctx context.Context, p int32, msg *sarama.ConsumerMessage) (bool, error) {
	if msg.Value == nil {
		return false, nil
	}
	v, err := station.DecodeView(msg.Value)
	if err != nil {
		t.logger.Warn("Skipping undecodable changelog record",
			zap.Int32("partition", p),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return false, nil
	}
	if err := t.stores[p].Put(ctx, v); err != nil {
		return false, fmt.Errorf("restore offset %d: %w", msg.Offset, err)
	}
	metrics.ChangelogRestored.WithLabelValues(t.name).Inc()
	return true, nil
}
