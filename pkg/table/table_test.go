package table

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/edgeflare/stations/pkg/kafka"
	"github.com/edgeflare/stations/pkg/schema"
	"github.com/edgeflare/stations/pkg/station"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTable = "cta.stations.table"

type changelogEntry struct {
	value     map[string]any
	key       any
	partition int32
}

// fakeChangelog keeps changelog writes in memory, in send order.
type fakeChangelog struct {
	err     error
	entries []changelogEntry
	mu      sync.Mutex
}

func (c *fakeChangelog) SendTo(_ context.Context, partition int32, key, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.entries = append(c.entries, changelogEntry{partition: partition, key: key, value: value.(map[string]any)})
	return nil
}

// consumer returns a mock consumer that yields the recorded writes as
// wire-format changelog messages, and the end offset of each partition.
func (c *fakeChangelog) consumer(t *testing.T, partitions int32) (*mocks.Consumer, EndOffsetFunc) {
	t.Helper()
	consumer := mocks.NewConsumer(t, nil)

	ids := make([]int32, partitions)
	for p := range ids {
		ids[p] = int32(p)
	}
	consumer.SetTopicMetadata(map[string][]int32{testTable: ids})

	ends := make(map[int32]int64)
	pcs := make(map[int32]*mocks.PartitionConsumer)
	for _, e := range c.entries {
		pc, ok := pcs[e.partition]
		if !ok {
			pc = consumer.ExpectConsumePartition(testTable, e.partition, sarama.OffsetOldest)
			pcs[e.partition] = pc
		}
		payload, err := station.ViewSchema.Encode(e.value)
		require.NoError(t, err)
		pc.YieldMessage(&sarama.ConsumerMessage{Value: schema.Frame(1, payload)})
		ends[e.partition]++
	}

	return consumer, func(topic string, partition int32) (int64, error) {
		assert.Equal(t, testTable, topic)
		return ends[partition], nil
	}
}

func memoryStores(int32) Store {
	return NewMemoryStore()
}

func newReadyTable(t *testing.T, partitions int32, changelog Changelog) *Table {
	t.Helper()
	tbl := New(Config{Name: testTable, Partitions: partitions}, memoryStores, changelog, nil)
	empty := &fakeChangelog{}
	consumer, ends := empty.consumer(t, partitions)
	require.NoError(t, tbl.Recover(context.Background(), consumer, ends))
	return tbl
}

func view(id int, name string, order int, line station.Line) station.View {
	return station.View{StationID: id, StationName: name, Order: order, Line: line}
}

func TestUpsertLastWriteWins(t *testing.T) {
	ctx := context.Background()
	tbl := newReadyTable(t, 1, &fakeChangelog{})

	v1 := view(40010, "Merchandise Mart", 5, station.LineRed)
	v2 := view(40010, "Merchandise Mart", 5, station.LineRed)
	v2.Order = 6

	require.NoError(t, tbl.Upsert(ctx, v1))
	require.NoError(t, tbl.Upsert(ctx, v2))

	got, ok, err := tbl.Get(ctx, 40010)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v2, got)

	all, err := tbl.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertWritesChangelogFirst(t *testing.T) {
	ctx := context.Background()

	t.Run("changelog partition matches table partition", func(t *testing.T) {
		changelog := &fakeChangelog{}
		tbl := newReadyTable(t, 4, changelog)

		for id := 40000; id < 40020; id++ {
			require.NoError(t, tbl.Upsert(ctx, view(id, "s", id-40000, station.LineBlue)))
		}

		require.Len(t, changelog.entries, 20)
		for _, e := range changelog.entries {
			p, err := tbl.Partition(e.key.(int))
			require.NoError(t, err)
			assert.Equal(t, p, e.partition)
			assert.Equal(t, "blue", e.value["line"])
		}
	})

	t.Run("failed changelog write leaves table unchanged", func(t *testing.T) {
		changelog := &fakeChangelog{err: sarama.ErrOutOfBrokers}
		tbl := newReadyTable(t, 1, changelog)

		err := tbl.Upsert(ctx, view(40380, "Clark/Lake", 12, station.LineBlue))
		assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)

		_, ok, err := tbl.Get(ctx, 40380)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unclassified view is rejected", func(t *testing.T) {
		changelog := &fakeChangelog{}
		tbl := newReadyTable(t, 1, changelog)

		err := tbl.Upsert(ctx, view(40360, "Southport", 3, station.LineNone))
		assert.Error(t, err)
		assert.Empty(t, changelog.entries)
	})
}

// gatedStore holds its first Put until release is closed.
type gatedStore struct {
	*MemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) Put(ctx context.Context, v station.View) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.MemoryStore.Put(ctx, v)
}

func (c *fakeChangelog) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func TestConcurrentUpsertsFollowChangelogOrder(t *testing.T) {
	ctx := context.Background()
	changelog := &fakeChangelog{}
	store := &gatedStore{
		MemoryStore: NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	tbl := New(Config{Name: testTable, Partitions: 1}, func(int32) Store { return store }, changelog, nil)
	tbl.ready.Store(true)

	v1 := view(40010, "Merchandise Mart", 5, station.LineRed)
	v2 := view(40010, "Merchandise Mart", 6, station.LineRed)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, tbl.Upsert(ctx, v1))
	}()
	<-store.entered

	go func() {
		defer wg.Done()
		assert.NoError(t, tbl.Upsert(ctx, v2))
	}()
	assert.Never(t, func() bool { return changelog.len() > 1 }, 50*time.Millisecond, 5*time.Millisecond,
		"second upsert reached the changelog while the first was still writing its store")

	close(store.release)
	wg.Wait()

	require.Len(t, changelog.entries, 2)
	assert.Equal(t, 5, changelog.entries[0].value["order"])
	assert.Equal(t, 6, changelog.entries[1].value["order"])

	got, ok, err := tbl.Get(ctx, 40010)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v2, got)

	replayed := New(Config{Name: testTable, Partitions: 1}, memoryStores, &fakeChangelog{}, nil)
	consumer, ends := changelog.consumer(t, 1)
	require.NoError(t, replayed.Recover(ctx, consumer, ends))
	restored, ok, err := replayed.Get(ctx, 40010)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, got, restored)
}

func TestPartitionIsStable(t *testing.T) {
	a := New(Config{Name: testTable, Partitions: 8}, memoryStores, &fakeChangelog{}, nil)
	b := New(Config{Name: testTable, Partitions: 8}, memoryStores, &fakeChangelog{}, nil)

	for id := 40000; id < 40100; id++ {
		pa, err := a.Partition(id)
		require.NoError(t, err)
		pb, err := b.Partition(id)
		require.NoError(t, err)
		assert.Equal(t, pa, pb)
		assert.GreaterOrEqual(t, pa, int32(0))
		assert.Less(t, pa, int32(8))
	}
}

func TestReadsRefusedUntilRecovered(t *testing.T) {
	ctx := context.Background()
	tbl := New(Config{Name: testTable}, memoryStores, &fakeChangelog{}, nil)

	_, _, err := tbl.Get(ctx, 40010)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = tbl.All(ctx)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.False(t, tbl.Ready())
}

func TestRecover(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		const partitions = 3
		changelog := &fakeChangelog{}
		src := newReadyTable(t, partitions, changelog)

		want := make(map[int]station.View)
		lines := []station.Line{station.LineRed, station.LineBlue, station.LineGreen}
		for round := 0; round < 2; round++ {
			for i := 0; i < 25; i++ {
				v := view(40000+i*10, fmt.Sprintf("station %d.%d", i, round), i+round, lines[i%3])
				require.NoError(t, src.Upsert(ctx, v))
				want[v.StationID] = v
			}
		}

		restored := New(Config{Name: testTable, Partitions: partitions}, memoryStores, &fakeChangelog{}, nil)
		consumer, ends := changelog.consumer(t, partitions)
		require.NoError(t, restored.Recover(ctx, consumer, ends))
		require.True(t, restored.Ready())

		for id, v := range want {
			got, ok, err := restored.Get(ctx, id)
			require.NoError(t, err)
			require.True(t, ok, "station %d", id)
			assert.Equal(t, v, got)
		}
		all, err := restored.All(ctx)
		require.NoError(t, err)
		assert.Len(t, all, len(want))
	})

	t.Run("empty changelog completes immediately", func(t *testing.T) {
		tbl := New(Config{Name: testTable, Partitions: 2}, memoryStores, &fakeChangelog{}, nil)
		consumer, ends := (&fakeChangelog{}).consumer(t, 2)

		require.NoError(t, tbl.Recover(ctx, consumer, ends))
		all, err := tbl.All(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("stale local state is discarded", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Put(ctx, view(41400, "Roosevelt", 14, station.LineGreen)))
		tbl := New(Config{Name: testTable}, func(int32) Store { return store }, &fakeChangelog{}, nil)

		consumer, ends := (&fakeChangelog{}).consumer(t, 1)
		require.NoError(t, tbl.Recover(ctx, consumer, ends))

		_, ok, err := tbl.Get(ctx, 41400)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("undecodable records are skipped", func(t *testing.T) {
		consumer := mocks.NewConsumer(t, nil)
		consumer.SetTopicMetadata(map[string][]int32{testTable: {0}})
		pc := consumer.ExpectConsumePartition(testTable, 0, sarama.OffsetOldest)

		good, err := station.EncodeView(1, view(40010, "Merchandise Mart", 5, station.LineRed))
		require.NoError(t, err)
		pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte(`{"station_id":1}`)})
		pc.YieldMessage(&sarama.ConsumerMessage{Value: nil})
		pc.YieldMessage(&sarama.ConsumerMessage{Value: good})

		tbl := New(Config{Name: testTable}, memoryStores, &fakeChangelog{}, nil)
		err = tbl.Recover(ctx, consumer, func(string, int32) (int64, error) { return 3, nil })
		require.NoError(t, err)

		all, err := tbl.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []station.View{view(40010, "Merchandise Mart", 5, station.LineRed)}, all)
	})

	t.Run("partition count mismatch", func(t *testing.T) {
		tbl := New(Config{Name: testTable, Partitions: 1}, memoryStores, &fakeChangelog{}, nil)
		consumer, ends := (&fakeChangelog{}).consumer(t, 3)

		err := tbl.Recover(ctx, consumer, ends)
		assert.ErrorIs(t, err, ErrPartitionMismatch)
		assert.False(t, tbl.Ready())
	})

	t.Run("end offset lookup failure", func(t *testing.T) {
		tbl := New(Config{Name: testTable}, memoryStores, &fakeChangelog{}, nil)
		consumer, _ := (&fakeChangelog{}).consumer(t, 1)

		err := tbl.Recover(ctx, consumer, func(string, int32) (int64, error) {
			return 0, errors.New("leader not available")
		})
		assert.ErrorContains(t, err, "leader not available")
		assert.False(t, tbl.Ready())
	})
}

func TestUpsertThroughProducer(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	mp := mocks.NewAsyncProducer(t, cfg)
	mp.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		v, err := station.DecodeView(val)
		if err != nil {
			return err
		}
		if v.Line != station.LineGreen {
			return fmt.Errorf("unexpected line %q", v.Line)
		}
		return nil
	})

	producer, err := kafka.NewProducer(context.Background(), kafka.ProducerConfig{
		Topic:       Config{Name: testTable}.ChangelogTopic(1),
		KeySchema:   station.KeySchema,
		ValueSchema: station.ViewSchema,
	}, kafka.ProducerDeps{
		Open: func() (sarama.AsyncProducer, error) { return mp, nil },
	})
	require.NoError(t, err)

	tbl := newReadyTable(t, 1, producer)
	require.NoError(t, tbl.Upsert(context.Background(), view(40020, "Harlem/Lake", 1, station.LineGreen)))
	require.NoError(t, producer.Close())
	assert.Equal(t, int64(1), producer.Acked())
}
