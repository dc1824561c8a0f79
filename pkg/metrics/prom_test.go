package metrics

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	Serve(ctx, &wg, zap.NewNop(), &http.Server{
		Addr:              "127.0.0.1:0",
		Handler:           http.NotFoundHandler(),
		ReadHeaderTimeout: time.Second,
	}, time.Second)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestCollectorsRegistered(t *testing.T) {
	RecordsProcessed.WithLabelValues("test.metrics", ResultClassified).Add(0)
	TableUpserts.WithLabelValues("test.metrics.table").Add(0)

	assert.Equal(t, 1, testutil.CollectAndCount(RecordsProcessed, "stations_records_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(TableUpserts, "stations_table_upserts_total"))
}
