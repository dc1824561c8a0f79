// Package seed loads the CTA station reference table from PostgreSQL and
// produces one raw station record per row to the stations topic.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/edgeflare/stations/pkg/station"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const selectStations = `SELECT stop_id, direction_id, stop_name, station_name,
	station_descriptive_name, station_id, "order", red, blue, green
FROM %s
ORDER BY station_id, stop_id`

// Querier is satisfied by *pgx.Conn and *pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Sender is satisfied by *kafka.Producer built with station.KeySchema and
// station.RecordSchema.
type Sender interface {
	Send(ctx context.Context, key, value any) error
	Close() error
}

// Seeder copies station rows into the stations topic.
type Seeder struct {
	db     Querier
	logger *zap.Logger
	table  string
}

// New returns a Seeder reading from table, which may be schema-qualified.
func New(db Querier, table string, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{db: db, table: table, logger: logger}
}

// Load reads every station row.
func (s *Seeder) Load(ctx context.Context) ([]station.Record, error) {
	ident := pgx.Identifier(strings.Split(s.table, "."))
	rows, err := s.db.Query(ctx, fmt.Sprintf(selectStations, ident.Sanitize()))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[station.Record])
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.table, err)
	}
	return records, nil
}

// Seed sends every valid station row keyed by station id and closes
// producer, whatever the outcome, so buffered records are flushed. Rows
// failing validation are logged and skipped. It returns the number of
// records sent.
func (s *Seeder) Seed(ctx context.Context, producer Sender) (sent int, err error) {
	defer func() {
		if cerr := producer.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	records, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}

	for _, r := range records {
		if verr := r.Validate(); verr != nil {
			s.logger.Warn("Skipping station row", zap.Int("stopID", r.StopID), zap.Error(verr))
			continue
		}
		if err := producer.Send(ctx, r.StationID, r.Native()); err != nil {
			return sent, fmt.Errorf("send station %d stop %d: %w", r.StationID, r.StopID, err)
		}
		sent++
	}

	s.logger.Info("Stations seeded", zap.String("table", s.table), zap.Int("sent", sent))
	return sent, nil
}
