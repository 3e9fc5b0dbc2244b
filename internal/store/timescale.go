package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-monitor/sentinel/internal/config"
	"fleet-monitor/sentinel/internal/domain"
)

// TimescaleStore owns the Postgres pool shared by the exception
// recorder, the remote-write backend and the telemetry history.
type TimescaleStore struct {
	pool *pgxpool.Pool
}

func NewTimescaleStore(ctx context.Context, cfg *config.Config) (*TimescaleStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{pool: pool}, nil
}

func (s *TimescaleStore) Close() {
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *TimescaleStore) Pool() *pgxpool.Pool {
	return s.pool
}

var telemetryColumns = []string{
	"timestamp",
	"driver_id",
	"job_id",
	"latitude",
	"longitude",
	"accuracy",
	"gps_status",
	"offline_duration",
	"is_stopped",
	"stop_duration",
	"distance_from_route",
	"eta_delay",
	"speed",
	"speed_limit",
	"emergency_triggered",
}

// InsertSnapshots copies a batch into the driver_telemetry hypertable.
func (s *TimescaleStore) InsertSnapshots(ctx context.Context, batch []*domain.TelemetrySnapshot) error {
	if len(batch) == 0 {
		return nil
	}

	rows := make([][]any, len(batch))
	for i, m := range batch {
		var jobID any
		if m.JobID != "" {
			jobID = m.JobID
		}
		rows[i] = []any{
			m.Timestamp,
			m.DriverID,
			jobID,
			m.Location.Lat,
			m.Location.Lng,
			m.Location.Accuracy,
			string(m.GPSStatus),
			m.OfflineDuration,
			m.IsStopped,
			m.StopDuration,
			m.DistanceFromRoute,
			m.ETADelay,
			m.Speed,
			m.SpeedLimit,
			m.EmergencyTriggered,
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"driver_telemetry"},
		telemetryColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(batch), err)
	}

	return nil
}
