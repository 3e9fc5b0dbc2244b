package exceptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-monitor/sentinel/internal/clock"
	"fleet-monitor/sentinel/internal/domain"
)

// PostgresRecorder stores exceptions in the job_exceptions table.
type PostgresRecorder struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

func NewPostgresRecorder(pool *pgxpool.Pool, c clock.Clock) *PostgresRecorder {
	return &PostgresRecorder{pool: pool, clock: c}
}

const exceptionColumns = `
	id, driver_id, job_id, rule_id, severity, message_th, message_en,
	telemetry, location, status, created_at, resolved_by, resolved_at, resolution_note`

func (r *PostgresRecorder) Log(ctx context.Context, in domain.ExceptionInput) (*domain.Exception, error) {
	telemetry, err := json.Marshal(in.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal telemetry: %v", domain.ErrPersistence, err)
	}
	location, err := json.Marshal(in.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal location: %v", domain.ErrPersistence, err)
	}

	query := `
		INSERT INTO job_exceptions
			(id, driver_id, job_id, rule_id, severity, message_th, message_en,
			 telemetry, location, status, created_at)
		VALUES
			($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, 'open', $10)
		RETURNING ` + exceptionColumns

	row := r.pool.QueryRow(
		ctx,
		query,
		uuid.NewString(),
		in.DriverID,
		in.JobID,
		in.RuleID,
		string(in.Severity),
		in.Message.TH,
		in.Message.EN,
		telemetry,
		location,
		r.clock.Now().UTC(),
	)
	e, err := scanException(row)
	if err != nil {
		return nil, fmt.Errorf("%w: insert exception: %v", domain.ErrPersistence, err)
	}
	return e, nil
}

func (r *PostgresRecorder) GetActive(ctx context.Context, driverID string) ([]domain.Exception, error) {
	query := `SELECT ` + exceptionColumns + `
		FROM job_exceptions
		WHERE driver_id = $1 AND status = 'open'
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, driverID)
	if err != nil {
		return nil, fmt.Errorf("query active exceptions: %w", err)
	}
	defer rows.Close()

	var out []domain.Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exception: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exceptions: %w", err)
	}
	return out, nil
}

// Resolve does not check the prior status; a second resolve
// overwrites the resolution fields.
func (r *PostgresRecorder) Resolve(ctx context.Context, id, resolvedBy, note string) (*domain.Exception, error) {
	query := `
		UPDATE job_exceptions
		SET status = 'resolved',
			resolved_by = $2,
			resolved_at = $3,
			resolution_note = $4
		WHERE id = $1
		RETURNING ` + exceptionColumns

	row := r.pool.QueryRow(ctx, query, id, resolvedBy, r.clock.Now().UTC(), note)
	e, err := scanException(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("exception %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve exception %s: %w", id, err)
	}
	return e, nil
}

func (r *PostgresRecorder) Stats(ctx context.Context, from, to time.Time) (domain.ExceptionStats, error) {
	query := `
		SELECT rule_id, severity, status, COUNT(*)
		FROM job_exceptions
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY rule_id, severity, status`

	st := domain.NewExceptionStats()
	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return st, fmt.Errorf("query exception stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ruleID, severity, status string
			count                    int
		)
		if err := rows.Scan(&ruleID, &severity, &status, &count); err != nil {
			return st, fmt.Errorf("scan exception stats: %w", err)
		}
		st.Add(ruleID, domain.Severity(severity), domain.ExceptionStatus(status), count)
	}
	return st, rows.Err()
}

func scanException(row pgx.Row) (*domain.Exception, error) {
	var (
		e                 domain.Exception
		jobID, resolvedBy *string
		note              *string
		severity, status  string
		telemetry         []byte
		location          []byte
	)
	err := row.Scan(
		&e.ID,
		&e.DriverID,
		&jobID,
		&e.RuleID,
		&severity,
		&e.Message.TH,
		&e.Message.EN,
		&telemetry,
		&location,
		&status,
		&e.CreatedAt,
		&resolvedBy,
		&e.ResolvedAt,
		&note,
	)
	if err != nil {
		return nil, err
	}

	e.Severity = domain.Severity(severity)
	e.Status = domain.ExceptionStatus(status)
	if jobID != nil {
		e.JobID = *jobID
	}
	if resolvedBy != nil {
		e.ResolvedBy = *resolvedBy
	}
	if note != nil {
		e.ResolutionNote = *note
	}
	if len(telemetry) > 0 && string(telemetry) != "null" {
		e.Telemetry = &domain.TelemetrySnapshot{}
		if err := json.Unmarshal(telemetry, e.Telemetry); err != nil {
			return nil, fmt.Errorf("decode telemetry: %w", err)
		}
	}
	if len(location) > 0 {
		if err := json.Unmarshal(location, &e.Location); err != nil {
			return nil, fmt.Errorf("decode location: %w", err)
		}
	}
	return &e, nil
}
