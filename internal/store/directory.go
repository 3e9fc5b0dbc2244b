package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fleet-monitor/sentinel/internal/domain"
)

const contactColumns = `id, full_name, COALESCE(line_user_id, ''), COALESCE(email, ''), COALESCE(phone, '')`

func scanContact(row pgx.Row) (*domain.Contact, error) {
	var c domain.Contact
	if err := row.Scan(&c.ID, &c.Name, &c.LineUserID, &c.Email, &c.Phone); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *TimescaleStore) Dispatchers(ctx context.Context) ([]domain.Contact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+contactColumns+`
		FROM user_profiles
		WHERE role = 'dispatcher' AND is_active
		ORDER BY full_name
	`)
	if err != nil {
		return nil, fmt.Errorf("query dispatchers: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Supervisor returns nil, nil when the driver has none.
func (s *TimescaleStore) Supervisor(ctx context.Context, driverID string) (*domain.Contact, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+contactColumns+`
		FROM user_profiles
		WHERE id = (SELECT supervisor_id FROM user_profiles WHERE id = $1)
	`, driverID)
	return optional(scanContact(row))
}

func (s *TimescaleStore) Driver(ctx context.Context, driverID string) (*domain.Contact, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM user_profiles WHERE id = $1`, driverID)
	return optional(scanContact(row))
}

func (s *TimescaleStore) Job(ctx context.Context, jobID string) (*domain.JobInfo, error) {
	var j domain.JobInfo
	err := s.pool.QueryRow(ctx, `
		SELECT id, reference, COALESCE(customer_name, ''), COALESCE(customer_phone, '')
		FROM jobs
		WHERE id = $1
	`, jobID).Scan(&j.ID, &j.Reference, &j.CustomerName, &j.CustomerPhone)
	return optional(&j, err)
}

func (s *TimescaleStore) RecordCustomerNotification(ctx context.Context, jobID, kind, message string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customer_notifications (job_id, type, message, sent_at)
		VALUES ($1, $2, $3, NOW())
	`, jobID, kind, message)
	return err
}

func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
