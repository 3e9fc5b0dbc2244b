package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"

	"fleet-monitor/sentinel/internal/domain"
)

// profileColumns are the user_profiles columns a profile_update may
// touch.
var profileColumns = map[string]bool{
	"full_name":         true,
	"phone":             true,
	"email":             true,
	"line_user_id":      true,
	"avatar_url":        true,
	"license_number":    true,
	"emergency_contact": true,
	"emergency_phone":   true,
}

func (s *TimescaleStore) InsertDriverLog(ctx context.Context, l domain.DriverLog) error {
	query := `
		INSERT INTO driver_logs
			(driver_id, job_reference, action, latitude, longitude, accuracy, logged_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.pool.Exec(ctx, query,
		l.DriverID,
		l.JobReference,
		string(l.Action),
		l.Latitude,
		l.Longitude,
		l.Accuracy,
		l.At,
	)
	return err
}

func (s *TimescaleStore) UpsertDriverLocation(ctx context.Context, l domain.DriverLocation) error {
	query := `
		INSERT INTO driver_locations
			(driver_id, latitude, longitude, accuracy, speed, battery, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (driver_id) DO UPDATE SET
			latitude   = EXCLUDED.latitude,
			longitude  = EXCLUDED.longitude,
			accuracy   = EXCLUDED.accuracy,
			speed      = EXCLUDED.speed,
			battery    = EXCLUDED.battery,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, query,
		l.DriverID,
		l.Latitude,
		l.Longitude,
		l.Accuracy,
		l.Speed,
		l.Battery,
		l.UpdatedAt,
	)
	return err
}

func (s *TimescaleStore) InsertJobPhoto(ctx context.Context, p domain.JobPhoto) error {
	query := `
		INSERT INTO job_photos (job_id, stop_id, url, uploaded_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.pool.Exec(ctx, query, p.JobID, p.StopID, p.URL, p.UploadedAt)
	return err
}

func (s *TimescaleStore) InsertAlcoholTest(ctx context.Context, t domain.AlcoholTest) error {
	query := `
		INSERT INTO alcohol_tests (driver_id, job_id, result, photo_url, tested_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
	`
	_, err := s.pool.Exec(ctx, query, t.DriverID, t.JobID, t.Result, t.PhotoURL, t.TestedAt)
	return err
}

// UpdateProfile rejects any column outside profileColumns.
func (s *TimescaleStore) UpdateProfile(ctx context.Context, profileID string, updates map[string]any) error {
	query, args, err := profileUpdate(profileID, updates)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %s: %w", profileID, domain.ErrNotFound)
	}
	return nil
}

func profileUpdate(profileID string, updates map[string]any) (string, []any, error) {
	if len(updates) == 0 {
		return "", nil, fmt.Errorf("profile %s: no columns to update", profileID)
	}
	cols := slices.Sorted(maps.Keys(updates))

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		if !profileColumns[col] {
			return "", nil, fmt.Errorf("profile %s: column %q cannot be updated", profileID, col)
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), i+1))
		args = append(args, updates[col])
	}
	args = append(args, profileID)

	query := fmt.Sprintf(
		"UPDATE user_profiles SET %s, updated_at = NOW() WHERE id = $%d",
		strings.Join(sets, ", "),
		len(args),
	)
	return query, args, nil
}
