// internal/store/postgres/donors.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bloodlink/internal/geo"
	"bloodlink/internal/matching"
	"bloodlink/internal/models"
	"bloodlink/internal/offers"

	"github.com/lib/pq"
)

const donorColumns = `id, user_id, blood_type, latitude, longitude, available, last_donation, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDonor(row rowScanner) (*models.Donor, error) {
	var (
		d         models.Donor
		bloodType string
		lat, lng  sql.NullFloat64
		last      sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.UserID, &bloodType, &lat, &lng, &d.Available, &last, &d.UpdatedAt); err != nil {
		return nil, err
	}
	bt, err := models.ParseBloodType(bloodType)
	if err != nil {
		return nil, fmt.Errorf("donor %s: %w", d.ID, err)
	}
	d.BloodType = bt
	if lat.Valid && lng.Valid {
		d.Location = &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	d.LastDonation = nullTime(last)
	return &d, nil
}

func (s *Store) GetDonor(ctx context.Context, id string) (*models.Donor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+donorColumns+` FROM donors WHERE id = $1`, id)
	d, err := scanDonor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, offers.ErrNotFound
	}
	return d, err
}

// GetDonorByUser resolves the donor profile of an account.
func (s *Store) GetDonorByUser(ctx context.Context, userID string) (*models.Donor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+donorColumns+` FROM donors WHERE user_id = $1`, userID)
	d, err := scanDonor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, offers.ErrNotFound
	}
	return d, err
}

// UpsertDonor inserts or replaces a donor profile.
func (s *Store) UpsertDonor(ctx context.Context, d models.Donor) error {
	var lat, lng sql.NullFloat64
	if d.Location != nil {
		lat = sql.NullFloat64{Float64: d.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: d.Location.Lng, Valid: true}
	}
	var last sql.NullTime
	if d.LastDonation != nil {
		last = sql.NullTime{Time: *d.LastDonation, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO donors (id, user_id, blood_type, latitude, longitude, available, last_donation, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			blood_type = EXCLUDED.blood_type,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			available = EXCLUDED.available,
			last_donation = EXCLUDED.last_donation,
			updated_at = EXCLUDED.updated_at`,
		d.ID, d.UserID, d.BloodType.String(), lat, lng, d.Available, last, d.UpdatedAt)
	return err
}

// SearchDonors is a bounding-box scan over located, available donors of the
// requested types who are out of cooldown, nearest first. Rows outside the
// box after antimeridian handling are dropped here; exact radius filtering is
// left to the ranking step.
func (s *Store) SearchDonors(ctx context.Context, q matching.DonorQuery) ([]models.Donor, error) {
	box, sqlb := sqlBox(q.Center, q.RadiusMeters)
	types := make([]string, 0, len(q.BloodTypes))
	for _, bt := range q.BloodTypes {
		types = append(types, bt.String())
	}

	var cutoff sql.NullTime
	if !q.DonatedBefore.IsZero() {
		cutoff = sql.NullTime{Time: q.DonatedBefore.UTC(), Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+donorColumns+`
		FROM donors
		WHERE available
		  AND latitude BETWEEN $1 AND $2
		  AND longitude BETWEEN $3 AND $4
		  AND blood_type = ANY($5)
		  AND ($6::timestamptz IS NULL OR last_donation IS NULL OR last_donation <= $6)
		ORDER BY `+nearestFirst(7)+`, id
		LIMIT $10`,
		sqlb.MinLat, sqlb.MaxLat, sqlb.MinLng, sqlb.MaxLng, pq.Array(types), cutoff,
		q.Center.Lat, q.Center.Lng, lngScale(q.Center), searchLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("search donors: %w", err)
	}
	defer rows.Close()

	var out []models.Donor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, err
		}
		if d.Location != nil && box.Contains(*d.Location) {
			out = append(out, *d)
		}
	}
	return out, rows.Err()
}

func searchLimit(n int) int {
	if n <= 0 {
		return 500
	}
	return n
}

var _ matching.DonorSource = (*Store)(nil)
