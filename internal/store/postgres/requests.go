// internal/store/postgres/requests.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bloodlink/internal/matching"
	"bloodlink/internal/models"
	"bloodlink/internal/offers"

	"github.com/lib/pq"
)

const requestColumns = `id, requester_id, blood_type, urgency, latitude, longitude, units_needed, fulfilled, accepted_offer_id, version, created_at, updated_at`

func scanRequest(row rowScanner) (*models.BloodRequest, error) {
	var (
		r         models.BloodRequest
		bloodType string
		urgency   int
		accepted  sql.NullString
	)
	err := row.Scan(&r.ID, &r.RequesterID, &bloodType, &urgency, &r.Location.Lat, &r.Location.Lng,
		&r.UnitsNeeded, &r.Fulfilled, &accepted, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	bt, err := models.ParseBloodType(bloodType)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", r.ID, err)
	}
	r.BloodType = bt
	r.Urgency = models.Urgency(urgency)
	if accepted.Valid {
		id := accepted.String
		r.AcceptedOfferID = &id
	}
	return &r, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*models.BloodRequest, error) {
	return getRequest(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getRequest(ctx context.Context, q queryRower, id string) (*models.BloodRequest, error) {
	row := q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM blood_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, offers.ErrNotFound
	}
	return r, err
}

// CreateRequest stores a new open request at version 0.
func (s *Store) CreateRequest(ctx context.Context, r models.BloodRequest) error {
	if err := r.Location.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blood_requests (id, requester_id, blood_type, urgency, latitude, longitude, units_needed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		r.ID, r.RequesterID, r.BloodType.String(), int(r.Urgency), r.Location.Lat, r.Location.Lng, r.UnitsNeeded, r.CreatedAt)
	return err
}

// SearchRequests scans open requests inside the bounding box, nearest first.
func (s *Store) SearchRequests(ctx context.Context, q matching.RequestQuery) ([]models.BloodRequest, error) {
	box, sqlb := sqlBox(q.Center, q.RadiusMeters)
	types := make([]string, 0, len(q.BloodTypes))
	for _, bt := range q.BloodTypes {
		types = append(types, bt.String())
	}
	minUrgency := int(q.MinUrgency)
	if minUrgency == 0 {
		minUrgency = int(models.UrgencyLow)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM blood_requests
		WHERE NOT fulfilled
		  AND latitude BETWEEN $1 AND $2
		  AND longitude BETWEEN $3 AND $4
		  AND blood_type = ANY($5)
		  AND urgency >= $6
		ORDER BY `+nearestFirst(7)+`, id
		LIMIT $10`,
		sqlb.MinLat, sqlb.MaxLat, sqlb.MinLng, sqlb.MaxLng, pq.Array(types), minUrgency,
		q.Center.Lat, q.Center.Lng, lngScale(q.Center), searchLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("search requests: %w", err)
	}
	defer rows.Close()

	var out []models.BloodRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		if box.Contains(r.Location) {
			out = append(out, *r)
		}
	}
	return out, rows.Err()
}

var _ matching.RequestSource = (*Store)(nil)
