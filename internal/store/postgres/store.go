// internal/store/postgres/store.go
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"bloodlink/internal/common/logger"
	"bloodlink/internal/geo"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Store is the relational system of record for donors, blood requests and
// offers. It backs the offer state machine and serves as the fallback
// candidate source for matching.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

func New(db *sql.DB, log logger.Logger) *Store {
	return &Store{db: db, logger: logger.Component(log, "postgres-store")}
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// sqlBox clamps a bounding box to what a plain BETWEEN can express. Boxes
// crossing the antimeridian keep the full longitude range and are narrowed
// in Go afterwards.
func sqlBox(center geo.Point, radiusMeters float64) (geo.Box, geo.Box) {
	box := geo.BoundingBox(center, radiusMeters)
	q := box
	if q.MinLng < -180 || q.MaxLng > 180 {
		q.MinLng, q.MaxLng = -180, 180
	}
	q.MinLat = math.Max(-90, q.MinLat)
	q.MaxLat = math.Min(90, q.MaxLat)
	return box, q
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// nearestFirst is an ORDER BY expression over the equirectangular distance
// to the point bound at $n (lat), $n+1 (lng) with the longitude scale at $n+2.
// It orders like the great-circle distance at search radii and wraps at the
// antimeridian.
func nearestFirst(n int) string {
	return fmt.Sprintf(
		`power(latitude - $%[1]d, 2) + power(LEAST(ABS(longitude - $%[2]d), 360 - ABS(longitude - $%[2]d)) * $%[3]d, 2)`,
		n, n+1, n+2)
}

func lngScale(center geo.Point) float64 {
	return math.Cos(center.Lat * math.Pi / 180)
}
