// internal/store/postgres/export.go
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"bloodlink/internal/models"
)

// EachDonor streams every donor row to fn in id order. Iteration stops at the
// first error fn returns.
func (s *Store) EachDonor(ctx context.Context, fn func(models.Donor) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+donorColumns+` FROM donors ORDER BY id`)
	if err != nil {
		return fmt.Errorf("list donors: %w", err)
	}
	return each(rows, scanDonor, fn)
}

// EachOpenRequest streams unfulfilled requests to fn in id order.
func (s *Store) EachOpenRequest(ctx context.Context, fn func(models.BloodRequest) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM blood_requests WHERE NOT fulfilled ORDER BY id`)
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}
	return each(rows, scanRequest, fn)
}

// EachFulfilledRequest streams fulfilled requests to fn in id order.
func (s *Store) EachFulfilledRequest(ctx context.Context, fn func(models.BloodRequest) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM blood_requests WHERE fulfilled ORDER BY id`)
	if err != nil {
		return fmt.Errorf("list fulfilled requests: %w", err)
	}
	return each(rows, scanRequest, fn)
}

func each[T any](rows *sql.Rows, scan func(rowScanner) (*T, error), fn func(T) error) error {
	defer rows.Close()
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return err
		}
		if err := fn(*item); err != nil {
			return err
		}
	}
	return rows.Err()
}
