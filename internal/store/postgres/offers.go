// internal/store/postgres/offers.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bloodlink/internal/common/database"
	"bloodlink/internal/models"
	"bloodlink/internal/offers"
)

const offerColumns = `id, donor_id, request_id, status, message, created_at, responded_at`

func scanOffer(row rowScanner) (*models.Offer, error) {
	var (
		o         models.Offer
		status    string
		responded sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.DonorID, &o.RequestID, &status, &o.Message, &o.CreatedAt, &responded); err != nil {
		return nil, err
	}
	o.Status = models.OfferStatus(status)
	o.RespondedAt = nullTime(responded)
	return &o, nil
}

func (s *Store) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
	o, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, offers.ErrNotFound
	}
	return o, err
}

// CreateOffer relies on the partial unique index over active offers, so two
// concurrent sends from the same donor cannot both land. The insert only
// happens while the request row, share-locked, is still unfulfilled; an
// Accept holding that row blocks it until commit and then it inserts nothing.
func (s *Store) CreateOffer(ctx context.Context, o models.Offer) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO offers (id, donor_id, request_id, status, message, created_at)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::text, $6::timestamptz
		WHERE EXISTS (
			SELECT 1 FROM blood_requests WHERE id = $3 AND NOT fulfilled FOR SHARE
		)`,
		o.ID, o.DonorID, o.RequestID, string(o.Status), o.Message, o.CreatedAt)
	if isUniqueViolation(err) {
		return offers.ErrDuplicateOffer
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return offers.ErrRequestClosed
	}
	return nil
}

func (s *Store) ListOffers(ctx context.Context, requestID string) ([]models.Offer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE request_id = $1 ORDER BY created_at, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// Accept runs the accept transition in one transaction. The request update
// is conditional on version and fulfilled=false; when it touches no row the
// transaction is rolled back with ErrVersionConflict.
func (s *Store) Accept(ctx context.Context, cmd offers.AcceptCommand) (*offers.AcceptResult, error) {
	var res offers.AcceptResult
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE blood_requests
			SET fulfilled = true, accepted_offer_id = $1, version = version + 1, updated_at = $2
			WHERE id = $3 AND version = $4 AND NOT fulfilled`,
			cmd.OfferID, cmd.At, cmd.RequestID, cmd.Version)
		if err != nil {
			return fmt.Errorf("fulfil request: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return offers.ErrVersionConflict
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE offers SET status = 'accepted', responded_at = $1
			WHERE id = $2 AND request_id = $3 AND status = 'pending'
			RETURNING `+offerColumns,
			cmd.At, cmd.OfferID, cmd.RequestID)
		accepted, err := scanOffer(row)
		if errors.Is(err, sql.ErrNoRows) {
			return offers.ErrOfferNotPending
		}
		if err != nil {
			return fmt.Errorf("accept offer: %w", err)
		}
		res.Accepted = *accepted

		rows, err := tx.QueryContext(ctx, `
			UPDATE offers SET status = 'rejected', responded_at = $1
			WHERE request_id = $2 AND id <> $3 AND status = 'pending'
			RETURNING `+offerColumns,
			cmd.At, cmd.RequestID, cmd.OfferID)
		if err != nil {
			return fmt.Errorf("reject offers: %w", err)
		}
		for rows.Next() {
			o, err := scanOffer(rows)
			if err != nil {
				rows.Close()
				return err
			}
			res.Rejected = append(res.Rejected, *o)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		req, err := getRequest(ctx, tx, cmd.RequestID)
		if err != nil {
			return err
		}
		res.Request = *req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("accept committed", map[string]interface{}{
		"requestId": cmd.RequestID,
		"offerId":   cmd.OfferID,
		"rejected":  len(res.Rejected),
	})
	return &res, nil
}

var _ offers.Store = (*Store)(nil)
