// internal/offers/store.go
package offers

import (
	"context"
	"errors"
	"time"

	"bloodlink/internal/models"
)

var (
	ErrNotFound        = errors.New("offers: not found")
	ErrDuplicateOffer  = errors.New("offers: active offer exists for donor and request")
	ErrVersionConflict = errors.New("offers: request version changed")
	ErrOfferNotPending = errors.New("offers: offer is not pending")
	ErrRequestClosed   = errors.New("offers: request is fulfilled")
)

// AcceptCommand is the three-part accept transition. The store applies it
// only while the request is unfulfilled and still at Version.
type AcceptCommand struct {
	RequestID string
	Version   int64
	OfferID   string
	At        time.Time
}

// AcceptResult is the state after a committed accept.
type AcceptResult struct {
	Request  models.BloodRequest
	Accepted models.Offer
	Rejected []models.Offer
}

// Store is the persistence the state machine needs. Implementations return
// the package sentinel errors so the service can classify outcomes.
type Store interface {
	GetRequest(ctx context.Context, id string) (*models.BloodRequest, error)
	GetDonor(ctx context.Context, id string) (*models.Donor, error)
	GetOffer(ctx context.Context, id string) (*models.Offer, error)
	// CreateOffer inserts a pending offer. It fails with ErrDuplicateOffer
	// when the donor already holds a pending or accepted offer on the request,
	// and with ErrRequestClosed when the request is fulfilled at insert time.
	CreateOffer(ctx context.Context, offer models.Offer) error
	ListOffers(ctx context.Context, requestID string) ([]models.Offer, error)
	// Accept applies cmd atomically. ErrVersionConflict means the request
	// moved on; ErrOfferNotPending means the offer did.
	Accept(ctx context.Context, cmd AcceptCommand) (*AcceptResult, error)
}
