// internal/offers/memory.go
package offers

import (
	"context"
	"sort"
	"sync"

	"bloodlink/internal/models"
)

// MemoryStore keeps requests, donors and offers in maps. Accept holds the
// store lock for the whole transition, which gives the same all-or-nothing
// behaviour as the Postgres transaction.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]models.BloodRequest
	donors   map[string]models.Donor
	offers   map[string]models.Offer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]models.BloodRequest),
		donors:   make(map[string]models.Donor),
		offers:   make(map[string]models.Offer),
	}
}

func (s *MemoryStore) PutRequest(r models.BloodRequest) {
	s.mu.Lock()
	s.requests[r.ID] = r
	s.mu.Unlock()
}

func (s *MemoryStore) PutDonor(d models.Donor) {
	s.mu.Lock()
	s.donors[d.ID] = d
	s.mu.Unlock()
}

func (s *MemoryStore) GetRequest(_ context.Context, id string) (*models.BloodRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) GetDonor(_ context.Context, id string) (*models.Donor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.donors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *MemoryStore) GetOffer(_ context.Context, id string) (*models.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (s *MemoryStore) CreateOffer(_ context.Context, offer models.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[offer.RequestID]
	if !ok {
		return ErrNotFound
	}
	if req.Fulfilled {
		return ErrRequestClosed
	}
	for _, o := range s.offers {
		if o.DonorID == offer.DonorID && o.RequestID == offer.RequestID && o.Active() {
			return ErrDuplicateOffer
		}
	}
	s.offers[offer.ID] = offer
	return nil
}

func (s *MemoryStore) ListOffers(_ context.Context, requestID string) ([]models.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Offer
	for _, o := range s.offers {
		if o.RequestID == requestID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Accept(_ context.Context, cmd AcceptCommand) (*AcceptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[cmd.RequestID]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Fulfilled || req.Version != cmd.Version {
		return nil, ErrVersionConflict
	}
	offer, ok := s.offers[cmd.OfferID]
	if !ok || offer.RequestID != cmd.RequestID {
		return nil, ErrNotFound
	}
	if offer.Status != models.OfferPending {
		return nil, ErrOfferNotPending
	}

	at := cmd.At
	offer.Status = models.OfferAccepted
	offer.RespondedAt = &at
	s.offers[offer.ID] = offer

	acceptedID := offer.ID
	req.Fulfilled = true
	req.AcceptedOfferID = &acceptedID
	req.Version++
	req.UpdatedAt = at
	s.requests[req.ID] = req

	res := &AcceptResult{Request: req, Accepted: offer}
	for id, o := range s.offers {
		if o.RequestID != req.ID || id == offer.ID || o.Status != models.OfferPending {
			continue
		}
		o.Status = models.OfferRejected
		o.RespondedAt = &at
		s.offers[id] = o
		res.Rejected = append(res.Rejected, o)
	}
	sort.Slice(res.Rejected, func(i, j int) bool { return res.Rejected[i].ID < res.Rejected[j].ID })
	return res, nil
}

var _ Store = (*MemoryStore)(nil)
