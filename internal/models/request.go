// internal/models/request.go
package models

import (
	"time"

	"bloodlink/internal/geo"
)

type BloodRequest struct {
	ID              string    `json:"id"`
	RequesterID     string    `json:"requesterId"`
	BloodType       BloodType `json:"bloodType"`
	Urgency         Urgency   `json:"urgency"`
	Location        geo.Point `json:"location"`
	UnitsNeeded     int       `json:"unitsNeeded"`
	Fulfilled       bool      `json:"fulfilled"`
	AcceptedOfferID *string   `json:"acceptedOfferId,omitempty"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Open is true until an offer has been accepted.
func (r *BloodRequest) Open() bool {
	return !r.Fulfilled
}

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

// Terminal is true for accepted and rejected offers.
func (s OfferStatus) Terminal() bool {
	return s == OfferAccepted || s == OfferRejected
}

type Offer struct {
	ID          string      `json:"id"`
	DonorID     string      `json:"donorId"`
	RequestID   string      `json:"requestId"`
	Status      OfferStatus `json:"status"`
	Message     string      `json:"message,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	RespondedAt *time.Time  `json:"respondedAt,omitempty"`
}

// Active offers block a second offer from the same donor on the same request.
func (o *Offer) Active() bool {
	return o.Status == OfferPending || o.Status == OfferAccepted
}
