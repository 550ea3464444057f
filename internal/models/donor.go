// internal/models/donor.go
package models

import (
	"time"

	"bloodlink/internal/geo"
)

// DefaultDonationCooldown is the minimum gap between whole-blood donations.
const DefaultDonationCooldown = 56 * 24 * time.Hour

type Donor struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	BloodType    BloodType  `json:"bloodType"`
	Location     *geo.Point `json:"location,omitempty"`
	Available    bool       `json:"available"`
	LastDonation *time.Time `json:"lastDonation,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Eligible reports whether the donor can be matched at now: available,
// located, and past the post-donation cooldown.
func (d *Donor) Eligible(now time.Time, cooldown time.Duration) bool {
	if !d.Available || d.Location == nil {
		return false
	}
	if d.LastDonation != nil && now.Sub(*d.LastDonation) < cooldown {
		return false
	}
	return true
}
