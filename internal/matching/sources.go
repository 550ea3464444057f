// internal/matching/sources.go
package matching

import (
	"context"
	"time"

	"bloodlink/internal/geo"
	"bloodlink/internal/models"
)

// DonorQuery asks a source for donors of the given types near Center. Sources
// may over-return; the orchestrator re-filters everything it receives. When
// Limit truncates, sources keep the donors nearest to Center.
type DonorQuery struct {
	Center       geo.Point
	RadiusMeters float64
	BloodTypes   []models.BloodType
	// DonatedBefore excludes donors whose last donation is later than this
	// instant. Zero disables the cooldown filter.
	DonatedBefore time.Time
	Limit         int
}

// RequestQuery asks a source for open requests near Center, nearest first
// when Limit truncates.
type RequestQuery struct {
	Center       geo.Point
	RadiusMeters float64
	BloodTypes   []models.BloodType
	MinUrgency   models.Urgency
	Limit        int
}

type DonorSource interface {
	SearchDonors(ctx context.Context, q DonorQuery) ([]models.Donor, error)
}

type RequestSource interface {
	SearchRequests(ctx context.Context, q RequestQuery) ([]models.BloodRequest, error)
}
