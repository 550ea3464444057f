// internal/geo/rank.go
package geo

import (
	"fmt"
	"sort"
	"strings"

	apperrors "bloodlink/internal/common/errors"
)

// Mode selects how Rank orders candidates.
type Mode string

const (
	ModeProximity     Mode = "proximity"
	ModeCompatibility Mode = "compatibility"
	ModeMixed         Mode = "mixed"
)

// ParseMode accepts the three ranking modes. There is no implicit default.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeProximity, ModeCompatibility, ModeMixed:
		return m, nil
	default:
		return "", apperrors.NewValidationError("mode", fmt.Sprintf("unsupported ranking mode %q", s))
	}
}

// Weights for the blended score. The defaults are 0.6 compatibility and 0.4
// distance (distance measured in kilometres of headroom under the radius).
type Weights struct {
	Compat   float64 `mapstructure:"compat" json:"compat"`
	Distance float64 `mapstructure:"distance" json:"distance"`
}

func DefaultWeights() Weights {
	return Weights{Compat: 0.6, Distance: 0.4}
}

// Candidate is anything with an identity and a location that can be ranked.
type Candidate[T any] struct {
	ID           string
	Location     Point
	CompatScore  float64
	UrgencyBonus float64
	Item         T
}

// Ranked is a candidate with its transient distance and score.
type Ranked[T any] struct {
	Candidate      Candidate[T]
	DistanceMeters float64
	Score          float64
}

// RankOptions configures a Rank call. Mode is required. MaxDistanceMeters
// bounds the result set when positive and is required for ModeMixed.
type RankOptions struct {
	Mode              Mode
	MaxDistanceMeters float64
	Weights           Weights
}

// Rank computes distances from center, drops candidates beyond the radius and
// orders the rest by mode. Ties always fall back to candidate ID so the order
// is total and deterministic. Duplicate IDs keep their first occurrence.
func Rank[T any](center Point, candidates []Candidate[T], opts RankOptions) ([]Ranked[T], error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	switch opts.Mode {
	case ModeProximity, ModeCompatibility:
	case ModeMixed:
		if opts.MaxDistanceMeters <= 0 {
			return nil, apperrors.NewValidationError("maxDistance", "mixed ranking requires a positive maxDistance")
		}
	default:
		return nil, apperrors.NewValidationError("mode", fmt.Sprintf("unsupported ranking mode %q", opts.Mode))
	}

	weights := opts.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	maxKm := opts.MaxDistanceMeters / 1000

	seen := make(map[string]bool, len(candidates))
	out := make([]Ranked[T], 0, len(candidates))
	for _, c := range candidates {
		if seen[c.ID] {
			continue
		}
		if err := c.Location.Validate(); err != nil {
			return nil, err
		}
		seen[c.ID] = true

		d := Haversine(center, c.Location)
		if opts.MaxDistanceMeters > 0 && d > opts.MaxDistanceMeters {
			continue
		}

		r := Ranked[T]{Candidate: c, DistanceMeters: d}
		switch opts.Mode {
		case ModeProximity:
			r.Score = -d / 1000
		case ModeCompatibility:
			r.Score = c.CompatScore
		case ModeMixed:
			r.Score = weights.Compat*c.CompatScore + weights.Distance*(maxKm-d/1000) + c.UrgencyBonus
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		return less(opts.Mode, out[i], out[j])
	})
	return out, nil
}

func less[T any](mode Mode, a, b Ranked[T]) bool {
	switch mode {
	case ModeProximity:
		if a.DistanceMeters != b.DistanceMeters {
			return a.DistanceMeters < b.DistanceMeters
		}
	case ModeCompatibility:
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DistanceMeters != b.DistanceMeters {
			return a.DistanceMeters < b.DistanceMeters
		}
	case ModeMixed:
		if a.Score != b.Score {
			return a.Score > b.Score
		}
	}
	return a.Candidate.ID < b.Candidate.ID
}
