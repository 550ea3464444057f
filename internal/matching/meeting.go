// internal/matching/meeting.go
package matching

import (
	"context"

	"bloodlink/internal/geo"
	"bloodlink/internal/routing"
)

const (
	MeetingSourceRouting    = "routing"
	MeetingSourceCalculated = "calculated"
)

// Router is the routing collaborator as seen by the orchestrator.
type Router interface {
	NearestWaypoint(ctx context.Context, near geo.Point) (*routing.Place, error)
	ReverseGeocode(ctx context.Context, p geo.Point) (*routing.Place, error)
	Route(ctx context.Context, from, to geo.Point) (*routing.Estimate, error)
}

type MeetingPoint struct {
	Location   geo.Point         `json:"location"`
	Address    string            `json:"address,omitempty"`
	Source     string            `json:"source"`
	Midpoint   geo.Point         `json:"midpoint"`
	DonorRoute *routing.Estimate `json:"donorRoute,omitempty"`
}

// SuggestMeetingPoint returns a waypoint near the midpoint of the donor and
// the request. Any routing failure, timeout or empty answer yields the raw
// midpoint with source "calculated", named by reverse geocoding when the
// deadline allows. Only invalid coordinates are errors.
func (o *Orchestrator) SuggestMeetingPoint(ctx context.Context, donorLoc, requestLoc geo.Point) (*MeetingPoint, error) {
	if err := donorLoc.Validate(); err != nil {
		return nil, err
	}
	if err := requestLoc.Validate(); err != nil {
		return nil, err
	}

	mid := geo.Midpoint(donorLoc, requestLoc)
	mp := &MeetingPoint{Location: mid, Source: MeetingSourceCalculated, Midpoint: mid}
	if o.router == nil {
		o.metrics.RecordMeetingPoint(ctx, mp.Source)
		return mp, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.MeetingPointTimeout)
	defer cancel()

	if place, err := o.lookup(ctx, func(ctx context.Context) (*routing.Place, error) {
		return o.router.NearestWaypoint(ctx, mid)
	}); err != nil {
		o.logger.Warn("waypoint lookup failed, using midpoint", map[string]interface{}{"error": err})
	} else if place != nil && place.Location.Validate() == nil {
		mp.Location = place.Location
		mp.Address = place.FormattedAddress
		mp.Source = MeetingSourceRouting
	}

	if mp.Source == MeetingSourceCalculated && ctx.Err() == nil {
		place, err := o.lookup(ctx, func(ctx context.Context) (*routing.Place, error) {
			return o.router.ReverseGeocode(ctx, mid)
		})
		if err == nil && place != nil {
			mp.Address = place.FormattedAddress
		} else if err != nil {
			o.logger.Debug("midpoint reverse geocode failed", map[string]interface{}{"error": err})
		}
	}

	if est, err := o.route(ctx, donorLoc, mp.Location); err == nil {
		mp.DonorRoute = est
	}

	o.metrics.RecordMeetingPoint(ctx, mp.Source)
	return mp, nil
}

type placeResult struct {
	place *routing.Place
	err   error
}

// lookup bounds a router place call by ctx even if the router ignores it.
func (o *Orchestrator) lookup(ctx context.Context, call func(context.Context) (*routing.Place, error)) (*routing.Place, error) {
	done := make(chan placeResult, 1)
	go func() {
		p, err := call(ctx)
		done <- placeResult{p, err}
	}()
	select {
	case r := <-done:
		return r.place, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type routeResult struct {
	est *routing.Estimate
	err error
}

func (o *Orchestrator) route(ctx context.Context, from, to geo.Point) (*routing.Estimate, error) {
	done := make(chan routeResult, 1)
	go func() {
		e, err := o.router.Route(ctx, from, to)
		done <- routeResult{e, err}
	}()
	select {
	case r := <-done:
		return r.est, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
