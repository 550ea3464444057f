// internal/matching/orchestrator.go
package matching

import (
	"context"
	"fmt"
	"time"

	"bloodlink/internal/common/clock"
	"bloodlink/internal/common/config"
	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/common/logger"
	"bloodlink/internal/common/observability"
	"bloodlink/internal/compatibility"
	"bloodlink/internal/geo"
	"bloodlink/internal/models"
)

const (
	kindRequest = "request"
	kindDonor   = "donor"

	// sources are asked for more rows than the limit since eligibility and
	// radius filtering happen afterwards
	overfetchFactor = 4
)

type Config struct {
	Weights              geo.Weights
	EmergencyBonus       float64
	HighBonus            float64
	DefaultMaxDistanceKm float64
	DefaultLimit         int
	MaxLimit             int
	DonationCooldown     time.Duration
	MeetingPointTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Weights:              geo.DefaultWeights(),
		EmergencyBonus:       20,
		HighBonus:            10,
		DefaultMaxDistanceKm: 50,
		DefaultLimit:         20,
		MaxLimit:             100,
		DonationCooldown:     models.DefaultDonationCooldown,
		MeetingPointTimeout:  3 * time.Second,
	}
}

func LoadConfig(cfg *config.Config) Config {
	m := cfg.Matching
	return Config{
		Weights:              geo.Weights{Compat: m.CompatWeight, Distance: m.DistanceWeight},
		EmergencyBonus:       m.EmergencyBonus,
		HighBonus:            m.HighBonus,
		DefaultMaxDistanceKm: m.DefaultMaxDistanceKm,
		DefaultLimit:         m.DefaultLimit,
		MaxLimit:             m.MaxLimit,
		DonationCooldown:     time.Duration(m.DonationCooldownDays) * 24 * time.Hour,
		MeetingPointTimeout:  config.GetDuration(cfg.Routing.MeetingPointTimeout),
	}
}

// Options for one matching call. Mode is required. Zero MaxDistanceKm and
// Limit take the configured defaults.
type Options struct {
	MaxDistanceKm float64
	Limit         int
	Mode          geo.Mode
	MinUrgency    models.Urgency
}

type DonorMatch struct {
	Donor          models.Donor `json:"donor"`
	DistanceMeters float64      `json:"distanceMeters"`
	Score          float64      `json:"score"`
	CompatScore    float64      `json:"compatScore"`
}

type RequestMatch struct {
	Request        models.BloodRequest `json:"request"`
	DistanceMeters float64             `json:"distanceMeters"`
	Score          float64             `json:"score"`
	Urgency        models.Urgency      `json:"urgency"`
}

// Result is always returned for a valid query, even when every source
// failed. NoMatches and Degraded are independent: a degraded search can
// still find matches.
type Result[T any] struct {
	Matches   []T    `json:"matches"`
	NoMatches bool   `json:"noMatches"`
	Degraded  bool   `json:"degraded"`
	Message   string `json:"message,omitempty"`
	Source    string `json:"source,omitempty"`
}

// Orchestrator runs compatibility filtering and geospatial ranking over
// candidates from a primary source with a fallback. Either source may be
// nil; with only one configured it is used without degradation.
type Orchestrator struct {
	donors           DonorSource
	fallbackDonors   DonorSource
	requests         RequestSource
	fallbackRequests RequestSource
	router           Router
	metrics          *observability.Observability
	clock            clock.Clock
	cfg              Config
	logger           logger.Logger
}

type Option func(*Orchestrator)

func WithDonorSources(primary, fallback DonorSource) Option {
	return func(o *Orchestrator) { o.donors, o.fallbackDonors = primary, fallback }
}

func WithRequestSources(primary, fallback RequestSource) Option {
	return func(o *Orchestrator) { o.requests, o.fallbackRequests = primary, fallback }
}

func WithRouter(r Router) Option {
	return func(o *Orchestrator) { o.router = r }
}

func WithMetrics(m *observability.Observability) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

func NewOrchestrator(cfg Config, log logger.Logger, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.Weights == (geo.Weights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.DefaultMaxDistanceKm <= 0 {
		cfg.DefaultMaxDistanceKm = def.DefaultMaxDistanceKm
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.MeetingPointTimeout <= 0 {
		cfg.MeetingPointTimeout = def.MeetingPointTimeout
	}
	o := &Orchestrator{
		cfg:    cfg,
		clock:  clock.NewRealClock(),
		logger: logger.Component(log, "matching"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// UrgencyBonus is the additive term the blended score gives an urgency.
func (o *Orchestrator) UrgencyBonus(u models.Urgency) float64 {
	switch u {
	case models.UrgencyEmergency:
		return o.cfg.EmergencyBonus
	case models.UrgencyHigh:
		return o.cfg.HighBonus
	default:
		return 0
	}
}

func (o *Orchestrator) resolve(opts Options) (Options, error) {
	if _, err := geo.ParseMode(string(opts.Mode)); err != nil {
		return opts, err
	}
	if opts.MaxDistanceKm < 0 {
		return opts, apperrors.NewValidationError("maxDistance", "maxDistance must not be negative")
	}
	if opts.Limit < 0 {
		return opts, apperrors.NewValidationError("limit", "limit must not be negative")
	}
	if opts.MaxDistanceKm == 0 {
		opts.MaxDistanceKm = o.cfg.DefaultMaxDistanceKm
	}
	if opts.Limit == 0 {
		opts.Limit = o.cfg.DefaultLimit
	}
	if opts.Limit > o.cfg.MaxLimit {
		opts.Limit = o.cfg.MaxLimit
	}
	if opts.MinUrgency != 0 && !opts.MinUrgency.Valid() {
		return opts, apperrors.NewValidationError("urgencyFilter", "unknown urgency")
	}
	return opts, nil
}

// FindMatchesForRequest ranks eligible donors whose type can give to the
// request's type within the radius.
func (o *Orchestrator) FindMatchesForRequest(ctx context.Context, req *models.BloodRequest, opts Options) (*Result[DonorMatch], error) {
	start := time.Now()
	if req == nil {
		return nil, apperrors.NewValidationError("request", "request is required")
	}
	if err := req.Location.Validate(); err != nil {
		return nil, err
	}
	if !req.BloodType.Valid() {
		return nil, apperrors.NewValidationError("bloodType", "request has no valid blood type")
	}
	opts, err := o.resolve(opts)
	if err != nil {
		return nil, err
	}

	res := &Result[DonorMatch]{Matches: []DonorMatch{}}
	if !req.Open() {
		res.NoMatches = true
		res.Message = "request is already fulfilled"
		o.record(ctx, kindRequest, res.outcome(), len(res.Matches), start)
		return res, nil
	}

	now := o.clock.Now()
	q := DonorQuery{
		Center:        req.Location,
		RadiusMeters:  opts.MaxDistanceKm * 1000,
		BloodTypes:    compatibility.CompatibleDonors(req.BloodType),
		DonatedBefore: now.Add(-o.cfg.DonationCooldown),
		Limit:         opts.Limit * overfetchFactor,
	}
	donors, src := o.searchDonors(ctx, q)
	res.Source, res.Degraded, res.Message = src.name, src.degraded, src.message

	bonus := o.UrgencyBonus(req.Urgency)
	candidates := make([]geo.Candidate[models.Donor], 0, len(donors))
	for _, d := range donors {
		if !d.BloodType.Valid() || !compatibility.CanDonate(d.BloodType, req.BloodType) {
			continue
		}
		if !d.Eligible(now, o.cfg.DonationCooldown) || d.Location.Validate() != nil {
			continue
		}
		candidates = append(candidates, geo.Candidate[models.Donor]{
			ID:           d.ID,
			Location:     *d.Location,
			CompatScore:  compatibility.Score(d.BloodType, req.BloodType),
			UrgencyBonus: bonus,
			Item:         d,
		})
	}

	ranked, err := geo.Rank(req.Location, candidates, geo.RankOptions{
		Mode:              opts.Mode,
		MaxDistanceMeters: opts.MaxDistanceKm * 1000,
		Weights:           o.cfg.Weights,
	})
	if err != nil {
		return nil, err
	}
	if len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}
	for _, r := range ranked {
		res.Matches = append(res.Matches, DonorMatch{
			Donor:          r.Candidate.Item,
			DistanceMeters: r.DistanceMeters,
			Score:          r.Score,
			CompatScore:    r.Candidate.CompatScore,
		})
	}
	finish(res, fmt.Sprintf("no eligible %s-compatible donors within %.0f km", req.BloodType, opts.MaxDistanceKm))

	o.logger.Debug("donor matches computed", map[string]interface{}{
		"requestId":  req.ID,
		"mode":       string(opts.Mode),
		"candidates": len(candidates),
		"matches":    len(res.Matches),
		"degraded":   res.Degraded,
	})
	o.record(ctx, kindRequest, res.outcome(), len(res.Matches), start)
	return res, nil
}

// FindMatchesForDonor ranks open requests the donor can serve. Requests the
// donor raised are skipped.
func (o *Orchestrator) FindMatchesForDonor(ctx context.Context, donor *models.Donor, opts Options) (*Result[RequestMatch], error) {
	start := time.Now()
	if donor == nil {
		return nil, apperrors.NewValidationError("donor", "donor is required")
	}
	if donor.Location == nil {
		return nil, apperrors.NewValidationError("location", "donor has not reported a location")
	}
	if err := donor.Location.Validate(); err != nil {
		return nil, err
	}
	if !donor.BloodType.Valid() {
		return nil, apperrors.NewValidationError("bloodType", "donor has no valid blood type")
	}
	opts, err := o.resolve(opts)
	if err != nil {
		return nil, err
	}

	res := &Result[RequestMatch]{Matches: []RequestMatch{}}
	if !donor.Eligible(o.clock.Now(), o.cfg.DonationCooldown) {
		res.NoMatches = true
		res.Message = "donor is unavailable or within the post-donation cooldown"
		o.record(ctx, kindDonor, res.outcome(), len(res.Matches), start)
		return res, nil
	}

	q := RequestQuery{
		Center:       *donor.Location,
		RadiusMeters: opts.MaxDistanceKm * 1000,
		BloodTypes:   compatibility.CompatibleRecipients(donor.BloodType),
		MinUrgency:   opts.MinUrgency,
		Limit:        opts.Limit * overfetchFactor,
	}
	requests, src := o.searchRequests(ctx, q)
	res.Source, res.Degraded, res.Message = src.name, src.degraded, src.message

	candidates := make([]geo.Candidate[models.BloodRequest], 0, len(requests))
	for _, r := range requests {
		if !r.Open() || r.RequesterID == donor.UserID {
			continue
		}
		if !r.BloodType.Valid() || !compatibility.CanDonate(donor.BloodType, r.BloodType) {
			continue
		}
		if opts.MinUrgency != 0 && r.Urgency < opts.MinUrgency {
			continue
		}
		if r.Location.Validate() != nil {
			continue
		}
		candidates = append(candidates, geo.Candidate[models.BloodRequest]{
			ID:           r.ID,
			Location:     r.Location,
			CompatScore:  compatibility.Score(donor.BloodType, r.BloodType),
			UrgencyBonus: o.UrgencyBonus(r.Urgency),
			Item:         r,
		})
	}

	ranked, err := geo.Rank(*donor.Location, candidates, geo.RankOptions{
		Mode:              opts.Mode,
		MaxDistanceMeters: opts.MaxDistanceKm * 1000,
		Weights:           o.cfg.Weights,
	})
	if err != nil {
		return nil, err
	}
	if len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}
	for _, r := range ranked {
		res.Matches = append(res.Matches, RequestMatch{
			Request:        r.Candidate.Item,
			DistanceMeters: r.DistanceMeters,
			Score:          r.Score,
			Urgency:        r.Candidate.Item.Urgency,
		})
	}
	finish(res, fmt.Sprintf("no open requests for %s donors within %.0f km", donor.BloodType, opts.MaxDistanceKm))

	o.record(ctx, kindDonor, res.outcome(), len(res.Matches), start)
	return res, nil
}

func finish[T any](res *Result[T], empty string) {
	if len(res.Matches) > 0 {
		return
	}
	res.NoMatches = true
	if res.Message == "" {
		res.Message = empty
	}
}

func (o *Orchestrator) record(ctx context.Context, kind, outcome string, results int, start time.Time) {
	o.metrics.RecordMatchRun(ctx, kind, outcome, results, time.Since(start))
}

func (r *Result[T]) outcome() string {
	switch {
	case r.Degraded:
		return "degraded"
	case r.NoMatches:
		return "empty"
	default:
		return "matched"
	}
}

type sourceInfo struct {
	name     string
	degraded bool
	message  string
}

const (
	sourcePrimary  = "primary"
	sourceFallback = "fallback"
	sourceNone     = "none"
)

func (o *Orchestrator) searchDonors(ctx context.Context, q DonorQuery) ([]models.Donor, sourceInfo) {
	var primary, fallback func(context.Context, DonorQuery) ([]models.Donor, error)
	if o.donors != nil {
		primary = o.donors.SearchDonors
	}
	if o.fallbackDonors != nil {
		fallback = o.fallbackDonors.SearchDonors
	}
	return search(ctx, o.logger, "donor", q, primary, fallback)
}

func (o *Orchestrator) searchRequests(ctx context.Context, q RequestQuery) ([]models.BloodRequest, sourceInfo) {
	var primary, fallback func(context.Context, RequestQuery) ([]models.BloodRequest, error)
	if o.requests != nil {
		primary = o.requests.SearchRequests
	}
	if o.fallbackRequests != nil {
		fallback = o.fallbackRequests.SearchRequests
	}
	return search(ctx, o.logger, "request", q, primary, fallback)
}

// search asks primary, then fallback. Only a fallback answer standing in for
// a failed primary, or no answer at all, counts as degraded.
func search[Q, T any](ctx context.Context, log logger.Logger, what string, q Q, primary, fallback func(context.Context, Q) ([]T, error)) ([]T, sourceInfo) {
	if primary != nil {
		items, err := primary(ctx, q)
		if err == nil {
			return items, sourceInfo{name: sourcePrimary}
		}
		log.Warn("primary "+what+" search failed", map[string]interface{}{"error": err})
		if fallback == nil {
			return nil, degradedNone()
		}
		items, err = fallback(ctx, q)
		if err != nil {
			log.Error("fallback "+what+" search failed", map[string]interface{}{"error": err})
			return nil, degradedNone()
		}
		return items, sourceInfo{name: sourceFallback, degraded: true, message: "search degraded: results from fallback store"}
	}
	if fallback != nil {
		items, err := fallback(ctx, q)
		if err != nil {
			log.Error(what+" search failed", map[string]interface{}{"error": err})
			return nil, degradedNone()
		}
		return items, sourceInfo{name: sourceFallback}
	}
	return nil, degradedNone()
}

func degradedNone() sourceInfo {
	return sourceInfo{name: sourceNone, degraded: true, message: "search unavailable: candidate stores did not answer"}
}
