// internal/api/handler.go
package api

import (
	"context"
	"net/http"
	"time"

	"bloodlink/internal/common/auth"
	"bloodlink/internal/common/logger"
	"bloodlink/internal/geo"
	"bloodlink/internal/matching"
	"bloodlink/internal/models"
	"bloodlink/internal/offers"
	notifydonors "bloodlink/internal/workers/matching/notify-donors"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type TokenVerifier interface {
	ValidateToken(ctx context.Context, token string) (*auth.Principal, error)
}

type Matcher interface {
	FindMatchesForRequest(ctx context.Context, req *models.BloodRequest, opts matching.Options) (*matching.Result[matching.DonorMatch], error)
	FindMatchesForDonor(ctx context.Context, donor *models.Donor, opts matching.Options) (*matching.Result[matching.RequestMatch], error)
	SuggestMeetingPoint(ctx context.Context, donorLoc, requestLoc geo.Point) (*matching.MeetingPoint, error)
}

// Directory resolves the records the routes refer to by id.
type Directory interface {
	GetRequest(ctx context.Context, id string) (*models.BloodRequest, error)
	GetDonorByUser(ctx context.Context, userID string) (*models.Donor, error)
}

type OfferService interface {
	SendOffer(ctx context.Context, donorID, requestID, message string) (*models.Offer, error)
	AcceptOffer(ctx context.Context, actor offers.Actor, offerID string) (*offers.AcceptResult, error)
	CanManage(a offers.Actor, req *models.BloodRequest) bool
	Privileged(a offers.Actor) bool
}

type DonorNotifier interface {
	Execute(ctx context.Context, input *notifydonors.Input) (*notifydonors.Output, error)
}

type Escalator interface {
	Escalate(requestID string, priority int) (int, error)
}

// Check is a named readiness check.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

type Deps struct {
	Verifier    TokenVerifier
	Matcher     Matcher
	Directory   Directory
	Offers      OfferService
	Notifier    DonorNotifier
	Escalator   Escalator
	Checks      []Check
	DefaultMode geo.Mode
	Timeout     time.Duration
}

type Handler struct {
	deps   Deps
	logger logger.Logger
}

func New(deps Deps, log logger.Logger) *Handler {
	if deps.DefaultMode == "" {
		deps.DefaultMode = geo.ModeProximity
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 30 * time.Second
	}
	return &Handler{deps: deps, logger: logger.Component(log, "api")}
}

// Register mounts every route on r.
func (h *Handler) Register(r chi.Router) {
	r.Use(chimiddleware.RequestID)
	r.Use(Recovery(h.logger))
	r.Use(Metrics)
	r.Use(chimiddleware.Timeout(h.deps.Timeout))

	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.deps.Verifier, h.logger))

		r.Route("/match", func(r chi.Router) {
			r.Get("/", h.handleMatchForDonor)
			r.Get("/nearby", h.handleNearby)
			r.Get("/donors/{requestId}", h.handleDonorsForRequest)
			r.Post("/notify-donors/{requestId}", h.handleNotifyDonors)
			r.Get("/meeting-point/{requestId}", h.handleMeetingPoint)
			r.Post("/escalate/{requestId}", h.handleEscalate)
		})

		r.Route("/offer", func(r chi.Router) {
			r.Post("/send", h.handleSendOffer)
			r.Post("/accept/{offerId}", h.handleAcceptOffer)
		})
	})
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}
