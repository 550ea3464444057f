// internal/offers/service.go
package offers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bloodlink/internal/common/clock"
	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/common/logger"
	"bloodlink/internal/compatibility"
	"bloodlink/internal/dispatch"
	"bloodlink/internal/models"

	"github.com/google/uuid"
)

const (
	// MessageRequestFulfilled is published to the workflow engine once a
	// request has an accepted offer. The request id is the correlation key.
	MessageRequestFulfilled = "blood-request-fulfilled"

	maxAcceptAttempts = 3
)

// Enqueuer is the part of the dispatch pipeline the service posts to.
type Enqueuer interface {
	Enqueue(job dispatch.Job) (dispatch.Handle, error)
}

// MessagePublisher publishes correlated workflow messages.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, name, correlationKey string, ttl time.Duration, variables map[string]interface{}) error
}

// RequestIndexer mirrors request state into the search index.
type RequestIndexer interface {
	IndexRequest(ctx context.Context, req models.BloodRequest) error
}

// Actor is the authenticated caller of a transition.
type Actor struct {
	UserID string
	Roles  []string
}

type Config struct {
	PrivilegedRoles []string
	Channel         models.Channel
	MessageTTL      time.Duration
}

type Service struct {
	store     Store
	jobs      Enqueuer
	publisher MessagePublisher
	index     RequestIndexer
	clock     clock.Clock
	cfg       Config
	logger    logger.Logger
}

// NewService wires the state machine. jobs and publisher may be nil, in which
// case the matching post-commit step is skipped.
func NewService(store Store, jobs Enqueuer, publisher MessagePublisher, clk clock.Clock, cfg Config, log logger.Logger) *Service {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if cfg.Channel == "" {
		cfg.Channel = models.ChannelEmail
	}
	if cfg.MessageTTL <= 0 {
		cfg.MessageTTL = time.Hour
	}
	return &Service{
		store:     store,
		jobs:      jobs,
		publisher: publisher,
		clock:     clk,
		cfg:       cfg,
		logger:    logger.Component(log, "offers"),
	}
}

// WithRequestIndex makes accepted requests rewrite their search document so
// fulfilled requests drop out of index-backed matching.
func (s *Service) WithRequestIndex(ix RequestIndexer) *Service {
	s.index = ix
	return s
}

// Privileged reports whether the actor holds one of the configured roles.
func (s *Service) Privileged(a Actor) bool {
	for _, have := range a.Roles {
		for _, want := range s.cfg.PrivilegedRoles {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

// CanManage reports whether the actor owns the request or is privileged.
func (s *Service) CanManage(a Actor, req *models.BloodRequest) bool {
	return a.UserID != "" && (a.UserID == req.RequesterID || s.Privileged(a))
}

// SendOffer creates a pending offer from donorID on requestID.
func (s *Service) SendOffer(ctx context.Context, donorID, requestID, message string) (*models.Offer, error) {
	if donorID == "" {
		return nil, apperrors.NewValidationError("donorId", "donorId is required")
	}
	if requestID == "" {
		return nil, apperrors.NewValidationError("requestId", "requestId is required")
	}

	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	donor, err := s.store.GetDonor(ctx, donorID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.NewDonorNotFoundError(donorID)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("get_donor", err)
	}

	if !req.Open() {
		return nil, apperrors.NewRequestAlreadyFulfilledError(requestID)
	}
	if !donor.BloodType.Valid() || !req.BloodType.Valid() {
		return nil, apperrors.NewValidationError("bloodType", "donor or request has no blood type")
	}
	if !compatibility.CanDonate(donor.BloodType, req.BloodType) {
		return nil, apperrors.NewValidationError("bloodType",
			fmt.Sprintf("%s cannot donate to %s", donor.BloodType, req.BloodType))
	}

	offer := models.Offer{
		ID:        uuid.New().String(),
		DonorID:   donor.ID,
		RequestID: req.ID,
		Status:    models.OfferPending,
		Message:   message,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateOffer(ctx, offer); err != nil {
		if errors.Is(err, ErrDuplicateOffer) {
			return nil, apperrors.NewDuplicateOfferError(donorID, requestID)
		}
		if errors.Is(err, ErrRequestClosed) {
			return nil, apperrors.NewRequestAlreadyFulfilledError(requestID)
		}
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.NewRequestNotFoundError(requestID)
		}
		return nil, apperrors.NewQueryExecutionFailedError("create_offer", err)
	}

	s.logger.Info("offer sent", map[string]interface{}{
		"offerId":   offer.ID,
		"donorId":   donor.ID,
		"requestId": req.ID,
	})

	s.notify(req, req.RequesterID, models.TemplateOfferReceived, false, map[string]interface{}{
		"offerId":        offer.ID,
		"requestId":      req.ID,
		"bloodType":      req.BloodType.String(),
		"donorBloodType": donor.BloodType.String(),
		"message":        message,
	})
	return &offer, nil
}

// AcceptOffer accepts offerID on behalf of actor. The offer becomes accepted,
// its request fulfilled and every other pending offer rejected, all in one
// store transition guarded by the request version. A caller that loses a
// race observes RequestAlreadyFulfilled.
func (s *Service) AcceptOffer(ctx context.Context, actor Actor, offerID string) (*AcceptResult, error) {
	if offerID == "" {
		return nil, apperrors.NewValidationError("offerId", "offerId is required")
	}

	var res *AcceptResult
	for attempt := 1; ; attempt++ {
		offer, err := s.store.GetOffer(ctx, offerID)
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.NewOfferNotFoundError(offerID)
		}
		if err != nil {
			return nil, apperrors.NewQueryExecutionFailedError("get_offer", err)
		}
		req, err := s.loadRequest(ctx, offer.RequestID)
		if err != nil {
			return nil, err
		}

		if !s.CanManage(actor, req) {
			return nil, apperrors.NewForbiddenError("only the requester or a coordinator can accept offers")
		}
		if !req.Open() {
			return nil, apperrors.NewRequestAlreadyFulfilledError(req.ID)
		}
		if offer.Status != models.OfferPending {
			return nil, apperrors.NewOfferNotPendingError(offer.ID, string(offer.Status))
		}

		res, err = s.store.Accept(ctx, AcceptCommand{
			RequestID: req.ID,
			Version:   req.Version,
			OfferID:   offer.ID,
			At:        s.clock.Now(),
		})
		if err == nil {
			break
		}
		switch {
		case errors.Is(err, ErrVersionConflict):
			if attempt >= maxAcceptAttempts {
				return nil, apperrors.NewRequestAlreadyFulfilledError(req.ID)
			}
			s.logger.Debug("accept lost version race, re-reading", map[string]interface{}{
				"requestId": req.ID,
				"attempt":   attempt,
			})
			continue
		case errors.Is(err, ErrOfferNotPending):
			return nil, apperrors.NewOfferNotPendingError(offer.ID, "changed")
		case errors.Is(err, ErrNotFound):
			return nil, apperrors.NewOfferNotFoundError(offer.ID)
		default:
			return nil, apperrors.NewQueryExecutionFailedError("accept_offer", err)
		}
	}

	s.logger.Info("offer accepted", map[string]interface{}{
		"offerId":   res.Accepted.ID,
		"requestId": res.Request.ID,
		"rejected":  len(res.Rejected),
		"actor":     actor.UserID,
	})
	s.afterAccept(ctx, res)
	return res, nil
}

// afterAccept runs once the transition is committed. Nothing here can undo
// the accept; failures are logged.
func (s *Service) afterAccept(ctx context.Context, res *AcceptResult) {
	req := &res.Request

	if s.index != nil {
		if err := s.index.IndexRequest(ctx, res.Request); err != nil {
			s.logger.Warn("search index update failed, reindex will repair it", map[string]interface{}{
				"requestId": req.ID,
				"error":     err,
			})
		}
	}

	if donor, err := s.store.GetDonor(ctx, res.Accepted.DonorID); err == nil {
		s.notify(req, donor.UserID, models.TemplateOfferAccepted, false, map[string]interface{}{
			"offerId":   res.Accepted.ID,
			"requestId": req.ID,
			"bloodType": req.BloodType.String(),
		})
	} else {
		s.logger.Warn("accepted donor lookup failed", map[string]interface{}{
			"donorId": res.Accepted.DonorID,
			"error":   err,
		})
	}

	for _, o := range res.Rejected {
		donor, err := s.store.GetDonor(ctx, o.DonorID)
		if err != nil {
			s.logger.Warn("rejected donor lookup failed", map[string]interface{}{
				"donorId": o.DonorID,
				"error":   err,
			})
			continue
		}
		s.notify(req, donor.UserID, models.TemplateOfferRejected, true, map[string]interface{}{
			"offerId":   o.ID,
			"requestId": req.ID,
		})
	}

	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishMessage(ctx, MessageRequestFulfilled, req.ID, s.cfg.MessageTTL, map[string]interface{}{
		"requestId":       req.ID,
		"acceptedOfferId": res.Accepted.ID,
		"donorId":         res.Accepted.DonorID,
	})
	if err != nil {
		s.logger.Error("publish fulfilled message failed", map[string]interface{}{
			"requestId": req.ID,
			"error":     err,
		})
	}
}

func (s *Service) notify(req *models.BloodRequest, recipient, templateID string, bestEffort bool, data map[string]interface{}) {
	if s.jobs == nil || recipient == "" {
		return
	}
	h, err := s.jobs.Enqueue(dispatch.Job{
		Queue:      dispatch.QueueNotification,
		Type:       s.cfg.Channel,
		Recipient:  recipient,
		TemplateID: templateID,
		Data:       data,
		Priority:   models.PriorityForUrgency(req.Urgency),
		RequestID:  req.ID,
		BestEffort: bestEffort,
	})
	if err != nil {
		s.logger.Error("enqueue notification failed", map[string]interface{}{
			"requestId":  req.ID,
			"templateId": templateID,
			"error":      err,
		})
		return
	}
	s.logger.Debug("notification enqueued", map[string]interface{}{
		"handle":     string(h),
		"templateId": templateID,
	})
}

func (s *Service) loadRequest(ctx context.Context, id string) (*models.BloodRequest, error) {
	req, err := s.store.GetRequest(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.NewRequestNotFoundError(id)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("get_request", err)
	}
	return req, nil
}
