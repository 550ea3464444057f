// internal/api/match.go
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/geo"
	"bloodlink/internal/matching"
	"bloodlink/internal/models"
	"bloodlink/internal/offers"
	notifydonors "bloodlink/internal/workers/matching/notify-donors"

	"github.com/go-chi/chi/v5"
)

// GET /match
func (h *Handler) handleMatchForDonor(w http.ResponseWriter, r *http.Request) {
	h.matchForDonor(w, r, false)
}

// GET /match/nearby?maxDistance&limit&urgencyFilter
func (h *Handler) handleNearby(w http.ResponseWriter, r *http.Request) {
	h.matchForDonor(w, r, true)
}

func (h *Handler) matchForDonor(w http.ResponseWriter, r *http.Request, filters bool) {
	ctx := r.Context()
	opts, err := h.options(r, filters)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	donor, err := h.donorForCaller(ctx)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.deps.Matcher.FindMatchesForDonor(ctx, donor, opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /match/donors/{requestId}?sortBy=proximity|compatibility|mixed
func (h *Handler) handleDonorsForRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	opts, err := h.options(r, true)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	req, err := h.request(ctx, chi.URLParam(r, "requestId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !h.deps.Offers.CanManage(actorFrom(ctx), req) {
		writeError(w, r, h.logger, apperrors.NewForbiddenError("only the requester or a coordinator may list donors for a request"))
		return
	}

	res, err := h.deps.Matcher.FindMatchesForRequest(ctx, req, opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /match/notify-donors/{requestId}
func (h *Handler) handleNotifyDonors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.request(ctx, chi.URLParam(r, "requestId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !h.deps.Offers.CanManage(actorFrom(ctx), req) {
		writeError(w, r, h.logger, apperrors.NewForbiddenError("only the requester or a coordinator may notify donors"))
		return
	}

	input := &notifydonors.Input{RequestID: req.ID, Mode: r.URL.Query().Get("sortBy")}
	if input.MaxDistanceKm, err = floatParam(r, "maxDistance"); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if input.Limit, err = intParam(r, "limit"); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out, err := h.deps.Notifier.Execute(ctx, input)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, out)
}

// GET /match/meeting-point/{requestId}
func (h *Handler) handleMeetingPoint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.request(ctx, chi.URLParam(r, "requestId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	donor, err := h.donorForCaller(ctx)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if donor.Location == nil {
		writeError(w, r, h.logger, apperrors.NewValidationError("location", "donor profile has no location"))
		return
	}

	mp, err := h.deps.Matcher.SuggestMeetingPoint(ctx, *donor.Location, req.Location)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, mp)
}

type escalateBody struct {
	Priority int `json:"priority"`
}

// POST /match/escalate/{requestId}
func (h *Handler) handleEscalate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.deps.Offers.Privileged(actorFrom(ctx)) {
		writeError(w, r, h.logger, apperrors.NewForbiddenError("escalation requires a coordinator role"))
		return
	}

	body := escalateBody{Priority: int(models.UrgencyEmergency)}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}

	req, err := h.request(ctx, chi.URLParam(r, "requestId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	promoted, err := h.deps.Escalator.Escalate(req.ID, body.Priority)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requestId": req.ID, "priority": body.Priority, "promoted": promoted})
}

func (h *Handler) options(r *http.Request, filters bool) (matching.Options, error) {
	opts := matching.Options{Mode: h.deps.DefaultMode}
	q := r.URL.Query()
	if s := q.Get("sortBy"); s != "" {
		mode, err := geo.ParseMode(s)
		if err != nil {
			return opts, err
		}
		opts.Mode = mode
	}
	if !filters {
		return opts, nil
	}

	var err error
	if opts.MaxDistanceKm, err = floatParam(r, "maxDistance"); err != nil {
		return opts, err
	}
	if opts.Limit, err = intParam(r, "limit"); err != nil {
		return opts, err
	}
	if s := q.Get("urgencyFilter"); s != "" {
		u, err := models.ParseUrgency(s)
		if err != nil {
			return opts, apperrors.NewValidationError("urgencyFilter", err.Error())
		}
		opts.MinUrgency = u
	}
	return opts, nil
}

func (h *Handler) request(ctx context.Context, id string) (*models.BloodRequest, error) {
	req, err := h.deps.Directory.GetRequest(ctx, id)
	if errors.Is(err, offers.ErrNotFound) {
		return nil, apperrors.NewRequestNotFoundError(id)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("get_request", err)
	}
	return req, nil
}

func (h *Handler) donorForCaller(ctx context.Context) (*models.Donor, error) {
	userID := actorFrom(ctx).UserID
	donor, err := h.deps.Directory.GetDonorByUser(ctx, userID)
	if errors.Is(err, offers.ErrNotFound) {
		return nil, apperrors.NewDonorNotFoundError(userID)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("get_donor", err)
	}
	return donor, nil
}

func floatParam(r *http.Request, name string) (float64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, apperrors.NewValidationError(name, "must be a non-negative number")
	}
	return v, nil
}

func intParam(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, apperrors.NewValidationError(name, "must be a non-negative integer")
	}
	return v, nil
}
