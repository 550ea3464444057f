// internal/api/offer.go
package api

import (
	"net/http"

	apperrors "bloodlink/internal/common/errors"

	"github.com/go-chi/chi/v5"
)

type sendOfferBody struct {
	RequestID string `json:"requestId"`
	Message   string `json:"message,omitempty"`
}

// POST /offer/send
func (h *Handler) handleSendOffer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body sendOfferBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if body.RequestID == "" {
		writeError(w, r, h.logger, apperrors.NewValidationError("requestId", "requestId is required"))
		return
	}

	donor, err := h.donorForCaller(ctx)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	offer, err := h.deps.Offers.SendOffer(ctx, donor.ID, body.RequestID, body.Message)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

// POST /offer/accept/{offerId}
func (h *Handler) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.deps.Offers.AcceptOffer(ctx, actorFrom(ctx), chi.URLParam(r, "offerId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request":  res.Request,
		"offer":    res.Accepted,
		"rejected": len(res.Rejected),
	})
}
