// internal/api/respond.go
package api

import (
	"encoding/json"
	"net/http"

	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/common/logger"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps err onto its HTTP status. Errors outside the StandardError
// model are logged and reported as internal without details.
func writeError(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	status := apperrors.HTTPStatus(err)
	fields := map[string]interface{}{
		"path":      r.URL.Path,
		"status":    status,
		"requestId": chimiddleware.GetReqID(r.Context()),
		"error":     err,
	}
	if status >= 500 {
		log.Error("request failed", fields)
	} else {
		log.Debug("request rejected", fields)
	}

	stdErr, ok := apperrors.AsStandardError(err)
	if !ok {
		writeJSON(w, status, errorBody{Code: string(apperrors.ErrCodeInternal), Message: "internal error"})
		return
	}
	body := errorBody{Code: string(stdErr.Code), Message: stdErr.Message, Retryable: stdErr.Retryable}
	if status < 500 {
		body.Details = stdErr.Details
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return apperrors.NewValidationError("body", "invalid JSON body: "+err.Error())
	}
	return nil
}
