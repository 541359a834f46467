package controller

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/smsleopard-broadcast/internal/errors"
	"github.com/unclebandit/smsleopard-broadcast/internal/service"
)

// Envelope is the body shape of every API response.
type Envelope map[string]any

func respondJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"Internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func respondOK(w http.ResponseWriter, fields Envelope) {
	fields["success"] = true
	respondJSON(w, http.StatusOK, fields)
}

func respondFail(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, Envelope{"success": false, "error": msg})
}

// respondError maps the error taxonomy onto HTTP status codes. Internal details are logged, not returned.
func respondError(w http.ResponseWriter, log zerolog.Logger, err error) {
	switch {
	case appErrors.IsValidation(err):
		respondFail(w, http.StatusBadRequest, err.Error())
	case appErrors.IsNotFound(err):
		respondFail(w, http.StatusNotFound, err.Error())
	case appErrors.IsConflict(err):
		respondFail(w, http.StatusConflict, err.Error())
	case service.IsQueueFull(err):
		respondFail(w, http.StatusServiceUnavailable, "Dispatch queue is full, try again shortly")
	default:
		log.Error().Err(err).Msg("request failed")
		respondFail(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20))
	if err := dec.Decode(dst); err != nil {
		return appErrors.NewValidation("", "invalid request body: "+err.Error())
	}
	return nil
}
