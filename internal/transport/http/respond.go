package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"virtual-lab-service/internal/app"
	"virtual-lab-service/internal/domain"
	"virtual-lab-service/internal/infra/identity"
)

type errorBody struct {
	Error string `json:"error"`
}

type meResponse struct {
	State   app.State      `json:"state"`
	Profile domain.Profile `json:"profile"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrDomainRejected), errors.Is(err, identity.ErrUnverifiedEmail):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrChallengeNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrQuestionNotFound), errors.Is(err, domain.ErrOptionNotFound),
		errors.Is(err, identity.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrIncompleteAttempt):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrReconcileInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}
