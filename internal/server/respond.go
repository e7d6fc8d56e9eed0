package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/memcord/memcord/internal/memerr"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeDomainError maps taxonomy errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memerr.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, memerr.ErrOwnerMismatch):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, memerr.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, memerr.ErrLedgerClosed):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, memerr.ErrEmbeddingUnavailable),
		errors.Is(err, memerr.ErrStoreInconsistency):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		if rl, ok := memerr.IsRateLimited(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfterSeconds()))
			writeError(w, http.StatusTooManyRequests, rl.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
