package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/app"
)

// statusForError maps the ledger error kinds onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, app.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, app.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, app.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// respondWithError writes the mapped status and a JSON error body. Storage failures are
// logged and their details are not echoed to the caller.
func respondWithError(w http.ResponseWriter, op string, err error) {
	status := statusForError(err)

	var rateErr *app.RateLimitError
	if errors.As(err, &rateErr) && rateErr.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
	}

	respondWithJSON(w, status, errorResponse{Error: publicMessage(op, status, err)})
}

// publicMessage is the error text a caller may see. Storage failures are logged and
// reported as "internal error".
func publicMessage(op string, status int, err error) string {
	if status == http.StatusInternalServerError {
		log.Printf("level=error component=api msg=\"request failed\" op=%s err=%v", op, err)
		return "internal error"
	}
	return err.Error()
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
