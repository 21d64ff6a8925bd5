package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rdurfee/certreq/csr"
	"github.com/rdurfee/certreq/request"
)

var statusLabels = map[int]string{
	http.StatusBadRequest:          "BAD_REQUEST",
	http.StatusNotFound:            "NOT_FOUND",
	http.StatusInternalServerError: "INTERNAL_SERVER_ERROR",
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorBody(status int, msg string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{
		Code:    status,
		Message: msg,
		Status:  statusLabels[status],
	}}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody(status, msg))
}

// errorStatus is the single conversion point from the controller's error
// values to HTTP statuses. Everything unrecognized is an internal error.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, csr.ErrInvalidCSR),
		errors.Is(err, request.ErrIneligibleEmail),
		errors.Is(err, request.ErrIncorrectCode):
		return http.StatusBadRequest
	case errors.Is(err, request.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
