package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// maxBodySize bounds request bodies. A PEM CSR is a few kilobytes; one
// megabyte leaves generous headroom without letting a client buffer
// arbitrary input.
const maxBodySize = 1 << 20

func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Request body is malformed: %v.", err))
		return v, false
	}
	return v, true
}

// Submit handles POST /certificateSigningRequests.
// Accepts a PEM CSR, mails a verification code to the subject's email
// address, and returns the created PENDING record. The verification code
// is never part of the response.
func (a *API) Submit(w http.ResponseWriter, r *http.Request) {
	trace := uuid.NewString()
	a.trace.request(r, trace)

	req, ok := decodeJSON[SubmitRequest](w, r, maxBodySize)
	if !ok {
		a.trace.response(r, trace, http.StatusBadRequest)
		return
	}

	rec, err := a.ctrl.Submit(r.Context(), req.CSR)
	if err != nil {
		status := errorStatus(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			msg = fmt.Sprintf("Unexpected error occurred when inserting resource: %v", err)
		}
		writeError(w, status, msg)
		a.trace.response(r, trace, status)
		return
	}

	writeJSON(w, http.StatusOK, recordToAPI(rec))
	a.trace.response(r, trace, http.StatusOK)
}

// Verify handles POST /certificateSigningRequests/{requestID}/verify.
// Checks the submitted verification code and returns the full record,
// including the certificate once the request is VERIFIED.
func (a *API) Verify(w http.ResponseWriter, r *http.Request) {
	trace := uuid.NewString()
	a.trace.request(r, trace)

	requestID := chi.URLParam(r, "requestID")
	if _, err := uuid.Parse(requestID); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Resource ID '%s' is malformed.", requestID))
		a.trace.response(r, trace, http.StatusBadRequest)
		return
	}

	req, ok := decodeJSON[VerifyRequest](w, r, maxBodySize)
	if !ok {
		a.trace.response(r, trace, http.StatusBadRequest)
		return
	}

	rec, err := a.ctrl.Verify(r.Context(), requestID, req.VerificationCode)
	if err != nil {
		status := errorStatus(err)
		var msg string
		switch status {
		case http.StatusNotFound:
			msg = fmt.Sprintf("Resource '%s' was not found.", requestID)
		case http.StatusBadRequest:
			msg = fmt.Sprintf("Verification code '%s' is incorrect.", req.VerificationCode)
		default:
			msg = fmt.Sprintf("Unexpected error occurred when verifying resource '%s': %v", requestID, err)
		}
		writeError(w, status, msg)
		a.trace.response(r, trace, status)
		return
	}

	writeJSON(w, http.StatusOK, recordToAPI(rec))
	a.trace.response(r, trace, http.StatusOK)
}
