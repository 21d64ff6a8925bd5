package api

import (
	"time"

	"github.com/rdurfee/certreq/request"
)

// SubmitRequest is the JSON body for POST /certificateSigningRequests.
type SubmitRequest struct {
	CSR string `json:"csr"`
}

// VerifyRequest is the JSON body for
// POST /certificateSigningRequests/{id}/verify.
type VerifyRequest struct {
	VerificationCode string `json:"verificationCode"`
}

// RecordResponse is the client-visible view of a certificate request.
// The verification code is deliberately not part of this type; it leaves
// the server exactly once, by email.
type RecordResponse struct {
	ID            string         `json:"id"`
	CreatedAt     time.Time      `json:"createdAt"`
	ModifiedAt    time.Time      `json:"modifiedAt"`
	AccessedAt    time.Time      `json:"accessedAt"`
	CSR           string         `json:"csr"`
	Status        request.Status `json:"status"`
	StatusMessage string         `json:"statusMessage"`
	Cert          string         `json:"cert,omitempty"`
}

func recordToAPI(rec *request.Record) RecordResponse {
	return RecordResponse{
		ID:            rec.ID,
		CreatedAt:     rec.CreatedAt,
		ModifiedAt:    rec.ModifiedAt,
		AccessedAt:    rec.AccessedAt,
		CSR:           rec.CSR,
		Status:        rec.Status,
		StatusMessage: rec.StatusMessage,
		Cert:          rec.Cert,
	}
}

// ErrorResponse is the error body shape for every non-200 response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the HTTP status code, a human-readable message, and
// the status enum string (BAD_REQUEST, NOT_FOUND, INTERNAL_SERVER_ERROR).
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}
