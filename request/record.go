// Package request implements the certificate request lifecycle: the
// persisted record model, the store contract the state machine relies on,
// and the controller that drives submissions and verifications.
package request

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a certificate request. StatusPending is
// the initial state; StatusVerified and StatusFailed are terminal and are
// never left once entered.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusVerified Status = "VERIFIED"
	StatusFailed   Status = "FAILED"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusFailed
}

// Message returns the human-readable status message derived from s.
func (s Status) Message() string {
	switch s {
	case StatusPending:
		return "Pending email verification. Please check your inbox."
	case StatusVerified:
		return "Email address has been verified. Certificate signing request has been granted."
	case StatusFailed:
		return "The certificate signing request has been denied."
	default:
		return ""
	}
}

// Record is one persisted certificate signing request. ID, CreatedAt and
// CSR are immutable after creation. AccessedAt refreshes on every verify
// attempt, successful or not. Cert is non-empty only after the record
// reaches StatusVerified. VerificationCode is generated exactly once at
// creation and must never be exposed to clients after that point; the API
// layer maps records to a response type without it.
type Record struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"createdAt"`
	ModifiedAt       time.Time `json:"modifiedAt"`
	AccessedAt       time.Time `json:"accessedAt"`
	CSR              string    `json:"csr"`
	Status           Status    `json:"status"`
	StatusMessage    string    `json:"statusMessage"`
	Cert             string    `json:"cert"`
	VerificationCode string    `json:"verificationCode"`
}

// Clone returns a copy of the record. Stores return clones so callers can
// never alias persisted state.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// NewVerificationCode returns a single-use verification code for a new
// request. Codes are version 4 UUIDs drawn from crypto/rand (122 bits of
// entropy) and are never derived from request data.
func NewVerificationCode() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating verification code: %w", err)
	}
	return u.String(), nil
}
