// Package signer is the gateway to the certificate authority. A Signer
// holds a requester's CSR from submission until verification succeeds,
// then produces the signed certificate. Two implementations are provided:
// Exec shells out to the openssl ca tool against an openssl-managed CA
// directory, and Local issues certificates in-process with crypto/x509.
package signer

import (
	"context"
	"errors"
)

// ValidityDays is the fixed validity period for issued certificates.
const ValidityDays = 375

// ErrSigningFailed covers every way the CA can fail to produce a
// certificate: signer process failure, a missing staged CSR, or a rejected
// CA key password. Callers must treat it as terminal for the attempt.
var ErrSigningFailed = errors.New("certificate signing failed")

// Signer stages CSRs and signs them. Artifacts are keyed by the
// requester's email address; a second submission for the same address
// overwrites the staged CSR.
type Signer interface {
	// StageCSR persists csrPEM for later signing, keyed by email.
	StageCSR(email string, csrPEM []byte) error

	// Sign produces a PEM certificate for the CSR previously staged for
	// email. The certificate is complete or the call fails; a truncated
	// certificate is never returned.
	Sign(ctx context.Context, email string) ([]byte, error)
}
