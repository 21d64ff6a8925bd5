package request

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/jmhodges/clock"

	"github.com/rdurfee/certreq/csr"
	"github.com/rdurfee/certreq/mail"
	"github.com/rdurfee/certreq/policy"
	"github.com/rdurfee/certreq/signer"
)

var (
	// ErrIneligibleEmail is returned when the CSR carries no email address
	// or one outside the allow-listed domains.
	ErrIneligibleEmail = errors.New("email address is not valid")

	// ErrIncorrectCode is returned when the submitted verification code
	// does not match the record's. The record is untouched apart from its
	// access timestamp and may be retried.
	ErrIncorrectCode = errors.New("verification code is incorrect")
)

const mailSubject = "Email Verification"

// Controller drives the request lifecycle state machine. It is the only
// caller of Store mutations; nothing else writes records.
type Controller struct {
	store  Store
	signer signer.Signer
	mailer mail.Mailer
	allow  *policy.Allowlist
	clk    clock.Clock
	verify *keyedMutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock, letting tests pin timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		c.clk = clk
	}
}

// NewController wires the state machine to its collaborators.
func NewController(store Store, sg signer.Signer, mailer mail.Mailer, allow *policy.Allowlist, opts ...Option) *Controller {
	c := &Controller{
		store:  store,
		signer: sg,
		mailer: mailer,
		allow:  allow,
		clk:    clock.New(),
		verify: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit accepts a PEM CSR and creates a PENDING request. The subject's
// email address gates acceptance; the CSR artifact is staged for later
// signing; and the verification code is mailed before the record is
// inserted, so a code is never stored without having been sent. If any
// step fails, no record becomes visible.
func (c *Controller) Submit(ctx context.Context, csrPEM string) (*Record, error) {
	subject, err := csr.Subject([]byte(csrPEM))
	if err != nil {
		return nil, err
	}
	email := subject["emailaddress"]
	if !c.allow.Allows(email) {
		return nil, fmt.Errorf("email address %q: %w", email, ErrIneligibleEmail)
	}

	if err := c.signer.StageCSR(email, []byte(csrPEM)); err != nil {
		return nil, fmt.Errorf("staging CSR for %s: %w", email, err)
	}

	code, err := NewVerificationCode()
	if err != nil {
		return nil, err
	}
	if err := c.mailer.Send(ctx, email, mailSubject, fmt.Sprintf("Verification code: %s.", code)); err != nil {
		return nil, fmt.Errorf("sending verification email: %w", err)
	}

	now := c.clk.Now().UTC()
	stored, err := c.store.Insert(ctx, &Record{
		CreatedAt:        now,
		ModifiedAt:       now,
		AccessedAt:       now,
		CSR:              csrPEM,
		Status:           StatusPending,
		StatusMessage:    StatusPending.Message(),
		VerificationCode: code,
	})
	if err != nil {
		return nil, fmt.Errorf("inserting request: %w", err)
	}
	return stored, nil
}

// Verify checks the submitted code against the record and, on the first
// correct attempt, signs the CSR and finalizes the record as VERIFIED or
// FAILED. Concurrent calls for the same id are serialized here so the
// signer runs at most once per request; callers that lose the race observe
// the terminal record idempotently. The fetch refreshes AccessedAt whether
// or not the code matches.
func (c *Controller) Verify(ctx context.Context, id, code string) (*Record, error) {
	unlock := c.verify.lock(id)
	defer unlock()

	rec, err := c.store.Touch(ctx, id, c.clk.Now().UTC())
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(rec.VerificationCode)) != 1 {
		return nil, fmt.Errorf("verification code %q: %w", code, ErrIncorrectCode)
	}

	// Correct code against an already-finalized record: return it as-is.
	// Signing must not run a second time.
	if rec.Status.Terminal() {
		return rec, nil
	}

	// From here the transition must run to completion even if the client
	// disconnects; the response may simply fail to deliver.
	ctx = context.WithoutCancel(ctx)

	subject, err := csr.Subject([]byte(rec.CSR))
	if err != nil {
		return nil, fmt.Errorf("re-reading stored CSR for %s: %w", id, err)
	}

	cert, signErr := c.signer.Sign(ctx, subject["emailaddress"])
	if signErr != nil {
		if _, err := c.store.Transition(ctx, id, c.clk.Now().UTC(), StatusFailed, ""); err != nil && !errors.Is(err, ErrAlreadyFinal) {
			return nil, fmt.Errorf("recording FAILED state for %s: %w", id, errors.Join(signErr, err))
		}
		return nil, fmt.Errorf("signing request %s: %w", id, signErr)
	}

	stored, err := c.store.Transition(ctx, id, c.clk.Now().UTC(), StatusVerified, string(cert))
	if err != nil {
		if errors.Is(err, ErrAlreadyFinal) {
			return stored, nil
		}
		// The certificate exists on the signer side but the record did not
		// reach VERIFIED; surface the inconsistency rather than mask it.
		return nil, fmt.Errorf("recording VERIFIED state for %s after certificate was issued: %w", id, err)
	}
	return stored, nil
}
