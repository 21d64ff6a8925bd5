package request

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for the given id.
	ErrNotFound = errors.New("certificate request not found")

	// ErrAlreadyFinal is returned by Transition when the record has already
	// reached a terminal state. The store still returns the stored record so
	// callers can behave idempotently.
	ErrAlreadyFinal = errors.New("certificate request already finalized")
)

// Store persists certificate request records. Implementations must make
// each operation atomic per record: Touch and Transition are single
// read-modify-write steps, never two independent round trips. That
// atomicity is what the controller's exactly-once guarantees are built on.
type Store interface {
	// Insert persists rec under a freshly assigned unique id and returns
	// the stored record. Insertion is all or nothing; on error no partial
	// record is visible.
	Insert(ctx context.Context, rec *Record) (*Record, error)

	// Touch fetches the record by id, unconditionally refreshing AccessedAt
	// to now in the same atomic step. The access timestamp moves on every
	// verify attempt, including ones that present the wrong code.
	// Returns ErrNotFound if no record exists.
	Touch(ctx context.Context, id string, now time.Time) (*Record, error)

	// Transition atomically moves the record from StatusPending to the
	// terminal state to, setting ModifiedAt, deriving StatusMessage, and
	// attaching cert when to is StatusVerified. If the record is already
	// terminal the stored record is returned together with ErrAlreadyFinal
	// and nothing is written; a terminal state is never overwritten.
	Transition(ctx context.Context, id string, now time.Time, to Status, cert string) (*Record, error)
}
