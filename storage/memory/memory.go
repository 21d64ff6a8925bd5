// Package memory provides an in-memory request store for tests and
// single-process development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rdurfee/certreq/request"
)

// Store implements request.Store with a mutex-guarded map. Records are
// cloned on the way in and out so callers never alias stored state. The
// mutex makes Touch and Transition single atomic read-modify-write steps,
// matching the durable store's contract.
type Store struct {
	mu      sync.Mutex
	records map[string]*request.Record
}

var _ request.Store = (*Store)(nil)

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{records: make(map[string]*request.Record)}
}

func (s *Store) Insert(_ context.Context, rec *request.Record) (*request.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec.Clone()
	stored.ID = uuid.NewString()
	s.records[stored.ID] = stored
	return stored.Clone(), nil
}

func (s *Store) Touch(_ context.Context, id string, now time.Time) (*request.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, request.ErrNotFound)
	}
	rec.AccessedAt = now
	return rec.Clone(), nil
}

func (s *Store) Transition(_ context.Context, id string, now time.Time, to request.Status, cert string) (*request.Record, error) {
	if !to.Terminal() {
		return nil, fmt.Errorf("transition to %s: only terminal states are reachable", to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, request.ErrNotFound)
	}
	if rec.Status != request.StatusPending {
		return rec.Clone(), fmt.Errorf("%s: %w", id, request.ErrAlreadyFinal)
	}
	rec.Status = to
	rec.StatusMessage = to.Message()
	rec.ModifiedAt = now
	if to == request.StatusVerified {
		rec.Cert = cert
	}
	return rec.Clone(), nil
}
