// Package bbolt provides a BBolt-backed request store.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/rdurfee/certreq/request"
)

var bucketRequests = []byte("certificateSigningRequests")

// Store implements request.Store backed by a BBolt database. Every
// operation runs inside a single Update transaction, which is what gives
// Touch and Transition their per-record atomicity.
type Store struct {
	db *bbolt.DB
}

var _ request.Store = (*Store)(nil)

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewStoreFromFile opens a BBolt database at the given path and returns a
// new Store.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Insert(_ context.Context, rec *request.Record) (*request.Record, error) {
	stored := rec.Clone()
	stored.ID = uuid.NewString()
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketRequests)
		if err != nil {
			return err
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return b.Put([]byte(stored.ID), data)
	})
	if err != nil {
		return nil, fmt.Errorf("inserting request: %w", err)
	}
	return stored, nil
}

func (s *Store) Touch(_ context.Context, id string, now time.Time) (*request.Record, error) {
	var rec request.Record
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data, b, err := getRecord(tx, id)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.AccessedAt = now
		updated, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) Transition(_ context.Context, id string, now time.Time, to request.Status, cert string) (*request.Record, error) {
	if !to.Terminal() {
		return nil, fmt.Errorf("transition to %s: only terminal states are reachable", to)
	}
	var rec request.Record
	var alreadyFinal bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data, b, err := getRecord(tx, id)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if rec.Status != request.StatusPending {
			alreadyFinal = true
			return nil
		}
		rec.Status = to
		rec.StatusMessage = to.Message()
		rec.ModifiedAt = now
		if to == request.StatusVerified {
			rec.Cert = cert
		}
		updated, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
	if err != nil {
		return nil, err
	}
	if alreadyFinal {
		return &rec, fmt.Errorf("%s: %w", id, request.ErrAlreadyFinal)
	}
	return &rec, nil
}

func getRecord(tx *bbolt.Tx, id string) ([]byte, *bbolt.Bucket, error) {
	b := tx.Bucket(bucketRequests)
	if b == nil {
		return nil, nil, fmt.Errorf("%s: %w", id, request.ErrNotFound)
	}
	data := b.Get([]byte(id))
	if data == nil {
		return nil, nil, fmt.Errorf("%s: %w", id, request.ErrNotFound)
	}
	return data, b, nil
}
