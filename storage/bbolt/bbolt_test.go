package bbolt

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rdurfee/certreq/request"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStoreFromFile(filepath.Join(t.TempDir(), "requests.db"), nil)
	if err != nil {
		t.Fatalf("could not open test db: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newRecord(now time.Time) *request.Record {
	return &request.Record{
		CreatedAt:        now,
		ModifiedAt:       now,
		AccessedAt:       now,
		CSR:              "-----BEGIN CERTIFICATE REQUEST-----",
		Status:           request.StatusPending,
		StatusMessage:    request.StatusPending.Message(),
		VerificationCode: "code-1",
	}
}

func TestInsertAndTouch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	rec, err := store.Insert(ctx, newRecord(t1))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("Insert should assign an id")
	}

	touched, err := store.Touch(ctx, rec.ID, t2)
	if err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if !touched.AccessedAt.Equal(t2) {
		t.Errorf("AccessedAt = %v, want %v", touched.AccessedAt, t2)
	}
	if touched.VerificationCode != "code-1" {
		t.Errorf("VerificationCode = %q, want persisted value", touched.VerificationCode)
	}
	if touched.Status != request.StatusPending {
		t.Errorf("Status = %s, want PENDING", touched.Status)
	}
}

func TestTouchNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Touch(context.Background(), "missing", time.Now())
	if !errors.Is(err, request.ErrNotFound) {
		t.Errorf("Touch error = %v, want ErrNotFound", err)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	rec, _ := store.Insert(ctx, newRecord(t1))

	final, err := store.Transition(ctx, rec.ID, t2, request.StatusVerified, "cert-bytes")
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if final.Status != request.StatusVerified || final.Cert != "cert-bytes" {
		t.Errorf("got %s/%q, want VERIFIED with certificate", final.Status, final.Cert)
	}
	if !final.ModifiedAt.Equal(t2) {
		t.Errorf("ModifiedAt = %v, want %v", final.ModifiedAt, t2)
	}
	if !final.CreatedAt.Equal(t1) {
		t.Error("Transition must not change CreatedAt")
	}

	// Terminal states are never left and the certificate never changes.
	stored, err := store.Transition(ctx, rec.ID, t2.Add(time.Hour), request.StatusFailed, "other")
	if !errors.Is(err, request.ErrAlreadyFinal) {
		t.Fatalf("second Transition error = %v, want ErrAlreadyFinal", err)
	}
	if stored.Status != request.StatusVerified || stored.Cert != "cert-bytes" {
		t.Error("terminal record must be returned unchanged")
	}
}

func TestTransitionNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Transition(context.Background(), "missing", time.Now(), request.StatusFailed, "")
	if !errors.Is(err, request.ErrNotFound) {
		t.Errorf("Transition error = %v, want ErrNotFound", err)
	}
}

func TestConcurrentTransitionsCommitOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec, _ := store.Insert(ctx, newRecord(now))

	const n = 16
	var wg sync.WaitGroup
	committed := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Transition(ctx, rec.ID, now, request.StatusVerified, "cert")
			if err == nil {
				committed <- struct{}{}
			} else if !errors.Is(err, request.ErrAlreadyFinal) {
				t.Errorf("Transition error = %v", err)
			}
		}()
	}
	wg.Wait()
	close(committed)

	var wins int
	for range committed {
		wins++
	}
	if wins != 1 {
		t.Errorf("%d transitions committed, want exactly 1", wins)
	}
}

func TestReopenPersistsRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "requests.db")
	ctx := context.Background()
	now := time.Now().UTC()

	store, err := NewStoreFromFile(path, nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	rec, err := store.Insert(ctx, newRecord(now))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewStoreFromFile(path, nil)
	if err != nil {
		t.Fatalf("could not reopen db: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Touch(ctx, rec.ID, now)
	if err != nil {
		t.Fatalf("Touch after reopen failed: %v", err)
	}
	if got.VerificationCode != rec.VerificationCode {
		t.Error("record did not survive reopen")
	}
}
