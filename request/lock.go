package request

import "sync"

// keyedMutex serializes work per request id. The controller holds the id's
// lock across the verify critical section so the sign-then-transition
// window runs at most once per record; entries are reference-counted and
// removed once no goroutine is waiting, so the map never grows with the
// number of records.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*lockEntry),
	}
}

// lock acquires the mutex for id and returns the matching unlock func.
func (k *keyedMutex) lock(id string) func() {
	k.mu.Lock()
	e, ok := k.locks[id]
	if !ok {
		e = &lockEntry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
